package security

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokensRoundTrip(t *testing.T) {
	tokens, err := NewTokens("s3cret", "dispatch")
	require.NoError(t, err)

	raw, err := tokens.Issue("u1", "manual", []string{"dispatcher"}, time.Hour)
	require.NoError(t, err)

	claims, err := tokens.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
	require.Equal(t, "manual", claims.Kind)
	require.True(t, claims.HasRole("dispatcher"))
	require.False(t, claims.HasRole("admin"))
}

func TestTokensRejects(t *testing.T) {
	tokens, err := NewTokens("s3cret", "dispatch")
	require.NoError(t, err)
	other, err := NewTokens("other", "dispatch")
	require.NoError(t, err)
	foreign, err := NewTokens("s3cret", "someone-else")
	require.NoError(t, err)

	expired, err := tokens.Issue("u1", "manual", nil, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := other.Issue("u1", "manual", nil, time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := foreign.Issue("u1", "manual", nil, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "已过期", raw: expired},
		{name: "密钥不符", raw: wrongKey},
		{name: "签发方不符", raw: wrongIssuer},
		{name: "格式错误", raw: "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokens.Verify(tt.raw)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err = NewTokens("", "dispatch")
	require.ErrorIs(t, err, ErrEmptySecret)
}

func TestExtractBearer(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	require.Empty(t, ExtractBearer(r))

	r.Header.Set("Authorization", "Bearer abc.def")
	require.Equal(t, "abc.def", ExtractBearer(r))

	r.Header.Set("Authorization", "Basic xyz")
	require.Empty(t, ExtractBearer(r))
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("a"))
	require.True(t, rl.Allow("a"))
	require.False(t, rl.Allow("a"))
	require.True(t, rl.Allow("b"))

	now = now.Add(61 * time.Second)
	require.True(t, rl.Allow("a"))

	now = now.Add(2 * time.Minute)
	rl.sweep()
	rl.mu.Lock()
	require.Empty(t, rl.requests)
	rl.mu.Unlock()
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("a"))
	}
}
