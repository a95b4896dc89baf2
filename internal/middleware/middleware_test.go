package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/paiban/dispatch/internal/security"
	"github.com/paiban/dispatch/pkg/dispatcher"
)

func echoAuth(got *dispatcher.AuthContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = dispatcher.AuthFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticate(t *testing.T) {
	tokens, err := security.NewTokens("s3cret", "dispatch")
	require.NoError(t, err)
	manual, err := tokens.Issue("u1", "manual", []string{"dispatcher"}, time.Hour)
	require.NoError(t, err)
	auto, err := tokens.Issue("intake", "auto", nil, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		path   string
		status int
		kind   dispatcher.CallerKind
		canPin bool
	}{
		{name: "调度员令牌", header: "Bearer " + manual, path: "/api/v1/assign", status: http.StatusNoContent, kind: dispatcher.CallerManual, canPin: true},
		{name: "接入方令牌", header: "Bearer " + auto, path: "/api/v1/assign", status: http.StatusNoContent, kind: dispatcher.CallerAuto},
		{name: "缺少令牌", path: "/api/v1/assign", status: http.StatusUnauthorized},
		{name: "无效令牌", header: "Bearer junk", path: "/api/v1/assign", status: http.StatusUnauthorized},
		{name: "跳过健康检查", path: "/health", status: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got dispatcher.AuthContext
			h := Authenticate(AuthConfig{Tokens: tokens, SkipPaths: []string{"/health"}})(echoAuth(&got))
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tt.status, rec.Code)
			if tt.kind != "" {
				require.Equal(t, tt.kind, got.Kind)
				require.Equal(t, tt.canPin, got.CanPin())
			}
		})
	}
}

func TestAuthenticateAnonymous(t *testing.T) {
	var got dispatcher.AuthContext
	anon := dispatcher.AuthContext{Kind: dispatcher.CallerManual, Subject: "dev", Roles: []string{"admin"}}
	h := Authenticate(AuthConfig{Anonymous: anon})(echoAuth(&got))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "manual:dev", got.Actor())
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RequireRole("admin")(ok)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(dispatcher.WithAuth(req.Context(), dispatcher.AuthContext{Kind: dispatcher.CallerManual, Roles: []string{"viewer"}})))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(dispatcher.WithAuth(req.Context(), dispatcher.AuthContext{Kind: dispatcher.CallerManual, Roles: []string{"admin"}})))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RateLimit(security.NewRateLimiter(2, time.Minute))(ok)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

type recordedRequest struct {
	method, route string
	status        int
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []recordedRequest
}

func (f *fakeRecorder) RecordRequest(method, route string, status int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, recordedRequest{method, route, status})
}

func TestObserveUsesRoutePattern(t *testing.T) {
	rec := &fakeRecorder{}
	r := chi.NewRouter()
	r.Use(RequestID, Observe(rec), Recovery)
	r.Get("/requests/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests/r-42", nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	require.Equal(t, []recordedRequest{
		{http.MethodGet, "/requests/{id}", http.StatusAccepted},
		{http.MethodGet, "/boom", http.StatusInternalServerError},
	}, rec.seen)
}
