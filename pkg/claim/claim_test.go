package claim

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/paiban/dispatch/pkg/errors"
)

func TestTryAcquireIsExclusive(t *testing.T) {
	r := NewRegistry(time.Minute, time.Millisecond)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.TryAcquire(KindRequest, "req-1", "worker"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())
	require.True(t, r.Held(KindRequest, "req-1"))
}

func TestAcquireRetriesOnceThenStale(t *testing.T) {
	r := NewRegistry(time.Minute, time.Millisecond)
	ctx := context.Background()

	held, err := r.Acquire(ctx, KindShift, "s1", "a")
	require.NoError(t, err)

	_, err = r.Acquire(ctx, KindShift, "s1", "b")
	require.True(t, apperrors.Is(err, apperrors.CodeStaleClaim))
	require.False(t, apperrors.IsRecoverable(err))

	r.Release(held)
	tok, err := r.Acquire(ctx, KindShift, "s1", "b")
	require.NoError(t, err)
	require.Equal(t, "b", tok.Owner)
}

func TestAcquireSucceedsWhenReleasedDuringRetry(t *testing.T) {
	r := NewRegistry(time.Minute, 20*time.Millisecond)
	ctx := context.Background()

	held, ok := r.TryAcquire(KindRequest, "req-1", "a")
	require.True(t, ok)
	time.AfterFunc(5*time.Millisecond, func() { r.Release(held) })

	_, err := r.Acquire(ctx, KindRequest, "req-1", "b")
	require.NoError(t, err)
}

func TestExpiredClaimCanBeTaken(t *testing.T) {
	r := NewRegistry(time.Second, time.Millisecond)
	now := time.Now()
	r.now = func() time.Time { return now }

	old, ok := r.TryAcquire(KindRequest, "req-1", "a")
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = r.TryAcquire(KindRequest, "req-1", "b")
	require.True(t, ok)

	// 过期持有者的释放不影响新持有者
	r.Release(old)
	require.True(t, r.Held(KindRequest, "req-1"))
}

func TestAcquireAllReleasesOnFailure(t *testing.T) {
	r := NewRegistry(time.Minute, time.Millisecond)
	ctx := context.Background()

	_, ok := r.TryAcquire(KindShift, "s3", "other")
	require.True(t, ok)

	_, err := r.AcquireAll(ctx, KindShift, []string{"s2", "s1", "s3", "s1"}, "batch")
	require.Error(t, err)
	require.False(t, r.Held(KindShift, "s1"))
	require.False(t, r.Held(KindShift, "s2"))

	tokens, err := r.AcquireAll(ctx, KindShift, []string{"s2", "s1", "s1"}, "batch")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	require.Equal(t, "s1", tokens[0].ID)
}

func TestCountersNeverExceedCapacity(t *testing.T) {
	c := NewCounters()
	c.Track("s1", 0, 5)

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Reserve("s1")
			switch {
			case err == nil:
				ok.Add(1)
			case apperrors.Is(err, apperrors.CodeCapacityExceeded):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 5, ok.Load())
	require.EqualValues(t, 95, rejected.Load())
	used, capacity, found := c.Used("s1")
	require.True(t, found)
	require.Equal(t, 5, used)
	require.Equal(t, 5, capacity)
	require.Zero(t, c.Remaining("s1"))

	c.Release("s1")
	require.Equal(t, 1, c.Remaining("s1"))
	for i := 0; i < 10; i++ {
		c.Release("s1")
	}
	used, _, _ = c.Used("s1")
	require.Zero(t, used)

	require.True(t, apperrors.Is(c.Reserve("unknown"), apperrors.CodeNotFound))

	require.False(t, c.Ensure("s1", 3, 9))
	_, capacity, _ = c.Used("s1")
	require.Equal(t, 5, capacity)
	require.True(t, c.Ensure("s2", 1, 2))
	require.Equal(t, 1, c.Remaining("s2"))
}

type denyAfter struct{ n atomic.Int32 }

func (d *denyAfter) Allow(string) bool { return d.n.Add(-1) >= 0 }

func TestSessionSelectCAS(t *testing.T) {
	ss := NewSessions(nil)
	s := ss.Get("sess-1")
	require.Same(t, s, ss.Get("sess-1"))

	_, ok := s.Active()
	require.False(t, ok)

	sel, err := s.Select("dispatcher", "zone-a", 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, sel.Version)

	_, err = s.Select("planner", "", 0)
	require.True(t, apperrors.Is(err, apperrors.CodeStaleClaim))

	sel, err = s.Select("planner", "", 1)
	require.NoError(t, err)
	require.Equal(t, "planner", sel.Role)

	active, ok := s.Active()
	require.True(t, ok)
	require.EqualValues(t, 2, active.Version)
}

func TestSessionRateLimited(t *testing.T) {
	lim := &denyAfter{}
	lim.n.Store(1)
	s := NewSessions(lim).Get("sess-1")

	_, err := s.Select("dispatcher", "", 0)
	require.NoError(t, err)
	_, err = s.Select("planner", "", 1)
	require.True(t, apperrors.Is(err, apperrors.CodeRateLimited))
}
