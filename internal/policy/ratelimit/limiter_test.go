package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/helios-gateway/internal/clock"
)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestLimiterAllowsBurstThenRefills(t *testing.T) {
	t.Parallel()

	clk := &manualClock{now: time.Unix(1_700_000_000, 0)}
	l := New(Config{RPS: 10, Burst: 2, Clock: clk})

	ok, _ := l.Allow("a")
	require.True(t, ok)
	ok, _ = l.Allow("a")
	require.True(t, ok)
	ok, wait := l.Allow("a")
	require.False(t, ok)
	require.InDelta(t, 100*time.Millisecond, wait, float64(5*time.Millisecond))

	ok, _ = l.Allow("b")
	require.True(t, ok, "clients have separate buckets")

	clk.advance(100 * time.Millisecond)
	ok, _ = l.Allow("a")
	require.True(t, ok)
}

func TestLimiterEvictsIdleClients(t *testing.T) {
	t.Parallel()

	clk := &manualClock{now: time.Unix(1_700_000_000, 0)}
	l := New(Config{RPS: 1, Burst: 1, IdleTTL: time.Minute, Clock: clk})
	l.Allow("a")
	l.Allow("b")
	require.Equal(t, 2, l.Len())

	clk.advance(2 * time.Minute)
	l.Allow("c")
	require.Equal(t, 1, l.Len())
}

func TestDisabledLimiterPassesThrough(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.False(t, l.Enabled())
	for range 100 {
		ok, _ := l.Allow("a")
		require.True(t, ok)
	}
	var nilLimiter *Limiter
	require.False(t, nilLimiter.Enabled())
}

func TestMiddlewareRejectsWithRetryAfter(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.5, Burst: 1, Clock: clock.Func(func() time.Time { return time.Unix(0, 0) })})
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/process", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodPost, "/process", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestClientKey(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	require.Equal(t, "192.0.2.1", ClientKey(req))
	req.RemoteAddr = "pipe"
	require.Equal(t, "pipe", ClientKey(req))
}
