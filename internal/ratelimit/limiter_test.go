package ratelimit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig(limit int) Config {
	return Config{Name: "test", Window: time.Minute, MaxRequests: limit, Message: "slow down"}
}

func newMemoryLimiter(t *testing.T, cfg Config, clock *fakeClock) *Limiter {
	t.Helper()
	store, err := NewMemoryStore(0)
	require.NoError(t, err)
	l, err := New(cfg, store, WithClock(clock.Now))
	require.NoError(t, err)
	return l
}

func TestFixedWindowLifecycle(t *testing.T) {
	clock := newFakeClock()
	l := newMemoryLimiter(t, testConfig(3), clock)
	ctx := context.Background()

	res, err := l.Check(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Remaining)

	_, _ = l.Check(ctx, "ip:1")
	clock.Advance(10 * time.Second)
	res, err = l.Check(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, res.Success, "N-th call succeeds")
	assert.Equal(t, 0, res.Remaining)

	res, err = l.Check(ctx, "ip:1")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 50*time.Second, res.RetryAfter)
	assert.Equal(t, "slow down", res.Error)

	clock.Advance(50 * time.Second)
	res, err = l.Check(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, res.Success, "window elapsed")
	assert.Equal(t, 2, res.Remaining)
}

func TestKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := newMemoryLimiter(t, testConfig(1), clock)
	ctx := context.Background()

	res, _ := l.Check(ctx, "a")
	assert.True(t, res.Success)
	res, _ = l.Check(ctx, "a")
	assert.False(t, res.Success)
	res, _ = l.Check(ctx, "b")
	assert.True(t, res.Success)
}

func TestConcurrentChecksNeverOvercount(t *testing.T) {
	const n = 50
	clock := newFakeClock()
	l := newMemoryLimiter(t, testConfig(n), clock)

	var ok, limited atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 2*n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(context.Background(), "shared")
			if err != nil {
				return
			}
			if res.Success {
				ok.Add(1)
			} else {
				limited.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(n), ok.Load())
	assert.Equal(t, int64(n), limited.Load())
}

func TestMemoryStoreEvictsColdKeys(t *testing.T) {
	store, err := NewMemoryStore(2)
	require.NoError(t, err)
	now := time.Now()
	ctx := context.Background()

	_, _ = store.Hit(ctx, "a", time.Minute, now)
	_, _ = store.Hit(ctx, "b", time.Minute, now)
	_, _ = store.Hit(ctx, "c", time.Minute, now)
	assert.Equal(t, 2, store.Len())

	entry, err := store.Hit(ctx, "a", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Count, "evicted key restarts its window")
}

func TestNewValidatesConfig(t *testing.T) {
	store, err := NewMemoryStore(0)
	require.NoError(t, err)

	for name, cfg := range map[string]Config{
		"zero window":  {Name: "x", MaxRequests: 1, Message: "m"},
		"zero max":     {Name: "x", Window: time.Second, Message: "m"},
		"no message":   {Name: "x", Window: time.Second, MaxRequests: 1},
		"missing name": {Window: time.Second, MaxRequests: 1, Message: "m"},
	} {
		_, err := New(cfg, store)
		assert.ErrorIs(t, err, ErrInvalidConfig, name)
	}

	_, err = New(DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPresets(t *testing.T) {
	for _, cfg := range []Config{DefaultConfig(), AuthConfig(), ExportConfig(), LLMConfig()} {
		assert.NoError(t, cfg.Validate(), cfg.Name)
	}
	assert.Equal(t, 100, DefaultConfig().MaxRequests)
	assert.Equal(t, 15*time.Minute, DefaultConfig().Window)
	assert.Equal(t, 5, AuthConfig().MaxRequests)
	assert.Equal(t, time.Hour, ExportConfig().Window)
	assert.Equal(t, 20, LLMConfig().MaxRequests)
	assert.Equal(t, time.Minute, LLMConfig().Window)
}

func TestResultJSON(t *testing.T) {
	raw, err := json.Marshal(Result{Success: false, RetryAfter: 1500 * time.Millisecond, Error: "slow down"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"remaining":0,"retryAfter":1500,"error":"slow down"}`, string(raw))

	raw, err = json.Marshal(Result{Success: true, Remaining: 4})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"remaining":4}`, string(raw))
}
