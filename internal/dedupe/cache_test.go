// ABOUTME: Tests for the request id dedupe cache
// ABOUTME: Validates TTL expiry, eviction order, forgetting, sweeping, and concurrent marking

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *manualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, size int) (*Cache, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, size, WithClock(clock.Now), WithCleanupInterval(0))
	t.Cleanup(c.Close)
	return c, clock
}

func TestCheckAndMark(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)
	key := Key("alice", "req-1")

	assert.False(t, c.CheckAndMark(key), "first sighting is new")
	assert.True(t, c.CheckAndMark(key), "replay is a duplicate")
	assert.True(t, c.Seen(key))

	clock.Advance(time.Minute)
	assert.False(t, c.Seen(key))
	assert.False(t, c.CheckAndMark(key), "expired keys are accepted again")
}

func TestKey_ScopedPerUser(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)
	assert.False(t, c.CheckAndMark(Key("alice", "req-1")))
	assert.False(t, c.CheckAndMark(Key("bob", "req-1")))
}

func TestForget(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)
	c.CheckAndMark("k")
	c.Forget("k")
	c.Forget("missing")
	assert.False(t, c.CheckAndMark("k"))
	assert.Equal(t, 1, c.Len())
}

func TestEviction_OldestFirst(t *testing.T) {
	c, clock := newTestCache(t, time.Hour, 3)
	for _, k := range []string{"a", "b", "c"} {
		c.CheckAndMark(k)
		clock.Advance(time.Second)
	}

	c.CheckAndMark("d")

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("a"))
	for _, k := range []string{"b", "c", "d"} {
		assert.True(t, c.Seen(k), k)
	}
}

func TestSweep_RemovesExpired(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)
	c.CheckAndMark("old")
	clock.Advance(2 * time.Minute)
	c.CheckAndMark("fresh")

	c.sweep()

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("fresh"))
}

func TestBackgroundCleanup(t *testing.T) {
	c := New(time.Millisecond, 10, WithCleanupInterval(5*time.Millisecond))
	defer c.Close()
	c.CheckAndMark("k")

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCheckAndMark_ConcurrentReplaysAdmitOne(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 100)

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("same") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), fresh.Load())
}

func TestClose_Idempotent(t *testing.T) {
	c := New(time.Minute, 1)
	c.Close()
	c.Close()
}
