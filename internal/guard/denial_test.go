package guard

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a mutex-protected movable clock for aging cache entries.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestDenialCache_RecordThenDenied(t *testing.T) {
	clock := newFakeClock()
	cache := NewDenialCacheWithClock(time.Hour, clock.Now)
	ctx := context.Background()

	require.NoError(t, cache.RecordDenial(ctx, "alice"))

	denied, err := cache.IsDenied(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, denied)
}

func TestDenialCache_DeniedThroughoutTTL(t *testing.T) {
	clock := newFakeClock()
	cache := NewDenialCacheWithClock(time.Hour, clock.Now)
	ctx := context.Background()

	require.NoError(t, cache.RecordDenial(ctx, "alice"))

	clock.Advance(59 * time.Minute)
	denied, err := cache.IsDenied(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, denied)
}

func TestDenialCache_ExpiresAtTTLBoundary(t *testing.T) {
	clock := newFakeClock()
	cache := NewDenialCacheWithClock(time.Hour, clock.Now)
	ctx := context.Background()

	require.NoError(t, cache.RecordDenial(ctx, "alice"))

	// Exactly at the boundary counts as expired.
	clock.Advance(time.Hour)
	denied, err := cache.IsDenied(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, denied)
}

func TestDenialCache_ExpiredLookupEvicts(t *testing.T) {
	clock := newFakeClock()
	cache := NewDenialCacheWithClock(time.Hour, clock.Now)
	ctx := context.Background()

	require.NoError(t, cache.RecordDenial(ctx, "alice"))
	clock.Advance(61 * time.Minute)

	denied, err := cache.IsDenied(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, denied)

	cache.mu.Lock()
	_, present := cache.entries["alice"]
	cache.mu.Unlock()
	assert.False(t, present, "expired record should be evicted by the lookup")
}

func TestDenialCache_ClearRemovesImmediately(t *testing.T) {
	clock := newFakeClock()
	cache := NewDenialCacheWithClock(time.Hour, clock.Now)
	ctx := context.Background()

	require.NoError(t, cache.RecordDenial(ctx, "alice"))
	require.NoError(t, cache.Clear(ctx, "alice"))

	denied, err := cache.IsDenied(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, denied)
}

func TestDenialCache_RepeatedDenialRefreshesTimestamp(t *testing.T) {
	clock := newFakeClock()
	cache := NewDenialCacheWithClock(time.Hour, clock.Now)
	ctx := context.Background()

	require.NoError(t, cache.RecordDenial(ctx, "alice"))
	clock.Advance(50 * time.Minute)
	require.NoError(t, cache.RecordDenial(ctx, "alice"))
	clock.Advance(30 * time.Minute)

	// 80 minutes after the first denial but only 30 after the refresh.
	denied, err := cache.IsDenied(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, denied)
}

func TestDenialCache_PrincipalsAreCaseSensitive(t *testing.T) {
	cache := NewDenialCache(time.Hour)
	ctx := context.Background()

	require.NoError(t, cache.RecordDenial(ctx, "Alice"))

	denied, err := cache.IsDenied(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, denied)
}

func TestDenialCache_ZeroTTLFallsBackToDefault(t *testing.T) {
	cache := NewDenialCache(0)
	assert.Equal(t, DenialTTL, cache.ttl)
}

func TestDenialCache_ConcurrentStress(t *testing.T) {
	clock := newFakeClock()
	cache := NewDenialCacheWithClock(time.Hour, clock.Now)
	ctx := context.Background()

	principals := []string{"alice", "bob", "carol", "dave"}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for j := 0; j < 2000; j++ {
				p := principals[rng.Intn(len(principals))]
				switch rng.Intn(4) {
				case 0:
					_ = cache.RecordDenial(ctx, p)
				case 1:
					_, _ = cache.IsDenied(ctx, p)
				case 2:
					_ = cache.Clear(ctx, p)
				default:
					clock.Advance(time.Duration(rng.Intn(100)) * time.Millisecond)
				}
			}
		}(int64(i))
	}
	wg.Wait()
}

func TestDenialCache_FreshDenialSurvivesRacingEviction(t *testing.T) {
	// An expired record is about to be evicted while new denials land for the
	// same principal. Whatever interleaving occurs, a denial recorded after the
	// expiry must be visible afterwards.
	clock := newFakeClock()
	cache := NewDenialCacheWithClock(time.Hour, clock.Now)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		require.NoError(t, cache.RecordDenial(ctx, "alice"))
		clock.Advance(2 * time.Hour)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = cache.IsDenied(ctx, "alice") // sees expiry, evicts
		}()
		go func() {
			defer wg.Done()
			_ = cache.RecordDenial(ctx, "alice") // fresh denial
		}()
		wg.Wait()

		denied, err := cache.IsDenied(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, denied, "iteration %d: fresh denial lost to eviction", i)

		require.NoError(t, cache.Clear(ctx, "alice"))
	}
}
