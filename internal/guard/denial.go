package guard

import (
	"context"
	"sync"
	"time"
)

// DenialTTL is how long a recorded denial blocks telemetry-free SSO attempts.
const DenialTTL = time.Hour

// DenialStore remembers recently denied principals. Implementations must be
// safe for concurrent use and must never store telemetry or scores — identity
// and timestamp only.
type DenialStore interface {
	// RecordDenial upserts principal -> now. Last-write-wins for the same key.
	RecordDenial(ctx context.Context, principal string) error
	// IsDenied reports whether a fresh denial exists. An expired record is
	// evicted as a side effect of the lookup.
	IsDenied(ctx context.Context, principal string) (bool, error)
	// Clear removes any record for principal (used on a successful decision).
	Clear(ctx context.Context, principal string) error
}

// DenialCache is the in-process DenialStore: a mutex-protected map from
// principal to last-denial time with lazy TTL eviction. Expiry is evaluated
// only at lookup time; there is no background sweeper.
type DenialCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewDenialCache creates an empty cache. A non-positive ttl falls back to
// DenialTTL.
func NewDenialCache(ttl time.Duration) *DenialCache {
	return NewDenialCacheWithClock(ttl, time.Now)
}

// NewDenialCacheWithClock creates a cache with an injected clock so tests can
// age records without sleeping.
func NewDenialCacheWithClock(ttl time.Duration, now func() time.Time) *DenialCache {
	if ttl <= 0 {
		ttl = DenialTTL
	}
	return &DenialCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     now,
	}
}

// RecordDenial upserts the principal with the current timestamp.
func (c *DenialCache) RecordDenial(_ context.Context, principal string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[principal] = c.now()
	return nil
}

// IsDenied reports whether the principal has an unexpired denial. Eviction of
// an expired record happens under the same lock as the read, so it cannot race
// with a concurrent RecordDenial: a genuinely fresh denial always survives.
func (c *DenialCache) IsDenied(_ context.Context, principal string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.entries[principal]
	if !ok {
		return false, nil
	}
	if c.now().Sub(at) >= c.ttl {
		delete(c.entries, principal)
		return false, nil
	}
	return true, nil
}

// Clear removes any record for the principal.
func (c *DenialCache) Clear(_ context.Context, principal string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, principal)
	return nil
}
