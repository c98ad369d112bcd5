package guard

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const denialKeyPrefix = "rba:denied:"

// RedisDenialStore is the DenialStore for multi-node deployments. Redis key
// TTLs carry the expiry, so eviction happens server-side instead of lazily.
type RedisDenialStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisDenialStore wraps an existing Redis client. A non-positive ttl falls
// back to DenialTTL.
func NewRedisDenialStore(rdb *redis.Client, ttl time.Duration) *RedisDenialStore {
	if ttl <= 0 {
		ttl = DenialTTL
	}
	return &RedisDenialStore{rdb: rdb, ttl: ttl}
}

// RecordDenial stores the denial time under the principal key with the TTL.
func (s *RedisDenialStore) RecordDenial(ctx context.Context, principal string) error {
	millis := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return s.rdb.Set(ctx, denialKeyPrefix+principal, millis, s.ttl).Err()
}

// IsDenied reports whether an unexpired denial key exists.
func (s *RedisDenialStore) IsDenied(ctx context.Context, principal string) (bool, error) {
	err := s.rdb.Get(ctx, denialKeyPrefix+principal).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes the denial key.
func (s *RedisDenialStore) Clear(ctx context.Context, principal string) error {
	return s.rdb.Del(ctx, denialKeyPrefix+principal).Err()
}
