package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache wraps Redis helpers for JSON payloads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// CachedStore serves voucher policy reads through Redis. Event and tournament
// rows carry live inventory counters, so those always hit the database.
type CachedStore struct {
	Store
	cache *Cache
}

// WithCache wraps a Store with the policy cache.
func WithCache(store Store, cache *Cache) *CachedStore {
	return &CachedStore{Store: store, cache: cache}
}

const voucherPolicyKey = "catalog:voucher_policy"

func (s *CachedStore) GetVoucherPolicy(ctx context.Context) (VoucherPolicy, error) {
	var policy VoucherPolicy
	if hit, err := s.cache.GetJSON(ctx, voucherPolicyKey, &policy); err == nil && hit {
		return policy, nil
	}
	policy, err := s.Store.GetVoucherPolicy(ctx)
	if err != nil {
		return VoucherPolicy{}, err
	}
	_ = s.cache.SetJSON(ctx, voucherPolicyKey, policy)
	return policy, nil
}

// GetMember bypasses the cache: the stored processor customer id must be
// read fresh or duplicate customers get created.
func (s *CachedStore) GetMember(ctx context.Context, id uuid.UUID) (Member, error) {
	return s.Store.GetMember(ctx, id)
}
