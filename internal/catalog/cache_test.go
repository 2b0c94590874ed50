package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type countingStore struct {
	Store
	policyReads int
	policy      VoucherPolicy
}

func (s *countingStore) GetVoucherPolicy(ctx context.Context) (VoucherPolicy, error) {
	s.policyReads++
	return s.policy, nil
}

func TestCachedStoreServesPolicyFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &countingStore{policy: VoucherPolicy{MinCents: 2000, MaxCents: 50000}}
	store := WithCache(inner, NewCache(client, time.Minute))

	for i := 0; i < 3; i++ {
		policy, err := store.GetVoucherPolicy(context.Background())
		if err != nil {
			t.Fatalf("get policy: %v", err)
		}
		if policy.MinCents != 2000 || policy.MaxCents != 50000 {
			t.Fatalf("unexpected policy: %+v", policy)
		}
	}
	if inner.policyReads != 1 {
		t.Fatalf("expected a single database read, got %d", inner.policyReads)
	}
}

func TestCacheDisabledWithoutClient(t *testing.T) {
	inner := &countingStore{policy: VoucherPolicy{MinCents: 100, MaxCents: 200}}
	store := WithCache(inner, NewCache(nil, time.Minute))

	for i := 0; i < 2; i++ {
		if _, err := store.GetVoucherPolicy(context.Background()); err != nil {
			t.Fatalf("get policy: %v", err)
		}
	}
	if inner.policyReads != 2 {
		t.Fatalf("expected every read to hit the database, got %d", inner.policyReads)
	}
}

func TestEventRemainingNeverNegative(t *testing.T) {
	e := Event{Capacity: 10, Sold: 12}
	if e.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", e.Remaining())
	}
}

func TestStoreUnavailable(t *testing.T) {
	var s *pgStore
	if _, err := s.GetMember(context.Background(), uuid.New()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
