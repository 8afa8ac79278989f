package pesapal

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeTokenStore struct {
	data map[string]string
	sets int
	dels int
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{data: map[string]string{}}
}

func (s *fakeTokenStore) Get(_ context.Context, key string) (string, error) {
	val, ok := s.data[key]
	if !ok {
		return "", errors.New("redis: nil")
	}
	return val, nil
}

func (s *fakeTokenStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.sets++
	s.data[key] = value.(string)
	return nil
}

func (s *fakeTokenStore) Del(_ context.Context, keys ...string) error {
	s.dels++
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *fakeTokenStore) GatewayTokenKey(provider string) string {
	return "zw:gateway_token:" + provider
}

func TestTokenCacheFetchesOnceWhileFresh(t *testing.T) {
	store := newFakeTokenStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := NewTokenCache(store, 4*time.Minute).WithClock(func() time.Time { return now })

	fetches := 0
	source := func(context.Context) (string, time.Time, error) {
		fetches++
		return "tok-fresh", now.Add(5 * time.Minute), nil
	}

	for i := 0; i < 3; i++ {
		token, err := cache.Token(context.Background(), source)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		if token != "tok-fresh" {
			t.Fatalf("unexpected token %q", token)
		}
	}
	if fetches != 1 {
		t.Fatalf("expected a single upstream fetch, got %d", fetches)
	}
	if store.sets != 1 {
		t.Fatalf("expected one shared-cache write, got %d", store.sets)
	}
}

func TestTokenCacheRefetchesAfterExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := NewTokenCache(nil, 4*time.Minute).WithClock(func() time.Time { return now })

	fetches := 0
	source := func(context.Context) (string, time.Time, error) {
		fetches++
		return "tok", time.Time{}, nil
	}

	if _, err := cache.Token(context.Background(), source); err != nil {
		t.Fatalf("token: %v", err)
	}
	now = now.Add(4*time.Minute + time.Second)
	if _, err := cache.Token(context.Background(), source); err != nil {
		t.Fatalf("token after expiry: %v", err)
	}
	if fetches != 2 {
		t.Fatalf("expected refetch after ttl, got %d fetches", fetches)
	}
}

func TestTokenCacheHonorsShorterProviderExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := NewTokenCache(nil, 4*time.Minute).WithClock(func() time.Time { return now })

	fetches := 0
	source := func(context.Context) (string, time.Time, error) {
		fetches++
		return "tok", now.Add(time.Minute), nil
	}

	if _, err := cache.Token(context.Background(), source); err != nil {
		t.Fatalf("token: %v", err)
	}
	now = now.Add(90 * time.Second)
	if _, err := cache.Token(context.Background(), source); err != nil {
		t.Fatalf("token after provider expiry: %v", err)
	}
	if fetches != 2 {
		t.Fatalf("provider expiry should cap the ttl, got %d fetches", fetches)
	}
}

func TestTokenCacheInvalidateDropsEverywhere(t *testing.T) {
	store := newFakeTokenStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := NewTokenCache(store, 4*time.Minute).WithClock(func() time.Time { return now })

	fetches := 0
	source := func(context.Context) (string, time.Time, error) {
		fetches++
		return "tok", time.Time{}, nil
	}

	if _, err := cache.Token(context.Background(), source); err != nil {
		t.Fatalf("token: %v", err)
	}
	cache.Invalidate(context.Background())
	if store.dels != 1 {
		t.Fatalf("expected shared-cache delete, got %d", store.dels)
	}
	if _, err := cache.Token(context.Background(), source); err != nil {
		t.Fatalf("token after invalidate: %v", err)
	}
	if fetches != 2 {
		t.Fatalf("expected refetch after invalidate, got %d", fetches)
	}
}

func TestTokenCacheSharedStoreHit(t *testing.T) {
	store := newFakeTokenStore()
	store.data[store.GatewayTokenKey(Provider)] = "tok-shared"
	cache := NewTokenCache(store, 4*time.Minute)

	fetches := 0
	source := func(context.Context) (string, time.Time, error) {
		fetches++
		return "tok-new", time.Time{}, nil
	}

	token, err := cache.Token(context.Background(), source)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "tok-shared" {
		t.Fatalf("expected shared token, got %q", token)
	}
	if fetches != 0 {
		t.Fatalf("unexpected upstream fetch")
	}
}

func TestTokenCacheRejectsEmptyToken(t *testing.T) {
	cache := NewTokenCache(nil, 4*time.Minute)
	source := func(context.Context) (string, time.Time, error) {
		return "  ", time.Time{}, nil
	}
	if _, err := cache.Token(context.Background(), source); err == nil {
		t.Fatal("expected error for empty token")
	}
}
