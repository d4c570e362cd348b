// Package session caches resolved state across storefront page loads. Store
// identity is keyed by page origin so navigation to a page whose loader tag
// has no parameters still resolves; the delivered customer is cached per
// origin and cleared on sign-out.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/favloyalty/widgetbridge/model"
)

// StoreIdentity is the merchant identity persisted across navigation.
type StoreIdentity struct {
	StoreHash   string `json:"storeHash"`
	ChannelID   string `json:"channelId"`
	AppClientID string `json:"appClientId,omitempty"`
	APIURL      string `json:"apiUrl,omitempty"`
	WidgetURL   string `json:"widgetUrl,omitempty"`
}

// Empty reports whether the identity carries nothing worth caching.
func (s StoreIdentity) Empty() bool {
	return s.StoreHash == "" && s.ChannelID == "" && s.AppClientID == ""
}

// Store is the session-scoped cache. Keys are page origins. Lookups return
// found=false for absent or expired entries, never an error for a plain miss.
type Store interface {
	SaveStoreIdentity(ctx context.Context, origin string, id StoreIdentity, ttl time.Duration) error
	LoadStoreIdentity(ctx context.Context, origin string) (StoreIdentity, bool, error)

	SaveCustomer(ctx context.Context, origin string, cust model.CustomerIdentity, ttl time.Duration) error
	LoadCustomer(ctx context.Context, origin string) (model.CustomerIdentity, bool, error)
	ClearCustomer(ctx context.Context, origin string) error
}

func storeKey(origin string) string    { return fmt.Sprintf("favbridge:store:%s", origin) }
func customerKey(origin string) string { return fmt.Sprintf("favbridge:customer:%s", origin) }

// --- MemoryStore ---

// MemoryStore is an in-memory Store with TTL support. Suitable for testing
// and single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
}

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry)}
}

func (s *MemoryStore) set(key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal session entry: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &memEntry{data: data, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) get(key string, out any) (bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return false, nil
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return false, nil
	}
	if err := json.Unmarshal(entry.data, out); err != nil {
		return false, fmt.Errorf("unmarshal session entry %q: %w", key, err)
	}
	return true, nil
}

func (s *MemoryStore) SaveStoreIdentity(_ context.Context, origin string, id StoreIdentity, ttl time.Duration) error {
	return s.set(storeKey(origin), id, ttl)
}

func (s *MemoryStore) LoadStoreIdentity(_ context.Context, origin string) (StoreIdentity, bool, error) {
	var id StoreIdentity
	found, err := s.get(storeKey(origin), &id)
	return id, found, err
}

func (s *MemoryStore) SaveCustomer(_ context.Context, origin string, cust model.CustomerIdentity, ttl time.Duration) error {
	return s.set(customerKey(origin), cust, ttl)
}

func (s *MemoryStore) LoadCustomer(_ context.Context, origin string) (model.CustomerIdentity, bool, error) {
	var cust model.CustomerIdentity
	found, err := s.get(customerKey(origin), &cust)
	return cust, found, err
}

func (s *MemoryStore) ClearCustomer(_ context.Context, origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, customerKey(origin))
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisStore ---

// RedisStore is a Redis-backed Store with TTL.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a new Redis-backed session store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal session entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("unmarshal session entry %q: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) SaveStoreIdentity(ctx context.Context, origin string, id StoreIdentity, ttl time.Duration) error {
	return s.set(ctx, storeKey(origin), id, ttl)
}

func (s *RedisStore) LoadStoreIdentity(ctx context.Context, origin string) (StoreIdentity, bool, error) {
	var id StoreIdentity
	found, err := s.get(ctx, storeKey(origin), &id)
	return id, found, err
}

func (s *RedisStore) SaveCustomer(ctx context.Context, origin string, cust model.CustomerIdentity, ttl time.Duration) error {
	return s.set(ctx, customerKey(origin), cust, ttl)
}

func (s *RedisStore) LoadCustomer(ctx context.Context, origin string) (model.CustomerIdentity, bool, error) {
	var cust model.CustomerIdentity
	found, err := s.get(ctx, customerKey(origin), &cust)
	return cust, found, err
}

func (s *RedisStore) ClearCustomer(ctx context.Context, origin string) error {
	if err := s.client.Del(ctx, customerKey(origin)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", customerKey(origin), err)
	}
	return nil
}
