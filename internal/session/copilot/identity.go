package copilot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdentityStore caches the conversation identity shared by all exchanges of a session.
type IdentityStore interface {
	Get(ctx context.Context) (string, bool, error)
	Set(ctx context.Context, id string) error
}

// MemoryIdentityStore keeps the identity for the lifetime of the process.
type MemoryIdentityStore struct {
	mu sync.RWMutex
	id string
}

func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{}
}

func (s *MemoryIdentityStore) Get(_ context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id, s.id != "", nil
}

func (s *MemoryIdentityStore) Set(_ context.Context, id string) error {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
	return nil
}

// RedisIdentityStore shares the identity between proxy replicas.
type RedisIdentityStore struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// NewRedisIdentityStore stores the identity under "<prefix>:conversation". A zero ttl never expires.
func NewRedisIdentityStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisIdentityStore {
	return &RedisIdentityStore{
		client: client,
		key:    prefix + ":conversation",
		ttl:    ttl,
	}
}

func (s *RedisIdentityStore) Get(ctx context.Context) (string, bool, error) {
	id, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return id, id != "", nil
}

func (s *RedisIdentityStore) Set(ctx context.Context, id string) error {
	if err := s.client.Set(ctx, s.key, id, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}
