// Package lock provides short-lived mutual exclusion keyed by strings, used to keep
// a debtor from being queued twice for the same pipeline phase.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix prefixes every dispatch lock key
const KeyPrefix = "dispatch_lock:"

// Manager acquires and inspects TTL-bound locks
type Manager interface {
	// TryAcquire sets key if absent. It returns false without error when the key is already held.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Key builds the dispatch lock key for a debtor in a phase
func Key(phase string, debtorID uint) string {
	return fmt.Sprintf("%s%s:%d", KeyPrefix, phase, debtorID)
}

// redisManager implements Manager on top of SET NX EX
type redisManager struct {
	client *redis.Client
}

// NewRedisManager creates a lock manager backed by Redis
func NewRedisManager(client *redis.Client) Manager {
	return &redisManager{client: client}
}

func (m *redisManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := m.client.SetNX(ctx, key, time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

func (m *redisManager) Exists(ctx context.Context, key string) (bool, error) {
	n, err := m.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check lock %s: %w", key, err)
	}
	return n > 0, nil
}

func (m *redisManager) Release(ctx context.Context, key string) error {
	if err := m.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// memoryManager is an in-process Manager for tests and single-node dry runs
type memoryManager struct {
	mu      sync.Mutex
	now     func() time.Time
	expires map[string]time.Time
}

// NewMemoryManager creates an in-memory lock manager. A nil clock uses time.Now.
func NewMemoryManager(clock func() time.Time) Manager {
	if clock == nil {
		clock = time.Now
	}
	return &memoryManager{now: clock, expires: make(map[string]time.Time)}
}

func (m *memoryManager) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.expires[key] = now.Add(ttl)
	return true, nil
}

func (m *memoryManager) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.expires[key]
	if !ok {
		return false, nil
	}
	if !m.now().Before(exp) {
		delete(m.expires, key)
		return false, nil
	}
	return true, nil
}

func (m *memoryManager) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.expires, key)
	return nil
}
