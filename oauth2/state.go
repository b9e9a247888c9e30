package oauth2

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore holds issued states until they are used or expire.
type StateStore interface {
	Put(ctx context.Context, state, provider string, ttl time.Duration) error
	// Take returns the provider state was issued for and forgets it.
	Take(ctx context.Context, state string) (provider string, ok bool, err error)
}

type pending struct {
	provider string
	expires  time.Time
}

// MemoryStates keeps states in process memory.
type MemoryStates struct {
	mu     sync.Mutex
	states map[string]pending
	now    func() time.Time
}

// NewMemoryStates creates an in-memory StateStore.
func NewMemoryStates() *MemoryStates {
	return &MemoryStates{states: make(map[string]pending), now: time.Now}
}

func (m *MemoryStates) Put(_ context.Context, state, provider string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, p := range m.states {
		if now.After(p.expires) {
			delete(m.states, k)
		}
	}
	m.states[state] = pending{provider: provider, expires: now.Add(ttl)}
	return nil
}

func (m *MemoryStates) Take(_ context.Context, state string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.states[state]
	if !ok {
		return "", false, nil
	}
	delete(m.states, state)
	if m.now().After(p.expires) {
		return "", false, nil
	}
	return p.provider, true, nil
}

// RedisStates shares states between instances behind a load balancer.
type RedisStates struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStates creates a StateStore on client. Keys are prefix+state.
func NewRedisStates(client redis.UniversalClient, prefix string) *RedisStates {
	if prefix == "" {
		prefix = "jobboard:oauth2:state:"
	}
	return &RedisStates{client: client, prefix: prefix}
}

func (r *RedisStates) Put(ctx context.Context, state, provider string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+state, provider, ttl).Err()
}

func (r *RedisStates) Take(ctx context.Context, state string) (string, bool, error) {
	provider, err := r.client.GetDel(ctx, r.prefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return provider, true, nil
}
