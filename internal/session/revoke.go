package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations remembers signed-out sessions until their cookies would have
// expired anyway, so a copied cookie cannot be replayed after logout.
type Revocations interface {
	Revoke(ctx context.Context, s Session, until time.Time) error
	IsRevoked(ctx context.Context, s Session) (bool, error)
}

func revocationKey(s Session) string {
	return s.UserID + "|" + strconv.FormatInt(s.IssuedAt.UnixMilli(), 10)
}

// MemoryRevocations keeps revocations in process.
type MemoryRevocations struct {
	mu      sync.Mutex
	entries map[string]time.Time
	clock   Clock
}

func NewMemoryRevocations(clock Clock) *MemoryRevocations {
	if clock == nil {
		clock = systemClock{}
	}
	return &MemoryRevocations{entries: make(map[string]time.Time), clock: clock}
}

func (m *MemoryRevocations) Revoke(_ context.Context, s Session, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for k, exp := range m.entries {
		if !exp.After(now) {
			delete(m.entries, k)
		}
	}
	if until.After(now) {
		m.entries[revocationKey(s)] = until
	}
	return nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, s Session) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[revocationKey(s)]
	if !ok {
		return false, nil
	}
	if !exp.After(m.clock.Now()) {
		delete(m.entries, revocationKey(s))
		return false, nil
	}
	return true, nil
}

// RedisRevocations shares revocations across gateway instances.
type RedisRevocations struct {
	client redis.UniversalClient
	prefix string
	clock  Clock
}

func NewRedisRevocations(client redis.UniversalClient, clock Clock) *RedisRevocations {
	if clock == nil {
		clock = systemClock{}
	}
	return &RedisRevocations{client: client, prefix: "knmt:revoked:", clock: clock}
}

func (r *RedisRevocations) Revoke(ctx context.Context, s Session, until time.Time) error {
	ttl := until.Sub(r.clock.Now())
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.prefix+revocationKey(s), 1, ttl).Err()
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, s Session) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+revocationKey(s)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
