// Package inflight stops the same write from being submitted twice while
// the first attempt is still running.
package inflight

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInFlight means an identical operation is already running.
var ErrInFlight = errors.New("inflight: operation already in progress")

// Key identifies one operation by one user on one record.
type Key struct {
	User      string
	Operation string
	Record    string
}

func (k Key) String() string {
	return strings.Join([]string{k.User, k.Operation, k.Record}, "|")
}

// Release frees a held key. It is safe to call more than once.
type Release func()

// Guard hands out exclusive holds.
type Guard interface {
	Acquire(ctx context.Context, k Key) (Release, error)
}

// Memory is a process-local guard.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

func (m *Memory) Acquire(_ context.Context, k Key) (Release, error) {
	id := k.String()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[id]; busy {
		return nil, ErrInFlight
	}
	m.held[id] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, id)
			m.mu.Unlock()
		})
	}, nil
}

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis shares holds across gateway instances. TTL bounds how long a
// crashed holder can block a key.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Redis{client: client, prefix: "knmt:inflight:", ttl: ttl}
}

func (r *Redis) Acquire(ctx context.Context, k Key) (Release, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	key := r.prefix + k.String()
	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("inflight: acquire: %w", err)
	}
	if !ok {
		return nil, ErrInFlight
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be done.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, r.client, []string{key}, token).Err()
		})
	}, nil
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("inflight: token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
