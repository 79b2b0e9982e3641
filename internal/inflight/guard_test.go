package inflight

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseGuard(t *testing.T, g Guard) {
	t.Helper()
	ctx := context.Background()
	k := Key{User: "u-1", Operation: "update", Record: "kunnr='1'"}

	release, err := g.Acquire(ctx, k)
	require.NoError(t, err)

	_, err = g.Acquire(ctx, k)
	assert.ErrorIs(t, err, ErrInFlight)

	other, err := g.Acquire(ctx, Key{User: "u-2", Operation: "update", Record: "kunnr='1'"})
	require.NoError(t, err, "different user holds independently")
	other()

	release()
	release()

	again, err := g.Acquire(ctx, k)
	require.NoError(t, err)
	again()
}

func TestMemoryGuard(t *testing.T) {
	exerciseGuard(t, NewMemory())
}

func TestMemoryGuardConcurrent(t *testing.T) {
	g := NewMemory()
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := g.Acquire(context.Background(), Key{User: "u", Operation: "create", Record: "r"}); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseGuard(t, NewRedis(client, time.Minute))
}

func TestRedisGuardExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	g := NewRedis(client, 10*time.Second)
	k := Key{User: "u", Operation: "create", Record: "r"}

	stale, err := g.Acquire(context.Background(), k)
	require.NoError(t, err)
	mr.FastForward(11 * time.Second)

	fresh, err := g.Acquire(context.Background(), k)
	require.NoError(t, err)

	// A holder whose lease lapsed must not release the new holder's lock.
	stale()
	_, err = g.Acquire(context.Background(), k)
	assert.ErrorIs(t, err, ErrInFlight)
	fresh()
}

func TestRedisGuardUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err := NewRedis(client, time.Second).Acquire(context.Background(), Key{User: "u"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInFlight)
}
