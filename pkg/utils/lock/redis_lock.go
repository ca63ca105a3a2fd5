package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"kawadi-core/pkg/safe_random"
)

// ErrNotHeld is returned by Release when the caller no longer owns the key.
var ErrNotHeld = errors.New("lock not held")

// DistributedLock guards a key across processes.
type DistributedLock interface {
	// Acquire returns a release token when the lock was taken, or "" when it is busy.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Release frees key only if token still owns it.
	Release(ctx context.Context, key, token string) error
}

// RedisLock is SET NX PX with an ownership token.
type RedisLock struct {
	client redis.UniversalClient
}

func NewRedisLock(client redis.UniversalClient) *RedisLock {
	return &RedisLock{client: client}
}

// compare-and-delete so an expired holder cannot free a successor's lock
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token, err := safe_random.GenerateRandomHexString(16)
	if err != nil {
		return "", err
	}
	ok, err := l.client.SetNX(ctx, "lock:"+key, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

func (l *RedisLock) Release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{"lock:" + key}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// LocalLock is an in-process stand-in for single-node deployments and tests.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLock) Acquire(_ context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.held[key]; ok && l.now().Before(e.expires) {
		return "", nil
	}
	token, err := safe_random.GenerateRandomHexString(16)
	if err != nil {
		return "", err
	}
	l.held[key] = localEntry{token: token, expires: l.now().Add(ttl)}
	return token, nil
}

func (l *LocalLock) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.held[key]
	if !ok || e.token != token {
		return ErrNotHeld
	}
	delete(l.held, key)
	return nil
}
