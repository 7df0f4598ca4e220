package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld signals that another run owns the lock already.
var ErrLockHeld = errors.New("cache: lock already held")

// Locker hands out exclusive, expiring locks keyed by name.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// LockKey builds the run lock key for an account and flow.
func LockKey(account, flow string) string {
	return "lock:" + account + ":" + flow
}

// LocalLocker serialises runs inside a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLocalLocker returns an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, ErrLockHeld
	}
	until := now.Add(ttl)
	l.held[key] = until

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.held[key] == until {
				delete(l.held, key)
			}
			l.mu.Unlock()
		})
	}, nil
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker uses SET NX PX so runs are exclusive across processes.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker builds a locker on the given client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// release must outlive a cancelled run context
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}, nil
}
