package reminders

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const ledgerPrefix = "cabinbook:reminder:"

// MemoryLedger keeps claims for a single process.
type MemoryLedger struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{expires: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, exp := range l.expires {
		if !exp.After(now) {
			delete(l.expires, k)
		}
	}
	if _, ok := l.expires[key]; ok {
		return false, nil
	}
	l.expires[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.expires, key)
	l.mu.Unlock()
	return nil
}

// RedisLedger shares claims between instances so a reminder goes out once.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (l *RedisLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, ledgerPrefix+key, 1, ttl).Result()
}

func (l *RedisLedger) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, ledgerPrefix+key).Err()
}
