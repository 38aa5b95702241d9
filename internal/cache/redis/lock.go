package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// releaseTimeout bounds the unlock call. Release runs on a background
// context so a lock is freed even when the holder's context is already
// cancelled; the TTL reclaims it if the call still fails.
const releaseTimeout = 5 * time.Second

// unlockScript deletes the lock key only when it still carries the holder's
// token, so an expired-and-reacquired lock is never released by the old
// holder.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockManager implements domain.LockManager with SET NX plus a token-checked
// unlock. The archive sweep takes a lock per sweep so bot instances sharing
// one database never double-archive a batch.
type LockManager struct {
	rdb *redis.Client
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.Underlying()}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the lock for key with the given TTL. On success it returns
// an idempotent release function; when another holder owns the key it
// returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	name := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = unlockScript.Run(ctx, lm.rdb, []string{name}, token).Err()
		})
	}
	return release, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
