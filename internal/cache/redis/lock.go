package redis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// releaseLua deletes the lock only while it still carries our token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua extends the lock TTL only while it still carries our token.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

const releaseTimeout = 5 * time.Second

// LockManager hands out cron-tick leases so only one worker replica syncs,
// sweeps or archives at a time. A held lease is renewed every third of its
// TTL, so a sync that outlives cronLockTTL is not joined by a second replica.
type LockManager struct {
	c       *Client
	rdb     *redis.Client
	release *redis.Script
	renew   *redis.Script
	holder  string
	logger  *slog.Logger
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates a LockManager. Lock keys live under the client's
// key prefix.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	if logger == nil {
		logger = slog.Default()
	}
	host, _ := os.Hostname()
	return &LockManager{
		c:       c,
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
		renew:   redis.NewScript(renewLua),
		holder:  host + "/" + strconv.Itoa(os.Getpid()),
		logger:  logger.With(slog.String("component", "lock_manager")),
	}
}

func (lm *LockManager) lockKey(key string) string {
	return lm.c.Key("lock", key)
}

// Holder returns the "host/pid" of the replica holding key, or "" when it
// is free.
func (lm *LockManager) Holder(ctx context.Context, key string) (string, error) {
	v, err := lm.rdb.Get(ctx, lm.lockKey(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: lock holder %s: %w", key, err)
	}
	return holderOf(v), nil
}

// Acquire takes the lease or returns domain.ErrLockHeld. The returned unlock
// stops renewal and releases the lease; calling it again is a no-op.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := lm.holder + "#" + uuid.NewString()
	lk := lm.lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go lm.keepAlive(lk, token, ttl, stop, done)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			<-done
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := lm.release.Run(rctx, lm.rdb, []string{lk}, token).Err(); err != nil {
				lm.logger.Warn("lock release failed", slog.String("key", key), slog.String("error", err.Error()))
			}
		})
	}
	return unlock, nil
}

// keepAlive renews the lease until stop closes or the lease is lost.
func (lm *LockManager) keepAlive(lk, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := ttl / 3
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			n, err := lm.renew.Run(ctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				lm.logger.Warn("lock renew failed", slog.String("key", lk), slog.String("error", err.Error()))
				continue
			}
			if n == 0 {
				lm.logger.Warn("lock lost before release", slog.String("key", lk))
				return
			}
		}
	}
}

func holderOf(token string) string {
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '#' {
			return token[:i]
		}
	}
	return token
}
