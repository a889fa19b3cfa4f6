package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/wavebot/internal/domain"
)

// releaseLua deletes the lease key only while it still holds our token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua extends the lease only while it still holds our token.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LeaseManager implements domain.LeaseManager with SET NX PX and token-checked
// Lua scripts for renewal and release.
type LeaseManager struct {
	rdb     *redis.Client
	release *redis.Script
	renew   *redis.Script
}

// NewLeaseManager creates a LeaseManager backed by the given Client.
func NewLeaseManager(c *Client) *LeaseManager {
	return &LeaseManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
		renew:   redis.NewScript(renewLua),
	}
}

func leaseKey(key string) string {
	return "lease:" + key
}

// TradeLeaseKey is the lease name that guards writes to one trade.
func TradeLeaseKey(tradeID int64) string {
	return fmt.Sprintf("trade:%d", tradeID)
}

// Acquire claims key for ttl. It returns domain.ErrLockHeld when another
// holder owns it.
func (lm *LeaseManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	token := uuid.NewString()
	k := leaseKey(key)

	ok, err := lm.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lease %s: %w", key, domain.ErrLockHeld)
	}
	return &lease{lm: lm, key: k, token: token, ttl: ttl}, nil
}

type lease struct {
	lm    *LeaseManager
	key   string
	token string
	ttl   time.Duration

	mu       sync.Mutex
	released bool
}

// Renew pushes the expiry out by the full ttl. It returns domain.ErrLockLost
// when the key expired or changed hands.
func (l *lease) Renew(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return domain.ErrLockLost
	}

	n, err := l.lm.renew.Run(ctx, l.lm.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: renew lease %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: renew lease %s: %w", l.key, domain.ErrLockLost)
	}
	return nil
}

// Release gives the lease up. Safe to call more than once.
func (l *lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true

	// The caller's context is usually already cancelled at this point.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.lm.release.Run(ctx, l.lm.rdb, []string{l.key}, l.token).Err()
}

func (l *lease) TTL() time.Duration { return l.ttl }

var _ domain.LeaseManager = (*LeaseManager)(nil)
