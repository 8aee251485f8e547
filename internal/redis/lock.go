package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// lockTTL bounds how long a crashed pass can hold an account. A pass over a
// large account can legitimately take a while, so this is generous.
const lockTTL = 2 * time.Hour

// ErrLockHeld indicates another pass currently owns the account.
var ErrLockHeld = errors.New("account lock already held")

// AccountLocker enforces the single-writer-per-account discipline when
// multiple depositor processes (or overlapping passes) run against the same
// store. Locks are SETNX keys with a TTL.
type AccountLocker struct {
	client *Client
	logger *zap.Logger
}

// NewAccountLocker creates an AccountLocker on the given client.
func NewAccountLocker(client *Client, logger *zap.Logger) *AccountLocker {
	return &AccountLocker{client: client, logger: logger}
}

func lockKey(accountID string) string {
	return fmt.Sprintf("sword:account_lock:%s", accountID)
}

// Acquire takes the lock for an account. Returns ErrLockHeld when another
// holder owns it.
func (l *AccountLocker) Acquire(ctx context.Context, accountID string) error {
	ok, err := l.client.rdb.SetNX(ctx, lockKey(accountID), "1", lockTTL).Result()
	if err != nil {
		return fmt.Errorf("acquire account lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// Release gives the lock back. Releasing a lock that expired is harmless.
func (l *AccountLocker) Release(ctx context.Context, accountID string) {
	if err := l.client.rdb.Del(ctx, lockKey(accountID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Warn("failed to release account lock",
			zap.Error(err),
			zap.String("account_id", accountID),
		)
	}
}
