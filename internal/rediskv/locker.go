package rediskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Locker hands out short-lived distributed locks. The sync engine takes one
// per tenant so two processes never drain the same queue at once.
type Locker struct {
	client *redislock.Client
	prefix string
}

// NewLocker creates a Locker on client.
func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Locker{client: redislock.New(client), prefix: prefix}
}

// TryLock obtains key for ttl without waiting. ok is false when another
// holder has it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	lock, err := l.client.Obtain(ctx, l.prefix+":lock:"+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, true, nil
}
