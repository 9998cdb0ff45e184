// Package lock provides Redis-backed mutual exclusion for the periodic
// jobs, so overlapping schedulers (or a second instance of the service)
// never run the same job concurrently.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockHeld is returned by Acquire when another holder has the lock.
// Callers treat it as "skip this run", not as a failure.
var ErrLockHeld = errors.New("lock already held")

const keyPrefix = "~lock:"

// releaseScript deletes the lock only when the stored token still matches,
// so a run that outlived its expiry cannot release a successor's lock.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Guard acquires named locks with a fixed expiry. The expiry bounds how
// long a crashed holder can block the next run.
type Guard struct {
	client *redis.Client
	expiry time.Duration
}

// NewGuard builds a Guard on the given Redis client.
func NewGuard(client *redis.Client, expiry time.Duration) *Guard {
	return &Guard{client: client, expiry: expiry}
}

// Lock is a held lock. Release it when the guarded work is done.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire attempts to take the named lock in a single atomic command.
// It returns ErrLockHeld (wrapped) when another holder has it.
func (g *Guard) Acquire(ctx context.Context, name string) (*Lock, error) {
	key := keyPrefix + name
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.expiry).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %q: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %q: %w", name, ErrLockHeld)
	}
	return &Lock{client: g.client, key: key, token: token}, nil
}

// Release removes the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %q: %w", l.key, err)
	}
	return nil
}
