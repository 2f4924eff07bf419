package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld indicates another holder owns the lock.
var ErrLockHeld = errors.New("platform/cache: lock held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker hands out short-lived exclusive locks stored in redis.
type Locker struct {
	client redis.UniversalClient
}

// NewLocker constructs a Locker.
func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

// Lock is a held lock. Release is safe to call more than once.
type Lock struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Acquire takes key for ttl or returns ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("platform/cache: locker not configured")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("platform/cache: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{client: l.client, key: key, token: token}, nil
}

// Release deletes the key only while it still carries this lock's token.
func (k *Lock) Release(ctx context.Context) error {
	if k == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, k.client, []string{k.key}, k.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("platform/cache: release %s: %w", k.key, err)
	}
	return nil
}
