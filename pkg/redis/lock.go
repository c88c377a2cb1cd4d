package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when another holder owns the key
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when the lease expired or was taken over
	ErrLockNotHeld = errors.New("lock not held")
)

// Both scripts act only while the key still carries the holder's token.
var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	renewScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

const renewTimeout = 5 * time.Second

// Locker hands out exclusive, self-renewing leases on keys.
type Locker struct {
	client *Client
	prefix string
}

func NewLocker(client *Client, prefix string) *Locker {
	if prefix == "" {
		prefix = "lichen:lock:"
	}
	return &Locker{client: client, prefix: prefix}
}

// Lease is an exclusive hold on a key. It renews itself every third of its ttl until released,
// so a holder that outlives ttl keeps the key.
type Lease struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration

	lost atomic.Bool
	stop chan struct{}
	done chan struct{}
}

// Acquire takes the lease on key or fails with ErrLockNotAcquired.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	lease := &Lease{
		client: l.client,
		key:    l.prefix + key,
		token:  uuid.New().String(),
		ttl:    ttl,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	ok, err := l.client.rdb.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Lease taken on %s", lease.key)
	go lease.keepAlive()
	return lease, nil
}

func (lease *Lease) keepAlive() {
	defer close(lease.done)

	ticker := time.NewTicker(max(lease.ttl/3, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-lease.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), renewTimeout)
			err := lease.renew(ctx)
			cancel()
			if errors.Is(err, ErrLockNotHeld) {
				lease.lost.Store(true)
				lease.client.logger.WithContext(ctx).Warnf("Lease on %s was lost", lease.key)
				return
			}
			if err != nil {
				lease.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to renew lease on %s", lease.key)
			}
		}
	}
}

func (lease *Lease) renew(ctx context.Context) error {
	held, err := renewScript.Run(ctx, lease.client.rdb, []string{lease.key}, lease.token, lease.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if held == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Lost reports whether renewal found the key gone or owned by someone else.
func (lease *Lease) Lost() bool {
	return lease.lost.Load()
}

// Release stops renewal and frees the key if it is still held.
func (lease *Lease) Release(ctx context.Context) error {
	close(lease.stop)
	<-lease.done

	freed, err := releaseScript.Run(ctx, lease.client.rdb, []string{lease.key}, lease.token).Int64()
	if err != nil {
		return err
	}
	if freed == 0 {
		return ErrLockNotHeld
	}

	lease.client.logger.WithContext(ctx).Debugf("Lease released on %s", lease.key)
	return nil
}
