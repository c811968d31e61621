package corridor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned by Release when the lease expired or was taken
// over before the holder let go.
var ErrLockNotHeld = errors.New("corridor lock not held")

// LockConfig controls lease length and waiter polling.
type LockConfig struct {
	Lease   time.Duration
	Poll    time.Duration
	Timeout time.Duration
}

// RedisLocker grants one holder at a time per corridor, in arrival order.
// Waiters join a sorted set keyed by an arrival sequence; only the head may
// take the lease. Each waiter keeps a heartbeat key alive so a crashed waiter
// is evicted instead of blocking the queue forever.
type RedisLocker struct {
	client  *redis.Client
	lease   time.Duration
	poll    time.Duration
	timeout time.Duration
}

// MinLease is the shortest lease a locker grants. Shorter configured
// leases are raised to it, or to three polls if that is longer.
const MinLease = 30 * time.Millisecond

func NewRedisLocker(client *redis.Client, cfg LockConfig) *RedisLocker {
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 50 * time.Millisecond
	}
	// the watchdog renews every lease/3 and Redis expiries are whole ms
	cfg.Lease = max(cfg.Lease, 3*cfg.Poll, MinLease)
	return &RedisLocker{
		client:  client,
		lease:   cfg.Lease,
		poll:    cfg.Poll,
		timeout: cfg.Timeout,
	}
}

func lockKey(c Corridor) string {
	return fmt.Sprintf("slwl:lock:%d:%d", c.Origin, c.Destination)
}

func lockQueueKey(c Corridor) string {
	return fmt.Sprintf("slwl:lock:%d:%d:queue", c.Origin, c.Destination)
}

func lockSeqKey(c Corridor) string {
	return fmt.Sprintf("slwl:lock:%d:%d:seq", c.Origin, c.Destination)
}

func waiterPrefix(c Corridor) string {
	return fmt.Sprintf("slwl:lock:%d:%d:waiter:", c.Origin, c.Destination)
}

// KEYS[1] queue, KEYS[2] seq, KEYS[3] waiter heartbeat; ARGV[1] token, ARGV[2] heartbeat ms.
var joinScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[2])
redis.call('ZADD', KEYS[1], seq, ARGV[1])
redis.call('SET', KEYS[3], '1', 'PX', ARGV[2])
return seq
`)

// KEYS[1] lock, KEYS[2] queue; ARGV[1] token, ARGV[2] lease ms, ARGV[3] waiter prefix.
// Returns 1 when acquired, 0 when still waiting, -1 when the token fell out of the queue.
var acquireScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[2], ARGV[1]) then
	return -1
end
while true do
	local head = redis.call('ZRANGE', KEYS[2], 0, 0)
	if head[1] == ARGV[1] then
		break
	end
	if redis.call('EXISTS', ARGV[3] .. head[1]) == 1 then
		return 0
	end
	redis.call('ZREM', KEYS[2], head[1])
end
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
	redis.call('ZREM', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

func (l *RedisLocker) heartbeat() time.Duration {
	hb := l.poll * 20
	if hb < time.Second {
		hb = time.Second
	}
	return hb
}

// Acquire blocks until the caller holds the corridor lock, ctx is done, or
// the configured timeout passes. The returned lease is renewed in the
// background until Release.
func (l *RedisLocker) Acquire(ctx context.Context, c Corridor) (*Lease, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	token := uuid.New().String()
	waiter := waiterPrefix(c) + token
	if err := l.join(ctx, c, token); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		res, err := acquireScript.Run(ctx, l.client,
			[]string{lockKey(c), lockQueueKey(c)},
			token, l.lease.Milliseconds(), waiterPrefix(c)).Int()
		if err != nil {
			l.leave(c, token)
			return nil, fmt.Errorf("acquire lock %s: %w", c, err)
		}
		switch res {
		case 1:
			l.client.Del(ctx, waiter)
			return l.newLease(c, token), nil
		case -1:
			if err := l.join(ctx, c, token); err != nil {
				return nil, err
			}
		default:
			l.client.PExpire(ctx, waiter, l.heartbeat())
		}

		select {
		case <-ctx.Done():
			l.leave(c, token)
			return nil, fmt.Errorf("acquire lock %s: %w", c, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) join(ctx context.Context, c Corridor, token string) error {
	err := joinScript.Run(ctx, l.client,
		[]string{lockQueueKey(c), lockSeqKey(c), waiterPrefix(c) + token},
		token, l.heartbeat().Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("join lock queue %s: %w", c, err)
	}
	return nil
}

// leave drops a waiter that gave up. It uses its own context because the
// caller's may already be cancelled.
func (l *RedisLocker) leave(c Corridor, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pipe := l.client.Pipeline()
	pipe.ZRem(ctx, lockQueueKey(c), token)
	pipe.Del(ctx, waiterPrefix(c)+token)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("corridor: leave lock queue %s: %v", c, err)
	}
}

// Waiters returns how many workers are queued behind the holder.
func (l *RedisLocker) Waiters(ctx context.Context, c Corridor) (int64, error) {
	return l.client.ZCard(ctx, lockQueueKey(c)).Result()
}

// Lease is a held corridor lock.
type Lease struct {
	locker   *RedisLocker
	corridor Corridor
	token    string
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	lost     atomic.Bool
}

func (l *RedisLocker) newLease(c Corridor, token string) *Lease {
	lease := &Lease{
		locker:   l,
		corridor: c,
		token:    token,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go lease.watchdog()
	return lease
}

func (ls *Lease) Corridor() Corridor { return ls.corridor }
func (ls *Lease) Token() string      { return ls.token }

// Lost reports whether the watchdog failed to renew the lease.
func (ls *Lease) Lost() bool { return ls.lost.Load() }

func (ls *Lease) watchdog() {
	defer close(ls.done)
	ticker := time.NewTicker(ls.locker.lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ls.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ls.locker.lease/3)
			n, err := renewScript.Run(ctx, ls.locker.client,
				[]string{lockKey(ls.corridor)}, ls.token, ls.locker.lease.Milliseconds()).Int()
			cancel()
			if err != nil {
				log.Printf("corridor: renew lock %s: %v", ls.corridor, err)
				continue
			}
			if n == 0 {
				ls.lost.Store(true)
				log.Printf("corridor: lock %s lost before release", ls.corridor)
				return
			}
		}
	}
}

// Release stops renewal and deletes the lock if this lease still owns it.
func (ls *Lease) Release(ctx context.Context) error {
	ls.once.Do(func() { close(ls.stop) })
	<-ls.done
	n, err := releaseScript.Run(ctx, ls.locker.client,
		[]string{lockKey(ls.corridor)}, ls.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", ls.corridor, err)
	}
	if n == 0 {
		return fmt.Errorf("release lock %s: %w", ls.corridor, ErrLockNotHeld)
	}
	return nil
}
