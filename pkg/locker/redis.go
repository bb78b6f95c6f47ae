package locker

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/metrics"
	fernredis "github.com/Ramsey-B/fern/pkg/redis"
)

var errNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker is a SET NX lock shared by every replica of the service.
type RedisLocker struct {
	client    *fernredis.Client
	logger    ectologger.Logger
	keyPrefix string
	ttl       time.Duration
	timeout   time.Duration
}

type RedisLockerConfig struct {
	KeyPrefix string
	TTL       time.Duration
	Timeout   time.Duration
}

func NewRedisLocker(client *fernredis.Client, cfg RedisLockerConfig, logger ectologger.Logger) *RedisLocker {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "fern:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &RedisLocker{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
		timeout:   cfg.Timeout,
	}
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := l.keyPrefix + key
	token := uuid.New().String()

	start := time.Now()
	err := l.tryAcquire(ctx, lockKey, token)
	metrics.RecordLockWait("redis", time.Since(start), err)
	if err != nil {
		return err
	}
	defer l.release(lockKey, token)

	return fn(ctx)
}

func (l *RedisLocker) acquire(ctx context.Context, lockKey, token string) error {
	ok, err := l.client.Redis().SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errNotAcquired
	}

	l.logger.WithContext(ctx).Debugf("Acquired lock: %s", lockKey)
	return nil
}

// tryAcquire retries with capped exponential backoff until the timeout.
func (l *RedisLocker) tryAcquire(ctx context.Context, lockKey, token string) error {
	deadline := time.Now().Add(l.timeout)
	backoff := 10 * time.Millisecond

	for time.Now().Before(deadline) {
		err := l.acquire(ctx, lockKey, token)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errNotAcquired) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = backoff * 2
			if backoff > 500*time.Millisecond {
				backoff = 500 * time.Millisecond
			}
		}
	}

	return ErrLockTimeout
}

// release runs on a fresh context so a cancelled request still frees the lock.
func (l *RedisLocker) release(lockKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := releaseScript.Run(ctx, l.client.Redis(), []string{lockKey}, token).Int64()
	if err != nil {
		l.logger.WithError(err).Warnf("failed to release lock %s", lockKey)
		return
	}
	if result == 0 {
		// the TTL expired while the holder was still working
		l.logger.Warnf("lock %s was no longer held on release", lockKey)
		return
	}
	l.logger.Debugf("Released lock: %s", lockKey)
}
