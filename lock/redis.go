// lock/redis.go
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// RedisConfig configures the Redis lock backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address  string
	Password string
	Database int

	// Prefix is prepended to every lock key.
	Prefix string

	// TTL bounds how long a crashed holder can keep a lock.
	TTL time.Duration

	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration

	// Timeout for individual Redis operations.
	Timeout time.Duration
}

func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:       address,
		Prefix:        "imap:lock:",
		TTL:           2 * time.Minute,
		RetryInterval: 100 * time.Millisecond,
		Timeout:       5 * time.Second,
	}
}

// Only the owner may release.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker is a Locker shared by every process using the same Redis.
type RedisLocker struct {
	cfg    RedisConfig
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisLocker connects to Redis and checks the connection.
func NewRedisLocker(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}
	return NewRedisLockerWithClient(cfg, client, logger), nil
}

// NewRedisLockerWithClient uses an existing client.
func NewRedisLockerWithClient(cfg RedisConfig, client redis.UniversalClient, logger *slog.Logger) *RedisLocker {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 100 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &RedisLocker{cfg: cfg, client: client, logger: utils.Component(logger, "Lock")}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	lockKey := l.cfg.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.tryAcquire(ctx, lockKey, token)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock %s: %w", lockKey, ctx.Err())
		case <-ticker.C:
		}
	}
	l.logger.Debug("lock acquired", "key", lockKey)

	var once sync.Once
	var releaseErr error
	return func(ctx context.Context) error {
		once.Do(func() {
			opCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
			defer cancel()
			if _, err := releaseScript.Run(opCtx, l.client, []string{lockKey}, token).Result(); err != nil {
				releaseErr = fmt.Errorf("failed to release lock %s: %w", lockKey, err)
				l.logger.Warn("lock release failed", "key", lockKey, "error", err)
			}
		})
		return releaseErr
	}, nil
}

func (l *RedisLocker) tryAcquire(ctx context.Context, key, token string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()
	ok, err := l.client.SetNX(opCtx, key, token, l.cfg.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
