package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps the ledger in a Redis set so it survives restarts and is shared across instances.
type RedisStore struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
}

// RedisOptions configure the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
	Timeout  time.Duration
}

// NewRedisStore dials lazily; the first command establishes the connection.
func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStoreWithClient(client, opts.Key, opts.Timeout)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, key string, timeout time.Duration) *RedisStore {
	if key == "" {
		key = "screener:alert_ledger"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisStore{client: client, key: key, timeout: timeout}
}

func (r *RedisStore) Add(ctx context.Context, ticker string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := r.client.SAdd(ctx, r.key, ticker).Result()
	if err != nil {
		return false, fmt.Errorf("redis sadd: %w", err)
	}
	return n == 1, nil
}

func (r *RedisStore) Contains(ctx context.Context, ticker string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ok, err := r.client.SIsMember(ctx, r.key, ticker).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) Members(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	members, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return members, nil
}

func (r *RedisStore) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ Store = (*RedisStore)(nil)
