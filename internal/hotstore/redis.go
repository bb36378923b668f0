package hotstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore wraps go-redis v9 and implements Store. One client serves
// both the KV and pub/sub halves.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to the hot store at the given redis:// URL.
// opTimeout guards every individual command; pass 0 for the 5s default.
func NewRedisStore(url string, opTimeout time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("hotstore: parse redis url: %w", err)
	}
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = opTimeout
	opts.WriteTimeout = opTimeout
	opts.PoolSize = 20

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("hotstore: redis ping failed (%s): %w", opts.Addr, err)
	}

	slog.Info("[HotStore] Redis connected", "addr", opts.Addr, "db", opts.DB)
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return val, err
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *RedisStore) RPush(ctx context.Context, key string, values ...string) error {
	ifaces := make([]interface{}, len(values))
	for i, v := range values {
		ifaces[i] = v
	}
	return s.rdb.RPush(ctx, key, ifaces...).Err()
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.rdb.LRange(ctx, key, start, stop).Result()
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	ifaces := make([]interface{}, len(members))
	for i, m := range members {
		ifaces[i] = m
	}
	return s.rdb.SAdd(ctx, key, ifaces...).Err()
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	ifaces := make([]interface{}, len(members))
	for i, m := range members {
		ifaces[i] = m
	}
	return s.rdb.SRem(ctx, key, ifaces...).Err()
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.rdb.SMembers(ctx, key).Result()
}

func (s *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return s.rdb.SIsMember(ctx, key, member).Result()
}

func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	return s.rdb.SCard(ctx, key).Result()
}

func (s *RedisStore) HSet(ctx context.Context, key, field string, value []byte) error {
	return s.rdb.HSet(ctx, key, field, value).Err()
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	val, err := s.rdb.HGet(ctx, key, field).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s[%s]", ErrNotFound, key, field)
	}
	return val, err
}

func (s *RedisStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("hotstore: scan %q: %w", pattern, err)
	}
	return keys, nil
}

func (s *RedisStore) FlushAll(ctx context.Context) error {
	return s.rdb.FlushAll(ctx).Err()
}

func (s *RedisStore) Publish(ctx context.Context, channel string, message []byte) error {
	return s.rdb.Publish(ctx, channel, message).Err()
}

// Subscribe registers a handler for messages on a pub/sub channel and
// returns an unsubscribe function. Messages are dispatched from a
// dedicated goroutine; handlers must not block.
func (s *RedisStore) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	sub := s.rdb.Subscribe(ctx, channel)

	// Wait for subscription confirmation before returning.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("hotstore: subscribe to %s: %w", channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	return func() { sub.Close() }, nil
}
