package runstate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: rdb, prefix: prefix}, nil
}

func (s *RedisStore) key(job string) string {
	parts := []string{"runstate", job}
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return strings.Join(parts, ":")
}

func (s *RedisStore) LastSuccess(ctx context.Context, job string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.key(job)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("runstate %s: bad timestamp %q: %w", job, raw, err)
	}
	return at, true, nil
}

// MarkSuccess не даёт времени откатиться назад, если два запуска
// завершились в обратном порядке.
func (s *RedisStore) MarkSuccess(ctx context.Context, job string, at time.Time) error {
	key := s.key(job)
	value := at.UTC().Format(time.RFC3339Nano)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if prev, perr := time.Parse(time.RFC3339Nano, current); perr == nil && !at.After(prev) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, value, 0)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
