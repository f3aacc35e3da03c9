package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisStorage struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStorage wraps rdb; every key is stored under prefix.
func NewRedisStorage(rdb *redis.Client, prefix string) *RedisStorage {
	return &RedisStorage{
		rdb:    rdb,
		prefix: prefix,
	}
}

func (r *RedisStorage) key(k string) string {
	return r.prefix + k
}

func (r *RedisStorage) GetItem(ctx context.Context, key string) (string, error) {
	const op = "storage.RedisStorage.GetItem"

	value, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return value, nil
}

func (r *RedisStorage) SetItem(ctx context.Context, key, value string) error {
	const op = "storage.RedisStorage.SetItem"

	if err := r.rdb.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *RedisStorage) RemoveItem(ctx context.Context, key string) error {
	const op = "storage.RedisStorage.RemoveItem"

	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SetItems writes all items inside MULTI/EXEC.
func (r *RedisStorage) SetItems(ctx context.Context, items map[string]string) error {
	const op = "storage.RedisStorage.SetItems"

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range items {
			pipe.Set(ctx, r.key(k), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *RedisStorage) RemoveItems(ctx context.Context, keys ...string) error {
	const op = "storage.RedisStorage.RemoveItems"

	if len(keys) == 0 {
		return nil
	}

	prefixed := make([]string, 0, len(keys))
	for _, k := range keys {
		prefixed = append(prefixed, r.key(k))
	}

	if err := r.rdb.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *RedisStorage) Close() error {
	return r.rdb.Close()
}
