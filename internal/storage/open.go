package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"mailportal/internal/config"
)

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.Storage) (Storage, error) {
	const op = "storage.Open"

	switch cfg.Driver {
	case config.StorageFile, "":
		return NewFileStorage(cfg.Path)
	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return NewRedisStorage(rdb, cfg.KeyPrefix), nil
	case config.StoragePostgres:
		return NewPostgresStorage(ctx, cfg.DbURL)
	default:
		return nil, fmt.Errorf("%s: unknown driver %q", op, cfg.Driver)
	}
}
