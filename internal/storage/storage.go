package storage

import (
	"context"
	"errors"
)

// Keys under which the session is persisted.
const (
	TokenKey = "auth_token"
	UserKey  = "user_info"
)

var ErrNotFound = errors.New("item not found")

// Storage is the durable key-value store the session is persisted to.
type Storage interface {
	// GetItem returns ErrNotFound when key is absent.
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
	// RemoveItem is a no-op for absent keys.
	RemoveItem(ctx context.Context, key string) error

	Close() error
}

// BatchStorage is implemented by backends that can write several keys in one
// transaction.
type BatchStorage interface {
	Storage

	SetItems(ctx context.Context, items map[string]string) error
	RemoveItems(ctx context.Context, keys ...string) error
}
