package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const itemsTable = "session_items"

type PostgresStorage struct {
	db *pgxpool.Pool
}

func NewPostgresStorage(ctx context.Context, DbURL string) (*PostgresStorage, error) {
	const op = "storage.NewPostgresStorage"

	conn, err := pgxpool.Connect(ctx, DbURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, itemsTable)
	if _, err := conn.Exec(ctx, query); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &PostgresStorage{
		db: conn,
	}, nil
}

func (p *PostgresStorage) GetItem(ctx context.Context, key string) (string, error) {
	const op = "storage.PostgresStorage.GetItem"

	var value string
	query := fmt.Sprintf("SELECT value FROM %s WHERE key=$1;", itemsTable)

	err := p.db.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return value, nil
}

func (p *PostgresStorage) SetItem(ctx context.Context, key, value string) error {
	return p.SetItems(ctx, map[string]string{key: value})
}

func (p *PostgresStorage) RemoveItem(ctx context.Context, key string) error {
	return p.RemoveItems(ctx, key)
}

func (p *PostgresStorage) SetItems(ctx context.Context, items map[string]string) error {
	const op = "storage.PostgresStorage.SetItems"

	query := fmt.Sprintf(`INSERT INTO %s(key, value, updated_at) VALUES ($1, $2, now())
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, itemsTable)

	err := p.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		for k, v := range items {
			if _, err := tx.Exec(ctx, query, k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *PostgresStorage) RemoveItems(ctx context.Context, keys ...string) error {
	const op = "storage.PostgresStorage.RemoveItems"

	query := fmt.Sprintf("DELETE FROM %s WHERE key = ANY($1)", itemsTable)
	if _, err := p.db.Exec(ctx, query, keys); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *PostgresStorage) Close() error {
	p.db.Close()
	return nil
}
