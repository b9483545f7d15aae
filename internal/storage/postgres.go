package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createKVTable = `CREATE TABLE IF NOT EXISTS client_kv (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres keeps values in the client_kv table.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres builds a Postgres-backed store and makes sure its table exists.
func NewPostgres(ctx context.Context, db *pgxpool.Pool) (*Postgres, error) {
	if _, err := db.Exec(ctx, createKVTable); err != nil {
		return nil, fmt.Errorf("create client_kv: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := p.db.QueryRow(ctx, `SELECT value FROM client_kv WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select %s: %w", key, err)
	}
	return v, nil
}

// Apply runs the mutation in a single transaction.
func (p *Postgres) Apply(ctx context.Context, m Mutation) error {
	if m.Empty() {
		return nil
	}
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for k, v := range m.Set {
		if _, err := tx.Exec(ctx, `INSERT INTO client_kv (key, value, updated_at) VALUES ($1, $2, now())
            ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, k, v); err != nil {
			return fmt.Errorf("upsert %s: %w", k, err)
		}
	}
	if len(m.Delete) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM client_kv WHERE key = ANY($1)`, m.Delete); err != nil {
			return fmt.Errorf("delete keys: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}
