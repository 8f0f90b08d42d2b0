package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores keys in a view_state table through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, verifies connectivity and prepares the table.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Verify connectivity early.
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}

	if _, err := p.Exec(ctx, `CREATE TABLE IF NOT EXISTS view_state (
		state_key   TEXT PRIMARY KEY,
		state_value TEXT NOT NULL
	)`); err != nil {
		p.Close()
		return nil, fmt.Errorf("create view_state table: %w", err)
	}

	return &Postgres{pool: p}, nil
}

func (s *Postgres) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT state_value FROM view_state WHERE state_key = $1`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return v, nil
}

func (s *Postgres) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO view_state (state_key, state_value) VALUES ($1, $2)
		ON CONFLICT (state_key) DO UPDATE SET state_value = EXCLUDED.state_value
	`, key, value)
	return err
}

func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
