package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQL stores keys in a two-column table of an embedded database (DuckDB or
// SQLite). Both accept the same upsert syntax.
type SQL struct {
	db *sql.DB
}

const createKVTable = `CREATE TABLE IF NOT EXISTS view_state (
	state_key   VARCHAR PRIMARY KEY,
	state_value VARCHAR NOT NULL
)`

// NewSQL prepares the view_state table on db.
func NewSQL(ctx context.Context, db *sql.DB) (*SQL, error) {
	if _, err := db.ExecContext(ctx, createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create view_state table: %w", err)
	}
	return &SQL{db: db}, nil
}

func (s *SQL) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT state_value FROM view_state WHERE state_key = ?`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return v, nil
}

func (s *SQL) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO view_state (state_key, state_value) VALUES (?, ?)
		ON CONFLICT (state_key) DO UPDATE SET state_value = excluded.state_value
	`, key, value)
	return err
}

func (s *SQL) Close() error {
	return s.db.Close()
}
