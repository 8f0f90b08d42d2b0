// Package store provides the key/value backends behind persisted view state.
//
// Backends are selected by DSN:
//
//	memory:                    in-process map (tests, ephemeral sessions)
//	file:<path>                JSON document on disk
//	duckdb:<name>              DuckDB database under the data directory
//	sqlite:<name>              SQLite database under the data directory
//	postgres://... | postgresql://...
//	redis://host:port/db
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joeblew999/geoview/internal/db"
)

// ErrNotFound is returned by Get when a key has never been written.
var ErrNotFound = errors.New("store: key not found")

// Store is a durable string key/value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Open creates a Store from a DSN. Relative file and database names are
// resolved against dataDir.
func Open(ctx context.Context, dsn, dataDir string) (Store, error) {
	scheme, rest, _ := strings.Cut(dsn, ":")
	switch strings.ToLower(scheme) {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		path := rest
		if path == "" {
			path = "viewstate.json"
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(dataDir, path)
		}
		return NewFile(path)
	case "duckdb":
		conn, err := db.OpenDuckDB(db.Config{DataDir: dataDir, DBName: nameOr(rest, "viewstate")})
		if err != nil {
			return nil, err
		}
		return NewSQL(ctx, conn)
	case "sqlite":
		conn, err := db.OpenSQLite(db.Config{DataDir: dataDir, DBName: nameOr(rest, "viewstate")})
		if err != nil {
			return nil, err
		}
		return NewSQL(ctx, conn)
	case "postgres", "postgresql":
		return OpenPostgres(ctx, dsn)
	case "redis", "rediss":
		return OpenRedis(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported backend %q", scheme)
	}
}

// Prefixed namespaces every key of s under prefix.
func Prefixed(s Store, prefix string) Store {
	return &prefixed{Store: s, prefix: prefix}
}

type prefixed struct {
	Store
	prefix string
}

func (p *prefixed) Get(ctx context.Context, key string) (string, error) {
	return p.Store.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key, value string) error {
	return p.Store.Set(ctx, p.prefix+key, value)
}

// Close is a no-op: the underlying store is shared between namespaces.
func (p *prefixed) Close() error { return nil }

func nameOr(name, fallback string) string {
	name = strings.TrimPrefix(name, "//")
	if name == "" {
		return fallback
	}
	return name
}
