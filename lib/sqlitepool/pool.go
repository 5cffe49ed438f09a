// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const defaultPoolSize = 4

// Config holds the parameters for opening a pool.
type Config struct {
	// Path is the database file. Its directory must exist. Required.
	Path string

	// PoolSize defaults to 4.
	PoolSize int

	// Migrations are SQL scripts that build the schema, oldest first.
	// The database's user_version counts how many have run. Released
	// migrations must never be edited or reordered.
	Migrations []string

	Logger *slog.Logger
}

// Pool is a fixed-size set of SQLite connections with the task store's
// pragmas applied. It is safe for concurrent use. A connection taken
// from it is not.
type Pool struct {
	conns  *sqlitex.Pool
	path   string
	logger *slog.Logger
}

// Open opens the pool and brings the schema up to date. It fails if the
// file was migrated by a newer binary.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlitepool: Path is required")
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conns, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: applyPragmas,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}
	pool := &Pool{conns: conns, path: cfg.Path, logger: logger}

	applied, err := pool.migrate(context.Background(), cfg.Migrations)
	if err != nil {
		conns.Close()
		return nil, fmt.Errorf("sqlitepool: %s: %w", cfg.Path, err)
	}
	logger.Info("sqlite database opened",
		"path", cfg.Path,
		"pool_size", size,
		"schema_version", len(cfg.Migrations),
		"migrations_applied", applied,
	)
	return pool, nil
}

// Take borrows a connection, waiting until one is free or ctx ends.
// Return it with Put.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.conns.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: %w", err)
	}
	return conn, nil
}

// Put returns a connection taken with Take. Put(nil) does nothing.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.conns.Put(conn)
}

// Read lends fn a connection.
func (p *Pool) Read(ctx context.Context, fn func(*sqlite.Conn) error) error {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	return fn(conn)
}

// Write runs fn in an IMMEDIATE transaction, which holds the write
// lock from the start. The transaction commits only if fn returns nil.
func (p *Pool) Write(ctx context.Context, fn func(*sqlite.Conn) error) (err error) {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitepool: begin: %w", err)
	}
	defer end(&err)
	return fn(conn)
}

// Close waits for borrowed connections to come back and closes all of
// them.
func (p *Pool) Close() error {
	if err := p.conns.Close(); err != nil {
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite database closed", "path", p.path)
	return nil
}

// SchemaVersion returns the database's user_version.
func (p *Pool) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := p.Read(ctx, func(conn *sqlite.Conn) (err error) {
		version, err = userVersion(conn)
		return err
	})
	return version, err
}

func (p *Pool) migrate(ctx context.Context, migrations []string) (int, error) {
	var applied int
	err := p.Write(ctx, func(conn *sqlite.Conn) error {
		version, err := userVersion(conn)
		if err != nil {
			return err
		}
		if version > len(migrations) {
			return fmt.Errorf("schema version %d is newer than this binary supports (%d)", version, len(migrations))
		}
		for index := version; index < len(migrations); index++ {
			if err := sqlitex.ExecuteScript(conn, migrations[index], nil); err != nil {
				return fmt.Errorf("migration %d: %w", index+1, err)
			}
			applied++
		}
		if applied == 0 {
			return nil
		}
		return sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version = %d", len(migrations)), nil)
	})
	return applied, err
}

func userVersion(conn *sqlite.Conn) (int, error) {
	var version int
	err := sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("reading user_version: %w", err)
	}
	return version, nil
}

// pragmas run on every new connection, before it is first lent out.
var pragmas = [...]string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = FULL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA temp_store = MEMORY",
}

func applyPragmas(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	return nil
}
