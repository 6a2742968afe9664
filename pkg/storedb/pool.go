// Package storedb provides the single shared database pool behind every
// persistent component of the platform (kit metadata, module registry,
// provides graph, chat history, profile documents).
package storedb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Driver identifies which database/sql driver a DSN targets.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite3"
)

// Config describes one database connection target.
type Config struct {
	Driver   Driver
	DSN      string
	MaxConns int
	MaxIdle  int
}

func (c Config) key() string {
	return string(c.Driver) + "|" + c.DSN
}

// Pool manages shared *sql.DB handles keyed by driver+DSN. For SQLite it
// forces a single connection to avoid "database is locked" errors, the way
// every other component sharing one file must.
type Pool struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewPool creates an empty pool manager.
func NewPool() *Pool {
	return &Pool{dbs: make(map[string]*sql.DB)}
}

// Get returns the shared *sql.DB for cfg, opening and pinging it on first
// use. The same driver+DSN always returns the same handle.
func (p *Pool) Get(ctx context.Context, cfg Config) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cfg.key()
	if db, ok := p.dbs[key]; ok {
		return db, nil
	}

	db, err := p.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.dbs[key] = db
	return db, nil
}

func (p *Pool) open(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		slog.Debug("storedb: sqlite single-connection mode")
	} else {
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
		if cfg.MaxIdle > 0 {
			db.SetMaxIdleConns(cfg.MaxIdle)
		}
	}
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		if _, err := db.ExecContext(pingCtx, "PRAGMA journal_mode=WAL"); err != nil {
			slog.Warn("storedb: enable WAL failed", "error", err)
		}
		if _, err := db.ExecContext(pingCtx, "PRAGMA busy_timeout=10000"); err != nil {
			slog.Warn("storedb: set busy_timeout failed", "error", err)
		}
		if _, err := db.ExecContext(pingCtx, "PRAGMA foreign_keys=ON"); err != nil {
			slog.Warn("storedb: enable foreign_keys failed", "error", err)
		}
	}

	return db, nil
}

// Close closes every handle opened by this pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for key, db := range p.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
	}
	p.dbs = make(map[string]*sql.DB)

	if len(errs) > 0 {
		return fmt.Errorf("storedb: errors closing pools: %v", errs)
	}
	return nil
}
