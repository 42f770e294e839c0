// Package store persists import history and mapping templates, either in
// PostgreSQL or, when no database is configured, in process memory.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JonMunkholm/ledgerbridge/internal/config"
	"github.com/JonMunkholm/ledgerbridge/internal/core"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Stores bundles the stores the service needs.
type Stores struct {
	Audit     core.AuditStore
	Templates core.TemplateStore

	// Pool is nil for in-memory stores.
	Pool *pgxpool.Pool
}

// Close releases the database pool, if any.
func (s *Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Durable reports whether the stores survive a restart.
func (s *Stores) Durable() bool { return s.Pool != nil }

// Open connects to the configured database, runs migrations and returns
// Postgres-backed stores. With no database URL it returns memory stores.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Stores, error) {
	if cfg.URL == "" {
		slog.Info("no database configured, history and templates are kept in memory")
		return &Stores{Audit: NewMemoryAudit(), Templates: NewMemoryTemplates()}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := Migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	return &Stores{
		Audit:     NewPostgresAudit(pool),
		Templates: NewPostgresTemplates(pool),
		Pool:      pool,
	}, nil
}
