package sqlitestore

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// pragmas applied to every pooled connection. WAL lets snapshot reads run
// while a booking transaction holds the write lock; busy_timeout makes
// contending BEGIN IMMEDIATE calls wait instead of failing at once.
var pragmas = []string{
	"PRAGMA busy_timeout=5000",
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=OFF",
	"PRAGMA temp_store=MEMORY",
}

type pool struct {
	inner  *sqlitex.Pool
	logger zerolog.Logger
	path   string
}

func openPool(path string, size int, logger zerolog.Logger) (*pool, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlitestore: path is required")
	}
	if size <= 0 {
		size = runtime.NumCPU()
		if size < 4 {
			size = 4
		}
	}

	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: size,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("sqlitestore: %s: %w", pragma, err)
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: opening %s: %w", path, err)
	}

	logger.Info().Str("path", path).Int("pool_size", size).Msg("sqlite pool opened")
	return &pool{inner: inner, logger: logger, path: path}, nil
}

func (p *pool) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: take: %w", err)
	}
	return conn, nil
}

func (p *pool) put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

func (p *pool) close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error().Err(err).Str("path", p.path).Msg("sqlite pool close error")
		return fmt.Errorf("sqlitestore: closing %s: %w", p.path, err)
	}
	p.logger.Info().Str("path", p.path).Msg("sqlite pool closed")
	return nil
}
