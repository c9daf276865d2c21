// Package mysqlstore is the production store.Store on MySQL / MariaDB
// (InnoDB). Counters are updated with conditional UPDATE statements inside
// the booking / check-in transaction, so InnoDB row locks serialise
// contenders on the same (doctor, date).
package mysqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"backend-klinik/internal/store"
)

type Options struct {
	DSN      string
	PoolSize int
	Retry    store.RetryPolicy
	Logger   zerolog.Logger
}

// NormalizeDSN forces the driver options the store depends on: DATE and
// DATETIME scanned into time.Time and every timestamp in UTC.
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysqlstore: DSN tidak valid: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	cfg.Params["time_zone"] = "'+00:00'"
	cfg.Params["transaction_isolation"] = "'READ-COMMITTED'"
	return cfg.FormatDSN(), nil
}

func openDB(ctx context.Context, opts Options) (*sql.DB, error) {
	dsn, err := NormalizeDSN(opts.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: open: %w", err)
	}

	size := opts.PoolSize
	if size <= 0 {
		size = 25
	}
	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(size / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysqlstore: database tidak nyambung: %w", err)
	}
	return db, nil
}
