package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/safar/go-storefront/internal/config"
)

const (
	pingAttempts = 5
	pingTimeout  = 5 * time.Second
)

// NewConnection opens a pooled Postgres handle and waits for the server to
// answer, retrying the ping with backoff while the database starts up.
func NewConnection(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := waitForPing(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func waitForPing(ctx context.Context, db *sql.DB) error {
	backoff := 250 * time.Millisecond

	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}

		if attempt == pingAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("ping database: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("ping database after %d attempts: %w", pingAttempts, err)
}
