package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/aaronwang/auction-house/internal/auction"
)

// Store wraps the PostgreSQL connection and implements auction.Store.
type Store struct {
	db *sql.DB
	// lockTimeout bounds how long a transaction waits for a contended row
	// before the bid fails fast with auction.ErrBusy.
	lockTimeout time.Duration
}

// NewStore opens and pings the database.
func NewStore(connStr string, lockTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &Store{db: db, lockTimeout: lockTimeout}, nil
}

// InitSchema creates the tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id BIGSERIAL PRIMARY KEY,
		seller_id VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category VARCHAR(100) NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		start_price NUMERIC(12, 2) NOT NULL,
		current_price NUMERIC(12, 2) NOT NULL,
		highest_bidder_id VARCHAR(255) NOT NULL DEFAULT '',
		order_hash VARCHAR(64) NOT NULL DEFAULT '',
		deposit NUMERIC(12, 2) NOT NULL DEFAULT 0,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_items_status_start ON items(status, start_time);
	CREATE INDEX IF NOT EXISTS idx_items_status_end ON items(status, end_time);

	CREATE TABLE IF NOT EXISTS bids (
		id VARCHAR(64) PRIMARY KEY,
		item_id BIGINT NOT NULL REFERENCES items(id),
		user_id VARCHAR(255) NOT NULL,
		amount NUMERIC(12, 2) NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bids_item_id ON bids(item_id);

	CREATE TABLE IF NOT EXISTS wallets (
		user_id VARCHAR(255) PRIMARY KEY,
		available NUMERIC(12, 2) NOT NULL DEFAULT 0,
		frozen NUMERIC(12, 2) NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK (available >= 0),
		CHECK (frozen >= 0)
	);

	CREATE TABLE IF NOT EXISTS wallet_transactions (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		kind VARCHAR(20) NOT NULL,
		amount NUMERIC(12, 2) NOT NULL,
		item_id BIGINT NOT NULL DEFAULT 0,
		timestamp TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wallet_tx_user ON wallet_transactions(user_id, timestamp);

	CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		item_id BIGINT NOT NULL DEFAULT 0,
		text TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id, created_at);

	CREATE TABLE IF NOT EXISTS event_archive (
		event_id VARCHAR(64) PRIMARY KEY,
		item_id BIGINT NOT NULL,
		event_type VARCHAR(40) NOT NULL,
		payload JSONB NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_event_archive_item ON event_archive(item_id, occurred_at);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// WithinTx runs fn inside a single transaction with the store's lock
// timeout applied, committing on nil and rolling back otherwise.
func (s *Store) WithinTx(ctx context.Context, fn func(tx auction.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
	if _, err := sqlTx.ExecContext(ctx, timeout); err != nil {
		sqlTx.Rollback()
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}

	if err := fn(sqlTx); err != nil {
		sqlTx.Rollback()
		return mapLockError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapLockError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// mapLockError turns a lock wait timeout or a detected deadlock into
// auction.ErrBusy so callers see a clean retryable error.
func mapLockError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03", "40P01": // lock_not_available, deadlock_detected
			return fmt.Errorf("%v: %w", err, auction.ErrBusy)
		}
	}
	return err
}

func sqlTxOf(tx auction.Tx) (*sql.Tx, error) {
	sqlTx, ok := tx.(*sql.Tx)
	if !ok {
		return nil, fmt.Errorf("unexpected transaction handle %T", tx)
	}
	return sqlTx, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
