package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronwang/auction-house/internal/auction"
	"github.com/aaronwang/auction-house/internal/models"
)

// GetWalletForUpdate locks the user's wallet row for the duration of the
// transaction, creating an empty wallet first if none exists.
func (s *Store) GetWalletForUpdate(ctx context.Context, tx auction.Tx, userID string) (*models.Wallet, error) {
	sqlTx, err := sqlTxOf(tx)
	if err != nil {
		return nil, err
	}
	insert := `INSERT INTO wallets (user_id, updated_at) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`
	if _, err := sqlTx.ExecContext(ctx, insert, userID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to ensure wallet for %s: %w", userID, err)
	}

	w := &models.Wallet{}
	query := `SELECT user_id, available, frozen, updated_at FROM wallets WHERE user_id = $1 FOR UPDATE`
	err = sqlTx.QueryRowContext(ctx, query, userID).Scan(&w.UserID, &w.Available, &w.Frozen, &w.UpdatedAt)
	if err != nil {
		return nil, mapLockError(fmt.Errorf("failed to lock wallet for %s: %w", userID, err))
	}
	return w, nil
}

// UpdateWallet writes the wallet balances back inside the caller's
// transaction.
func (s *Store) UpdateWallet(ctx context.Context, tx auction.Tx, w *models.Wallet) error {
	sqlTx, err := sqlTxOf(tx)
	if err != nil {
		return err
	}
	query := `UPDATE wallets SET available = $1, frozen = $2, updated_at = $3 WHERE user_id = $4`
	result, err := sqlTx.ExecContext(ctx, query, w.Available, w.Frozen, time.Now().UTC(), w.UserID)
	if err != nil {
		return fmt.Errorf("failed to update wallet for %s: %w", w.UserID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("wallet for %s: %w", w.UserID, auction.ErrNotFound)
	}
	return nil
}

// AppendTransaction writes an immutable wallet ledger entry.
func (s *Store) AppendTransaction(ctx context.Context, tx auction.Tx, txn *models.Transaction) error {
	sqlTx, err := sqlTxOf(tx)
	if err != nil {
		return err
	}
	query := `INSERT INTO wallet_transactions (id, user_id, kind, amount, item_id, timestamp) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := sqlTx.ExecContext(ctx, query, txn.ID, txn.UserID, txn.Kind, txn.Amount, txn.ItemID, txn.Timestamp); err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// GetWallet reads balances without locking. Users with no wallet row yet
// read as empty balances.
func (s *Store) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	w := &models.Wallet{}
	query := `SELECT user_id, available, frozen, updated_at FROM wallets WHERE user_id = $1`
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&w.UserID, &w.Available, &w.Frozen, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Wallet{UserID: userID, Available: decimal.Zero, Frozen: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet for %s: %w", userID, err)
	}
	return w, nil
}

// ListTransactions retrieves a user's wallet ledger, newest first.
func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, user_id, kind, amount, item_id, timestamp
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		txn := &models.Transaction{}
		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Kind, &txn.Amount, &txn.ItemID, &txn.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}
