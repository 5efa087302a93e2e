package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aaronwang/auction-house/internal/auction"
	"github.com/aaronwang/auction-house/internal/models"
)

const itemColumns = `id, seller_id, name, description, category, status, start_price,
	current_price, highest_bidder_id, order_hash, deposit, start_time, end_time,
	version, created_at, updated_at`

func scanItem(row interface{ Scan(...interface{}) error }) (*models.Item, error) {
	item := &models.Item{}
	err := row.Scan(
		&item.ID,
		&item.SellerID,
		&item.Name,
		&item.Description,
		&item.Category,
		&item.Status,
		&item.StartPrice,
		&item.CurrentPrice,
		&item.HighestBidderID,
		&item.OrderHash,
		&item.Deposit,
		&item.StartTime,
		&item.EndTime,
		&item.Version,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// InsertItem writes a new item and fills in its generated id and version.
func (s *Store) InsertItem(ctx context.Context, tx auction.Tx, item *models.Item) error {
	sqlTx, err := sqlTxOf(tx)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO items (seller_id, name, description, category, status, start_price,
			current_price, highest_bidder_id, order_hash, deposit, start_time, end_time,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, version
	`
	err = sqlTx.QueryRowContext(ctx, query,
		item.SellerID, item.Name, item.Description, item.Category, item.Status,
		item.StartPrice, item.CurrentPrice, item.HighestBidderID, item.OrderHash,
		item.Deposit, item.StartTime, item.EndTime, item.CreatedAt, item.UpdatedAt,
	).Scan(&item.ID, &item.Version)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

// GetItem reads an item without locking it.
func (s *Store) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	item, err := scanItem(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", id, auction.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %d: %w", id, err)
	}
	return item, nil
}

// GetItemForUpdate reads an item under a row lock held until the
// transaction ends. Lock waits are bounded by the store's lock timeout.
func (s *Store) GetItemForUpdate(ctx context.Context, tx auction.Tx, id int64) (*models.Item, error) {
	sqlTx, err := sqlTxOf(tx)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1 FOR UPDATE`
	item, err := scanItem(sqlTx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", id, auction.ErrNotFound)
	}
	if err != nil {
		return nil, mapLockError(fmt.Errorf("failed to lock item %d: %w", id, err))
	}
	return item, nil
}

// UpdateItem writes the item back, guarded by the version the caller read.
// A stale version fails with auction.ErrConflict; on success the item's
// version is advanced to the committed value.
func (s *Store) UpdateItem(ctx context.Context, tx auction.Tx, item *models.Item, expectedVersion int64) error {
	sqlTx, err := sqlTxOf(tx)
	if err != nil {
		return err
	}
	query := `
		UPDATE items
		SET status = $1, current_price = $2, highest_bidder_id = $3, order_hash = $4,
		    updated_at = $5, version = version + 1
		WHERE id = $6 AND version = $7
	`
	result, err := sqlTx.ExecContext(ctx, query,
		item.Status, item.CurrentPrice, item.HighestBidderID, item.OrderHash,
		item.UpdatedAt, item.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update item %d: %w", item.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := sqlTx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM items WHERE id = $1)`, item.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check item %d: %w", item.ID, err)
		}
		if !exists {
			return fmt.Errorf("item %d: %w", item.ID, auction.ErrNotFound)
		}
		return fmt.Errorf("item %d version %d is stale: %w", item.ID, expectedVersion, auction.ErrConflict)
	}
	item.Version = expectedVersion + 1
	return nil
}

// ListDue returns ids of items in the given status whose start or end time
// is at or before cutoff.
func (s *Store) ListDue(ctx context.Context, status models.Status, field auction.DueField, cutoff time.Time) ([]int64, error) {
	var column string
	switch field {
	case auction.DueStart:
		column = "start_time"
	case auction.DueEnd:
		column = "end_time"
	default:
		return nil, fmt.Errorf("unknown due field %q", field)
	}
	query := `SELECT id FROM items WHERE status = $1 AND ` + column + ` <= $2 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, status, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to scan due items: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendBid writes an immutable bid record.
func (s *Store) AppendBid(ctx context.Context, tx auction.Tx, bid *models.Bid) error {
	sqlTx, err := sqlTxOf(tx)
	if err != nil {
		return err
	}
	query := `INSERT INTO bids (id, item_id, user_id, amount, timestamp) VALUES ($1, $2, $3, $4, $5)`
	if _, err := sqlTx.ExecContext(ctx, query, bid.ID, bid.ItemID, bid.UserID, bid.Amount, bid.Timestamp); err != nil {
		return fmt.Errorf("failed to append bid: %w", err)
	}
	return nil
}

// ListBids retrieves an item's bid history, newest first.
func (s *Store) ListBids(ctx context.Context, itemID int64, limit int) ([]*models.Bid, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, item_id, user_id, amount, timestamp
		FROM bids
		WHERE item_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	var bids []*models.Bid
	for rows.Next() {
		bid := &models.Bid{}
		if err := rows.Scan(&bid.ID, &bid.ItemID, &bid.UserID, &bid.Amount, &bid.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

// ListOptions filters and orders storefront listing queries.
type ListOptions struct {
	Category string
	OrderBy  string // one of start_time, end_time, current_price, start_price
	Desc     bool
	Limit    int
}

var orderColumns = map[string]string{
	"start_time":    "start_time",
	"end_time":      "end_time",
	"current_price": "current_price",
	"start_price":   "start_price",
}

// ListByStatus returns items in the given status for the storefront:
// active lists default to end_time ascending (closing soonest first),
// upcoming to start_time ascending, ended to end_time descending.
func (s *Store) ListByStatus(ctx context.Context, status models.Status, opt ListOptions) ([]*models.Item, error) {
	column, ok := orderColumns[opt.OrderBy]
	if !ok {
		column = "end_time"
	}
	direction := "ASC"
	if opt.Desc {
		direction = "DESC"
	}
	limit := opt.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + itemColumns + ` FROM items WHERE status = $1`
	args := []interface{}{status}
	if opt.Category != "" {
		query += ` AND category = $2`
		args = append(args, opt.Category)
	}
	query += fmt.Sprintf(` ORDER BY %s %s LIMIT %d`, column, direction, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
