package database

import (
	"context"
	"fmt"
	"time"

	"github.com/aaronwang/auction-house/internal/models"
)

// SaveMessage persists an inbox notification. Runs in its own transaction:
// notifications are best-effort and never join the caller's unit of work.
func (s *Store) SaveMessage(ctx context.Context, msg *models.Message) error {
	query := `INSERT INTO messages (id, user_id, item_id, text, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.ExecContext(ctx, query, msg.ID, msg.UserID, msg.ItemID, msg.Text, msg.CreatedAt); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// ListMessages retrieves a user's inbox, newest first.
func (s *Store) ListMessages(ctx context.Context, userID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, user_id, item_id, text, created_at
		FROM messages
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.ItemID, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// ArchiveEvent stores a consumed stream event. ON CONFLICT DO NOTHING makes
// redelivery from the work queue idempotent.
func (s *Store) ArchiveEvent(ctx context.Context, eventID string, itemID int64, eventType string, payload []byte, occurredAt time.Time) error {
	query := `
		INSERT INTO event_archive (event_id, item_id, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, eventID, itemID, eventType, payload, occurredAt); err != nil {
		return fmt.Errorf("failed to archive event: %w", err)
	}
	return nil
}
