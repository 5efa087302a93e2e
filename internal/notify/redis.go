// Package notify implements the notification sink and the durable event
// stream consumed by the auction core: Redis Pub/Sub for real-time fanout,
// Postgres-backed inbox messages, and NATS JetStream for archival.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aaronwang/auction-house/internal/models"
)

// ItemChannel is the Redis Pub/Sub channel for an item's subscriber room.
func ItemChannel(itemID int64) string {
	return fmt.Sprintf("auction_events:%d", itemID)
}

// UserChannel is the Redis Pub/Sub channel for a user's real-time notices.
func UserChannel(userID string) string {
	return fmt.Sprintf("user_events:%s", userID)
}

// ItemChannelPattern matches every item room channel.
const ItemChannelPattern = "auction_events:*"

// Envelope wraps a broadcast payload with its event name so room
// subscribers can dispatch without knowing every payload shape.
type Envelope struct {
	Event   string          `json:"event"`
	ItemID  int64           `json:"item_id"`
	Payload json.RawMessage `json:"payload"`
}

// MessageStore persists inbox notifications.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
}

// RedisSink implements auction.Sink: Broadcast publishes to the item's
// Pub/Sub room, NotifyUser persists an inbox message and best-effort pushes
// it to the user's channel.
type RedisSink struct {
	client   *redis.Client
	messages MessageStore
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(addr, password string, db int, messages MessageStore) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisSink{client: rdb, messages: messages}, nil
}

// Broadcast publishes an event to the item's subscriber room.
func (s *RedisSink) Broadcast(ctx context.Context, itemID int64, event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	envelope, err := json.Marshal(Envelope{Event: event, ItemID: itemID, Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return s.client.Publish(ctx, ItemChannel(itemID), envelope).Err()
}

// NotifyUser persists the message to the user's inbox, then pushes it on
// the user's channel. The push failing does not fail the notification: the
// inbox row is the durable copy.
func (s *RedisSink) NotifyUser(ctx context.Context, userID string, itemID int64, text string) error {
	msg := &models.Message{
		ID:        uuid.New().String(),
		UserID:    userID,
		ItemID:    itemID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.messages.SaveMessage(ctx, msg); err != nil {
		return err
	}
	if raw, err := json.Marshal(msg); err == nil {
		s.client.Publish(ctx, UserChannel(userID), raw)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
