package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aaronwang/auction-house/internal/models"
)

const (
	// StreamName is the JetStream stream holding committed auction events
	// for archival. Work-queue retention: each event is consumed once.
	StreamName = "AUCTION_EVENTS"
	// StreamSubjects matches every per-item event subject.
	StreamSubjects = "auction.events.*"
)

// StreamEvent is the envelope carried on the archival stream.
type StreamEvent struct {
	EventID    string          `json:"event_id"`
	ItemID     int64           `json:"item_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NATSStream implements auction.EventStream over a JetStream stream.
type NATSStream struct {
	js jetstream.JetStream
}

// NewNATSStream creates the JetStream context and ensures the stream exists.
func NewNATSStream(conn *nats.Conn) (*NATSStream, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Stream for auction event archival",
		Subjects:    []string{StreamSubjects},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}

	return &NATSStream{js: js}, nil
}

// PublishBidEvent publishes an accepted bid to the archival stream.
func (s *NATSStream) PublishBidEvent(ctx context.Context, ev *models.BidEvent) error {
	return s.publish(ctx, ev.EventID, ev.ItemID, models.EventBidAccepted, ev.Timestamp, ev)
}

// PublishAuctionEnded publishes a settlement (or no-sale ending) to the
// archival stream.
func (s *NATSStream) PublishAuctionEnded(ctx context.Context, ev *models.AuctionEndedEvent) error {
	return s.publish(ctx, ev.EventID, ev.ItemID, models.EventAuctionEnded, ev.Timestamp, ev)
}

func (s *NATSStream) publish(ctx context.Context, eventID string, itemID int64, eventType string, at time.Time, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	data, err := json.Marshal(StreamEvent{
		EventID:    eventID,
		ItemID:     itemID,
		Type:       eventType,
		Payload:    raw,
		OccurredAt: at,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal stream envelope: %w", err)
	}

	subject := fmt.Sprintf("auction.events.%d", itemID)
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Publish waits for the server ack so the event is persisted before
	// returning; callers treat failure as best-effort regardless.
	if _, err := s.js.Publish(pubCtx, subject, data); err != nil {
		return fmt.Errorf("failed to publish to JetStream: %w", err)
	}
	return nil
}
