// Package archive consumes committed auction events from JetStream and
// persists them to the append-only event archive table. The write path
// never depends on this worker: bids and settlements are already durable in
// their own transactions, the archive is the audit trail.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aaronwang/auction-house/internal/notify"
)

// EventStore persists consumed events; writes must be idempotent by event id.
type EventStore interface {
	ArchiveEvent(ctx context.Context, eventID string, itemID int64, eventType string, payload []byte, occurredAt time.Time) error
}

// Consumer pulls auction events off the JetStream work queue.
type Consumer struct {
	conn  *nats.Conn
	js    jetstream.JetStream
	store EventStore
	log   *slog.Logger
}

// NewConsumer connects to NATS and prepares the JetStream context.
func NewConsumer(natsURL string, store EventStore, log *slog.Logger) (*Consumer, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{conn: conn, js: js, store: store, log: log.With("component", "archive")}, nil
}

// Start consumes events until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, notify.StreamName, jetstream.ConsumerConfig{
		Durable:       "event-archiver",
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: notify.StreamSubjects,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	c.log.Info("consuming auction events", "stream", notify.StreamName)
	<-ctx.Done()
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var ev notify.StreamEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		c.log.Error("failed to unmarshal event", "error", err)
		// Malformed payload: ack so the queue does not redeliver it forever.
		msg.Ack()
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := c.store.ArchiveEvent(dbCtx, ev.EventID, ev.ItemID, ev.Type, ev.Payload, ev.OccurredAt); err != nil {
		c.log.Error("failed to archive event", "event_id", ev.EventID, "error", err)
		// No ack: the work queue redelivers and the ON CONFLICT insert
		// keeps the retry idempotent.
		return
	}

	c.log.Info("archived event", "event_id", ev.EventID, "item_id", ev.ItemID, "type", ev.Type)
	msg.Ack()
}

// Close closes the NATS connection.
func (c *Consumer) Close() error {
	c.conn.Close()
	return nil
}
