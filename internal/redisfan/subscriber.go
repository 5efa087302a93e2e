// Package redisfan bridges Redis Pub/Sub auction events into the WebSocket
// broadcast manager.
package redisfan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aaronwang/auction-house/internal/notify"
)

// Subscriber wraps Redis Pub/Sub pattern subscription.
type Subscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
	log    *slog.Logger
}

// NewSubscriber connects to Redis and verifies the connection.
func NewSubscriber(addr, password string, db int, log *slog.Logger) (*Subscriber, error) {
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

	if log == nil {
		log = slog.Default()
	}
	return &Subscriber{client: rdb, log: log.With("component", "redisfan")}, nil
}

// Subscribe pattern-subscribes to every auction room channel.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	s.pubsub = s.client.PSubscribe(ctx, notify.ItemChannelPattern)
	return nil
}

// Message is one auction room event pulled off Pub/Sub.
type Message struct {
	Room    string
	Payload []byte
}

// Listen forwards Pub/Sub messages to messageChan until ctx is cancelled.
// Blocking; run in a goroutine.
func (s *Subscriber) Listen(ctx context.Context, messageChan chan<- *Message) error {
	if s.pubsub == nil {
		return fmt.Errorf("not subscribed to any channel")
	}

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			room := roomFromChannel(msg.Channel)
			if room == "" {
				s.log.Warn("message on unexpected channel", "channel", msg.Channel)
				continue
			}
			messageChan <- &Message{Room: room, Payload: []byte(msg.Payload)}
		}
	}
}

// roomFromChannel extracts the item id from an "auction_events:<id>" channel.
func roomFromChannel(channel string) string {
	prefix := strings.TrimSuffix(notify.ItemChannelPattern, "*")
	if strings.HasPrefix(channel, prefix) {
		return channel[len(prefix):]
	}
	return ""
}

// Close closes the subscription and the Redis connection.
func (s *Subscriber) Close() error {
	if s.pubsub != nil {
		s.pubsub.Close()
	}
	return s.client.Close()
}
