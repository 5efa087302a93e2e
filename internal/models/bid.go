package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid is an immutable record of an accepted bid. Once written it is never
// mutated or deleted; ordering by Timestamp defines the item's bid history.
type Bid struct {
	ID        string          `json:"id"`
	ItemID    int64           `json:"item_id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// BidRequest represents the incoming bid request from the API.
type BidRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// BidResponse represents the API response after placing a bid.
type BidResponse struct {
	Success      bool            `json:"success"`
	Message      string          `json:"message,omitempty"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	YourBid      decimal.Decimal `json:"your_bid"`
	IsHighest    bool            `json:"is_highest"`
}

// Event names carried on the real-time channel and the archival stream.
const (
	EventBidAccepted  = "bid_accepted"
	EventAuctionEnded = "auction_ended"
)

// BidEvent is published after a bid commits. It is sent to:
// 1. Redis Pub/Sub (real-time fanout to the item's subscriber room)
// 2. NATS JetStream (durable archival)
type BidEvent struct {
	EventID       string          `json:"event_id"`
	ItemID        int64           `json:"item_id"`
	BidID         string          `json:"bid_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	PreviousPrice decimal.Decimal `json:"previous_price"`
	Timestamp     time.Time       `json:"timestamp"`
}

// AuctionEndedEvent is published after a settlement (or no-sale ending)
// commits. Winner and OrderHash are empty when nobody bid.
type AuctionEndedEvent struct {
	EventID    string          `json:"event_id"`
	ItemID     int64           `json:"item_id"`
	Winner     string          `json:"winner,omitempty"`
	FinalPrice decimal.Decimal `json:"final_price"`
	OrderHash  string          `json:"order_hash,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
