package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an auction item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
	StatusRejected Status = "rejected"
	StatusStopped  Status = "stopped"
)

// transitions is the validated state machine: pending→{approved,rejected},
// approved→{active,stopped}, active→{ended,stopped}. Anything else is
// rejected; ended, rejected and stopped are terminal.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusActive, StatusStopped},
	StatusActive:   {StatusEnded, StatusStopped},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Item represents an auction listing.
//
// Version is an optimistic-concurrency counter bumped on every update;
// writers must present the version they read or the update fails.
type Item struct {
	ID              int64           `json:"id"`
	SellerID        string          `json:"seller_id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Category        string          `json:"category,omitempty"`
	Status          Status          `json:"status"`
	StartPrice      decimal.Decimal `json:"start_price"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	HighestBidderID string          `json:"highest_bidder_id,omitempty"`
	OrderHash       string          `json:"order_hash,omitempty"`
	Deposit         decimal.Decimal `json:"deposit"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// HasBidder reports whether anyone currently holds the highest bid.
func (i *Item) HasBidder() bool {
	return i.HighestBidderID != ""
}
