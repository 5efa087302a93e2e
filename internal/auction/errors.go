package auction

import "errors"

var (
	// ErrNotFound is returned when an item, wallet or bid target does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAuctionNotActive is returned when a bid targets an item that is not
	// currently accepting bids.
	ErrAuctionNotActive = errors.New("auction not active")
	// ErrBidTooLow is returned when a bid does not strictly exceed the
	// item's current price.
	ErrBidTooLow = errors.New("bid too low")
	// ErrSelfBidForbidden is returned when a seller bids on their own item.
	ErrSelfBidForbidden = errors.New("self bid forbidden")
	// ErrInsufficientFunds is returned when a wallet's available balance
	// cannot cover a freeze.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrConflict is returned by version-checked updates that lost the race.
	// The engine retries these internally a bounded number of times.
	ErrConflict = errors.New("conflict")
	// ErrBusy is returned when a row lock could not be acquired within the
	// bounded wait, or when conflict retries are exhausted. Callers may retry.
	ErrBusy = errors.New("busy")
	// ErrInvalidTransition is returned when a status change is not an edge
	// of the item state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvariantViolation signals a ledger or state bug that correct
	// callers can never trigger. It is logged at high severity and must
	// never fire in normal operation.
	ErrInvariantViolation = errors.New("invariant violation")
)
