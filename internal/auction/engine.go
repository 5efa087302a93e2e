package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aaronwang/auction-house/internal/models"
)

// maxConflictRetries bounds how many times a bid is retried after losing a
// version race before ErrBusy surfaces to the caller.
const maxConflictRetries = 3

// Engine owns every state transition of an item that involves money:
// listing submission, admin review, bid acceptance and force-stop. All
// mutations run inside a single store transaction; notifications and
// stream events are emitted only after commit and never roll anything back.
type Engine struct {
	store  Store
	ledger *Ledger
	sink   Sink
	stream EventStream
	log    *slog.Logger

	depositRate     decimal.Decimal
	platformAccount string

	now func() time.Time
}

// NewEngine wires the bid engine. sink and stream may be nil (emissions are
// skipped); depositRate is the fraction of the start price frozen as the
// seller's listing deposit.
func NewEngine(store Store, ledger *Ledger, sink Sink, stream EventStream, log *slog.Logger, depositRate float64, platformAccount string) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:           store,
		ledger:          ledger,
		sink:            sink,
		stream:          stream,
		log:             log.With("component", "engine"),
		depositRate:     decimal.NewFromFloat(depositRate),
		platformAccount: platformAccount,
		now:             time.Now,
	}
}

// ListingRequest carries seller input for a new auction listing.
type ListingRequest struct {
	SellerID    string          `json:"seller_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	StartPrice  decimal.Decimal `json:"start_price"`
	StartTime   time.Time       `json:"start_time"`
	EndTime     time.Time       `json:"end_time"`
}

// CreateListing submits a new item in pending status and freezes the
// seller's listing deposit in the same transaction.
func (e *Engine) CreateListing(ctx context.Context, req ListingRequest) (*models.Item, error) {
	if req.SellerID == "" || req.Name == "" {
		return nil, fmt.Errorf("seller_id and name are required: %w", ErrInvalidTransition)
	}
	if req.StartPrice.Sign() <= 0 {
		return nil, fmt.Errorf("start price must be positive: %w", ErrBidTooLow)
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, fmt.Errorf("end time must be after start time: %w", ErrInvalidTransition)
	}

	now := e.now().UTC()
	item := &models.Item{
		SellerID:     req.SellerID,
		Name:         req.Name,
		Description:  req.Description,
		Category:     req.Category,
		Status:       models.StatusPending,
		StartPrice:   req.StartPrice,
		CurrentPrice: req.StartPrice,
		Deposit:      req.StartPrice.Mul(e.depositRate).Round(2),
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := e.store.WithinTx(ctx, func(tx Tx) error {
		if err := e.store.InsertItem(ctx, tx, item); err != nil {
			return err
		}
		if item.Deposit.Sign() > 0 {
			if err := e.ledger.Freeze(ctx, tx, req.SellerID, item.Deposit, item.ID, models.TxDeposit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("listing created", "item_id", item.ID, "seller", item.SellerID, "deposit", item.Deposit.String())
	return item, nil
}

// Review resolves a pending item: approve fixes the schedule and hands the
// item to the scheduler; reject releases the seller's deposit.
func (e *Engine) Review(ctx context.Context, itemID int64, approve bool) (*models.Item, error) {
	next := models.StatusApproved
	if !approve {
		next = models.StatusRejected
	}
	var reviewed *models.Item
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		item, err := e.store.GetItemForUpdate(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if !item.Status.CanTransition(next) {
			return fmt.Errorf("item %d is %s: %w", itemID, item.Status, ErrInvalidTransition)
		}
		if !approve && item.Deposit.Sign() > 0 {
			if err := e.ledger.Refund(ctx, tx, item.SellerID, item.Deposit, item.ID); err != nil {
				return err
			}
		}
		item.Status = next
		item.UpdatedAt = e.now().UTC()
		if err := e.store.UpdateItem(ctx, tx, item, item.Version); err != nil {
			return err
		}
		reviewed = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("Your listing %q was approved and is scheduled to start at %s.", reviewed.Name, reviewed.StartTime.Format(time.RFC3339))
	if !approve {
		text = fmt.Sprintf("Your listing %q was rejected. The listing deposit has been returned.", reviewed.Name)
	}
	e.notifyUser(ctx, reviewed.SellerID, reviewed.ID, text)
	return reviewed, nil
}

// PlaceBid accepts a bid against an active item. The item row is locked for
// the whole transaction, so two concurrent bids on the same item serialize:
// the loser validates against the winner's committed price, never a stale
// one. The previous highest bidder's escrow is refunded before the new
// bidder's amount is frozen, and the bid record, item update and money
// movement commit as one unit. Version races surface as ErrConflict and are
// retried up to maxConflictRetries before ErrBusy is returned.
func (e *Engine) PlaceBid(ctx context.Context, itemID int64, userID string, amount decimal.Decimal) (*models.Bid, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required: %w", ErrNotFound)
	}

	var (
		bid       *models.Bid
		prevPrice decimal.Decimal
	)
	for attempt := 0; ; attempt++ {
		err := e.store.WithinTx(ctx, func(tx Tx) error {
			item, err := e.store.GetItemForUpdate(ctx, tx, itemID)
			if err != nil {
				return err
			}
			if item.Status != models.StatusActive {
				return fmt.Errorf("item %d is %s: %w", itemID, item.Status, ErrAuctionNotActive)
			}
			if userID == item.SellerID {
				return fmt.Errorf("seller %s cannot bid on item %d: %w", userID, itemID, ErrSelfBidForbidden)
			}
			if amount.LessThanOrEqual(item.CurrentPrice) {
				return fmt.Errorf("bid %s does not exceed current price %s: %w", amount, item.CurrentPrice, ErrBidTooLow)
			}

			// Escrow handover: the outgoing bidder's hold is released
			// before the incoming bidder's amount is frozen, so exactly
			// one user ever holds escrow for this item.
			if item.HasBidder() {
				if err := e.ledger.Refund(ctx, tx, item.HighestBidderID, item.CurrentPrice, item.ID); err != nil {
					return err
				}
			}
			if err := e.ledger.Freeze(ctx, tx, userID, amount, item.ID, models.TxFrozen); err != nil {
				return err
			}

			prevPrice = item.CurrentPrice
			item.CurrentPrice = amount
			item.HighestBidderID = userID
			item.UpdatedAt = e.now().UTC()

			bid = &models.Bid{
				ID:        uuid.New().String(),
				ItemID:    item.ID,
				UserID:    userID,
				Amount:    amount,
				Timestamp: e.now().UTC(),
			}
			if err := e.store.AppendBid(ctx, tx, bid); err != nil {
				return err
			}
			return e.store.UpdateItem(ctx, tx, item, item.Version)
		})
		if err == nil {
			break
		}
		if errors.Is(err, ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("bid on item %d lost %d version races: %w", itemID, attempt+1, ErrBusy)
		}
		return nil, err
	}

	e.publishBid(ctx, bid, prevPrice)
	return bid, nil
}

// ForceStop is the admin hook that pulls an approved or active item off the
// block. Any escrow held by the current highest bidder is fully refunded,
// the seller's listing deposit is forfeited to the platform account, and
// the item moves to stopped. It never reaches ended and no settlement runs.
func (e *Engine) ForceStop(ctx context.Context, itemID int64) (*models.Item, error) {
	var (
		stopped        *models.Item
		refundedBidder string
	)
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		item, err := e.store.GetItemForUpdate(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if !item.Status.CanTransition(models.StatusStopped) {
			return fmt.Errorf("item %d is %s: %w", itemID, item.Status, ErrInvalidTransition)
		}
		if item.HasBidder() {
			if err := e.ledger.Refund(ctx, tx, item.HighestBidderID, item.CurrentPrice, item.ID); err != nil {
				return err
			}
			refundedBidder = item.HighestBidderID
		}
		if item.Deposit.Sign() > 0 && e.platformAccount != "" {
			if err := e.ledger.Forfeit(ctx, tx, item.SellerID, e.platformAccount, item.Deposit, item.ID); err != nil {
				return err
			}
		}
		item.Status = models.StatusStopped
		item.UpdatedAt = e.now().UTC()
		if err := e.store.UpdateItem(ctx, tx, item, item.Version); err != nil {
			return err
		}
		stopped = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	if refundedBidder != "" {
		e.notifyUser(ctx, refundedBidder, stopped.ID,
			fmt.Sprintf("The auction for %q was stopped by an administrator. Your bid of %s has been refunded.", stopped.Name, stopped.CurrentPrice))
	}
	e.notifyUser(ctx, stopped.SellerID, stopped.ID,
		fmt.Sprintf("Your listing %q was stopped by an administrator. The listing deposit has been forfeited.", stopped.Name))
	e.log.Info("item force-stopped", "item_id", stopped.ID, "refunded_bidder", refundedBidder)
	return stopped, nil
}

// publishBid emits the committed bid to the real-time room and the durable
// archival stream. Both are best-effort: failure is logged and the bid stands.
func (e *Engine) publishBid(ctx context.Context, bid *models.Bid, prevPrice decimal.Decimal) {
	ev := &models.BidEvent{
		EventID:       uuid.New().String(),
		ItemID:        bid.ItemID,
		BidID:         bid.ID,
		UserID:        bid.UserID,
		Amount:        bid.Amount,
		PreviousPrice: prevPrice,
		Timestamp:     bid.Timestamp,
	}
	if e.sink != nil {
		if err := e.sink.Broadcast(ctx, bid.ItemID, models.EventBidAccepted, ev); err != nil {
			e.log.Warn("bid broadcast failed", "item_id", bid.ItemID, "error", err)
		}
	}
	if e.stream != nil {
		if err := e.stream.PublishBidEvent(ctx, ev); err != nil {
			e.log.Warn("bid archival publish failed", "item_id", bid.ItemID, "error", err)
		}
	}
}

func (e *Engine) notifyUser(ctx context.Context, userID string, itemID int64, text string) {
	if e.sink == nil {
		return
	}
	if err := e.sink.NotifyUser(ctx, userID, itemID, text); err != nil {
		e.log.Warn("user notification failed", "user_id", userID, "item_id", itemID, "error", err)
	}
}
