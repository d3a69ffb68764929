package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lotline/lotline/lotline/engine/metrics"
)

// Settlement finalizes a closed auction's winning transaction, independent of
// actual payment capture. Paid is flipped later by the payment collaborator.
type Settlement struct {
	ID         uuid.UUID
	AuctionID  uuid.UUID
	BuyerID    uuid.UUID
	SellerID   uuid.UUID
	FinalPrice decimal.Decimal
	CreatedAt  time.Time
	Paid       bool
	CheckoutID string
}

// PaymentClient is the external payment collaborator. CreateCheckout hands a
// settlement to it; VerifyCheckout asks whether capture completed.
type PaymentClient interface {
	CreateCheckout(ctx context.Context, s *Settlement) (checkoutID string, err error)
	VerifyCheckout(ctx context.Context, checkoutID string) (paid bool, err error)
}

const settleCASRetries = 5

// SettlementCoordinator converts auction closures into exactly one settlement
// record each and hands them to the payment collaborator. OnAuctionEnded is
// safe to re-invoke (at-least-once delivery); the uniqueness constraint on
// auction id in the settlement store and the aggregate's settled flag make
// creation idempotent. Payment failures never roll back an Ended status; they
// are retried by the background worker until the hand-off sticks.
type SettlementCoordinator struct {
	store       Store
	settlements SettlementStore
	payments    PaymentClient
	interval    time.Duration

	queue    chan uuid.UUID
	shutdown chan struct{}
	done     chan struct{}
}

func NewSettlementCoordinator(store Store, settlements SettlementStore, payments PaymentClient, retryInterval time.Duration) *SettlementCoordinator {
	if store == nil {
		panic("auction store cannot be nil")
	}
	if settlements == nil {
		panic("settlement store cannot be nil")
	}
	if payments == nil {
		panic("payment client cannot be nil")
	}
	return &SettlementCoordinator{
		store:       store,
		settlements: settlements,
		payments:    payments,
		interval:    retryInterval,
		queue:       make(chan uuid.UUID, 256),
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// OnAuctionEnded settles one ended auction. No winning bid (or an unmet
// reserve) is a no-sale: no record is created and the call stops. When the
// record already exists the call is a no-op. The returned error is retryable;
// the scheduler enqueues the auction for the background worker on failure.
func (c *SettlementCoordinator) OnAuctionEnded(ctx context.Context, auctionID uuid.UUID) error {
	a, err := c.store.Get(ctx, auctionID)
	if err != nil {
		return &SettlementError{AuctionID: auctionID, Err: err}
	}

	if a.Status != StatusEnded {
		// Cancelled auctions never settle; an active one means the close
		// has not landed yet and the event will be redelivered.
		return nil
	}

	if !a.HasWinner() {
		metrics.RecordSettlement("no_sale")
		slog.Info("Auction ended with no sale",
			slog.String("auction_id", auctionID.String()),
			slog.Bool("had_bids", a.HighestBid != nil),
			slog.Bool("reserve_met", a.ReserveMet()))
		return nil
	}

	rec := &Settlement{
		ID:         uuid.New(),
		AuctionID:  a.ID,
		BuyerID:    a.HighestBid.BidderID,
		SellerID:   a.SellerID,
		FinalPrice: a.HighestBid.Amount,
		CreatedAt:  time.Now(),
	}

	created, err := c.settlements.Create(ctx, rec)
	if err != nil {
		metrics.RecordSettlement("failed")
		return &SettlementError{AuctionID: auctionID, Err: fmt.Errorf("failed to create settlement: %w", err)}
	}
	if !created {
		metrics.RecordSettlement("duplicate")
		existing, err := c.settlements.GetByAuctionID(ctx, auctionID)
		if err != nil {
			return &SettlementError{AuctionID: auctionID, Err: err}
		}
		if existing == nil {
			return &SettlementError{AuctionID: auctionID, Err: fmt.Errorf("settlement exists but could not be read")}
		}
		rec = existing
	} else {
		metrics.RecordSettlement("created")
		slog.Info("Settlement created",
			slog.String("auction_id", a.ID.String()),
			slog.String("buyer_id", rec.BuyerID.String()),
			slog.String("final_price", rec.FinalPrice.String()))
	}

	if err := c.markSettled(ctx, a); err != nil {
		return &SettlementError{AuctionID: auctionID, Err: err}
	}

	// Hand off to the payment collaborator. Failure here is logged and left
	// to the retry worker; the settlement record is already durable.
	if rec.CheckoutID == "" {
		if err := c.startCheckout(ctx, rec); err != nil {
			slog.Error("Payment hand-off failed, will retry",
				slog.String("auction_id", auctionID.String()),
				slog.Any("error", err))
		}
	}

	return nil
}

// Enqueue schedules an auction for the background settlement worker.
// Non-blocking: the periodic unsettled scan picks up anything dropped here.
func (c *SettlementCoordinator) Enqueue(auctionID uuid.UUID) {
	select {
	case c.queue <- auctionID:
	default:
	}
}

// Start runs the retry worker: queued auctions are settled as they arrive,
// and every interval it re-settles anything unsettled and re-verifies unpaid
// checkouts with the payment collaborator.
func (c *SettlementCoordinator) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case id := <-c.queue:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := c.OnAuctionEnded(ctx, id); err != nil {
					slog.Error("Queued settlement failed",
						slog.String("auction_id", id.String()),
						slog.Any("error", err))
					c.Enqueue(id)
				}
				cancel()
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
				c.runRetryPass(ctx)
				cancel()
			case <-c.shutdown:
				return
			}
		}
	}()
}

// Shutdown stops the retry worker and waits for it to exit.
func (c *SettlementCoordinator) Shutdown() {
	close(c.shutdown)
	<-c.done
}

func (c *SettlementCoordinator) runRetryPass(ctx context.Context) {
	ids, err := c.store.ListUnsettled(ctx)
	if err != nil {
		metrics.RecordSettlementRetryRun("error")
		slog.Error("Failed to list unsettled auctions", slog.Any("error", err))
		return
	}
	for _, id := range ids {
		if err := c.OnAuctionEnded(ctx, id); err != nil {
			slog.Error("Settlement retry failed",
				slog.String("auction_id", id.String()),
				slog.Any("error", err))
		}
	}

	unpaid, err := c.settlements.ListUnpaid(ctx)
	if err != nil {
		metrics.RecordSettlementRetryRun("error")
		slog.Error("Failed to list unpaid settlements", slog.Any("error", err))
		return
	}
	for _, rec := range unpaid {
		if rec.CheckoutID == "" {
			if err := c.startCheckout(ctx, rec); err != nil {
				slog.Error("Payment hand-off retry failed",
					slog.String("settlement_id", rec.ID.String()),
					slog.Any("error", err))
			}
			continue
		}
		paid, err := c.payments.VerifyCheckout(ctx, rec.CheckoutID)
		if err != nil {
			slog.Error("Payment verification failed",
				slog.String("settlement_id", rec.ID.String()),
				slog.String("checkout_id", rec.CheckoutID),
				slog.Any("error", err))
			continue
		}
		if paid {
			if err := c.settlements.MarkPaid(ctx, rec.ID); err != nil {
				slog.Error("Failed to mark settlement paid",
					slog.String("settlement_id", rec.ID.String()),
					slog.Any("error", err))
				continue
			}
			slog.Info("Settlement paid",
				slog.String("settlement_id", rec.ID.String()),
				slog.String("auction_id", rec.AuctionID.String()))
		}
	}
	metrics.RecordSettlementRetryRun("ok")
}

// markSettled flips the aggregate's settled flag exactly once. The CAS loop
// tolerates concurrent writers; an already-set flag ends the loop.
func (c *SettlementCoordinator) markSettled(ctx context.Context, a *Auction) error {
	if a.Settled {
		return nil
	}
	version := a.Version
	for attempt := 0; attempt < settleCASRetries; attempt++ {
		_, err := c.store.CompareAndSwap(ctx, a.ID, version, func(a *Auction) error {
			a.Settled = true
			return nil
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionMismatch) {
			return fmt.Errorf("failed to mark auction settled: %w", err)
		}
		fresh, err := c.store.Get(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("failed to re-read auction: %w", err)
		}
		if fresh.Settled {
			return nil
		}
		version = fresh.Version
	}
	return fmt.Errorf("failed to mark auction %s settled after %d attempts", a.ID, settleCASRetries)
}

func (c *SettlementCoordinator) startCheckout(ctx context.Context, rec *Settlement) error {
	checkoutID, err := c.payments.CreateCheckout(ctx, rec)
	if err != nil {
		return fmt.Errorf("payment collaborator unreachable: %w", err)
	}
	if err := c.settlements.SetCheckout(ctx, rec.ID, checkoutID); err != nil {
		return fmt.Errorf("failed to record checkout id: %w", err)
	}
	rec.CheckoutID = checkoutID
	slog.Info("Checkout created",
		slog.String("settlement_id", rec.ID.String()),
		slog.String("checkout_id", checkoutID))
	return nil
}

// MarkPaid records payment capture completion, normally driven by the
// payment collaborator's webhook.
func (c *SettlementCoordinator) MarkPaid(ctx context.Context, settlementID uuid.UUID) error {
	return c.settlements.MarkPaid(ctx, settlementID)
}
