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

// maxBidRetries bounds the CAS retry loop. Retries are immediate: the
// contention window is sub-millisecond, so backoff buys nothing.
const maxBidRetries = 5

type BidOutcome string

const (
	BidAccepted BidOutcome = "accepted"
	BidRejected BidOutcome = "rejected"
	BidConflict BidOutcome = "conflict"
)

// BidResult reports what happened to a bid attempt. Auction is a fresh
// snapshot in every case so callers can reconcile optimistic UI state.
type BidResult struct {
	Outcome BidOutcome
	Reason  RejectReason
	Auction *Auction
	Bid     *Bid
}

// BidProcessor validates and applies bids under optimistic concurrency.
// This loop is the only place the monotonic-highest-bid invariant is
// enforced; no locks are taken, correctness rests on the CAS discipline.
type BidProcessor struct {
	store  Store
	fanout *Fanout
}

func NewBidProcessor(store Store, fanout *Fanout) *BidProcessor {
	if store == nil {
		panic("auction store cannot be nil")
	}
	if fanout == nil {
		panic("fanout cannot be nil")
	}
	return &BidProcessor{store: store, fanout: fanout}
}

// PlaceBid reads the aggregate, validates the bid against that snapshot and
// now, and attempts a CompareAndSwap appending the bid. On a version mismatch
// the world may have changed (a higher bid may have landed), so it re-reads
// and re-validates, up to maxBidRetries. Validation failures return a
// Rejected result without any write; exhausting the retry budget returns a
// Conflict result and the caller should refresh before resubmitting.
func (p *BidProcessor) PlaceBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal, now time.Time) (*BidResult, error) {
	start := time.Now()
	res, err := p.placeBid(ctx, auctionID, bidderID, amount, now)
	if res != nil {
		metrics.RecordBid(string(res.Outcome), time.Since(start).Seconds())
	}
	return res, err
}

func (p *BidProcessor) placeBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal, now time.Time) (*BidResult, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("bid amount must be positive, got %s", amount)
	}

	for attempt := 0; attempt < maxBidRetries; attempt++ {
		a, err := p.store.Get(ctx, auctionID)
		if err != nil {
			return nil, fmt.Errorf("failed to read auction: %w", err)
		}

		if err := a.validateBid(bidderID, amount, now); err != nil {
			return &BidResult{Outcome: BidRejected, Reason: reasonFor(err), Auction: a}, nil
		}

		bid := Bid{
			ID:        uuid.New(),
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			PlacedAt:  now,
		}

		updated, err := p.store.CompareAndSwap(ctx, auctionID, a.Version, func(a *Auction) error {
			a.Bids = append(a.Bids, bid)
			a.HighestBid = &bid
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrVersionMismatch) {
				metrics.RecordBidRetry()
				continue
			}
			return nil, fmt.Errorf("failed to apply bid: %w", err)
		}

		slog.Info("Bid accepted",
			slog.String("type", "db"),
			slog.String("auction_id", auctionID.String()),
			slog.String("bidder_id", bidderID.String()),
			slog.String("amount", amount.String()),
			slog.Int64("version", updated.Version))

		p.fanout.Publish(bidAcceptedDelta(updated, &bid))

		return &BidResult{Outcome: BidAccepted, Auction: updated, Bid: &bid}, nil
	}

	// Retry budget exhausted under contention. The bid may still be valid
	// against the latest state; surface a fresh snapshot with the conflict.
	a, err := p.store.Get(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read auction after conflict: %w", err)
	}

	slog.Warn("Bid hit CAS retry limit",
		slog.String("auction_id", auctionID.String()),
		slog.String("bidder_id", bidderID.String()),
		slog.Int("retries", maxBidRetries))

	return &BidResult{Outcome: BidConflict, Auction: a}, nil
}
