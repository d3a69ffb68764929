package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lotline/lotline/lotline/engine/metrics"
)

const closeCASRetries = 5

// LifecycleScheduler drives the active→ended transition at each auction's
// deadline and on seller request, and active→cancelled for bidless auctions.
// It closes through the same CAS primitive bidders use, so "close" and
// "place last bid" compete fairly on the version counter and exactly one
// wins per contested update.
type LifecycleScheduler struct {
	store    Store
	fanout   *Fanout
	settler  *SettlementCoordinator
	interval time.Duration

	shutdown chan struct{}
	done     chan struct{}
}

func NewLifecycleScheduler(store Store, fanout *Fanout, settler *SettlementCoordinator, sweepInterval time.Duration) *LifecycleScheduler {
	if store == nil {
		panic("auction store cannot be nil")
	}
	if fanout == nil {
		panic("fanout cannot be nil")
	}
	if settler == nil {
		panic("settlement coordinator cannot be nil")
	}
	return &LifecycleScheduler{
		store:    store,
		fanout:   fanout,
		settler:  settler,
		interval: sweepInterval,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the periodic sweep until Shutdown.
func (s *LifecycleScheduler) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := s.Sweep(ctx, time.Now()); err != nil {
					slog.Error("Sweep failed", slog.Any("error", err))
				}
				cancel()
			case <-s.shutdown:
				return
			}
		}
	}()
}

// Shutdown stops the sweep loop and waits for it to exit.
func (s *LifecycleScheduler) Shutdown() {
	close(s.shutdown)
	<-s.done
	slog.Info("Lifecycle scheduler shutdown completed")
}

// Sweep closes every active auction whose deadline has passed. Each close is
// independent; one failure does not stop the pass.
func (s *LifecycleScheduler) Sweep(ctx context.Context, now time.Time) error {
	ids, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list expired auctions: %w", err)
	}

	for _, id := range ids {
		if _, err := s.closeAuction(ctx, id, now); err != nil {
			metrics.RecordSweepFailure()
			slog.Error("Failed to close expired auction",
				slog.String("auction_id", id.String()),
				slog.Any("error", err))
		}
	}
	return nil
}

// SellNow ends an active auction immediately at the seller's request.
func (s *LifecycleScheduler) SellNow(ctx context.Context, auctionID, sellerID uuid.UUID, now time.Time) (*Auction, error) {
	a, err := s.store.Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.SellerID != sellerID {
		return nil, ErrNotSeller
	}
	if a.Status != StatusActive {
		return nil, ErrNotActive
	}
	return s.closeAuction(ctx, auctionID, now)
}

// Cancel voids an active auction before any bid has been placed. Ended and
// cancelled are both terminal; an auction with bids can only end.
func (s *LifecycleScheduler) Cancel(ctx context.Context, auctionID, sellerID uuid.UUID) (*Auction, error) {
	for attempt := 0; attempt < closeCASRetries; attempt++ {
		a, err := s.store.Get(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		if a.SellerID != sellerID {
			return nil, ErrNotSeller
		}
		if a.Status != StatusActive {
			return nil, ErrNotActive
		}
		if len(a.Bids) > 0 {
			return nil, ErrHasBids
		}

		updated, err := s.store.CompareAndSwap(ctx, auctionID, a.Version, func(a *Auction) error {
			a.Status = StatusCancelled
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrVersionMismatch) {
				continue
			}
			return nil, fmt.Errorf("failed to cancel auction: %w", err)
		}

		slog.Info("Auction cancelled",
			slog.String("auction_id", auctionID.String()),
			slog.String("seller_id", sellerID.String()))
		s.fanout.Publish(statusChangedDelta(updated, time.Now()))
		return updated, nil
	}
	return nil, ErrConflict
}

// closeAuction attempts the active→ended CAS. The winner is whatever
// HighestBid the winning CAS attempt read under the same version; there is
// no recomputation, so a bid accepted in the same instant is never silently
// dropped. If the CAS loses to a late-but-valid bid, the re-read picks up
// that bid and the next attempt closes over it. Closing an already-ended
// auction is a no-op.
func (s *LifecycleScheduler) closeAuction(ctx context.Context, auctionID uuid.UUID, now time.Time) (*Auction, error) {
	for attempt := 0; attempt < closeCASRetries; attempt++ {
		a, err := s.store.Get(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		if a.Status != StatusActive {
			return a, nil
		}

		updated, err := s.store.CompareAndSwap(ctx, auctionID, a.Version, func(a *Auction) error {
			a.Status = StatusEnded
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrVersionMismatch) {
				continue
			}
			return nil, fmt.Errorf("failed to end auction: %w", err)
		}

		metrics.RecordSweepClose()
		winner := ""
		if updated.HighestBid != nil {
			winner = updated.HighestBid.BidderID.String()
		}
		slog.Info("Auction ended",
			slog.String("auction_id", auctionID.String()),
			slog.String("winner_id", winner),
			slog.Int64("version", updated.Version))

		s.fanout.Publish(statusChangedDelta(updated, now))

		// Settle synchronously; on failure the retry queue guarantees
		// at-least-once settlement without blocking the close.
		if err := s.settler.OnAuctionEnded(ctx, auctionID); err != nil {
			slog.Error("Settlement failed on close, queued for retry",
				slog.String("auction_id", auctionID.String()),
				slog.Any("error", err))
			s.settler.Enqueue(auctionID)
		}
		return updated, nil
	}
	return nil, ErrConflict
}
