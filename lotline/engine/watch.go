package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lotline/lotline/lotline/engine/metrics"
)

// WatchTracker maintains the per-auction set of watching users. Toggle is a
// read-then-write without CAS on the watch set itself: membership is
// idempotent per user and carries no cross-field invariant, so under
// concurrent toggles from the same user the last write wins. That can echo a
// stale optimistic UI state; it is an accepted eventual-consistency
// trade-off, not a correctness bug, because watch state has no settlement
// consequence. Count is always the exact cardinality at read time.
type WatchTracker struct {
	store   Store
	watches WatchStore
	fanout  *Fanout
}

func NewWatchTracker(store Store, watches WatchStore, fanout *Fanout) *WatchTracker {
	if store == nil {
		panic("auction store cannot be nil")
	}
	if watches == nil {
		panic("watch store cannot be nil")
	}
	if fanout == nil {
		panic("fanout cannot be nil")
	}
	return &WatchTracker{store: store, watches: watches, fanout: fanout}
}

// Toggle flips the user's watch membership and returns the new state
// (true = watching).
func (t *WatchTracker) Toggle(ctx context.Context, auctionID, userID uuid.UUID) (bool, error) {
	if _, err := t.store.Get(ctx, auctionID); err != nil {
		return false, err
	}

	watching, err := t.watches.IsWatching(ctx, auctionID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to read watch state: %w", err)
	}

	if watching {
		err = t.watches.Remove(ctx, auctionID, userID)
	} else {
		err = t.watches.Add(ctx, auctionID, userID)
	}
	if err != nil {
		return watching, fmt.Errorf("failed to update watch state: %w", err)
	}
	newState := !watching
	metrics.RecordWatchToggle(newState)

	count, err := t.watches.Count(ctx, auctionID)
	if err != nil {
		slog.Error("Failed to count watchers after toggle",
			slog.String("auction_id", auctionID.String()),
			slog.Any("error", err))
		return newState, nil
	}
	t.fanout.Publish(watchCountDelta(auctionID, count, time.Now()))

	return newState, nil
}

// Count returns the number of distinct users currently watching.
func (t *WatchTracker) Count(ctx context.Context, auctionID uuid.UUID) (int, error) {
	return t.watches.Count(ctx, auctionID)
}

// IsWatching reports one user's membership.
func (t *WatchTracker) IsWatching(ctx context.Context, auctionID, userID uuid.UUID) (bool, error) {
	return t.watches.IsWatching(ctx, auctionID, userID)
}
