package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestMemoryStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := newActiveAuction(t, store, 100, time.Hour)

	t.Run("Applies at expected version", func(t *testing.T) {
		updated, err := store.CompareAndSwap(ctx, a.ID, 1, func(a *Auction) error {
			a.Title = "Renamed"
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if updated.Version != 2 {
			t.Errorf("Version = %d, want 2", updated.Version)
		}
		if updated.Title != "Renamed" {
			t.Errorf("Title = %q, want Renamed", updated.Title)
		}
	})

	t.Run("Rejects stale version", func(t *testing.T) {
		_, err := store.CompareAndSwap(ctx, a.ID, 1, func(a *Auction) error {
			a.Title = "Should not land"
			return nil
		})
		if !errors.Is(err, ErrVersionMismatch) {
			t.Fatalf("error = %v, want %v", err, ErrVersionMismatch)
		}
		cur, err := store.Get(ctx, a.ID)
		if err != nil {
			t.Fatal(err)
		}
		if cur.Title != "Renamed" {
			t.Errorf("failed CAS mutated state: Title = %q", cur.Title)
		}
	})

	t.Run("Mutator error aborts", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := store.CompareAndSwap(ctx, a.ID, 2, func(a *Auction) error {
			a.Title = "Half-applied"
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("error = %v, want %v", err, boom)
		}
		cur, err := store.Get(ctx, a.ID)
		if err != nil {
			t.Fatal(err)
		}
		if cur.Version != 2 || cur.Title != "Renamed" {
			t.Errorf("aborted mutation leaked: version %d title %q", cur.Version, cur.Title)
		}
	})

	t.Run("Unknown auction", func(t *testing.T) {
		_, err := store.CompareAndSwap(ctx, uuid.New(), 1, func(a *Auction) error { return nil })
		if !errors.Is(err, ErrAuctionNotFound) {
			t.Fatalf("error = %v, want %v", err, ErrAuctionNotFound)
		}
	})
}

func TestMemoryStore_SnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := newActiveAuction(t, store, 100, time.Hour)

	snap, err := store.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	snap.Title = "Mutated snapshot"
	snap.Bids = append(snap.Bids, Bid{Amount: decimal.NewFromInt(999)})

	fresh, err := store.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Title == "Mutated snapshot" || len(fresh.Bids) != 0 {
		t.Error("snapshot mutation leaked into the store")
	}
}

func TestMemoryStore_ListExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	expired := createExpiredAuction(t, store)
	active := newActiveAuction(t, store, 100, time.Hour)

	cancelled := createExpiredAuction(t, store)
	if _, err := store.CompareAndSwap(ctx, cancelled.ID, cancelled.Version, func(a *Auction) error {
		a.Status = StatusCancelled
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	ids, err := store.ListExpired(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != expired.ID {
		t.Errorf("ListExpired = %v, want exactly [%s]", ids, expired.ID)
	}
	_ = active
}

func TestMemoryStore_ListUnsettled(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// Ended with winner, not settled: should be listed.
	withWinner := createExpiredAuction(t, store)
	bid := Bid{ID: uuid.New(), AuctionID: withWinner.ID, BidderID: uuid.New(), Amount: decimal.NewFromInt(150), PlacedAt: time.Now()}
	if _, err := store.CompareAndSwap(ctx, withWinner.ID, withWinner.Version, func(a *Auction) error {
		a.Bids = append(a.Bids, bid)
		a.HighestBid = &bid
		a.Status = StatusEnded
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	// Ended without bids: no-sale, never listed.
	noSale := createExpiredAuction(t, store)
	if _, err := store.CompareAndSwap(ctx, noSale.ID, noSale.Version, func(a *Auction) error {
		a.Status = StatusEnded
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	ids, err := store.ListUnsettled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != withWinner.ID {
		t.Errorf("ListUnsettled = %v, want exactly [%s]", ids, withWinner.ID)
	}
}
