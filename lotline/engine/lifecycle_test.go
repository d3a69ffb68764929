package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type stubPayments struct {
	mu        sync.Mutex
	createErr error
	created   int
}

func (p *stubPayments) CreateCheckout(ctx context.Context, s *Settlement) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return "", p.createErr
	}
	p.created++
	return "ck_" + s.ID.String()[:8], nil
}

func (p *stubPayments) VerifyCheckout(ctx context.Context, checkoutID string) (bool, error) {
	return true, nil
}

func newScheduler(store Store, settlements SettlementStore) (*LifecycleScheduler, *SettlementCoordinator) {
	settler := NewSettlementCoordinator(store, settlements, &stubPayments{}, time.Minute)
	return NewLifecycleScheduler(store, NewFanout(), settler, time.Minute), settler
}

func createExpiredAuction(t *testing.T, store Store) *Auction {
	t.Helper()
	now := time.Now().Add(-time.Hour)
	a, err := OpenAuction(CreateAuctionParams{
		SellerID:      uuid.New(),
		Title:         "Vintage synth",
		StartingPrice: decimal.NewFromInt(100),
		Duration:      time.Minute,
	}, now)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestLifecycleScheduler_Sweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	settlements := NewMemorySettlementStore()
	scheduler, _ := newScheduler(store, settlements)

	expired := createExpiredAuction(t, store)
	active := newActiveAuction(t, store, 100, time.Hour)

	if err := scheduler.Sweep(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, expired.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusEnded {
		t.Errorf("expired auction status = %v, want %v", got.Status, StatusEnded)
	}

	still, err := store.Get(ctx, active.ID)
	if err != nil {
		t.Fatal(err)
	}
	if still.Status != StatusActive {
		t.Errorf("active auction status = %v, want %v", still.Status, StatusActive)
	}

	// A second sweep over the same state changes nothing.
	version := got.Version
	if err := scheduler.Sweep(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}
	again, err := store.Get(ctx, expired.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Version != version {
		t.Errorf("repeated sweep bumped version from %d to %d", version, again.Version)
	}
}

func TestLifecycleScheduler_SellNow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	scheduler, _ := newScheduler(store, NewMemorySettlementStore())
	a := newActiveAuction(t, store, 100, time.Hour)

	t.Run("Rejects non-seller", func(t *testing.T) {
		if _, err := scheduler.SellNow(ctx, a.ID, uuid.New(), time.Now()); !errors.Is(err, ErrNotSeller) {
			t.Fatalf("error = %v, want %v", err, ErrNotSeller)
		}
	})

	t.Run("Closes for seller", func(t *testing.T) {
		got, err := scheduler.SellNow(ctx, a.ID, a.SellerID, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != StatusEnded {
			t.Errorf("status = %v, want %v", got.Status, StatusEnded)
		}
	})

	t.Run("Rejects when already ended", func(t *testing.T) {
		if _, err := scheduler.SellNow(ctx, a.ID, a.SellerID, time.Now()); !errors.Is(err, ErrNotActive) {
			t.Fatalf("error = %v, want %v", err, ErrNotActive)
		}
	})
}

func TestLifecycleScheduler_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("Cancels bidless auction", func(t *testing.T) {
		store := NewMemoryStore()
		scheduler, _ := newScheduler(store, NewMemorySettlementStore())
		a := newActiveAuction(t, store, 100, time.Hour)

		got, err := scheduler.Cancel(ctx, a.ID, a.SellerID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != StatusCancelled {
			t.Errorf("status = %v, want %v", got.Status, StatusCancelled)
		}
	})

	t.Run("Rejects auction with bids", func(t *testing.T) {
		store := NewMemoryStore()
		scheduler, _ := newScheduler(store, NewMemorySettlementStore())
		a := newActiveAuction(t, store, 100, time.Hour)

		p := NewBidProcessor(store, NewFanout())
		if _, err := p.PlaceBid(ctx, a.ID, uuid.New(), decimal.NewFromInt(100), time.Now()); err != nil {
			t.Fatal(err)
		}

		if _, err := scheduler.Cancel(ctx, a.ID, a.SellerID); !errors.Is(err, ErrHasBids) {
			t.Fatalf("error = %v, want %v", err, ErrHasBids)
		}
	})

	t.Run("Rejects non-seller", func(t *testing.T) {
		store := NewMemoryStore()
		scheduler, _ := newScheduler(store, NewMemorySettlementStore())
		a := newActiveAuction(t, store, 100, time.Hour)

		if _, err := scheduler.Cancel(ctx, a.ID, uuid.New()); !errors.Is(err, ErrNotSeller) {
			t.Fatalf("error = %v, want %v", err, ErrNotSeller)
		}
	})
}

// hookedStore runs a hook before the first CompareAndSwap, simulating a
// concurrent writer landing between a read and its write.
type hookedStore struct {
	*MemoryStore
	mu        sync.Mutex
	beforeCAS func()
}

func (s *hookedStore) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate Mutator) (*Auction, error) {
	s.mu.Lock()
	hook := s.beforeCAS
	s.beforeCAS = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return s.MemoryStore.CompareAndSwap(ctx, id, expectedVersion, mutate)
}

// A bid that lands while the close is in flight must not be dropped: the
// close's CAS fails, re-reads, and the late bid becomes the winning bid.
func TestLifecycleScheduler_CloseDoesNotDropLateBid(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	store := &hookedStore{MemoryStore: mem}
	settlements := NewMemorySettlementStore()
	scheduler, _ := newScheduler(store, settlements)

	a := createExpiredAuction(t, mem)
	lateBidder := uuid.New()

	store.beforeCAS = func() {
		snapshot, err := mem.Get(ctx, a.ID)
		if err != nil {
			t.Error(err)
			return
		}
		bid := Bid{
			ID:        uuid.New(),
			AuctionID: a.ID,
			BidderID:  lateBidder,
			Amount:    decimal.NewFromInt(300),
			PlacedAt:  time.Now(),
		}
		if _, err := mem.CompareAndSwap(ctx, a.ID, snapshot.Version, func(a *Auction) error {
			a.Bids = append(a.Bids, bid)
			a.HighestBid = &bid
			return nil
		}); err != nil {
			t.Error(err)
		}
	}

	if err := scheduler.Sweep(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}

	final, err := mem.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != StatusEnded {
		t.Fatalf("status = %v, want %v", final.Status, StatusEnded)
	}
	if final.HighestBid == nil || final.HighestBid.BidderID != lateBidder {
		t.Fatal("late bid was dropped by the close")
	}

	rec, err := settlements.GetByAuctionID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("no settlement created for the late-bid winner")
	}
	if rec.BuyerID != lateBidder || !rec.FinalPrice.Equal(decimal.NewFromInt(300)) {
		t.Errorf("settlement = buyer %s price %s, want %s at 300", rec.BuyerID, rec.FinalPrice, lateBidder)
	}
}

func TestLifecycleScheduler_StartStop(t *testing.T) {
	store := NewMemoryStore()
	settlements := NewMemorySettlementStore()
	settler := NewSettlementCoordinator(store, settlements, &stubPayments{}, 10*time.Millisecond)
	scheduler := NewLifecycleScheduler(store, NewFanout(), settler, 10*time.Millisecond)

	a := createExpiredAuction(t, store)

	scheduler.Start()
	deadline := time.After(2 * time.Second)
	for {
		got, err := store.Get(context.Background(), a.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == StatusEnded {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweep loop never closed the expired auction")
		case <-time.After(10 * time.Millisecond):
		}
	}
	scheduler.Shutdown()
}

// Full chain for one listing: two accepted bids around a rejected one, then
// the seller closes early and the runner-up's winning bid settles.
func TestSellNow_SettlesWinningBid(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	settlements := NewMemorySettlementStore()
	scheduler, _ := newScheduler(store, settlements)
	bids := NewBidProcessor(store, NewFanout())

	a := newActiveAuction(t, store, 100, time.Hour)
	b1 := uuid.New()
	b2 := uuid.New()

	res, err := bids.PlaceBid(ctx, a.ID, b1, decimal.NewFromInt(120), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != BidAccepted {
		t.Fatalf("first bid outcome = %v, want %v", res.Outcome, BidAccepted)
	}

	res, err = bids.PlaceBid(ctx, a.ID, b2, decimal.NewFromInt(110), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != BidRejected || res.Reason != ReasonAmountTooLow {
		t.Fatalf("undercutting bid = %v/%v, want %v/%v",
			res.Outcome, res.Reason, BidRejected, ReasonAmountTooLow)
	}

	res, err = bids.PlaceBid(ctx, a.ID, b2, decimal.NewFromInt(150), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != BidAccepted {
		t.Fatalf("third bid outcome = %v, want %v", res.Outcome, BidAccepted)
	}

	closed, err := scheduler.SellNow(ctx, a.ID, a.SellerID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != StatusEnded {
		t.Fatalf("status after sell-now = %v, want %v", closed.Status, StatusEnded)
	}
	if len(closed.Bids) != 2 {
		t.Fatalf("bid log length = %d, want 2", len(closed.Bids))
	}

	rec, err := settlements.GetByAuctionID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.BuyerID != b2 {
		t.Errorf("settlement buyer = %s, want %s", rec.BuyerID, b2)
	}
	if !rec.FinalPrice.Equal(decimal.NewFromInt(150)) {
		t.Errorf("settlement price = %s, want 150", rec.FinalPrice)
	}
	if rec.CheckoutID == "" {
		t.Error("expected checkout session on the settlement record")
	}

	final, err := store.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !final.Settled {
		t.Error("aggregate not marked settled after sell-now")
	}
}
