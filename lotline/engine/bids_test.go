package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newActiveAuction(t *testing.T, store Store, startingPrice int64, duration time.Duration) *Auction {
	t.Helper()
	a, err := OpenAuction(CreateAuctionParams{
		SellerID:      uuid.New(),
		Title:         "Vintage synth",
		StartingPrice: decimal.NewFromInt(startingPrice),
		Duration:      duration,
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestBidProcessor_PlaceBid(t *testing.T) {
	ctx := context.Background()

	t.Run("First bid accepted", func(t *testing.T) {
		store := NewMemoryStore()
		p := NewBidProcessor(store, NewFanout())
		a := newActiveAuction(t, store, 100, time.Hour)

		res, err := p.PlaceBid(ctx, a.ID, uuid.New(), decimal.NewFromInt(100), time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != BidAccepted {
			t.Fatalf("Outcome = %v, want %v (reason %v)", res.Outcome, BidAccepted, res.Reason)
		}
		if res.Auction.Version != 2 {
			t.Errorf("Version = %d, want 2", res.Auction.Version)
		}
		if res.Auction.HighestBid == nil || !res.Auction.HighestBid.Amount.Equal(decimal.NewFromInt(100)) {
			t.Errorf("HighestBid = %+v, want amount 100", res.Auction.HighestBid)
		}
	})

	t.Run("Rejection writes nothing", func(t *testing.T) {
		store := NewMemoryStore()
		p := NewBidProcessor(store, NewFanout())
		a := newActiveAuction(t, store, 100, time.Hour)

		res, err := p.PlaceBid(ctx, a.ID, uuid.New(), decimal.NewFromInt(50), time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != BidRejected || res.Reason != ReasonAmountTooLow {
			t.Fatalf("got outcome %v reason %v, want rejected/amount_too_low", res.Outcome, res.Reason)
		}

		after, err := store.Get(ctx, a.ID)
		if err != nil {
			t.Fatal(err)
		}
		if after.Version != 1 || len(after.Bids) != 0 {
			t.Errorf("rejected bid mutated the aggregate: version %d, bids %d", after.Version, len(after.Bids))
		}
	})

	t.Run("Self bid rejected regardless of amount", func(t *testing.T) {
		store := NewMemoryStore()
		p := NewBidProcessor(store, NewFanout())
		a := newActiveAuction(t, store, 100, time.Hour)

		res, err := p.PlaceBid(ctx, a.ID, a.SellerID, decimal.NewFromInt(10000), time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != BidRejected || res.Reason != ReasonSelfBid {
			t.Fatalf("got outcome %v reason %v, want rejected/self_bid", res.Outcome, res.Reason)
		}
	})

	t.Run("Unknown auction", func(t *testing.T) {
		p := NewBidProcessor(NewMemoryStore(), NewFanout())
		if _, err := p.PlaceBid(ctx, uuid.New(), uuid.New(), decimal.NewFromInt(100), time.Now()); err == nil {
			t.Fatal("expected error for unknown auction")
		}
	})

	t.Run("Non-positive amount", func(t *testing.T) {
		store := NewMemoryStore()
		p := NewBidProcessor(store, NewFanout())
		a := newActiveAuction(t, store, 100, time.Hour)
		if _, err := p.PlaceBid(ctx, a.ID, uuid.New(), decimal.Zero, time.Now()); err == nil {
			t.Fatal("expected error for zero amount")
		}
	})
}

// Two bidders racing with the same amount: exactly one lands, the loser
// re-reads the new state and is rejected as too low rather than silently
// overwriting.
func TestBidProcessor_SameAmountRace(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := NewBidProcessor(store, NewFanout())
	a := newActiveAuction(t, store, 100, time.Hour)

	now := time.Now()
	results := make([]*BidResult, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.PlaceBid(ctx, a.ID, uuid.New(), decimal.NewFromInt(120), now)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	accepted, rejected := 0, 0
	for _, res := range results {
		switch res.Outcome {
		case BidAccepted:
			accepted++
		case BidRejected:
			rejected++
			if res.Reason != ReasonAmountTooLow {
				t.Errorf("loser reason = %v, want amount_too_low", res.Reason)
			}
		}
	}
	if accepted != 1 || rejected != 1 {
		t.Fatalf("got %d accepted, %d rejected, want exactly one of each", accepted, rejected)
	}

	final, err := store.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(final.Bids) != 1 {
		t.Errorf("bid log length = %d, want 1", len(final.Bids))
	}
}

// Concurrent bids with distinct amounts: the accepted subset is strictly
// increasing in log order and the final highest bid equals the last log entry.
func TestBidProcessor_ConcurrentBidsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := NewBidProcessor(store, NewFanout())
	a := newActiveAuction(t, store, 100, time.Hour)

	now := time.Now()
	amounts := []int64{120, 110, 150, 130, 200, 105, 180}
	var wg sync.WaitGroup
	for _, amount := range amounts {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			if _, err := p.PlaceBid(ctx, a.ID, uuid.New(), decimal.NewFromInt(amount), now); err != nil {
				t.Error(err)
			}
		}(amount)
	}
	wg.Wait()

	final, err := store.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(final.Bids) == 0 {
		t.Fatal("no bids accepted")
	}
	for i := 1; i < len(final.Bids); i++ {
		if !final.Bids[i].Amount.GreaterThan(final.Bids[i-1].Amount) {
			t.Errorf("bid log not strictly increasing at %d: %s then %s",
				i, final.Bids[i-1].Amount, final.Bids[i].Amount)
		}
	}
	last := final.Bids[len(final.Bids)-1]
	if final.HighestBid == nil || final.HighestBid.ID != last.ID {
		t.Errorf("HighestBid does not match last accepted bid")
	}
	if int64(len(final.Bids)) != final.Version-1 {
		t.Errorf("version %d does not account for %d accepted bids", final.Version, len(final.Bids))
	}
}

// conflictStore fails every CompareAndSwap with a version mismatch to
// exhaust the retry budget.
type conflictStore struct {
	*MemoryStore
	attempts int
}

func (s *conflictStore) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate Mutator) (*Auction, error) {
	s.attempts++
	return nil, ErrVersionMismatch
}

func TestBidProcessor_RetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	store := &conflictStore{MemoryStore: mem}
	p := NewBidProcessor(store, NewFanout())
	a := newActiveAuction(t, mem, 100, time.Hour)

	res, err := p.PlaceBid(ctx, a.ID, uuid.New(), decimal.NewFromInt(150), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != BidConflict {
		t.Fatalf("Outcome = %v, want %v", res.Outcome, BidConflict)
	}
	if store.attempts != maxBidRetries {
		t.Errorf("CAS attempts = %d, want %d", store.attempts, maxBidRetries)
	}
	if res.Auction == nil {
		t.Error("conflict result should carry a fresh snapshot")
	}
}
