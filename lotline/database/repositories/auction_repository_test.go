package repositories

import (
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lotline/lotline/lotline/database/models"
	"github.com/lotline/lotline/lotline/engine"
)

// A bid that loses a version race lands on a later append carrying an earlier
// submission timestamp than a bid already in the log. The stored rows must
// still read back in acceptance order, which is what log_index pins down.
func TestAppendedBidRows_AcceptanceOrderSurvivesRetry(t *testing.T) {
	auctionID := uuid.New()
	base := time.Now()

	a := &engine.Auction{
		ID:     auctionID,
		Status: engine.StatusActive,
	}

	// First round: the later submission wins the race.
	a.Bids = append(a.Bids, engine.Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		BidderID:  uuid.New(),
		Amount:    decimal.NewFromInt(120),
		PlacedAt:  base.Add(20 * time.Millisecond),
	})
	rows := appendedBidRows(a, 0)

	// Second round: the earlier submission lands on its retry with a higher
	// amount, so the validation predicate accepts it.
	a.Bids = append(a.Bids, engine.Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		BidderID:  uuid.New(),
		Amount:    decimal.NewFromInt(150),
		PlacedAt:  base,
	})
	rows = append(rows, appendedBidRows(a, 1)...)

	for i, row := range rows {
		if row.LogIndex != i {
			t.Fatalf("row %d: log index = %d, want %d", i, row.LogIndex, i)
		}
	}

	// Sanity: ordering on placed_at would invert the log here.
	byPlacedAt := append([]*models.Bid(nil), rows...)
	sort.Slice(byPlacedAt, func(i, j int) bool { return byPlacedAt[i].PlacedAt.Before(byPlacedAt[j].PlacedAt) })
	if !byPlacedAt[0].Amount.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("expected placed_at order to disagree with acceptance order, got first amount %s", byPlacedAt[0].Amount)
	}

	// The read path orders on log_index.
	byLogIndex := append([]*models.Bid(nil), rows...)
	sort.Slice(byLogIndex, func(i, j int) bool { return byLogIndex[i].LogIndex < byLogIndex[j].LogIndex })

	agg := toEngine(&models.Auction{
		ID:     auctionID,
		Status: models.AuctionStatusActive,
	}, byLogIndex)

	if len(agg.Bids) != len(a.Bids) {
		t.Fatalf("bid log length = %d, want %d", len(agg.Bids), len(a.Bids))
	}
	for i := range agg.Bids {
		if agg.Bids[i].ID != a.Bids[i].ID {
			t.Fatalf("bid %d: id = %s, want %s", i, agg.Bids[i].ID, a.Bids[i].ID)
		}
		if i > 0 && agg.Bids[i].Amount.LessThanOrEqual(agg.Bids[i-1].Amount) {
			t.Fatalf("bid log not strictly increasing at %d: %s after %s",
				i, agg.Bids[i].Amount, agg.Bids[i-1].Amount)
		}
	}
}
