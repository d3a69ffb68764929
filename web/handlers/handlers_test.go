package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lotline/lotline/lotline/engine"
	"github.com/lotline/lotline/lotline/query"
	"github.com/lotline/lotline/web/handlers"
	"github.com/lotline/lotline/web/models"
)

// contendedStore fails every write with a version mismatch, so a bid attempt
// exhausts its retries and surfaces as a conflict.
type contendedStore struct {
	*engine.MemoryStore
}

func (s *contendedStore) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate engine.Mutator) (*engine.Auction, error) {
	return nil, engine.ErrVersionMismatch
}

func TestBidsCreate_ConflictCarriesSnapshot(t *testing.T) {
	store := &contendedStore{MemoryStore: engine.NewMemoryStore()}

	a, err := engine.OpenAuction(engine.CreateAuctionParams{
		SellerID:      uuid.New(),
		Title:         "signed first pressing",
		StartingPrice: decimal.NewFromInt(100),
		Duration:      time.Hour,
	}, time.Now())
	if err != nil {
		t.Fatalf("OpenAuction: %v", err)
	}
	if err := store.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	webApp := &handlers.WebApp{
		Store: store,
		Bids:  engine.NewBidProcessor(store, engine.NewFanout()),
		Query: query.NewService(store, engine.NewMemoryWatchStore(), 0),
	}

	app := fiber.New()
	app.Post("/auctions/:id/bids", handlers.BidsCreate(webApp))

	body, _ := json.Marshal(models.PlaceBidRequest{
		BidderID: uuid.New().String(),
		Amount:   "150",
	})
	req, _ := http.NewRequest(http.MethodPost, "/auctions/"+a.ID.String()+"/bids", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	var envelope models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Success {
		t.Error("expected success=false on conflict")
	}
	if envelope.Error == nil || envelope.Error.Code != "CONFLICT" {
		t.Fatalf("error = %+v, want code CONFLICT", envelope.Error)
	}

	result, ok := envelope.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected conflict body to carry the bid result, got %T", envelope.Data)
	}
	if result["outcome"] != string(engine.BidConflict) {
		t.Errorf("outcome = %v, want %q", result["outcome"], engine.BidConflict)
	}
	snapshot, ok := result["auction"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected conflict body to carry an auction snapshot, got %T", result["auction"])
	}
	if snapshot["id"] != a.ID.String() {
		t.Errorf("snapshot id = %v, want %s", snapshot["id"], a.ID)
	}
	if snapshot["version"] != float64(a.Version) {
		t.Errorf("snapshot version = %v, want %d", snapshot["version"], a.Version)
	}
}
