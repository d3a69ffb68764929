package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/lotline/lotline/lotline/database/models"
	"github.com/lotline/lotline/lotline/engine"
)

// SettlementRepository persists settlement records. The unique index on
// auction_id is the durable exactly-once guard: a duplicate insert affects
// zero rows instead of failing.
type SettlementRepository interface {
	engine.SettlementStore
}

type settlementRepository struct {
	db *bun.DB
}

func NewSettlementRepository(db *bun.DB) SettlementRepository {
	return &settlementRepository{db: db}
}

func (r *settlementRepository) Create(ctx context.Context, s *engine.Settlement) (bool, error) {
	row := &models.Settlement{
		ID:         s.ID,
		AuctionID:  s.AuctionID,
		BuyerID:    s.BuyerID,
		SellerID:   s.SellerID,
		FinalPrice: s.FinalPrice,
		CheckoutID: s.CheckoutID,
		Paid:       s.Paid,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.CreatedAt,
	}
	res, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (auction_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to create settlement: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *settlementRepository) GetByAuctionID(ctx context.Context, auctionID uuid.UUID) (*engine.Settlement, error) {
	row := new(models.Settlement)
	err := r.db.NewSelect().
		Model(row).
		Where("auction_id = ?", auctionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return toEngineSettlement(row), nil
}

func (r *settlementRepository) SetCheckout(ctx context.Context, id uuid.UUID, checkoutID string) error {
	_, err := r.db.NewUpdate().
		Model((*models.Settlement)(nil)).
		Set("checkout_id = ?", checkoutID).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set checkout id: %w", err)
	}
	return nil
}

func (r *settlementRepository) MarkPaid(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*models.Settlement)(nil)).
		Set("paid = true").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark settlement paid: %w", err)
	}
	return nil
}

func (r *settlementRepository) ListUnpaid(ctx context.Context) ([]*engine.Settlement, error) {
	var rows []*models.Settlement
	err := r.db.NewSelect().
		Model(&rows).
		Where("paid = false").
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unpaid settlements: %w", err)
	}
	out := make([]*engine.Settlement, len(rows))
	for i, row := range rows {
		out[i] = toEngineSettlement(row)
	}
	return out, nil
}

func toEngineSettlement(row *models.Settlement) *engine.Settlement {
	return &engine.Settlement{
		ID:         row.ID,
		AuctionID:  row.AuctionID,
		BuyerID:    row.BuyerID,
		SellerID:   row.SellerID,
		FinalPrice: row.FinalPrice,
		CreatedAt:  row.CreatedAt,
		Paid:       row.Paid,
		CheckoutID: row.CheckoutID,
	}
}
