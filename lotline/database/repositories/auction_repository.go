package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/lotline/lotline/lotline/database/models"
	"github.com/lotline/lotline/lotline/engine"
)

// AuctionRepository is the durable engine.Store plus the read-side listing
// queries. All writes go through the version-guarded update, so a CAS either
// applies the whole mutation (row + appended bid rows) or fails atomically.
type AuctionRepository interface {
	engine.Store
	ListActive(ctx context.Context, now time.Time) ([]*engine.Auction, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*engine.Auction, error)
}

type auctionRepository struct {
	db *bun.DB
}

func NewAuctionRepository(db *bun.DB) AuctionRepository {
	return &auctionRepository{db: db}
}

func (r *auctionRepository) Get(ctx context.Context, id uuid.UUID) (*engine.Auction, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	agg, err := readAggregate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit read: %w", err)
	}
	return agg, nil
}

func (r *auctionRepository) Create(ctx context.Context, a *engine.Auction) error {
	row := fromEngine(a)
	if row.Version == 0 {
		row.Version = 1
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}
	return nil
}

func (r *auctionRepository) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate engine.Mutator) (*engine.Auction, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	agg, err := readAggregate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if agg.Version != expectedVersion {
		return nil, engine.ErrVersionMismatch
	}

	prevBids := len(agg.Bids)
	if err := mutate(agg); err != nil {
		return nil, err
	}
	agg.Version = expectedVersion + 1
	agg.UpdatedAt = time.Now()

	res, err := tx.NewUpdate().
		Model(fromEngine(agg)).
		Where("id = ? AND version = ?", id, expectedVersion).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to update auction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, engine.ErrVersionMismatch
	}

	for _, row := range appendedBidRows(agg, prevBids) {
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to append bid: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit mutation: %w", err)
	}
	return agg, nil
}

func (r *auctionRepository) ListExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.NewSelect().
		Model((*models.Auction)(nil)).
		Column("id").
		Where("status = ?", models.AuctionStatusActive).
		Where("end_time <= ?", now).
		Order("end_time ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired auctions: %w", err)
	}
	return ids, nil
}

func (r *auctionRepository) ListUnsettled(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.NewSelect().
		Model((*models.Auction)(nil)).
		Column("id").
		Where("status = ?", models.AuctionStatusEnded).
		Where("settled = false").
		Where("highest_bidder_id IS NOT NULL").
		Where("(reserve_price = 0 OR highest_amount >= reserve_price)").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled auctions: %w", err)
	}
	return ids, nil
}

func (r *auctionRepository) ListActive(ctx context.Context, now time.Time) ([]*engine.Auction, error) {
	var rows []*models.Auction
	err := r.db.NewSelect().
		Model(&rows).
		Where("status = ?", models.AuctionStatusActive).
		Where("end_time > ?", now).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active auctions: %w", err)
	}
	out := make([]*engine.Auction, len(rows))
	for i, row := range rows {
		out[i] = toEngine(row, nil)
	}
	return out, nil
}

func (r *auctionRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*engine.Auction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*models.Auction
	err := r.db.NewSelect().
		Model(&rows).
		Where("id IN (?)", bun.In(ids)).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	out := make([]*engine.Auction, len(rows))
	for i, row := range rows {
		out[i] = toEngine(row, nil)
	}
	return out, nil
}

// appendedBidRows maps the bids mutate added to the aggregate onto insert
// rows. LogIndex is the bid's position in the log, so reads ordered on it
// reproduce acceptance order even when a retried bid carries an earlier
// PlacedAt than one already in the log.
func appendedBidRows(a *engine.Auction, from int) []*models.Bid {
	rows := make([]*models.Bid, 0, len(a.Bids)-from)
	for i := from; i < len(a.Bids); i++ {
		bid := a.Bids[i]
		rows = append(rows, &models.Bid{
			ID:        bid.ID,
			AuctionID: bid.AuctionID,
			LogIndex:  i,
			BidderID:  bid.BidderID,
			Amount:    bid.Amount,
			PlacedAt:  bid.PlacedAt,
			CreatedAt: time.Now(),
		})
	}
	return rows
}

// readAggregate loads the auction row plus its full bid log inside tx.
func readAggregate(ctx context.Context, tx bun.Tx, id uuid.UUID) (*engine.Auction, error) {
	row := new(models.Auction)
	err := tx.NewSelect().
		Model(row).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engine.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}

	var bids []*models.Bid
	err = tx.NewSelect().
		Model(&bids).
		Where("auction_id = ?", id).
		Order("log_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load bid log: %w", err)
	}

	return toEngine(row, bids), nil
}

func toEngine(row *models.Auction, bids []*models.Bid) *engine.Auction {
	a := &engine.Auction{
		ID:            row.ID,
		SellerID:      row.SellerID,
		Title:         row.Title,
		StartingPrice: row.StartingPrice,
		ReservePrice:  row.ReservePrice,
		StartTime:     row.StartTime,
		EndTime:       row.EndTime,
		Status:        engine.AuctionStatus(row.Status),
		Version:       row.Version,
		Settled:       row.Settled,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	for _, b := range bids {
		a.Bids = append(a.Bids, engine.Bid{
			ID:        b.ID,
			AuctionID: b.AuctionID,
			BidderID:  b.BidderID,
			Amount:    b.Amount,
			PlacedAt:  b.PlacedAt,
		})
	}
	if row.HighestBidderID != nil && row.HighestAmount.Valid {
		hb := engine.Bid{
			AuctionID: row.ID,
			BidderID:  *row.HighestBidderID,
			Amount:    row.HighestAmount.Decimal,
		}
		if row.HighestBidID != nil {
			hb.ID = *row.HighestBidID
		}
		if row.HighestPlacedAt != nil {
			hb.PlacedAt = *row.HighestPlacedAt
		}
		a.HighestBid = &hb
	}
	return a
}

func fromEngine(a *engine.Auction) *models.Auction {
	row := &models.Auction{
		ID:            a.ID,
		SellerID:      a.SellerID,
		Title:         a.Title,
		StartingPrice: a.StartingPrice,
		ReservePrice:  a.ReservePrice,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Status:        models.AuctionStatus(a.Status),
		Version:       a.Version,
		Settled:       a.Settled,
		BidCount:      len(a.Bids),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
	if a.HighestBid != nil {
		bidID := a.HighestBid.ID
		bidderID := a.HighestBid.BidderID
		placedAt := a.HighestBid.PlacedAt
		row.HighestBidID = &bidID
		row.HighestBidderID = &bidderID
		row.HighestAmount = decimal.NullDecimal{Decimal: a.HighestBid.Amount, Valid: true}
		row.HighestPlacedAt = &placedAt
	}
	return row
}
