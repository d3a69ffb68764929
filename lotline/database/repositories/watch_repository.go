package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/lotline/lotline/lotline/database/models"
	"github.com/lotline/lotline/lotline/engine"
)

// WatchRepository persists the watch relation. The unique (auction_id,
// user_id) index makes Add idempotent; Remove of an absent pair affects zero
// rows and is likewise a no-op.
type WatchRepository interface {
	engine.WatchStore
}

type watchRepository struct {
	db *bun.DB
}

func NewWatchRepository(db *bun.DB) WatchRepository {
	return &watchRepository{db: db}
}

func (r *watchRepository) IsWatching(ctx context.Context, auctionID, userID uuid.UUID) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.Watch)(nil)).
		Where("auction_id = ? AND user_id = ?", auctionID, userID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read watch state: %w", err)
	}
	return exists, nil
}

func (r *watchRepository) Add(ctx context.Context, auctionID, userID uuid.UUID) error {
	_, err := r.db.NewInsert().
		Model(&models.Watch{AuctionID: auctionID, UserID: userID}).
		On("CONFLICT (auction_id, user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to add watch: %w", err)
	}
	return nil
}

func (r *watchRepository) Remove(ctx context.Context, auctionID, userID uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*models.Watch)(nil)).
		Where("auction_id = ? AND user_id = ?", auctionID, userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove watch: %w", err)
	}
	return nil
}

func (r *watchRepository) Count(ctx context.Context, auctionID uuid.UUID) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.Watch)(nil)).
		Where("auction_id = ?", auctionID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count watchers: %w", err)
	}
	return count, nil
}

func (r *watchRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.NewSelect().
		Model((*models.Watch)(nil)).
		Column("auction_id").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list watched auctions: %w", err)
	}
	return ids, nil
}
