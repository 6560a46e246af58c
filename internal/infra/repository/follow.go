package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atgeo/checkind/internal/domain"
	"github.com/atgeo/checkind/internal/infra/database/models"
)

type FollowRepository struct {
	db *gorm.DB
}

func NewFollowRepository(db *gorm.DB) *FollowRepository {
	return &FollowRepository{db: db}
}

// ListFollowing returns the stored follow set for one follower.
func (r *FollowRepository) ListFollowing(ctx context.Context, followerDID string) ([]string, error) {
	var dids []string
	err := r.db.WithContext(ctx).Model(&models.FollowEdge{}).
		Where("follower_did = ?", followerDID).
		Pluck("following_did", &dids).Error
	return dids, err
}

// AddEdges inserts one bounded batch of edges. Re-inserting an existing
// edge is a no-op, which keeps createdAt provenance for unchanged edges.
func (r *FollowRepository) AddEdges(ctx context.Context, followerDID string, followingDIDs []string, syncedAt time.Time) error {
	if len(followingDIDs) == 0 {
		return nil
	}

	rows := make([]models.FollowEdge, 0, len(followingDIDs))
	for _, did := range followingDIDs {
		rows = append(rows, models.FollowEdge{
			FollowerDID:  followerDID,
			FollowingDID: did,
			CreatedAt:    syncedAt,
			SyncedAt:     syncedAt,
		})
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "follower_did"}, {Name: "following_did"}},
		DoNothing: true,
	}).Create(&rows).Error
}

// RemoveEdges deletes one bounded batch of edges.
func (r *FollowRepository) RemoveEdges(ctx context.Context, followerDID string, followingDIDs []string) error {
	if len(followingDIDs) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Where("follower_did = ? AND following_did IN ?", followerDID, followingDIDs).
		Delete(&models.FollowEdge{}).Error
}

// ListEdges returns full edge rows for one follower, for the read surface.
func (r *FollowRepository) ListEdges(ctx context.Context, followerDID string) ([]domain.FollowEdge, error) {
	var rows []models.FollowEdge
	err := r.db.WithContext(ctx).
		Where("follower_did = ?", followerDID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	edges := make([]domain.FollowEdge, 0, len(rows))
	for _, row := range rows {
		edges = append(edges, domain.FollowEdge{
			FollowerDID:  row.FollowerDID,
			FollowingDID: row.FollowingDID,
			CreatedAt:    row.CreatedAt,
			SyncedAt:     row.SyncedAt,
		})
	}
	return edges, nil
}
