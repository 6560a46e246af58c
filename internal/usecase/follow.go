package usecase

import (
	"context"
	"time"

	"github.com/atgeo/checkind/internal/domain"
)

// followBatchSize bounds each storage write, respecting batch limits.
const followBatchSize = 50

// FollowRepository defines edge storage for the follow graph.
type FollowRepository interface {
	ListFollowing(ctx context.Context, followerDID string) ([]string, error)
	ListEdges(ctx context.Context, followerDID string) ([]domain.FollowEdge, error)
	AddEdges(ctx context.Context, followerDID string, followingDIDs []string, syncedAt time.Time) error
	RemoveEdges(ctx context.Context, followerDID string, followingDIDs []string) error
}

type FollowUsecase struct {
	repo FollowRepository
}

func NewFollowUsecase(repo FollowRepository) *FollowUsecase {
	return &FollowUsecase{repo: repo}
}

// Sync diffs a repo's current follow list against the stored graph and
// applies the minimal delta. Unchanged edges are never touched, which is
// what preserves their createdAt provenance; delete-all-then-reinsert
// would destroy it and churn storage for nothing.
func (uc *FollowUsecase) Sync(ctx context.Context, did string, current []string) (domain.FollowDiff, error) {
	stored, err := uc.repo.ListFollowing(ctx, did)
	if err != nil {
		return domain.FollowDiff{}, err
	}

	storedSet := make(map[string]struct{}, len(stored))
	for _, d := range stored {
		storedSet[d] = struct{}{}
	}

	currentSet := make(map[string]struct{}, len(current))
	var toAdd []string
	for _, d := range current {
		if d == "" {
			continue
		}
		if _, dup := currentSet[d]; dup {
			continue
		}
		currentSet[d] = struct{}{}
		if _, ok := storedSet[d]; !ok {
			toAdd = append(toAdd, d)
		}
	}

	var toRemove []string
	for _, d := range stored {
		if _, ok := currentSet[d]; !ok {
			toRemove = append(toRemove, d)
		}
	}

	now := time.Now().UTC()
	for _, batch := range chunk(toAdd, followBatchSize) {
		if err := uc.repo.AddEdges(ctx, did, batch, now); err != nil {
			return domain.FollowDiff{}, err
		}
	}
	for _, batch := range chunk(toRemove, followBatchSize) {
		if err := uc.repo.RemoveEdges(ctx, did, batch); err != nil {
			return domain.FollowDiff{}, err
		}
	}

	return domain.FollowDiff{Added: len(toAdd), Removed: len(toRemove)}, nil
}

// SyncAdditions applies only the additive half of the diff. The crawler
// uses it when the fetched follow set is known to be incomplete: diffing
// removals against a partial set would delete follows that still exist.
func (uc *FollowUsecase) SyncAdditions(ctx context.Context, did string, current []string) (domain.FollowDiff, error) {
	stored, err := uc.repo.ListFollowing(ctx, did)
	if err != nil {
		return domain.FollowDiff{}, err
	}

	storedSet := make(map[string]struct{}, len(stored))
	for _, d := range stored {
		storedSet[d] = struct{}{}
	}

	seen := make(map[string]struct{}, len(current))
	var toAdd []string
	for _, d := range current {
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		if _, ok := storedSet[d]; !ok {
			toAdd = append(toAdd, d)
		}
	}

	now := time.Now().UTC()
	for _, batch := range chunk(toAdd, followBatchSize) {
		if err := uc.repo.AddEdges(ctx, did, batch, now); err != nil {
			return domain.FollowDiff{}, err
		}
	}

	return domain.FollowDiff{Added: len(toAdd)}, nil
}

// List returns the stored follow edges for one repo, newest first.
func (uc *FollowUsecase) List(ctx context.Context, did string) ([]domain.FollowEdge, error) {
	return uc.repo.ListEdges(ctx, did)
}

func chunk(items []string, size int) [][]string {
	if len(items) == 0 {
		return nil
	}
	var batches [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
