package usecase

import (
	"context"

	"github.com/atgeo/checkind/internal/domain"
)

// CheckinRepository defines storage for canonical check-ins.
type CheckinRepository interface {
	Upsert(ctx context.Context, c domain.Checkin) error
	GetByURI(ctx context.Context, uri string) (domain.Checkin, error)
	List(ctx context.Context, authorDID string, limit int) ([]domain.Checkin, error)
	ListMissingAddress(ctx context.Context, limit int) ([]domain.Checkin, error)
	UpdateAddress(ctx context.Context, uri string, venueName string, addr domain.Address) error
}

// CheckinUsecase is the read surface consumed by the presentation layer.
type CheckinUsecase struct {
	repo CheckinRepository
}

func NewCheckinUsecase(repo CheckinRepository) *CheckinUsecase {
	return &CheckinUsecase{repo: repo}
}

func (uc *CheckinUsecase) Get(ctx context.Context, uri string) (domain.Checkin, error) {
	return uc.repo.GetByURI(ctx, uri)
}

func (uc *CheckinUsecase) List(ctx context.Context, authorDID string, limit int) ([]domain.Checkin, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return uc.repo.List(ctx, authorDID, limit)
}
