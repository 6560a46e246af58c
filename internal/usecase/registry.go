package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atgeo/checkind"
	"github.com/atgeo/checkind/internal/domain"
)

// RegistryRepository defines the durable tracked-repo/hosting-server
// registry. Register and Remove are atomic paired writes.
type RegistryRepository interface {
	Register(ctx context.Context, did, handle, serverURL string) error
	Remove(ctx context.Context, did string) error
	Get(ctx context.Context, did string) (domain.TrackedRepo, error)
	ListForCrawl(ctx context.Context) ([]domain.TrackedRepo, error)
	ListForFollowCrawl(ctx context.Context) ([]domain.TrackedRepo, error)
	ListServersForCrawl(ctx context.Context) ([]domain.HostingServer, error)
	TouchCheckinCrawl(ctx context.Context, did string, t time.Time) error
	TouchFollowCrawl(ctx context.Context, did string, t time.Time) error
	TouchServerCrawl(ctx context.Context, serverURL string, t time.Time) error
}

type RegistryUsecase struct {
	repo RegistryRepository
}

func NewRegistryUsecase(repo RegistryRepository) *RegistryUsecase {
	return &RegistryUsecase{repo: repo}
}

// Register adds a repo to the crawl set. Supplied by the authentication
// flow as (DID, handle, hosting server).
func (uc *RegistryUsecase) Register(ctx context.Context, did, handle, serverURL string) error {
	if !checkind.IsDID(did) {
		return fmt.Errorf("invalid did: %s", did)
	}
	if !strings.HasPrefix(serverURL, "https://") && !strings.HasPrefix(serverURL, "http://") {
		return fmt.Errorf("invalid hosting server url: %s", serverURL)
	}

	if err := uc.repo.Register(ctx, did, handle, serverURL); err != nil {
		return err
	}

	slog.Info("registered tracked repo",
		slog.String("did", did),
		slog.String("server", serverURL),
		slog.String("module", "registry"),
	)
	return nil
}

// Remove drops a repo from the crawl set.
func (uc *RegistryUsecase) Remove(ctx context.Context, did string) error {
	if err := uc.repo.Remove(ctx, did); err != nil {
		return err
	}

	slog.Info("removed tracked repo",
		slog.String("did", did),
		slog.String("module", "registry"),
	)
	return nil
}

func (uc *RegistryUsecase) Get(ctx context.Context, did string) (domain.TrackedRepo, error) {
	return uc.repo.Get(ctx, did)
}

func (uc *RegistryUsecase) ListForCrawl(ctx context.Context) ([]domain.TrackedRepo, error) {
	return uc.repo.ListForCrawl(ctx)
}

func (uc *RegistryUsecase) ListServersForCrawl(ctx context.Context) ([]domain.HostingServer, error) {
	return uc.repo.ListServersForCrawl(ctx)
}
