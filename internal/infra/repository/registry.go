package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atgeo/checkind/internal/domain"
	"github.com/atgeo/checkind/internal/infra/database/models"
)

// RegistryRepository owns the tracked-repo table and the derived,
// reference-counted hosting-server table. The two tables drift silently
// unless every paired write commits as one transaction, so all mutations
// here run inside a single gorm Transaction.
type RegistryRepository struct {
	db *gorm.DB
}

func NewRegistryRepository(db *gorm.DB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

// Register upserts a tracked repo. The hosting-server count is incremented
// only on the first registration of the DID; repeated calls must not
// re-increment. Moving a repo between servers adjusts both counts.
func (r *RegistryRepository) Register(ctx context.Context, did, handle, serverURL string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return registerTx(tx, did, handle, serverURL, time.Now().UTC())
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return domain.ConsistencyError{Op: "register", Reason: err}
	}
	return nil
}

// Remove deletes a tracked repo and decrements its server's count,
// deleting the server row when the count drops to zero.
func (r *RegistryRepository) Remove(ctx context.Context, did string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return removeTx(tx, did)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return domain.ConsistencyError{Op: "remove", Reason: err}
	}
	return nil
}

func registerTx(tx *gorm.DB, did, handle, serverURL string, now time.Time) error {
	var repo models.TrackedRepo
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("did = ?", did).
		Take(&repo).Error
	if err == nil {
		// Already registered: never re-increment. A server move shifts
		// one reference from the old server to the new one.
		if repo.HostingServerURL != serverURL {
			if err := decrementServerTx(tx, repo.HostingServerURL); err != nil {
				return err
			}
			if err := incrementServerTx(tx, serverURL); err != nil {
				return err
			}
		}
		return tx.Model(&models.TrackedRepo{}).
			Where("did = ?", did).
			Updates(map[string]any{
				"handle":             handle,
				"hosting_server_url": serverURL,
			}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	repo = models.TrackedRepo{
		DID:              did,
		Handle:           handle,
		HostingServerURL: serverURL,
		RegisteredAt:     now,
	}
	if err := tx.Create(&repo).Error; err != nil {
		return err
	}

	return incrementServerTx(tx, serverURL)
}

func removeTx(tx *gorm.DB, did string) error {
	var repo models.TrackedRepo
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("did = ?", did).
		Take(&repo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NotFoundError{Resource: "tracked repo"}
	}
	if err != nil {
		return err
	}

	if err := tx.Delete(&models.TrackedRepo{}, "did = ?", did).Error; err != nil {
		return err
	}

	return decrementServerTx(tx, repo.HostingServerURL)
}

func incrementServerTx(tx *gorm.DB, serverURL string) error {
	var server models.HostingServer
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("server_url = ?", serverURL).
		Take(&server).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&models.HostingServer{
			ServerURL:        serverURL,
			TrackedRepoCount: 1,
		}).Error
	}
	if err != nil {
		return err
	}

	return tx.Model(&models.HostingServer{}).
		Where("server_url = ?", serverURL).
		Update("tracked_repo_count", server.TrackedRepoCount+1).Error
}

func decrementServerTx(tx *gorm.DB, serverURL string) error {
	var server models.HostingServer
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("server_url = ?", serverURL).
		Take(&server).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Nothing to decrement; the invariant forbids negative counts.
		return nil
	}
	if err != nil {
		return err
	}

	if server.TrackedRepoCount <= 1 {
		return tx.Delete(&models.HostingServer{}, "server_url = ?", serverURL).Error
	}

	return tx.Model(&models.HostingServer{}).
		Where("server_url = ?", serverURL).
		Update("tracked_repo_count", server.TrackedRepoCount-1).Error
}

// Get returns one tracked repo by DID.
func (r *RegistryRepository) Get(ctx context.Context, did string) (domain.TrackedRepo, error) {
	var repo models.TrackedRepo
	err := r.db.WithContext(ctx).Where("did = ?", did).Take(&repo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.TrackedRepo{}, domain.NotFoundError{Resource: "tracked repo"}
	}
	if err != nil {
		return domain.TrackedRepo{}, err
	}
	return repoToDomain(repo), nil
}

// ListForCrawl returns tracked repos ordered by last check-in crawl time
// ascending, never-crawled repos first.
func (r *RegistryRepository) ListForCrawl(ctx context.Context) ([]domain.TrackedRepo, error) {
	var rows []models.TrackedRepo
	err := r.db.WithContext(ctx).
		Order("last_checkin_crawl_at ASC NULLS FIRST").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	repos := make([]domain.TrackedRepo, 0, len(rows))
	for _, row := range rows {
		repos = append(repos, repoToDomain(row))
	}
	return repos, nil
}

// ListForFollowCrawl orders by the follow-graph crawl timestamp instead.
func (r *RegistryRepository) ListForFollowCrawl(ctx context.Context) ([]domain.TrackedRepo, error) {
	var rows []models.TrackedRepo
	err := r.db.WithContext(ctx).
		Order("last_follow_crawl_at ASC NULLS FIRST").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	repos := make([]domain.TrackedRepo, 0, len(rows))
	for _, row := range rows {
		repos = append(repos, repoToDomain(row))
	}
	return repos, nil
}

// ListServersForCrawl returns referenced hosting servers, least recently
// crawled first.
func (r *RegistryRepository) ListServersForCrawl(ctx context.Context) ([]domain.HostingServer, error) {
	var rows []models.HostingServer
	err := r.db.WithContext(ctx).
		Where("tracked_repo_count > 0").
		Order("last_crawled_at ASC NULLS FIRST").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	servers := make([]domain.HostingServer, 0, len(rows))
	for _, row := range rows {
		servers = append(servers, domain.HostingServer{
			ServerURL:        row.ServerURL,
			TrackedRepoCount: row.TrackedRepoCount,
			LastCrawledAt:    row.LastCrawledAt,
		})
	}
	return servers, nil
}

// TouchCheckinCrawl advances the check-in crawl timestamp. It is called
// unconditionally after a repo's crawl, success or not, so a persistently
// failing repo never starves the rest of the schedule.
func (r *RegistryRepository) TouchCheckinCrawl(ctx context.Context, did string, t time.Time) error {
	return r.db.WithContext(ctx).Model(&models.TrackedRepo{}).
		Where("did = ?", did).
		Update("last_checkin_crawl_at", t).Error
}

func (r *RegistryRepository) TouchFollowCrawl(ctx context.Context, did string, t time.Time) error {
	return r.db.WithContext(ctx).Model(&models.TrackedRepo{}).
		Where("did = ?", did).
		Update("last_follow_crawl_at", t).Error
}

func (r *RegistryRepository) TouchServerCrawl(ctx context.Context, serverURL string, t time.Time) error {
	return r.db.WithContext(ctx).Model(&models.HostingServer{}).
		Where("server_url = ?", serverURL).
		Update("last_crawled_at", t).Error
}

func repoToDomain(row models.TrackedRepo) domain.TrackedRepo {
	return domain.TrackedRepo{
		DID:                row.DID,
		Handle:             row.Handle,
		HostingServerURL:   row.HostingServerURL,
		RegisteredAt:       row.RegisteredAt,
		LastCheckinCrawlAt: row.LastCheckinCrawlAt,
		LastFollowCrawlAt:  row.LastFollowCrawlAt,
	}
}
