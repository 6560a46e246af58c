package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/atgeo/checkind"
	"github.com/atgeo/checkind/client"
	"github.com/atgeo/checkind/internal/domain"
	"github.com/atgeo/checkind/internal/lexicon"
)

var tracer = otel.Tracer("crawler")

// ErrSessionRunning is returned when another crawl session holds the lock.
var ErrSessionRunning = errors.New("a crawl session is already running")

const (
	checkinLockKey = "checkind:lock:checkins"
	followLockKey  = "checkind:lock:follows"
	sessionLockTTL = 10 * time.Minute

	// maxFollowPages bounds the cursor walk over one repo's follow
	// collection. A walk that hits the cap yields a partial set, which
	// the reconciler must only use additively.
	maxFollowPages = 20
)

// HostResolver maps a DID to its hosting-server URL.
type HostResolver interface {
	ResolveHostingServer(ctx context.Context, did string) (string, error)
}

// RecordLister fetches paginated collection listings from hosting servers.
type RecordLister interface {
	ListRecords(ctx context.Context, serverURL, did, collection string, limit int, reverse bool, cursor string) (checkind.ListRecordsResponse, error)
}

// AddressResolver follows a legacy address pointer, best effort.
type AddressResolver interface {
	Resolve(ctx context.Context, ref checkind.StrongRef) (domain.ResolvedAddress, error)
}

// SessionLocker serializes concurrent session triggers.
type SessionLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type CrawlerOptions struct {
	BatchSize  int
	BatchDelay time.Duration
	PageLimit  int
}

// CrawlerUsecase walks the tracked-repo registry in fixed-size batches,
// fetching concurrently within a batch and sleeping between batches to
// bound the aggregate request rate. Every per-repo failure is converted
// to a counter at the repo boundary; a session never aborts because one
// hosting server is down.
type CrawlerUsecase struct {
	registry RegistryRepository
	checkins CheckinRepository
	follows  *FollowUsecase
	resolver HostResolver
	lister   RecordLister
	address  AddressResolver
	locker   SessionLocker
	opts     CrawlerOptions
}

func NewCrawlerUsecase(
	registry RegistryRepository,
	checkins CheckinRepository,
	follows *FollowUsecase,
	resolver HostResolver,
	lister RecordLister,
	address AddressResolver,
	locker SessionLocker,
	opts CrawlerOptions,
) *CrawlerUsecase {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 50
	}
	return &CrawlerUsecase{
		registry: registry,
		checkins: checkins,
		follows:  follows,
		resolver: resolver,
		lister:   lister,
		address:  address,
		locker:   locker,
		opts:     opts,
	}
}

type sessionCounters struct {
	users   atomic.Int64
	records atomic.Int64
	errors  atomic.Int64
}

// RunCheckinSession crawls one page of every tracked repo's check-in
// collection and upserts the canonical records.
func (uc *CrawlerUsecase) RunCheckinSession(ctx context.Context) (domain.CrawlSummary, error) {
	ctx, span := tracer.Start(ctx, "Crawler.Usecase.RunCheckinSession")
	defer span.End()

	ok, err := uc.locker.Acquire(ctx, checkinLockKey, sessionLockTTL)
	if err != nil {
		return domain.CrawlSummary{}, err
	}
	if !ok {
		return domain.CrawlSummary{}, ErrSessionRunning
	}
	defer uc.locker.Release(ctx, checkinLockKey)

	started := time.Now()
	sessionID := uuid.NewString()

	repos, err := uc.registry.ListForCrawl(ctx)
	if err != nil {
		// Failing to load the crawl list is the one error that fails
		// the whole session.
		span.RecordError(err)
		return domain.CrawlSummary{SessionID: sessionID}, err
	}

	var counters sessionCounters
	uc.runBatches(ctx, repos, &counters, uc.crawlRepoCheckins)

	summary := domain.CrawlSummary{
		Success:          true,
		SessionID:        sessionID,
		UsersProcessed:   counters.users.Load(),
		RecordsProcessed: counters.records.Load(),
		Errors:           counters.errors.Load(),
		DurationMs:       time.Since(started).Milliseconds(),
	}

	slog.Info("check-in crawl session finished",
		slog.String("sessionId", summary.SessionID),
		slog.Int64("usersProcessed", summary.UsersProcessed),
		slog.Int64("recordsProcessed", summary.RecordsProcessed),
		slog.Int64("errors", summary.Errors),
		slog.Int64("durationMs", summary.DurationMs),
		slog.String("module", "crawler"),
	)

	return summary, nil
}

// RunFollowSession reconciles every tracked repo's follow graph.
func (uc *CrawlerUsecase) RunFollowSession(ctx context.Context) (domain.CrawlSummary, error) {
	ctx, span := tracer.Start(ctx, "Crawler.Usecase.RunFollowSession")
	defer span.End()

	ok, err := uc.locker.Acquire(ctx, followLockKey, sessionLockTTL)
	if err != nil {
		return domain.CrawlSummary{}, err
	}
	if !ok {
		return domain.CrawlSummary{}, ErrSessionRunning
	}
	defer uc.locker.Release(ctx, followLockKey)

	started := time.Now()
	sessionID := uuid.NewString()

	repos, err := uc.registry.ListForFollowCrawl(ctx)
	if err != nil {
		span.RecordError(err)
		return domain.CrawlSummary{SessionID: sessionID}, err
	}

	var counters sessionCounters
	uc.runBatches(ctx, repos, &counters, uc.crawlRepoFollows)

	summary := domain.CrawlSummary{
		Success:          true,
		SessionID:        sessionID,
		UsersProcessed:   counters.users.Load(),
		RecordsProcessed: counters.records.Load(),
		Errors:           counters.errors.Load(),
		DurationMs:       time.Since(started).Milliseconds(),
	}

	slog.Info("follow crawl session finished",
		slog.String("sessionId", summary.SessionID),
		slog.Int64("usersProcessed", summary.UsersProcessed),
		slog.Int64("errors", summary.Errors),
		slog.Int64("durationMs", summary.DurationMs),
		slog.String("module", "crawler"),
	)

	return summary, nil
}

// runBatches partitions repos into fixed-size batches, crawling each
// batch concurrently with the delay inserted between batches, not between
// individual repos.
func (uc *CrawlerUsecase) runBatches(ctx context.Context, repos []domain.TrackedRepo, counters *sessionCounters, crawl func(context.Context, domain.TrackedRepo, *sessionCounters)) {
	for start := 0; start < len(repos); start += uc.opts.BatchSize {
		if start > 0 && uc.opts.BatchDelay > 0 {
			time.Sleep(uc.opts.BatchDelay)
		}

		end := start + uc.opts.BatchSize
		if end > len(repos) {
			end = len(repos)
		}

		var wg sync.WaitGroup
		for _, repo := range repos[start:end] {
			wg.Add(1)
			go func(repo domain.TrackedRepo) {
				defer wg.Done()
				crawl(ctx, repo, counters)
			}(repo)
		}
		wg.Wait()
	}
}

func (uc *CrawlerUsecase) crawlRepoCheckins(ctx context.Context, repo domain.TrackedRepo, counters *sessionCounters) {
	// The timestamp advances no matter what happens below: a repo with
	// zero records or a dead server still moves to the back of the
	// schedule, so outages self-heal on the next full pass instead of
	// starving everyone else in a tight retry loop.
	defer func() {
		if err := uc.registry.TouchCheckinCrawl(ctx, repo.DID, time.Now().UTC()); err != nil {
			slog.Error("failed to advance crawl timestamp",
				slog.String("did", repo.DID),
				slog.String("error", err.Error()),
				slog.String("module", "crawler"),
			)
		}
	}()

	serverURL, err := uc.resolver.ResolveHostingServer(ctx, repo.DID)
	if err != nil {
		counters.errors.Add(1)
		slog.Warn("skipping repo: hosting server resolution failed",
			slog.String("did", repo.DID),
			slog.String("error", err.Error()),
			slog.String("module", "crawler"),
		)
		return
	}

	listing, err := uc.lister.ListRecords(ctx, serverURL, repo.DID, checkind.CollectionCheckin, uc.opts.PageLimit, false, "")
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			// Absent collection: nothing published yet, not an error. The
			// server still answered, so its timestamp advances too.
			counters.users.Add(1)
			uc.touchServer(ctx, repo.HostingServerURL)
			return
		}
		counters.errors.Add(1)
		slog.Warn("skipping repo: listing failed",
			slog.String("did", repo.DID),
			slog.String("error", err.Error()),
			slog.String("module", "crawler"),
		)
		return
	}

	// Records process in remote-returned order, most recent first.
	for _, envelope := range listing.Records {
		if uc.processCheckinRecord(ctx, repo, envelope) {
			counters.records.Add(1)
		} else {
			counters.errors.Add(1)
		}
	}

	counters.users.Add(1)
	uc.touchServer(ctx, repo.HostingServerURL)
}

func (uc *CrawlerUsecase) touchServer(ctx context.Context, serverURL string) {
	if err := uc.registry.TouchServerCrawl(ctx, serverURL, time.Now().UTC()); err != nil {
		slog.Error("failed to advance server crawl timestamp",
			slog.String("server", serverURL),
			slog.String("error", err.Error()),
			slog.String("module", "crawler"),
		)
	}
}

// processCheckinRecord adapts and stores one record, reporting success.
func (uc *CrawlerUsecase) processCheckinRecord(ctx context.Context, repo domain.TrackedRepo, envelope checkind.RecordEnvelope) bool {
	c, err := lexicon.Convert(envelope.Value, repo.DID, envelope.URI)
	if err != nil {
		// Rejections are expected with partial foreign data; they are
		// counted, never surfaced.
		slog.Debug("record rejected",
			slog.String("uri", envelope.URI),
			slog.String("reason", err.Error()),
			slog.String("module", "crawler"),
		)
		return false
	}

	// Legacy address pointer: follow it best effort before storing. A
	// failed fetch stores the check-in without address fields, eligible
	// for later backfill.
	if c.AddressRefURI != "" && c.Address.Empty() {
		resolved, err := uc.address.Resolve(ctx, checkind.StrongRef{URI: c.AddressRefURI, CID: c.AddressRefCID})
		if err == nil {
			c.Address = resolved.Address
			if c.VenueName == "" {
				c.VenueName = resolved.VenueName
			}
		} else {
			slog.Debug("address pointer resolution failed",
				slog.String("uri", c.AddressRefURI),
				slog.String("error", err.Error()),
				slog.String("module", "crawler"),
			)
		}
	}

	if err := uc.checkins.Upsert(ctx, c); err != nil {
		slog.Error("failed to upsert check-in",
			slog.String("uri", c.URI),
			slog.String("error", err.Error()),
			slog.String("module", "crawler"),
		)
		return false
	}

	return true
}

func (uc *CrawlerUsecase) crawlRepoFollows(ctx context.Context, repo domain.TrackedRepo, counters *sessionCounters) {
	defer func() {
		if err := uc.registry.TouchFollowCrawl(ctx, repo.DID, time.Now().UTC()); err != nil {
			slog.Error("failed to advance follow crawl timestamp",
				slog.String("did", repo.DID),
				slog.String("error", err.Error()),
				slog.String("module", "crawler"),
			)
		}
	}()

	serverURL, err := uc.resolver.ResolveHostingServer(ctx, repo.DID)
	if err != nil {
		counters.errors.Add(1)
		return
	}

	current, truncated, err := uc.fetchFollowSet(ctx, serverURL, repo.DID)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			current = nil
			truncated = false
		} else {
			counters.errors.Add(1)
			return
		}
	}

	var diff domain.FollowDiff
	if truncated {
		// A partial set cannot drive removals: every follow beyond the
		// page cap would look unfollowed.
		slog.Warn("follow listing truncated, applying additions only",
			slog.String("did", repo.DID),
			slog.String("module", "crawler"),
		)
		diff, err = uc.follows.SyncAdditions(ctx, repo.DID, current)
	} else {
		diff, err = uc.follows.Sync(ctx, repo.DID, current)
	}
	if err != nil {
		counters.errors.Add(1)
		slog.Error("follow reconciliation failed",
			slog.String("did", repo.DID),
			slog.String("error", err.Error()),
			slog.String("module", "crawler"),
		)
		return
	}

	counters.users.Add(1)
	counters.records.Add(int64(diff.Added + diff.Removed))
}

// fetchFollowSet walks the follow collection up to maxFollowPages. The
// second result reports truncation: the walk stopped with a cursor still
// outstanding, so the returned set is incomplete.
func (uc *CrawlerUsecase) fetchFollowSet(ctx context.Context, serverURL, did string) ([]string, bool, error) {
	var subjects []string
	cursor := ""
	for page := 0; page < maxFollowPages; page++ {
		listing, err := uc.lister.ListRecords(ctx, serverURL, did, checkind.CollectionFollow, 100, false, cursor)
		if err != nil {
			return nil, false, err
		}

		for _, envelope := range listing.Records {
			var value struct {
				Subject string `json:"subject"`
			}
			if err := json.Unmarshal(envelope.Value, &value); err != nil {
				continue
			}
			if value.Subject != "" {
				subjects = append(subjects, value.Subject)
			}
		}

		if listing.Cursor == "" || len(listing.Records) == 0 {
			return subjects, false, nil
		}
		cursor = listing.Cursor
	}
	return subjects, true, nil
}

// BackfillAddresses repairs check-ins whose address pointer fetch failed
// at crawl time. Idempotent and separately schedulable.
func (uc *CrawlerUsecase) BackfillAddresses(ctx context.Context, limit int) (domain.CrawlSummary, error) {
	ctx, span := tracer.Start(ctx, "Crawler.Usecase.BackfillAddresses")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	started := time.Now()
	sessionID := uuid.NewString()

	pending, err := uc.checkins.ListMissingAddress(ctx, limit)
	if err != nil {
		span.RecordError(err)
		return domain.CrawlSummary{SessionID: sessionID}, err
	}

	var repaired, failed int64
	for _, c := range pending {
		resolved, err := uc.address.Resolve(ctx, checkind.StrongRef{URI: c.AddressRefURI, CID: c.AddressRefCID})
		if err != nil {
			failed++
			continue
		}
		if err := uc.checkins.UpdateAddress(ctx, c.URI, resolved.VenueName, resolved.Address); err != nil {
			failed++
			continue
		}
		repaired++
	}

	return domain.CrawlSummary{
		Success:          true,
		SessionID:        sessionID,
		RecordsProcessed: repaired,
		Errors:           failed,
		DurationMs:       time.Since(started).Milliseconds(),
	}, nil
}
