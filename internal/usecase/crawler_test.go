package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/atgeo/checkind"
	"github.com/atgeo/checkind/client"
	"github.com/atgeo/checkind/internal/domain"
)

type mockRegistryRepo struct {
	mu             sync.Mutex
	repos          []domain.TrackedRepo
	checkinTouched map[string]time.Time
	followTouched  map[string]time.Time
	serverTouched  map[string]time.Time
}

func newMockRegistryRepo(repos ...domain.TrackedRepo) *mockRegistryRepo {
	return &mockRegistryRepo{
		repos:          repos,
		checkinTouched: make(map[string]time.Time),
		followTouched:  make(map[string]time.Time),
		serverTouched:  make(map[string]time.Time),
	}
}

func (m *mockRegistryRepo) Register(ctx context.Context, did, handle, serverURL string) error {
	return nil
}
func (m *mockRegistryRepo) Remove(ctx context.Context, did string) error { return nil }
func (m *mockRegistryRepo) Get(ctx context.Context, did string) (domain.TrackedRepo, error) {
	return domain.TrackedRepo{}, domain.ErrNotFound
}
func (m *mockRegistryRepo) ListForCrawl(ctx context.Context) ([]domain.TrackedRepo, error) {
	return m.repos, nil
}
func (m *mockRegistryRepo) ListForFollowCrawl(ctx context.Context) ([]domain.TrackedRepo, error) {
	return m.repos, nil
}
func (m *mockRegistryRepo) ListServersForCrawl(ctx context.Context) ([]domain.HostingServer, error) {
	return nil, nil
}
func (m *mockRegistryRepo) TouchCheckinCrawl(ctx context.Context, did string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkinTouched[did] = t
	return nil
}
func (m *mockRegistryRepo) TouchFollowCrawl(ctx context.Context, did string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followTouched[did] = t
	return nil
}
func (m *mockRegistryRepo) TouchServerCrawl(ctx context.Context, serverURL string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverTouched[serverURL] = t
	return nil
}

type mockCheckinRepo struct {
	mu       sync.Mutex
	upserted []domain.Checkin
}

func (m *mockCheckinRepo) Upsert(ctx context.Context, c domain.Checkin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserted = append(m.upserted, c)
	return nil
}
func (m *mockCheckinRepo) GetByURI(ctx context.Context, uri string) (domain.Checkin, error) {
	return domain.Checkin{}, domain.ErrNotFound
}
func (m *mockCheckinRepo) List(ctx context.Context, authorDID string, limit int) ([]domain.Checkin, error) {
	return nil, nil
}
func (m *mockCheckinRepo) ListMissingAddress(ctx context.Context, limit int) ([]domain.Checkin, error) {
	return nil, nil
}
func (m *mockCheckinRepo) UpdateAddress(ctx context.Context, uri string, venueName string, addr domain.Address) error {
	return nil
}

type mockResolver struct {
	servers map[string]string
	err     error
}

func (m *mockResolver) ResolveHostingServer(ctx context.Context, did string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if url, ok := m.servers[did]; ok {
		return url, nil
	}
	return "", domain.NotFoundError{Resource: "hosting server"}
}

type mockLister struct {
	mu       sync.Mutex
	listings map[string]checkind.ListRecordsResponse
	errs     map[string]error
}

func (m *mockLister) ListRecords(ctx context.Context, serverURL, did, collection string, limit int, reverse bool, cursor string) (checkind.ListRecordsResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.errs[did]; ok {
		return checkind.ListRecordsResponse{}, err
	}
	return m.listings[did], nil
}

type mockAddressResolver struct {
	resolved domain.ResolvedAddress
	err      error
}

func (m *mockAddressResolver) Resolve(ctx context.Context, ref checkind.StrongRef) (domain.ResolvedAddress, error) {
	if m.err != nil {
		return domain.ResolvedAddress{}, m.err
	}
	return m.resolved, nil
}

type mockLocker struct {
	held bool
}

func (m *mockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return !m.held, nil
}
func (m *mockLocker) Release(ctx context.Context, key string) error { return nil }

func checkinRecord(uri string, lat, lng float64) checkind.RecordEnvelope {
	value, _ := json.Marshal(map[string]any{
		"$type":     "app.dropanchor.checkin",
		"text":      "hi",
		"createdAt": "2025-06-01T12:00:00Z",
		"geo":       map[string]any{"latitude": lat, "longitude": lng},
	})
	return checkind.RecordEnvelope{URI: uri, CID: "bafy", Value: value}
}

func newTestCrawler(registry *mockRegistryRepo, checkins *mockCheckinRepo, resolver *mockResolver, lister *mockLister, locker *mockLocker) *CrawlerUsecase {
	follows := NewFollowUsecase(&mockFollowRepo{})
	return NewCrawlerUsecase(registry, checkins, follows, resolver, lister, &mockAddressResolver{}, locker, CrawlerOptions{BatchSize: 2})
}

func TestCheckinSessionCounts(t *testing.T) {
	registry := newMockRegistryRepo(
		domain.TrackedRepo{DID: "did:plc:a", HostingServerURL: "https://pds.one"},
		domain.TrackedRepo{DID: "did:plc:b", HostingServerURL: "https://pds.one"},
	)
	checkins := &mockCheckinRepo{}
	resolver := &mockResolver{servers: map[string]string{
		"did:plc:a": "https://pds.one",
		"did:plc:b": "https://pds.one",
	}}
	lister := &mockLister{listings: map[string]checkind.ListRecordsResponse{
		"did:plc:a": {Records: []checkind.RecordEnvelope{
			checkinRecord("at://did:plc:a/app.dropanchor.checkin/1", 1, 2),
			checkinRecord("at://did:plc:a/app.dropanchor.checkin/2", 3, 4),
		}},
		"did:plc:b": {Records: []checkind.RecordEnvelope{
			checkinRecord("at://did:plc:b/app.dropanchor.checkin/1", 5, 6),
		}},
	}}

	uc := newTestCrawler(registry, checkins, resolver, lister, &mockLocker{})

	summary, err := uc.RunCheckinSession(context.Background())
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	if summary.UsersProcessed != 2 {
		t.Fatalf("expected 2 users, got %d", summary.UsersProcessed)
	}
	if summary.RecordsProcessed != 3 {
		t.Fatalf("expected 3 records, got %d", summary.RecordsProcessed)
	}
	if summary.Errors != 0 {
		t.Fatalf("expected 0 errors, got %d", summary.Errors)
	}
	if len(checkins.upserted) != 3 {
		t.Fatalf("expected 3 upserts, got %d", len(checkins.upserted))
	}
	if summary.SessionID == "" {
		t.Fatalf("expected a session id")
	}
}

func TestCheckinSessionResolutionFailureIsCounted(t *testing.T) {
	registry := newMockRegistryRepo(
		domain.TrackedRepo{DID: "did:plc:dead", HostingServerURL: "https://pds.gone"},
		domain.TrackedRepo{DID: "did:plc:ok", HostingServerURL: "https://pds.one"},
	)
	checkins := &mockCheckinRepo{}
	resolver := &mockResolver{servers: map[string]string{
		"did:plc:ok": "https://pds.one",
	}}
	lister := &mockLister{listings: map[string]checkind.ListRecordsResponse{
		"did:plc:ok": {Records: []checkind.RecordEnvelope{
			checkinRecord("at://did:plc:ok/app.dropanchor.checkin/1", 1, 2),
		}},
	}}

	uc := newTestCrawler(registry, checkins, resolver, lister, &mockLocker{})

	summary, err := uc.RunCheckinSession(context.Background())
	if err != nil {
		t.Fatalf("one bad repo must not fail the session: %v", err)
	}

	if summary.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", summary.Errors)
	}
	if summary.UsersProcessed != 1 || summary.RecordsProcessed != 1 {
		t.Fatalf("healthy repo must still process, got %+v", summary)
	}

	// The failed repo still moves to the back of the schedule.
	if _, ok := registry.checkinTouched["did:plc:dead"]; !ok {
		t.Fatalf("crawl timestamp must advance even on failure")
	}
}

func TestCheckinSessionAbsentCollection(t *testing.T) {
	registry := newMockRegistryRepo(
		domain.TrackedRepo{DID: "did:plc:empty", HostingServerURL: "https://pds.one"},
	)
	resolver := &mockResolver{servers: map[string]string{"did:plc:empty": "https://pds.one"}}
	lister := &mockLister{errs: map[string]error{"did:plc:empty": client.ErrNotFound}}

	uc := newTestCrawler(registry, &mockCheckinRepo{}, resolver, lister, &mockLocker{})

	summary, err := uc.RunCheckinSession(context.Background())
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	if summary.Errors != 0 {
		t.Fatalf("absent collection is not an error, got %d", summary.Errors)
	}
	if summary.UsersProcessed != 1 {
		t.Fatalf("repo with no collection still counts as processed, got %d", summary.UsersProcessed)
	}
	if _, ok := registry.serverTouched["https://pds.one"]; !ok {
		t.Fatalf("server crawl timestamp must advance when the collection is absent")
	}
}

func TestCheckinSessionRejectedRecordCounted(t *testing.T) {
	private, _ := json.Marshal(map[string]any{
		"$type":      "app.dropanchor.checkin",
		"visibility": "private",
		"geo":        map[string]any{"latitude": 1.0, "longitude": 2.0},
	})
	registry := newMockRegistryRepo(
		domain.TrackedRepo{DID: "did:plc:a", HostingServerURL: "https://pds.one"},
	)
	checkins := &mockCheckinRepo{}
	resolver := &mockResolver{servers: map[string]string{"did:plc:a": "https://pds.one"}}
	lister := &mockLister{listings: map[string]checkind.ListRecordsResponse{
		"did:plc:a": {Records: []checkind.RecordEnvelope{
			{URI: "at://did:plc:a/app.dropanchor.checkin/1", Value: private},
			checkinRecord("at://did:plc:a/app.dropanchor.checkin/2", 1, 2),
		}},
	}}

	uc := newTestCrawler(registry, checkins, resolver, lister, &mockLocker{})

	summary, err := uc.RunCheckinSession(context.Background())
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	if summary.RecordsProcessed != 1 || summary.Errors != 1 {
		t.Fatalf("expected 1 processed and 1 rejected, got %+v", summary)
	}
	if len(checkins.upserted) != 1 {
		t.Fatalf("rejected record must not be stored")
	}
}

func TestSessionLockHeld(t *testing.T) {
	registry := newMockRegistryRepo()
	uc := newTestCrawler(registry, &mockCheckinRepo{}, &mockResolver{}, &mockLister{}, &mockLocker{held: true})

	if _, err := uc.RunCheckinSession(context.Background()); !errors.Is(err, ErrSessionRunning) {
		t.Fatalf("expected ErrSessionRunning, got %v", err)
	}
	if _, err := uc.RunFollowSession(context.Background()); !errors.Is(err, ErrSessionRunning) {
		t.Fatalf("expected ErrSessionRunning, got %v", err)
	}
}

func TestFollowSessionAppliesDiff(t *testing.T) {
	followValue := func(subject string) checkind.RecordEnvelope {
		v, _ := json.Marshal(map[string]any{
			"$type":   checkind.CollectionFollow,
			"subject": subject,
		})
		return checkind.RecordEnvelope{URI: "at://did:plc:a/" + checkind.CollectionFollow + "/" + subject, Value: v}
	}

	registry := newMockRegistryRepo(
		domain.TrackedRepo{DID: "did:plc:a", HostingServerURL: "https://pds.one"},
	)
	followRepo := &mockFollowRepo{stored: []string{"did:plc:old"}}
	resolver := &mockResolver{servers: map[string]string{"did:plc:a": "https://pds.one"}}
	lister := &mockLister{listings: map[string]checkind.ListRecordsResponse{
		"did:plc:a": {Records: []checkind.RecordEnvelope{
			followValue("did:plc:x"),
			followValue("did:plc:y"),
		}},
	}}

	uc := NewCrawlerUsecase(registry, &mockCheckinRepo{}, NewFollowUsecase(followRepo), resolver, lister, &mockAddressResolver{}, &mockLocker{}, CrawlerOptions{BatchSize: 2})

	summary, err := uc.RunFollowSession(context.Background())
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	if summary.UsersProcessed != 1 {
		t.Fatalf("expected 1 user, got %d", summary.UsersProcessed)
	}
	// 2 additions + 1 removal.
	if summary.RecordsProcessed != 3 {
		t.Fatalf("expected 3 edge changes, got %d", summary.RecordsProcessed)
	}
	if _, ok := registry.followTouched["did:plc:a"]; !ok {
		t.Fatalf("follow crawl timestamp must advance")
	}
}

// endlessFollowLister serves a cursored follow collection that never ends,
// with unique subjects per page.
type endlessFollowLister struct {
	mu   sync.Mutex
	page int
}

func (l *endlessFollowLister) ListRecords(ctx context.Context, serverURL, did, collection string, limit int, reverse bool, cursor string) (checkind.ListRecordsResponse, error) {
	l.mu.Lock()
	page := l.page
	l.page++
	l.mu.Unlock()

	records := make([]checkind.RecordEnvelope, 0, limit)
	for i := 0; i < limit; i++ {
		subject := fmt.Sprintf("did:plc:f%05d", page*limit+i)
		value, _ := json.Marshal(map[string]any{"subject": subject})
		records = append(records, checkind.RecordEnvelope{
			URI:   "at://" + did + "/" + collection + "/" + subject,
			Value: value,
		})
	}
	return checkind.ListRecordsResponse{Cursor: strconv.Itoa(page + 1), Records: records}, nil
}

func TestFollowSessionTruncatedFetchKeepsStoredEdges(t *testing.T) {
	registry := newMockRegistryRepo(
		domain.TrackedRepo{DID: "did:plc:a", HostingServerURL: "https://pds.one"},
	)
	// An edge whose subject lies beyond the page cap of the cursor walk.
	followRepo := &mockFollowRepo{stored: []string{"did:plc:f02500"}}
	resolver := &mockResolver{servers: map[string]string{"did:plc:a": "https://pds.one"}}

	uc := NewCrawlerUsecase(registry, &mockCheckinRepo{}, NewFollowUsecase(followRepo), resolver, &endlessFollowLister{}, &mockAddressResolver{}, &mockLocker{}, CrawlerOptions{BatchSize: 2})

	summary, err := uc.RunFollowSession(context.Background())
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	if len(followRepo.removed) != 0 {
		t.Fatalf("a truncated follow fetch must not remove stored edges, got %v", followRepo.removed)
	}
	if len(followRepo.added) == 0 {
		t.Fatalf("additions from the fetched pages must still apply")
	}
	if summary.UsersProcessed != 1 {
		t.Fatalf("expected 1 user, got %d", summary.UsersProcessed)
	}
}

func TestCheckinRecordAddressPointerResolved(t *testing.T) {
	withRef, _ := json.Marshal(map[string]any{
		"$type": "app.dropanchor.checkin",
		"geo":   map[string]any{"latitude": 1.0, "longitude": 2.0},
		"addressRef": map[string]any{
			"uri": "at://did:plc:a/community.lexicon.location.address/r1",
			"cid": "bafy1",
		},
	})

	registry := newMockRegistryRepo(
		domain.TrackedRepo{DID: "did:plc:a", HostingServerURL: "https://pds.one"},
	)
	checkins := &mockCheckinRepo{}
	resolver := &mockResolver{servers: map[string]string{"did:plc:a": "https://pds.one"}}
	lister := &mockLister{listings: map[string]checkind.ListRecordsResponse{
		"did:plc:a": {Records: []checkind.RecordEnvelope{
			{URI: "at://did:plc:a/app.dropanchor.checkin/1", Value: withRef},
		}},
	}}
	address := &mockAddressResolver{resolved: domain.ResolvedAddress{
		VenueName: "Blue Bottle",
		Address:   domain.Address{Street: "300 Webster St", Locality: "Oakland"},
	}}

	uc := NewCrawlerUsecase(registry, checkins, NewFollowUsecase(&mockFollowRepo{}), resolver, lister, address, &mockLocker{}, CrawlerOptions{BatchSize: 2})

	if _, err := uc.RunCheckinSession(context.Background()); err != nil {
		t.Fatalf("session failed: %v", err)
	}

	if len(checkins.upserted) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(checkins.upserted))
	}
	got := checkins.upserted[0]
	if got.Address.Street != "300 Webster St" || got.VenueName != "Blue Bottle" {
		t.Fatalf("expected resolved address merged in, got %+v", got)
	}
	if got.AddressRefURI == "" {
		t.Fatalf("pointer must be retained for audit")
	}
}

func TestCheckinRecordAddressPointerFailureStillStores(t *testing.T) {
	withRef, _ := json.Marshal(map[string]any{
		"$type": "app.dropanchor.checkin",
		"geo":   map[string]any{"latitude": 1.0, "longitude": 2.0},
		"addressRef": map[string]any{
			"uri": "at://did:plc:a/community.lexicon.location.address/r1",
			"cid": "bafy1",
		},
	})

	registry := newMockRegistryRepo(
		domain.TrackedRepo{DID: "did:plc:a", HostingServerURL: "https://pds.one"},
	)
	checkins := &mockCheckinRepo{}
	resolver := &mockResolver{servers: map[string]string{"did:plc:a": "https://pds.one"}}
	lister := &mockLister{listings: map[string]checkind.ListRecordsResponse{
		"did:plc:a": {Records: []checkind.RecordEnvelope{
			{URI: "at://did:plc:a/app.dropanchor.checkin/1", Value: withRef},
		}},
	}}
	address := &mockAddressResolver{err: domain.NotFoundError{Resource: "address record"}}

	uc := NewCrawlerUsecase(registry, checkins, NewFollowUsecase(&mockFollowRepo{}), resolver, lister, address, &mockLocker{}, CrawlerOptions{BatchSize: 2})

	summary, err := uc.RunCheckinSession(context.Background())
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	if summary.RecordsProcessed != 1 || summary.Errors != 0 {
		t.Fatalf("pointer failure is best effort, got %+v", summary)
	}
	if len(checkins.upserted) != 1 {
		t.Fatalf("check-in must store without address fields")
	}
	if !checkins.upserted[0].Address.Empty() {
		t.Fatalf("address fields must stay empty for later backfill")
	}
}

func TestRegisterValidation(t *testing.T) {
	uc := NewRegistryUsecase(newMockRegistryRepo())

	if err := uc.Register(context.Background(), "not-a-did", "alice.test", "https://pds.one"); err == nil {
		t.Fatalf("expected invalid did to be rejected")
	}
	if err := uc.Register(context.Background(), "did:plc:abc", "alice.test", "ftp://pds.one"); err == nil {
		t.Fatalf("expected invalid server url to be rejected")
	}
	if err := uc.Register(context.Background(), "did:plc:abc", "alice.test", "https://pds.one"); err != nil {
		t.Fatalf("valid registration failed: %v", err)
	}
}
