package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	pkgerrors "github.com/pkg/errors"

	"github.com/atgeo/checkind"
)

const defaultTimeout = 10 * time.Second

// ErrNotFound is returned when the remote reports a missing resource.
var ErrNotFound = errors.New("remote resource not found")

// Client talks to DID directories and hosting servers. Every request
// carries a fixed timeout so one unresponsive server cannot stall a batch.
type Client struct {
	client       *http.Client
	cache        *cache.Cache
	userAgent    string
	plcDirectory string
}

func New(plcDirectory string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := http.Client{
		Timeout: timeout,
	}

	c := &Client{
		client:       &httpClient,
		cache:        cache.New(10*time.Minute, 15*time.Minute),
		userAgent:    "checkind/0.1",
		plcDirectory: strings.TrimSuffix(plcDirectory, "/"),
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	return http.DefaultTransport.RoundTrip(req)
}

// ResolveDIDDocument fetches the directory document for a DID.
func (c *Client) ResolveDIDDocument(ctx context.Context, did string) (checkind.DIDDocument, error) {
	cacheKey := "didDoc:" + did
	if x, found := c.cache.Get(cacheKey); found {
		return x.(checkind.DIDDocument), nil
	}

	endpoint := c.plcDirectory + "/" + url.PathEscape(did)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return checkind.DIDDocument{}, pkgerrors.Wrap(err, "failed to create directory request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return checkind.DIDDocument{}, pkgerrors.Wrap(err, "failed to reach directory")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return checkind.DIDDocument{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return checkind.DIDDocument{}, pkgerrors.Errorf("unexpected directory status code: %d", resp.StatusCode)
	}

	var doc checkind.DIDDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return checkind.DIDDocument{}, pkgerrors.Wrap(err, "malformed directory document")
	}

	c.cache.Set(cacheKey, doc, cache.DefaultExpiration)

	return doc, nil
}

// ListRecords fetches one page of a repo's collection. Hosting servers
// return records newest first unless reverse is set.
func (c *Client) ListRecords(ctx context.Context, serverURL, did, collection string, limit int, reverse bool, cursor string) (checkind.ListRecordsResponse, error) {
	q := url.Values{}
	q.Set("repo", did)
	q.Set("collection", collection)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if reverse {
		q.Set("reverse", "true")
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	endpoint := strings.TrimSuffix(serverURL, "/") + "/xrpc/com.atproto.repo.listRecords?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return checkind.ListRecordsResponse{}, pkgerrors.Wrap(err, "failed to create listRecords request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return checkind.ListRecordsResponse{}, pkgerrors.Wrap(err, "failed to reach hosting server")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
		// An absent collection is indistinguishable from an empty one for
		// the crawler: both mean "nothing to index this pass".
		return checkind.ListRecordsResponse{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return checkind.ListRecordsResponse{}, pkgerrors.Errorf("unexpected listRecords status code: %d", resp.StatusCode)
	}

	var listing checkind.ListRecordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return checkind.ListRecordsResponse{}, pkgerrors.Wrap(err, "malformed listRecords response")
	}

	return listing, nil
}

// GetRecord fetches a single record by repo, collection and record key.
func (c *Client) GetRecord(ctx context.Context, serverURL, did, collection, rkey string) (checkind.RecordEnvelope, error) {
	q := url.Values{}
	q.Set("repo", did)
	q.Set("collection", collection)
	q.Set("rkey", rkey)

	endpoint := strings.TrimSuffix(serverURL, "/") + "/xrpc/com.atproto.repo.getRecord?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return checkind.RecordEnvelope{}, pkgerrors.Wrap(err, "failed to create getRecord request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return checkind.RecordEnvelope{}, pkgerrors.Wrap(err, "failed to reach hosting server")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
		return checkind.RecordEnvelope{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return checkind.RecordEnvelope{}, pkgerrors.Errorf("unexpected getRecord status code: %d", resp.StatusCode)
	}

	var envelope checkind.RecordEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return checkind.RecordEnvelope{}, pkgerrors.Wrap(err, "malformed getRecord response")
	}

	return envelope, nil
}
