package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/bradfitz/gomemcache/memcache"
	pkgerrors "github.com/pkg/errors"
	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/otel"

	"github.com/atgeo/checkind"
	"github.com/atgeo/checkind/client"
	"github.com/atgeo/checkind/internal/domain"
)

var addressTracer = otel.Tracer("address")

// RecordClient is the subset of the HTTP client the address resolver needs.
type RecordClient interface {
	GetRecord(ctx context.Context, serverURL, did, collection, rkey string) (checkind.RecordEnvelope, error)
}

// HostResolver resolves a repo owner's hosting server.
type HostResolver interface {
	ResolveHostingServer(ctx context.Context, did string) (string, error)
}

// AddressService resolves a check-in's content-addressed address pointer
// from its owning repo. This is best-effort enrichment: callers swallow
// failures and leave the check-in eligible for later backfill.
type AddressService struct {
	client   RecordClient
	resolver HostResolver
	mc       *memcache.Client
}

func NewAddressService(cl RecordClient, resolver HostResolver, mc *memcache.Client) *AddressService {
	return &AddressService{
		client:   cl,
		resolver: resolver,
		mc:       mc,
	}
}

// Resolve fetches the address record behind a (uri, cid) pointer. The
// pointer is content addressed, so resolved records cache indefinitely.
func (s *AddressService) Resolve(ctx context.Context, ref checkind.StrongRef) (domain.ResolvedAddress, error) {
	ctx, span := addressTracer.Start(ctx, "Address.Service.Resolve")
	defer span.End()

	cacheKey := addressCacheKey(ref)
	if s.mc != nil {
		if item, err := s.mc.Get(cacheKey); err == nil {
			var cached domain.ResolvedAddress
			if err := json.Unmarshal(item.Value, &cached); err == nil {
				return cached, nil
			}
		}
	}

	ownerDID, collection, rkey, err := checkind.ParseATURI(ref.URI)
	if err != nil {
		return domain.ResolvedAddress{}, domain.NotFoundError{Resource: "address record"}
	}

	serverURL, err := s.resolver.ResolveHostingServer(ctx, ownerDID)
	if err != nil {
		return domain.ResolvedAddress{}, err
	}

	envelope, err := s.client.GetRecord(ctx, serverURL, ownerDID, collection, rkey)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return domain.ResolvedAddress{}, domain.NotFoundError{Resource: "address record"}
		}
		span.RecordError(pkgerrors.Wrap(err, "address fetch failed"))
		return domain.ResolvedAddress{}, err
	}

	if ref.CID != "" && envelope.CID != "" && envelope.CID != ref.CID {
		// The record changed since the pointer was written; the hash
		// no longer vouches for the content.
		slog.Warn("address pointer hash mismatch",
			slog.String("uri", ref.URI),
			slog.String("module", "address"),
		)
		return domain.ResolvedAddress{}, domain.NotFoundError{Resource: "address record"}
	}

	var value map[string]any
	if err := json.Unmarshal(envelope.Value, &value); err != nil {
		return domain.ResolvedAddress{}, domain.NotFoundError{Resource: "address record"}
	}

	resolved := domain.ResolvedAddress{
		VenueName: stringField(value, "name"),
		Address: domain.Address{
			Street:     stringField(value, "street"),
			Locality:   stringField(value, "locality"),
			Region:     stringField(value, "region"),
			Country:    stringField(value, "country"),
			PostalCode: stringField(value, "postalCode"),
		},
	}

	if s.mc != nil {
		if payload, err := json.Marshal(resolved); err == nil {
			_ = s.mc.Set(&memcache.Item{Key: cacheKey, Value: payload})
		}
	}

	return resolved, nil
}

// addressCacheKey hashes the pointer; memcache keys are capped at 250
// bytes and AT URIs can exceed that.
func addressCacheKey(ref checkind.StrongRef) string {
	sum := xxh3.HashString(ref.URI + "|" + ref.CID)
	return "addr:" + strconv.FormatUint(sum, 16)
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
