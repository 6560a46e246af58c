package service

import (
	"context"
	"errors"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/atgeo/checkind"
	"github.com/atgeo/checkind/client"
	"github.com/atgeo/checkind/internal/domain"
)

var tracer = otel.Tracer("resolver")

// DirectoryClient is the subset of the HTTP client the resolver needs.
type DirectoryClient interface {
	ResolveDIDDocument(ctx context.Context, did string) (checkind.DIDDocument, error)
}

// ResolverService maps a DID to its current hosting-server URL. Well-known
// hosts resolve without a network call; everything else goes through the
// directory. A failed resolution means "skip this repo this cycle", never
// a fatal error.
type ResolverService struct {
	client    DirectoryClient
	wellKnown map[string]string
}

func NewResolverService(cl DirectoryClient, wellKnown map[string]string) *ResolverService {
	if wellKnown == nil {
		wellKnown = map[string]string{}
	}
	return &ResolverService{
		client:    cl,
		wellKnown: wellKnown,
	}
}

// ResolveHostingServer returns the hosting-server URL for a DID, or
// domain.ErrNotFound when the directory has no usable entry.
func (s *ResolverService) ResolveHostingServer(ctx context.Context, did string) (string, error) {
	ctx, span := tracer.Start(ctx, "Resolver.Service.ResolveHostingServer")
	defer span.End()

	if url, ok := s.wellKnown[did]; ok {
		return url, nil
	}

	if !checkind.IsDID(did) {
		return "", domain.NotFoundError{Resource: "hosting server"}
	}

	doc, err := s.client.ResolveDIDDocument(ctx, did)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return "", domain.NotFoundError{Resource: "hosting server"}
		}
		span.RecordError(pkgerrors.Wrap(err, "directory lookup failed"))
		return "", err
	}

	for _, svc := range doc.Service {
		if svc.Type == checkind.ServiceTypePDS || strings.HasSuffix(svc.ID, "#atproto_pds") {
			if svc.ServiceEndpoint == "" {
				continue
			}
			return svc.ServiceEndpoint, nil
		}
	}

	return "", domain.NotFoundError{Resource: "hosting server"}
}
