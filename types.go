package checkind

import (
	"encoding/json"
)

// Collections crawled from hosting servers.
const (
	CollectionCheckin = "app.dropanchor.checkin"
	CollectionFollow  = "app.bsky.graph.follow"
	CollectionAddress = "community.lexicon.location.address"
)

// ServiceTypePDS tags the repo-hosting endpoint inside a DID document.
const ServiceTypePDS = "AtprotoPersonalDataServer"

// DIDDocument is the directory document resolved for a DID.
type DIDDocument struct {
	Context     []string     `json:"@context,omitempty"`
	ID          string       `json:"id"`
	AlsoKnownAs []string     `json:"alsoKnownAs,omitempty"`
	Service     []DIDService `json:"service,omitempty"`
}

type DIDService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// RecordEnvelope is one record as returned by a hosting server.
type RecordEnvelope struct {
	URI   string          `json:"uri"`
	CID   string          `json:"cid"`
	Value json.RawMessage `json:"value"`
}

// ListRecordsResponse is the paginated listing of one collection.
type ListRecordsResponse struct {
	Cursor  string           `json:"cursor,omitempty"`
	Records []RecordEnvelope `json:"records"`
}

// StrongRef is a content-addressed pointer to another record.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}
