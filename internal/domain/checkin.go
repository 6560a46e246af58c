package domain

import "time"

// Checkin is the canonical check-in shape every lexicon adapts into.
// Upserts are idempotent, keyed by URI.
type Checkin struct {
	ID        int64     `json:"id"`
	URI       string    `json:"uri"`
	AuthorDID string    `json:"authorDid"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	VenueName     string `json:"venueName,omitempty"`
	Category      string `json:"category,omitempty"`
	CategoryGroup string `json:"categoryGroup,omitempty"`
	CategoryIcon  string `json:"categoryIcon,omitempty"`

	Address Address `json:"address"`

	// AddressRefURI/CID retain a legacy address pointer so the backfill
	// job can repair check-ins whose follow-up fetch failed at crawl time.
	AddressRefURI string `json:"addressRefUri,omitempty"`
	AddressRefCID string `json:"addressRefCid,omitempty"`

	SourceLexicon string    `json:"sourceLexicon"`
	IndexedAt     time.Time `json:"indexedAt"`
}

// Address holds the flattened postal fields of a check-in.
type Address struct {
	Street     string `json:"street,omitempty"`
	Locality   string `json:"locality,omitempty"`
	Region     string `json:"region,omitempty"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

// Empty reports whether no postal field is set.
func (a Address) Empty() bool {
	return a == Address{}
}

// ResolvedAddress is the payload of a followed address pointer.
type ResolvedAddress struct {
	VenueName string  `json:"venueName,omitempty"`
	Address   Address `json:"address"`
}
