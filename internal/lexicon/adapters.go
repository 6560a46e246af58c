package lexicon

import (
	"encoding/json"
	"time"

	"github.com/atgeo/checkind/internal/domain"
)

// Transform converts one foreign record into the canonical check-in shape
// or rejects it with a RejectionError.
type Transform func(value map[string]any, authorDID, uri string) (domain.Checkin, error)

// Adapter binds a schema id to its transform. The registry is a fixed,
// explicitly ordered table so new lexicons are additive.
type Adapter struct {
	SchemaID  string
	SourceTag string
	Transform Transform
}

const (
	SchemaDropanchor = "app.dropanchor.checkin"
	SchemaCommunity  = "community.lexicon.checkin"
)

var registry = []Adapter{
	{SchemaID: SchemaDropanchor, SourceTag: "dropanchor", Transform: transformDropanchor},
	{SchemaID: SchemaCommunity, SourceTag: "community", Transform: transformCommunity},
}

// Registry returns the ordered adapter table.
func Registry() []Adapter {
	return registry
}

// Convert dispatches a raw record to its adapter. Records carrying a $type
// tag go straight to the matching adapter; tag-less records fall back to
// ordered trial.
func Convert(raw json.RawMessage, authorDID, uri string) (domain.Checkin, error) {
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return domain.Checkin{}, RejectionError{Reason: "record is not a JSON object"}
	}

	if schema, ok := value["$type"].(string); ok && schema != "" {
		for _, a := range registry {
			if a.SchemaID == schema {
				return a.Transform(value, authorDID, uri)
			}
		}
		return domain.Checkin{}, RejectionError{Reason: "no adapter for schema " + schema}
	}

	for _, a := range registry {
		checkin, err := a.Transform(value, authorDID, uri)
		if err == nil {
			return checkin, nil
		}
	}

	return domain.Checkin{}, RejectionError{Reason: "no adapter accepted untagged record"}
}

// rejectNonPublic enforces the visibility flag shared by both lexicons.
func rejectNonPublic(value map[string]any) error {
	visibility, ok := value["visibility"].(string)
	if ok && visibility != "" && visibility != "public" {
		return RejectionError{Reason: "record is not public"}
	}
	return nil
}

func parseCreatedAt(value map[string]any, key string) time.Time {
	if s, ok := value[key].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func transformDropanchor(value map[string]any, authorDID, uri string) (domain.Checkin, error) {
	if err := rejectNonPublic(value); err != nil {
		return domain.Checkin{}, err
	}

	lat, lng, err := extractCoordinates(value)
	if err != nil {
		return domain.Checkin{}, err
	}

	address, venueName, ref := extractAddress(value)
	if venueName == "" {
		venueName = stringField(value, "venueName")
	}

	return domain.Checkin{
		URI:           uri,
		AuthorDID:     authorDID,
		Text:          stringField(value, "text"),
		CreatedAt:     parseCreatedAt(value, "createdAt"),
		Latitude:      lat,
		Longitude:     lng,
		VenueName:     venueName,
		Category:      stringField(value, "category"),
		CategoryGroup: stringField(value, "categoryGroup"),
		CategoryIcon:  stringField(value, "categoryIcon"),
		Address:       address,
		AddressRefURI: ref.URI,
		AddressRefCID: ref.CID,
		SourceLexicon: SchemaDropanchor,
	}, nil
}

func transformCommunity(value map[string]any, authorDID, uri string) (domain.Checkin, error) {
	if err := rejectNonPublic(value); err != nil {
		return domain.Checkin{}, err
	}

	location, ok := value["location"].(map[string]any)
	if !ok {
		return domain.Checkin{}, RejectionError{Reason: "missing geolocation"}
	}
	lat, err := parseCoordinate(location["latitude"])
	if err != nil {
		return domain.Checkin{}, err
	}
	lng, err := parseCoordinate(location["longitude"])
	if err != nil {
		return domain.Checkin{}, err
	}

	checkin := domain.Checkin{
		URI:           uri,
		AuthorDID:     authorDID,
		Text:          stringField(value, "message"),
		CreatedAt:     parseCreatedAt(value, "createdAt"),
		Latitude:      lat,
		Longitude:     lng,
		SourceLexicon: SchemaCommunity,
	}

	if venue, ok := value["venue"].(map[string]any); ok {
		checkin.VenueName = stringField(venue, "name")
		checkin.Category = stringField(venue, "category")
		checkin.CategoryGroup = stringField(venue, "categoryGroup")
		checkin.CategoryIcon = stringField(venue, "icon")
	}

	return checkin, nil
}
