package lexicon

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/atgeo/checkind"
	"github.com/atgeo/checkind/internal/domain"
)

// RejectionError marks a record that failed adapter validation. Rejected
// records are dropped and counted, never retried.
type RejectionError struct {
	Reason string
}

func (e RejectionError) Error() string {
	return "record rejected: " + e.Reason
}

// Is enables errors.Is matching on RejectionError.
func (e RejectionError) Is(target error) bool {
	_, ok := target.(RejectionError)
	if ok {
		return true
	}
	_, ok = target.(*RejectionError)
	return ok
}

// ErrRejected is the sentinel error for adapter rejections.
var ErrRejected = RejectionError{}

// parseCoordinate accepts the numeric encodings that have drifted through
// committed remote data: native JSON numbers, numeric strings and
// json.Number. Non-finite results reject, they must never be stored.
func parseCoordinate(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, RejectionError{Reason: "unparsable coordinate: " + n.String()}
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, RejectionError{Reason: "unparsable coordinate: " + n}
		}
		f = parsed
	default:
		return 0, RejectionError{Reason: "coordinate has unsupported type"}
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, RejectionError{Reason: "coordinate is not finite"}
	}

	return f, nil
}

// extractCoordinates reconciles the two historical coordinate encodings of
// one lexicon: the current embedded geo object and the legacy coordinates
// object. geo wins when both are present.
func extractCoordinates(value map[string]any) (float64, float64, error) {
	obj, ok := value["geo"].(map[string]any)
	if !ok {
		obj, ok = value["coordinates"].(map[string]any)
	}
	if !ok {
		return 0, 0, RejectionError{Reason: "missing geolocation"}
	}

	lat, err := parseCoordinate(obj["latitude"])
	if err != nil {
		return 0, 0, err
	}
	lng, err := parseCoordinate(obj["longitude"])
	if err != nil {
		return 0, 0, err
	}

	return lat, lng, nil
}

// mapAddress flattens an embedded address object into canonical fields.
func mapAddress(obj map[string]any) domain.Address {
	return domain.Address{
		Street:     stringField(obj, "street"),
		Locality:   stringField(obj, "locality"),
		Region:     stringField(obj, "region"),
		Country:    stringField(obj, "country"),
		PostalCode: stringField(obj, "postalCode"),
	}
}

// extractAddress returns the embedded address when present, or the legacy
// content-addressed pointer that needs a best-effort follow-up fetch.
func extractAddress(value map[string]any) (domain.Address, string, checkind.StrongRef) {
	if obj, ok := value["address"].(map[string]any); ok {
		return mapAddress(obj), stringField(obj, "name"), checkind.StrongRef{}
	}

	if obj, ok := value["addressRef"].(map[string]any); ok {
		return domain.Address{}, "", checkind.StrongRef{
			URI: stringField(obj, "uri"),
			CID: stringField(obj, "cid"),
		}
	}

	return domain.Address{}, "", checkind.StrongRef{}
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
