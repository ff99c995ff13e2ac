// Package codec is the serialization boundary for every value that crosses
// into a cache tier. All cached values are stored as JSON text; Decode
// distinguishes a malformed payload (ErrCorrupt) from a genuine decode
// mismatch so cache layers can self-heal bad entries instead of returning
// garbage to the caller.
package codec

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// ErrCorrupt indicates the stored payload is not valid for the wire format
// and must be discarded, never returned to a caller.
var ErrCorrupt = errors.New("codec: corrupt payload")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// poisonValues are literal placeholder strings observed in the persistent
// store when an upstream writer stringifies a value incorrectly. They are
// syntactically harmless but semantically garbage, so they are rejected
// outright.
var poisonValues = map[string]struct{}{
	"[object Object]": {},
	"undefined":       {},
	"NaN":             {},
	"null,null":       {},
}

// Encode serializes v to the cache wire format.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return data, nil
}

// Decode deserializes data into out. A payload that is not valid JSON, or
// is one of the known poison placeholders, returns an error wrapping
// ErrCorrupt.
func Decode(data []byte, out any) error {
	if _, poisoned := poisonValues[string(data)]; poisoned {
		return fmt.Errorf("%w: placeholder value %q", ErrCorrupt, string(data))
	}
	if !json.Valid(data) {
		return fmt.Errorf("%w: invalid JSON", ErrCorrupt)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

// Valid reports whether data would decode cleanly into an arbitrary value.
// Used by the corruption scanner, which has no target type to decode into.
func Valid(data []byte) bool {
	if _, poisoned := poisonValues[string(data)]; poisoned {
		return false
	}
	return json.Valid(data)
}
