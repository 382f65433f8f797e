package persistence

import "encoding/json"

// Run input/output, log metadata, and step configs are document-shaped
// (map[string]any), so values are stored as JSON rather than a binary
// encoding that would need per-type registration.

// EncodeDoc serializes a document-shaped value to JSON.
// A nil map encodes to nil so empty columns stay NULL.
func EncodeDoc(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// DecodeDoc deserializes JSON produced by EncodeDoc.
// Empty input yields a nil map.
func DecodeDoc(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// EncodeSteps serializes a workflow's step list to JSON.
func EncodeSteps(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeInto deserializes JSON into the given destination.
func DecodeInto(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
