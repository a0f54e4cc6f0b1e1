package chunk

import (
	"bytes"
	"encoding/json"
	"math"
)

// DecodeFragment parses a wire fragment, rejecting values the typed Fragment
// would silently coerce: a non-object body, a non-string id or text, and a
// non-integer index or count.
func DecodeFragment(data []byte) (*Fragment, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &ValidationError{Field: "fragment", Reason: "is not valid JSON", Cause: err}
	}
	if dec.More() {
		return nil, &ValidationError{Field: "fragment", Reason: "has trailing data"}
	}
	obj, ok := v.(map[string]any)
	if !ok || obj == nil {
		return nil, &ValidationError{Field: "fragment", Reason: "payload missing"}
	}

	id, ok := obj["id"].(string)
	if !ok || id == "" {
		return nil, &ValidationError{Field: "id", Reason: "missing or empty"}
	}
	index, err := intField(obj, "index")
	if err != nil {
		return nil, err
	}
	count, err := intField(obj, "count")
	if err != nil {
		return nil, err
	}
	text, ok := obj["text"].(string)
	if !ok {
		return nil, &ValidationError{Field: "text", Reason: "must be a string"}
	}

	f := &Fragment{ID: id, Index: index, Count: count, Text: text}
	if err := validate(f); err != nil {
		return nil, err
	}
	return f, nil
}

const maxSafeInteger = 1<<53 - 1

func intField(obj map[string]any, name string) (int, error) {
	n, ok := obj[name].(json.Number)
	if !ok {
		return 0, &ValidationError{Field: name, Reason: "must be an integer"}
	}
	if i, err := n.Int64(); err == nil {
		if i > maxSafeInteger || i < -maxSafeInteger {
			return 0, &ValidationError{Field: name, Reason: "is out of range"}
		}
		return int(i), nil
	}
	// 1e2 and 3.0 are integers on the wire too.
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxSafeInteger {
		return 0, &ValidationError{Field: name, Reason: "must be an integer"}
	}
	return int(f), nil
}
