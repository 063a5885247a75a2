// Package canonical implements the deterministic JSON encoding used for
// identity documents and signed-refs payloads: equal inputs must produce
// byte-identical output so that signatures are reproducible and
// verifiable across peers (spec.md §8, "encode is a function").
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal produces the canonical JSON encoding of v: object keys sorted
// lexicographically at every nesting level, no insignificant whitespace,
// and numbers/strings encoded exactly as encoding/json would. v is first
// round-tripped through json.Marshal/Unmarshal into a generic
// map[string]interface{}/[]interface{} tree so struct field order never
// leaks into the wire form, then re-serialized key-sorted.
//
// encoding/json does not canonicalize map key order for arbitrary nested
// structures the way it does for top-level map[string]T (it sorts those,
// but not maps found as struct fields of interface{} type during a second
// pass) — Marshal here does that sorting explicitly and recursively.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: decode intermediate: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeValue(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is encoding/json.Unmarshal; canonical decoding has no
// special requirements, only encoding does.
func Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("canonical: unmarshal: %w", err)
	}
	return nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		return encodeObject(buf, t)
	case []any:
		return encodeArray(buf, t)
	default:
		// Strings, json.Number, bool, nil all round-trip identically
		// through encoding/json with no further normalization needed.
		enc, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("canonical: marshal scalar: %w", err)
		}
		buf.Write(enc)
		return nil
	}
}

func encodeObject(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyEnc, err := json.Marshal(k)
		if err != nil {
			return fmt.Errorf("canonical: marshal key: %w", err)
		}
		buf.Write(keyEnc)
		buf.WriteByte(':')
		if err := encodeValue(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *bytes.Buffer, a []any) error {
	buf.WriteByte('[')
	for i, elem := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}
