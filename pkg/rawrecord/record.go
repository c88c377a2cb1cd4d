// Package rawrecord wraps the loosely typed documents returned by EasyDB. Values are kept as
// decoded by encoding/json (map[string]any, []any, string, float64, bool, nil) and read through
// nil-safe accessors, so a missing branch anywhere in a path yields an empty result.
package rawrecord

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Record is one node of a raw document.
type Record struct {
	value any
}

func New(value any) Record {
	if r, ok := value.(Record); ok {
		return r
	}
	return Record{value: value}
}

// Parse decodes a JSON document into a Record.
func Parse(data []byte) (Record, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&v); err != nil {
		return Record{}, fmt.Errorf("failed to decode raw record: %w", err)
	}
	return Record{value: v}, nil
}

func (r Record) Value() any {
	return r.value
}

func (r Record) IsNull() bool {
	return r.value == nil
}

// Map returns the node as an object, or nil.
func (r Record) Map() map[string]any {
	m, _ := r.value.(map[string]any)
	return m
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.value)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &r.value)
}

// Get walks path through objects. A numeric segment indexes into an array.
func (r Record) Get(path ...string) Record {
	current := r.value
	for _, segment := range path {
		switch node := current.(type) {
		case map[string]any:
			current = node[segment]
		case []any:
			i, err := strconv.Atoi(segment)
			if err != nil || i < 0 || i >= len(node) {
				return Record{}
			}
			current = node[i]
		default:
			return Record{}
		}
		if current == nil {
			return Record{}
		}
	}
	return Record{value: current}
}

// Has reports whether path resolves to a non-null value.
func (r Record) Has(path ...string) bool {
	return !r.Get(path...).IsNull()
}

// String returns the scalar at path as trimmed text. Empty strings count as absent.
func (r Record) String(path ...string) (string, bool) {
	switch v := r.Get(path...).value.(type) {
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// StringOr returns the string at path or fallback.
func (r Record) StringOr(fallback string, path ...string) string {
	if s, ok := r.String(path...); ok {
		return s
	}
	return fallback
}

// Int returns the number at path. Numeric strings are accepted.
func (r Record) Int(path ...string) (int64, bool) {
	switch v := r.Get(path...).value.(type) {
	case float64:
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// Float returns the number at path. Numeric strings are accepted.
func (r Record) Float(path ...string) (float64, bool) {
	switch v := r.Get(path...).value.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Child returns the object at path, or a null Record.
func (r Record) Child(path ...string) Record {
	node := r.Get(path...)
	if node.Map() == nil {
		return Record{}
	}
	return node
}

// List returns the elements of the array at path. A single object is treated as a list of one.
func (r Record) List(path ...string) []Record {
	switch v := r.Get(path...).value.(type) {
	case []any:
		out := make([]Record, 0, len(v))
		for _, item := range v {
			if item != nil {
				out = append(out, Record{value: item})
			}
		}
		return out
	case map[string]any:
		return []Record{{value: v}}
	default:
		return nil
	}
}

// First returns the first element of the list at path.
func (r Record) First(path ...string) (Record, bool) {
	items := r.List(path...)
	if len(items) == 0 {
		return Record{}, false
	}
	return items[0], true
}

// Localized reads a locale-keyed text object at path, trying locales in order. When none of
// them is present the first non-empty value in key order is used.
func (r Record) Localized(locales []string, path ...string) (string, bool) {
	node := r.Get(path...)
	if s, ok := node.value.(string); ok {
		s = strings.TrimSpace(s)
		return s, s != ""
	}

	texts := node.Map()
	if texts == nil {
		return "", false
	}
	for _, locale := range locales {
		if s, ok := node.String(locale); ok {
			return s, true
		}
	}

	keys := make([]string, 0, len(texts))
	for k := range texts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := node.String(k); ok {
			return s, true
		}
	}
	return "", false
}

// Coalesce returns the first present string among paths.
func (r Record) Coalesce(paths ...[]string) (string, bool) {
	for _, path := range paths {
		if s, ok := r.String(path...); ok {
			return s, true
		}
	}
	return "", false
}
