package db

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type serverTimestamp struct{}

// ServerTimestamp marks a field that the store fills with its own clock on write
var ServerTimestamp = serverTimestamp{}

// CollectionPath builds the per-user namespace path {application}/{userId}/{collection}
func CollectionPath(appID, userID, collection string) string {
	return strings.Join([]string{appID, userID, collection}, "/")
}

// ResolveServerTimestamps returns a copy of fields with every ServerTimestamp
// (at any nesting depth) replaced by now
func ResolveServerTimestamps(fields map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case serverTimestamp:
			out[k] = now.UTC().Format(time.RFC3339Nano)
		case map[string]any:
			out[k] = ResolveServerTimestamps(val, now)
		default:
			out[k] = v
		}
	}
	return out
}

// Normalize converts arbitrary Go values into their JSON-compatible form
// (maps, slices, strings, float64, bool, nil) so stored fields never alias caller memory.
func Normalize(fields map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("error encoding fields: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("error decoding fields: %w", err)
	}
	return out, nil
}

// MergeFields deep-merges patch into base. Nested maps merge key by key, anything else is replaced.
func MergeFields(base, patch map[string]any) map[string]any {
	out := CloneFields(base)
	for k, v := range patch {
		if pm, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = MergeFields(bm, pm)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

// CloneFields deep-copies a JSON-compatible map
func CloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneFields(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Encode converts a struct into document fields
func Encode(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error encoding document: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("error encoding document: %w", err)
	}
	return fields, nil
}

// Decode fills v from a document. The document id is exposed as "id" unless
// the stored fields already carry one.
func Decode(doc Document, v any) error {
	fields := make(map[string]any, len(doc.Fields)+1)
	for k, val := range doc.Fields {
		fields[k] = val
	}
	if _, ok := fields["id"]; !ok {
		fields["id"] = doc.ID
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("error decoding document %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("error decoding document %s: %w", doc.ID, err)
	}
	return nil
}

// SortDocuments orders docs by q.OrderBy; documents missing the field go last.
// Ties are broken by id so the order is deterministic.
func SortDocuments(docs []Document, q Query) {
	sort.SliceStable(docs, func(i, j int) bool {
		if q.OrderBy == "" {
			return docs[i].ID < docs[j].ID
		}
		a, aok := docs[i].Fields[q.OrderBy]
		b, bok := docs[j].Fields[q.OrderBy]
		switch {
		case !aok || a == nil:
			if !bok || b == nil {
				return docs[i].ID < docs[j].ID
			}
			return false
		case !bok || b == nil:
			return true
		}
		c := compareValues(a, b)
		if c == 0 {
			return docs[i].ID < docs[j].ID
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0
		}
		at, aerr := time.Parse(time.RFC3339Nano, av)
		bt, berr := time.Parse(time.RFC3339Nano, bv)
		if aerr == nil && berr == nil {
			return at.Compare(bt)
		}
		return strings.Compare(av, bv)
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case bool:
		bv, ok := b.(bool)
		if !ok || av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	}
	return 0
}
