// Package model defines the entity schemas stored in the document store and
// the codec that converts between typed structs and raw document data.
//
// The production data accumulated years of drift: some user documents carry
// "id" instead of "userId", some carry "name" instead of "displayName". The
// codec normalizes those legacy aliases on decode and rejects anything that
// still fails validation afterwards — the rest of the codebase only ever sees
// one canonical shape per entity.
package model

import (
	"time"
)

// timeLayout is the wire format for timestamps inside document data.
const timeLayout = time.RFC3339Nano

// str reads the first present string field from raw document data, trying each
// key in order. Used to fold legacy aliases into the canonical field.
func str(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func boolean(data map[string]any, key string) bool {
	b, _ := data[key].(bool)
	return b
}

func timestamp(data map[string]any, key string) time.Time {
	s, _ := data[key].(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// stringSlice reads a []string field. Document data decoded from JSON carries
// []any, so both representations are accepted.
func stringSlice(data map[string]any, key string) []string {
	switch v := data[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
