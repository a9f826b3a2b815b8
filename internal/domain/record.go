package domain

import (
	"fmt"
	"strconv"
)

// Record is a user, room or message as it arrives from the event bus. Only the
// fields needed for routing and serialization are ever read.
type Record map[string]any

// ID returns the record identifier as a string.
func (r Record) ID() string {
	return r.String("id")
}

// String returns the scalar value stored under key as a string. Missing and
// null values yield "".
func (r Record) String(key string) string {
	return toID(r[key])
}

// Strings returns the sequence stored under key as identifiers, preserving
// order. A missing or non-sequence value yields nil.
func (r Record) Strings(key string) []string {
	switch v := r[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if id := toID(item); id != "" {
				out = append(out, id)
			}
		}
		return out
	default:
		return nil
	}
}

func toID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}
