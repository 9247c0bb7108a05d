package fetch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// idKeys are the fields an identifier may live under, in lookup order.
var idKeys = []string{"id", "_id"}

// IDOf normalizes an identifier to a string. It accepts bare ids (strings, numbers)
// and embedded objects carrying one under "_id" or "id", e.g. {"_id": "abc", "title": "..."}.
// Unusable values yield "".
func IDOf(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case bool:
		return ""
	case map[string]interface{}:
		return Record(val).ID()
	case Record:
		return val.ID()
	case fmt.Stringer: // e.g. bson ObjectIDs
		return strings.TrimSpace(val.String())
	default:
		return ""
	}
}

// ID returns the record identifier ("id", else "_id") as a string.
func (r Record) ID() string {
	for _, key := range idKeys {
		if v, ok := r[key]; ok {
			if id := IDOf(v); id != "" {
				return id
			}
		}
	}
	return ""
}

// String returns the first non-empty string value among `keys`; numbers are formatted.
func (r Record) String(keys ...string) string {
	for _, key := range keys {
		switch v := r[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}
