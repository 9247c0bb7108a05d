package fetch

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is one canonical document: a JSON object with numbers kept as json.Number.
type Record map[string]interface{}

// Shape identifies which accepted envelope a payload matched.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeSuccessData      // {success: true, data: [...]}
	ShapeArray            // [...]
	ShapeSuccessDomainKey // {success: true, <domainKey>: [...]}
	ShapeDomainKey        // {<domainKey>: [...]} (no success key)
	ShapeStore            // produced by a SecondaryStore, never by Normalize
)

func (s Shape) String() string {
	switch s {
	case ShapeSuccessData:
		return "success+data"
	case ShapeArray:
		return "array"
	case ShapeSuccessDomainKey:
		return "success+domain-key"
	case ShapeDomainKey:
		return "domain-key"
	case ShapeStore:
		return "store"
	default:
		return "unknown"
	}
}

// Normalized is the result of a successful normalization.
type Normalized struct {
	Shape   Shape
	Key     string // envelope key the records were found under; empty for ShapeArray
	Records []Record
	Skipped int // array elements that were not JSON objects
}

// Normalize decodes `raw` and converts it into records. `domainKeys` are the envelope keys
// accepted for shapes 3 and 4 (e.g. "jobs", "applications"), checked in the given order.
// It never panics; a payload matching no shape yields a *NormalizationError carrying `raw`.
func Normalize(raw []byte, domainKeys ...string) (Normalized, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return Normalized{}, &NormalizationError{Raw: raw, Reason: fmt.Sprintf("invalid json: %v", err)}
	}
	n, err := NormalizeValue(v, domainKeys...)
	if nErr, ok := err.(*NormalizationError); ok {
		nErr.Raw = raw
	}
	return n, err
}

// NormalizeValue is Normalize for an already decoded value.
func NormalizeValue(v interface{}, domainKeys ...string) (Normalized, error) {
	// 1. {success: true, data: [...]}
	// 2. [...]
	// 3. {success: true, <domainKey>: [...]}
	// 4. {<domainKey>: [...]}
	switch val := v.(type) {
	case []interface{}:
		return toNormalized(ShapeArray, "", val), nil
	case map[string]interface{}:
		successVal, hasSuccess := val["success"]
		success, _ := successVal.(bool)

		if success {
			if items, ok := val["data"].([]interface{}); ok {
				return toNormalized(ShapeSuccessData, "data", items), nil
			}
			for _, key := range domainKeys {
				if items, ok := val[key].([]interface{}); ok {
					return toNormalized(ShapeSuccessDomainKey, key, items), nil
				}
			}
		} else if !hasSuccess {
			for _, key := range domainKeys {
				if items, ok := val[key].([]interface{}); ok {
					return toNormalized(ShapeDomainKey, key, items), nil
				}
			}
		}

		reason := "no record array under an accepted key"
		if hasSuccess && !success {
			reason = fmt.Sprintf("success flag is %v", successVal)
		}
		return Normalized{}, &NormalizationError{Raw: mustMarshal(v), Reason: reason}
	default:
		return Normalized{}, &NormalizationError{Raw: mustMarshal(v), Reason: fmt.Sprintf("unexpected %T payload", v)}
	}
}

func toNormalized(shape Shape, key string, items []interface{}) Normalized {
	n := Normalized{Shape: shape, Key: key, Records: make([]Record, 0, len(items))}
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			n.Skipped++
			continue
		}
		n.Records = append(n.Records, Record(obj))
	}
	return n
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf("%v", v))
	}
	return data
}
