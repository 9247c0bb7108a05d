package fetch

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	"github.com/trezcool/masomo-portal/core"
)

// Op is a predicate operator over a top-level document field.
type Op int

const (
	OpEqual    Op = iota // field == value
	OpContains           // field is an array containing value
)

func (op Op) String() string {
	if op == OpContains {
		return "contains"
	}
	return "=="
}

// Predicate filters documents on one top-level field.
type Predicate struct {
	Field string
	Op    Op
	Value interface{}
}

func Eq(field string, value interface{}) Predicate {
	return Predicate{Field: field, Op: OpEqual, Value: value}
}

func Contains(field string, value interface{}) Predicate {
	return Predicate{Field: field, Op: OpContains, Value: value}
}

// Match evaluates the predicate against a record. Values are compared as normalized ids
// (see IDOf), so "1", 1 and {"_id": "1"} are equal.
func (p Predicate) Match(rec Record) bool {
	v, ok := rec[p.Field]
	if !ok {
		return false
	}
	want := IDOf(p.Value)
	switch p.Op {
	case OpContains:
		items, ok := v.([]interface{})
		if !ok {
			return false
		}
		for _, item := range items {
			if IDOf(item) == want {
				return true
			}
		}
		return false
	default:
		if want == "" {
			return reflect.DeepEqual(v, p.Value)
		}
		return IDOf(v) == want
	}
}

// Query is a read-only secondary store query.
type Query struct {
	Collection string
	Where      []Predicate // AND-ed
	OrderBy    *core.DBOrdering
}

// Matches reports whether rec satisfies every predicate.
func (q Query) Matches(rec Record) bool {
	for _, p := range q.Where {
		if !p.Match(rec) {
			return false
		}
	}
	return true
}

// SecondaryStore is the read-only fallback document store queried when no candidate endpoint answers.
// Implementations return canonical records with "id" set and wrap failures in *SecondaryStoreError.
type SecondaryStore interface {
	Query(ctx context.Context, q Query) ([]Record, error)
}

// SortRecords sorts records in place by `ord.Field`; records missing the field sort last. Stable.
func SortRecords(records []Record, ord core.DBOrdering) {
	sort.SliceStable(records, func(i, j int) bool {
		a, aok := records[i][ord.Field]
		b, bok := records[j][ord.Field]
		switch {
		case !aok || a == nil:
			return false
		case !bok || b == nil:
			return true
		}
		c := Compare(a, b)
		if ord.Ascending {
			return c < 0
		}
		return c > 0
	})
}

// Compare orders two field values: numerically when both are numbers, as normalized strings otherwise.
func Compare(a, b interface{}) int {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	// RFC 3339 timestamps compare correctly as strings
	return strings.Compare(IDOf(a), IDOf(b))
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
