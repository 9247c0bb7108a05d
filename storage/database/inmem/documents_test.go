package inmemdb

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/fetch"
)

func seed(t *testing.T) *DocumentStore {
	s := NewDocumentStore()
	err := s.Put(context.Background(), "events",
		fetch.Record{"id": "e1", "date": "2024-03-01", "registeredUsers": []interface{}{"u1", "u2"}},
		fetch.Record{"_id": "e2", "date": "2024-01-01", "registeredUsers": []interface{}{"u2"}},
		fetch.Record{"id": "e3", "date": "2024-02-01", "registeredUsers": []interface{}{"u1"}},
	)
	require.NoError(t, err)
	return s
}

func TestDocumentStore_Query(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	tests := []struct {
		name string
		q    fetch.Query
		want []string
	}{
		{name: "insertion order", q: fetch.Query{Collection: "events"}, want: []string{"e1", "e2", "e3"}},
		{
			name: "membership and ordering",
			q: fetch.Query{
				Collection: "events",
				Where:      []fetch.Predicate{fetch.Contains("registeredUsers", "u1")},
				OrderBy:    &core.DBOrdering{Field: "date", Ascending: true},
			},
			want: []string{"e3", "e1"},
		},
		{name: "equality", q: fetch.Query{Collection: "events", Where: []fetch.Predicate{fetch.Eq("id", "e2")}}, want: []string{"e2"}},
		{name: "unknown collection", q: fetch.Query{Collection: "nope"}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := s.Query(ctx, tt.q)
			require.NoError(t, err)
			ids := make([]string, 0, len(records))
			for _, r := range records {
				ids = append(ids, r.ID())
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestDocumentStore_Put(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "events", fetch.Record{"id": "e1", "date": "2025-01-01"}))
	records, _ := s.Query(ctx, fetch.Query{Collection: "events", Where: []fetch.Predicate{fetch.Eq("id", "e1")}})
	require.Len(t, records, 1)
	assert.Equal(t, "2025-01-01", records[0]["date"])

	records[0]["date"] = "mutated"
	again, _ := s.Query(ctx, fetch.Query{Collection: "events", Where: []fetch.Predicate{fetch.Eq("id", "e1")}})
	assert.Equal(t, "2025-01-01", again[0]["date"], "query results are copies")

	assert.Error(t, s.Put(ctx, "events", fetch.Record{"title": "no id"}))
}

func TestDocumentStore_unavailable(t *testing.T) {
	s := seed(t)
	s.SetUnavailable(errors.New("disk on fire"))

	_, err := s.Query(context.Background(), fetch.Query{Collection: "events"})
	var sErr *fetch.SecondaryStoreError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, "events", sErr.Collection)

	s.SetUnavailable(nil)
	_, err = s.Query(context.Background(), fetch.Query{Collection: "events"})
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Query(ctx, fetch.Query{Collection: "events"})
	assert.True(t, errors.Is(err, context.Canceled))
}
