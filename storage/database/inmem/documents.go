package inmemdb

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core/fetch"
)

type table struct {
	docs  map[string]fetch.Record
	order []string // insertion order of ids
}

// DocumentStore is an in-memory fetch.SecondaryStore, for local development and tests.
type DocumentStore struct {
	mu          sync.RWMutex
	collections map[string]*table
	unavailable error
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{collections: make(map[string]*table)}
}

// SetUnavailable makes every query fail with `err` until called with nil.
func (s *DocumentStore) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = err
}

func (s *DocumentStore) Query(ctx context.Context, q fetch.Query) ([]fetch.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fetch.SecondaryStoreError{Collection: q.Collection, Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.unavailable != nil {
		return nil, &fetch.SecondaryStoreError{Collection: q.Collection, Err: s.unavailable}
	}

	records := make([]fetch.Record, 0)
	if coll, ok := s.collections[q.Collection]; ok {
		for _, id := range coll.order {
			if rec := coll.docs[id]; q.Matches(rec) {
				records = append(records, rec.Clone())
			}
		}
	}
	if q.OrderBy != nil {
		fetch.SortRecords(records, *q.OrderBy)
	}
	return records, nil
}

// Put upserts documents into `collection`; each must carry an "id" (or "_id").
func (s *DocumentStore) Put(_ context.Context, collection string, docs ...fetch.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		coll = &table{docs: make(map[string]fetch.Record)}
		s.collections[collection] = coll
	}
	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			return errors.Errorf("document without id in %q", collection)
		}
		if _, exists := coll.docs[id]; !exists {
			coll.order = append(coll.order, id)
		}
		rec := doc.Clone()
		rec["id"] = id
		coll.docs[id] = rec
	}
	return nil
}
