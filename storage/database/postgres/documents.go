package pgstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/fetch"
)

// fieldRe guards field names interpolated into JSONB path expressions.
var fieldRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type documentRow struct {
	Collection string         `db:"collection"`
	ID         string         `db:"id"`
	Data       types.JSONText `db:"data"`
}

// DocumentStore is a fetch.SecondaryStore over a postgres `documents` table holding one JSONB document per row.
type DocumentStore struct {
	db *sqlx.DB
}

func NewDocumentStore(db *sqlx.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) Query(ctx context.Context, q fetch.Query) ([]fetch.Record, error) {
	query, args, err := buildQuery(q)
	if err != nil {
		return nil, &fetch.SecondaryStoreError{Collection: q.Collection, Err: err}
	}

	var rows []documentRow
	err = s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrConnDone) {
		err = errors.Wrap(core.NewShutdownError("database connection closed"), err.Error())
	}
	if err != nil {
		return nil, &fetch.SecondaryStoreError{Collection: q.Collection, Err: errors.Wrap(err, "querying documents")}
	}

	records := make([]fetch.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := decode(row)
		if err != nil {
			return nil, &fetch.SecondaryStoreError{Collection: q.Collection, Err: err}
		}
		records = append(records, rec)
	}
	return records, nil
}

// Put upserts documents into `collection`; each must carry an "id" (or "_id").
func (s *DocumentStore) Put(ctx context.Context, collection string, docs ...fetch.Record) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `INSERT INTO documents (collection, id, data) VALUES (:collection, :id, :data)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			return errors.Errorf("document without id in %q", collection)
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return errors.Wrapf(err, "encoding document %q", id)
		}
		row := documentRow{Collection: collection, ID: id, Data: types.JSONText(data)}
		if _, err = tx.NamedExecContext(ctx, upsert, row); err != nil {
			return errors.Wrapf(err, "saving document %q", id)
		}
	}
	return errors.Wrap(tx.Commit(), "committing documents")
}

func buildQuery(q fetch.Query) (string, []interface{}, error) {
	var (
		b    strings.Builder
		args = []interface{}{q.Collection}
	)
	b.WriteString("SELECT collection, id, data FROM documents WHERE collection = ?")

	for _, p := range q.Where {
		if !fieldRe.MatchString(p.Field) {
			return "", nil, errors.Errorf("invalid field name %q", p.Field)
		}
		cond, pArgs, err := predicate(p)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" AND " + cond)
		args = append(args, pArgs...)
	}

	if q.OrderBy != nil {
		if !fieldRe.MatchString(q.OrderBy.Field) {
			return "", nil, errors.Errorf("invalid ordering field %q", q.OrderBy.Field)
		}
		direction := "DESC"
		if q.OrderBy.Ascending {
			direction = "ASC"
		}
		_, _ = fmt.Fprintf(&b, " ORDER BY data->'%s' %s NULLS LAST, id", q.OrderBy.Field, direction)
	} else {
		b.WriteString(" ORDER BY created_at, id")
	}
	return b.String(), args, nil
}

// predicate renders one predicate. Ids are compared as text, bare or embedded ({"_id": ...}).
func predicate(p fetch.Predicate) (string, []interface{}, error) {
	f := p.Field
	switch p.Op {
	case fetch.OpContains:
		id := fetch.IDOf(p.Value)
		cond := fmt.Sprintf(`EXISTS (SELECT 1 FROM jsonb_array_elements(CASE jsonb_typeof(data->'%[1]s') `+
			`WHEN 'array' THEN data->'%[1]s' ELSE '[]'::jsonb END) AS e `+
			`WHERE e #>> '{}' = ? OR e->>'_id' = ? OR e->>'id' = ?)`, f)
		return cond, []interface{}{id, id, id}, nil
	default:
		id := fetch.IDOf(p.Value)
		if id == "" { // bools, nulls: compare the JSON values
			data, err := json.Marshal(p.Value)
			if err != nil {
				return "", nil, errors.Wrapf(err, "encoding %q value", f)
			}
			return fmt.Sprintf("data->'%s' = ?::jsonb", f), []interface{}{string(data)}, nil
		}
		cond := fmt.Sprintf("(data->>'%[1]s' = ? OR data->'%[1]s'->>'_id' = ? OR data->'%[1]s'->>'id' = ?)", f)
		return cond, []interface{}{id, id, id}, nil
	}
}

func decode(row documentRow) (fetch.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(row.Data))
	dec.UseNumber()
	rec := make(fetch.Record)
	if err := dec.Decode(&rec); err != nil {
		return nil, errors.Wrapf(err, "decoding document %q", row.ID)
	}
	if rec.ID() == "" {
		rec["id"] = row.ID
	}
	return rec, nil
}
