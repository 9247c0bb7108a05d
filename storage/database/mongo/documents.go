package mongostore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/fetch"
)

const connectTimeout = 10 * time.Second

// Connect opens a client to `uri` and checks the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongo")
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "pinging mongo")
	}
	return client, nil
}

// DocumentStore is a fetch.SecondaryStore over a mongo database, one mongo collection per collection.
type DocumentStore struct {
	db *mongo.Database
}

func NewDocumentStore(db *mongo.Database) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) Query(ctx context.Context, q fetch.Query) ([]fetch.Record, error) {
	opts := options.Find()
	if q.OrderBy != nil {
		direction := -1
		if q.OrderBy.Ascending {
			direction = 1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy.Field, Value: direction}, {Key: "_id", Value: 1}})
	}

	cursor, err := s.db.Collection(q.Collection).Find(ctx, Filter(q.Where), opts)
	if errors.Is(err, mongo.ErrClientDisconnected) {
		err = errors.Wrap(core.NewShutdownError("mongo client disconnected"), err.Error())
	}
	if err != nil {
		return nil, &fetch.SecondaryStoreError{Collection: q.Collection, Err: errors.Wrap(err, "finding documents")}
	}
	var docs []bson.M
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, &fetch.SecondaryStoreError{Collection: q.Collection, Err: errors.Wrap(err, "reading documents")}
	}

	records := make([]fetch.Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, toRecord(doc))
	}
	return records, nil
}

// Put upserts documents into `collection`, keyed by their id.
func (s *DocumentStore) Put(ctx context.Context, collection string, docs ...fetch.Record) error {
	coll := s.db.Collection(collection)
	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			return errors.Errorf("document without id in %q", collection)
		}
		body := bson.M{}
		for k, v := range doc {
			if k != "_id" && k != "id" {
				body[k] = v
			}
		}
		body["_id"] = id
		opts := options.Replace().SetUpsert(true)
		if _, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, body, opts); err != nil {
			return errors.Wrapf(err, "saving document %q", id)
		}
	}
	return nil
}

// Filter translates predicates into a mongo filter. Ids match bare, embedded ({"_id": ...})
// and, for hex strings, as ObjectIDs.
func Filter(where []fetch.Predicate) bson.M {
	if len(where) == 0 {
		return bson.M{}
	}
	conds := make(bson.A, 0, len(where))
	for _, p := range where {
		conds = append(conds, predicate(p))
	}
	if len(conds) == 1 {
		return conds[0].(bson.M)
	}
	return bson.M{"$and": conds}
}

func predicate(p fetch.Predicate) bson.M {
	values := bson.A{p.Value}
	if s, ok := p.Value.(string); ok {
		if oid, err := primitive.ObjectIDFromHex(s); err == nil {
			values = append(values, oid)
		}
	}

	// equality on an array field matches any element, so OpContains and OpEqual share the shape
	alts := bson.A{
		bson.M{p.Field: bson.M{"$in": values}},
		bson.M{p.Field + "._id": bson.M{"$in": values}},
	}
	return bson.M{"$or": alts}
}

func toRecord(doc bson.M) fetch.Record {
	rec := make(fetch.Record, len(doc)+1)
	for k, v := range doc {
		rec[k] = convert(v)
	}
	if _, ok := rec["id"]; !ok {
		rec["id"] = fetch.IDOf(rec["_id"])
	}
	return rec
}

// convert maps bson values onto the JSON-like values records carry.
func convert(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case bson.M:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[k] = convert(item)
		}
		return m
	case bson.D:
		m := make(map[string]interface{}, len(val))
		for _, e := range val {
			m[e.Key] = convert(e.Value)
		}
		return m
	case bson.A:
		items := make([]interface{}, 0, len(val))
		for _, item := range val {
			items = append(items, convert(item))
		}
		return items
	case int32:
		return int64(val)
	default:
		return val
	}
}
