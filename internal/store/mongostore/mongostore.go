// Package mongostore implements store.Backend on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"

	"github.com/weintegritywork/weintegrity-ppm/internal/store"
)

const duplicateKeyCode = 11000

type Backend struct {
	cli *mongo.Client
	db  *mongo.Database
}

// Connect dials uri and pings the primary within timeout. A failed ping is
// returned wrapped in store.ErrUnavailable so callers can decide on fallback.
func Connect(ctx context.Context, uri, dbName string, timeout time.Duration) (*Backend, error) {
	if uri == "" {
		return nil, errors.New("mongostore: uri is empty")
	}
	if dbName == "" {
		return nil, errors.New("mongostore: database name is empty")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(timeout).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := cli.Ping(pctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping: %w: %v", store.ErrUnavailable, err)
	}
	return &Backend{cli: cli, db: cli.Database(dbName)}, nil
}

func (b *Backend) Name() string { return "mongo" }

func (b *Backend) Collection(name string) store.Collection {
	return &collection{coll: b.db.Collection(name)}
}

// EnsureIndexes creates the given indexes. Unique indexes are sparse so that
// documents lacking the field do not collide with each other.
func (b *Backend) EnsureIndexes(ctx context.Context, idx []store.Index) error {
	for _, ix := range idx {
		opts := options.Index()
		if ix.Unique {
			opts.SetUnique(true).SetSparse(true)
		}
		if ix.ExpireAt {
			opts.SetExpireAfterSeconds(0)
		}
		_, err := b.db.Collection(ix.Collection).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: ix.Field, Value: 1}},
			Options: opts,
		})
		if err != nil {
			return fmt.Errorf("mongostore: index %s.%s: %w", ix.Collection, ix.Field, classify(err))
		}
	}
	return nil
}

func (b *Backend) Ping(ctx context.Context) error {
	if err := b.cli.Ping(ctx, readpref.Primary()); err != nil {
		return classify(err)
	}
	return nil
}

func (b *Backend) Close(ctx context.Context) error {
	return b.cli.Disconnect(ctx)
}

// Drop removes the whole database. Used by integration tests.
func (b *Backend) Drop(ctx context.Context) error {
	return b.db.Drop(ctx)
}

type collection struct {
	coll *mongo.Collection
}

func (c *collection) FindOne(ctx context.Context, f store.Filter) (store.Document, error) {
	var raw bson.M
	err := c.coll.FindOne(ctx, bson.M(f)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return fromBSON(raw), nil
}

func (c *collection) Find(ctx context.Context, f store.Filter, opts store.FindOptions) ([]store.Document, error) {
	filter := bson.M{}
	for k, v := range f {
		filter[k] = v
	}
	if opts.Search != "" && len(opts.SearchFields) > 0 {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(opts.Search), Options: "i"}
		or := make(bson.A, 0, len(opts.SearchFields))
		for _, field := range opts.SearchFields {
			or = append(or, bson.M{field: pattern})
		}
		filter["$or"] = or
	}
	fo := options.Find()
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	cur, err := c.coll.Find(ctx, filter, fo)
	if err != nil {
		return nil, classify(err)
	}
	defer cur.Close(ctx)
	var out []store.Document
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		out = append(out, fromBSON(raw))
	}
	if err := cur.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (c *collection) Insert(ctx context.Context, doc store.Document) error {
	d := bson.M{}
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		d[k] = v
	}
	_, err := c.coll.InsertOne(ctx, d)
	return classify(err)
}

func (c *collection) Update(ctx context.Context, f store.Filter, set store.Document) error {
	res, err := c.coll.UpdateOne(ctx, bson.M(f), bson.M{"$set": bson.M(set)})
	if err != nil {
		return classify(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (c *collection) Delete(ctx context.Context, f store.Filter) error {
	res, err := c.coll.DeleteOne(ctx, bson.M(f))
	if err != nil {
		return classify(err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (c *collection) DeleteMany(ctx context.Context, f store.Filter) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, bson.M(f))
	if err != nil {
		return 0, classify(err)
	}
	return res.DeletedCount, nil
}

// Push is an upsert with $push. Two racing upserts on a unique key can both
// miss and one then fails with a duplicate key error; retrying once lands the
// append on the document the winner created.
func (c *collection) Push(ctx context.Context, f store.Filter, field string, value any) error {
	update := bson.M{"$push": bson.M{field: value}}
	opts := options.Update().SetUpsert(true)
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		_, err = c.coll.UpdateOne(ctx, bson.M(f), update, opts)
		if !isDuplicateKey(err) {
			break
		}
	}
	return classify(err)
}

// PullFirst rewrites the array without the first element whose key matches,
// in one pipeline update so concurrent pushes are never lost.
func (c *collection) PullFirst(ctx context.Context, f store.Filter, field, key string, value any) (bool, error) {
	filter := bson.M{}
	for k, v := range f {
		filter[k] = v
	}
	filter[field] = bson.M{"$type": "array"}

	arr := "$" + field
	keys := bson.M{"$map": bson.M{"input": arr, "as": "m", "in": "$$m." + key}}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			field: bson.M{"$let": bson.M{
				"vars": bson.M{"idx": bson.M{"$indexOfArray": bson.A{keys, value}}},
				"in": bson.M{"$map": bson.M{
					"input": bson.M{"$filter": bson.M{
						"input": bson.M{"$range": bson.A{0, bson.M{"$size": arr}}},
						"as":    "i",
						"cond":  bson.M{"$ne": bson.A{"$$i", "$$idx"}},
					}},
					"as": "i",
					"in": bson.M{"$arrayElemAt": bson.A{arr, "$$i"}},
				}},
			}},
		}}},
	}
	res, err := c.coll.UpdateOne(ctx, filter, pipeline)
	if err != nil {
		return false, classify(err)
	}
	return res.ModifiedCount > 0, nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var wex mongo.WriteException
	if errors.As(err, &wex) {
		for _, we := range wex.WriteErrors {
			if we.Code == duplicateKeyCode {
				return true
			}
		}
	}
	var cmd mongo.CommandError
	if errors.As(err, &cmd) && cmd.Code == duplicateKeyCode {
		return true
	}
	return mongo.IsDuplicateKeyError(err)
}

// classify maps driver errors onto the store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isDuplicateKey(err) {
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	}
	var sse topology.ServerSelectionError
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, mongo.ErrClientDisconnected) ||
		errors.As(err, &sse) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

// fromBSON converts a decoded document into plain JSON-compatible values and
// drops the storage identity field.
func fromBSON(m bson.M) store.Document {
	out := store.Document{}
	for k, v := range m {
		if k == "_id" {
			continue
		}
		out[k] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plain(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
