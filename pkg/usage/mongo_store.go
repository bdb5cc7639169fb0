package usage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dietbot/entitlement/pkg/plan"
)

type mongoCounter struct {
	UserID    string    `bson:"user_id"`
	Action    string    `bson:"action"`
	Day       string    `bson:"day"`
	Count     int64     `bson:"count"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (m mongoCounter) counter() Counter {
	return Counter{
		Key:       Key{UserID: m.UserID, Action: plan.Action(m.Action), Day: m.Day},
		Count:     m.Count,
		UpdatedAt: m.UpdatedAt,
	}
}

// MongoStore keeps counters as documents with a unique (user_id, action, day) index.
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll, now: time.Now}
}

// EnsureIndexes creates the unique key index that makes the upsert safe.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "action", Value: 1}, {Key: "day", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("usage_key"),
	})
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func keyFilter(key Key) bson.D {
	return bson.D{
		{Key: "user_id", Value: key.UserID},
		{Key: "action", Value: string(key.Action)},
		{Key: "day", Value: key.Day},
	}
}

// Reserve upserts with a count < limit filter. A duplicate key error means the
// document exists but did not match: either another writer created it first or it
// is at the cap. A second, non-upsert attempt tells the two apart.
func (s *MongoStore) Reserve(ctx context.Context, key Key, limit int64) (int64, bool, error) {
	if err := key.validate(); err != nil {
		return 0, false, err
	}

	filter := append(keyFilter(key), bson.E{Key: "count", Value: bson.D{{Key: "$lt", Value: limit}}})
	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: "count", Value: int64(1)}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: s.now().UTC()}}},
	}

	var doc mongoCounter
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.Count, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return 0, false, errors.Join(ErrStoreFailure, err)
	}

	err = s.coll.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	switch {
	case err == nil:
		return doc.Count, true, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		count, err := s.Count(ctx, key)
		return count, false, err
	default:
		return 0, false, errors.Join(ErrStoreFailure, err)
	}
}

func (s *MongoStore) Count(ctx context.Context, key Key) (int64, error) {
	var doc mongoCounter
	err := s.coll.FindOne(ctx, keyFilter(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Join(ErrStoreFailure, err)
	}
	return doc.Count, nil
}

func beforeFilter(beforeDay string) bson.D {
	return bson.D{{Key: "day", Value: bson.D{{Key: "$lt", Value: beforeDay}}}}
}

func (s *MongoStore) ListBefore(ctx context.Context, beforeDay string) ([]Counter, error) {
	cur, err := s.coll.Find(ctx, beforeFilter(beforeDay), options.Find().SetSort(bson.D{{Key: "day", Value: 1}}))
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	var docs []mongoCounter
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	out := make([]Counter, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.counter())
	}
	return out, nil
}

func (s *MongoStore) DeleteBefore(ctx context.Context, beforeDay string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, beforeFilter(beforeDay))
	if err != nil {
		return 0, errors.Join(ErrStoreFailure, err)
	}
	return res.DeletedCount, nil
}
