package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionName = "audit_log"

// MongoWriter stores entries as documents, with snapshots kept as nested
// documents so they can be queried.
type MongoWriter struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoWriter(coll *mongo.Collection) *MongoWriter {
	return &MongoWriter{coll: coll, now: func() time.Time { return time.Now().UTC() }}
}

// Connect opens a client and returns a writer on database's audit
// collection together with the client, which the caller must disconnect.
func Connect(ctx context.Context, uri, database string) (*MongoWriter, *mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	return NewMongoWriter(client.Database(database).Collection(CollectionName)), client, nil
}

func (w *MongoWriter) Write(ctx context.Context, entityType, entityID, action, actorRef string, before, after any) error {
	b, err := toDocument(before)
	if err != nil {
		return err
	}
	a, err := toDocument(after)
	if err != nil {
		return err
	}

	_, err = w.coll.InsertOne(ctx, bson.M{
		"entity_type": entityType,
		"entity_id":   entityID,
		"action":      action,
		"actor_ref":   actorRef,
		"before":      b,
		"after":       a,
		"created_at":  w.now(),
	})
	return err
}

// toDocument goes through JSON so snapshots keep their json field names.
func toDocument(v any) (any, error) {
	raw, err := snapshot(v)
	if err != nil || raw == nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
