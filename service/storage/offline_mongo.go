package storage

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"HabitLink/tools/ids"
)

// MongoOfflineQueue stores queued messages in a capped-by-TTL collection.
// A TTL index on expires_at lets mongod purge passively; Drain still filters
// by expires_at at read time since the TTL monitor only runs periodically.

const offlineCollection = "offline_messages"

type mongoQueueDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Event     string    `bson:"event"`
	Payload   []byte    `bson:"payload,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

type MongoOfflineQueue struct {
	coll  *mongo.Collection
	clock func() time.Time
}

func NewMongoOfflineQueue(ctx context.Context, db *mongo.Database) (*MongoOfflineQueue, error) {
	coll := db.Collection(offlineCollection)

	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	if err != nil {
		return nil, err
	}
	return &MongoOfflineQueue{coll: coll, clock: time.Now}, nil
}

func (q *MongoOfflineQueue) Enqueue(
	ctx context.Context, userID, event string, payload json.RawMessage, ttl time.Duration,
) (string, error) {
	if ttl <= 0 {
		return "", nil
	}
	now := q.clock()
	doc := mongoQueueDoc{
		ID:        ids.GenerateString(),
		UserID:    userID,
		Event:     event,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if _, err := q.coll.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return doc.ID, nil
}

func (q *MongoOfflineQueue) Drain(ctx context.Context, userID string) ([]QueuedMessage, error) {
	filter := bson.M{
		"user_id":    userID,
		"expires_at": bson.M{"$gt": q.clock()},
	}
	cur, err := q.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []QueuedMessage
	for cur.Next(ctx) {
		var doc mongoQueueDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, QueuedMessage{
			ID:        doc.ID,
			UserID:    doc.UserID,
			Event:     doc.Event,
			Payload:   doc.Payload,
			CreatedAt: doc.CreatedAt,
			ExpiresAt: doc.ExpiresAt,
		})
	}
	return out, cur.Err()
}

func (q *MongoOfflineQueue) Clear(ctx context.Context, userID string) error {
	_, err := q.coll.DeleteMany(ctx, bson.M{"user_id": userID})
	return err
}

func (q *MongoOfflineQueue) RemoveMessage(ctx context.Context, userID, messageID string) error {
	_, err := q.coll.DeleteOne(ctx, bson.M{"_id": messageID, "user_id": userID})
	return err
}

func (q *MongoOfflineQueue) Stats(ctx context.Context) (QueueStats, error) {
	now := q.clock()
	total, err := q.coll.CountDocuments(ctx, bson.M{"expires_at": bson.M{"$gt": now}})
	if err != nil {
		return QueueStats{}, err
	}
	users, err := q.coll.Distinct(ctx, "user_id", bson.M{"expires_at": bson.M{"$gt": now}})
	if err != nil {
		return QueueStats{}, err
	}
	return QueueStats{TotalQueued: total, UsersWithMessages: int64(len(users))}, nil
}

// DialMongo connects with a short timeout and pings the deployment.
func DialMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cli, err := mongo.Connect(dctx, options.Client().ApplyURI(uri).SetMaxPoolSize(20))
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(dctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}
