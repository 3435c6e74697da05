package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"blockmail/internal/mail"
)

const (
	DefaultMongoDatabase   = "blockmail"
	DefaultMongoCollection = "payloads"
)

type blobDocument struct {
	ID        string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
}

// MongoStore keeps one document per payload, keyed by content ID.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore connects to uri and verifies the server is reachable.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	if database == "" {
		database = DefaultMongoDatabase
	}
	if collection == "" {
		collection = DefaultMongoCollection
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, mail.BlobUnavailable("connect", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

func (m *MongoStore) Upload(ctx context.Context, payload []byte) (string, error) {
	id, err := ContentID(payload)
	if err != nil {
		return "", err
	}

	_, err = m.collection.InsertOne(ctx, blobDocument{ID: id, Data: payload, CreatedAt: time.Now().UTC()})
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return "", mail.BlobUnavailable("upload", err)
	}
	return id, nil
}

func (m *MongoStore) Get(ctx context.Context, contentID string) ([]byte, error) {
	if _, err := ParseContentID(contentID); err != nil {
		return nil, err
	}

	var doc blobDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": contentID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, mail.BlobUnavailable("get", err)
	}
	if err := Verify(contentID, doc.Data); err != nil {
		return nil, err
	}
	return doc.Data, nil
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

var _ mail.BlobStore = (*MongoStore)(nil)
