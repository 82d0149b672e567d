// internal/output/mongodb.go
package output

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoTimeout = 10 * time.Second

// MongoWriter writes records as documents into a MongoDB collection
type MongoWriter struct {
	client     *mongo.Client
	collection *mongo.Collection
	closed     bool
}

// NewMongoWriter connects to MongoDB and binds the target collection
func NewMongoWriter(uri, database, collection string) (*MongoWriter, error) {
	if uri == "" || database == "" || collection == "" {
		return nil, fmt.Errorf("mongodb output requires uri, database and collection")
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoWriter{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// Write inserts all records as one batch
func (w *MongoWriter) Write(records []map[string]interface{}) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if len(records) == 0 {
		return nil
	}

	docs := make([]interface{}, len(records))
	for i, record := range records {
		docs[i] = record
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	if _, err := w.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to insert %d documents: %w", len(docs), err)
	}
	return nil
}

// Close disconnects the client
func (w *MongoWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()
	return w.client.Disconnect(ctx)
}
