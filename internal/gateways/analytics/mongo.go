// Package analytics stores daily counters in MongoDB.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultTimeout = 5 * time.Second

type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func Connect(ctx context.Context, uri, database, collection string) (*MongoSink, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return NewMongoSink(client, client.Database(database).Collection(collection)), nil
}

func NewMongoSink(client *mongo.Client, collection *mongo.Collection) *MongoSink {
	return &MongoSink{client: client, collection: collection}
}

// Increment upserts the day document and adds every counter with $inc, so
// concurrent increments never lose updates.
func (s *MongoSink) Increment(ctx context.Context, day time.Time, counters map[string]int64) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := s.collection.UpdateOne(ctx,
		bson.D{{Key: "day", Value: day.Format(time.DateOnly)}},
		IncrementUpdate(counters, time.Now()),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to increment counters: %w", err)
	}
	return nil
}

// IncrementUpdate builds the update document for Increment.
func IncrementUpdate(counters map[string]int64, now time.Time) bson.D {
	inc := bson.D{}
	for k, v := range counters {
		inc = append(inc, bson.E{Key: "counters." + k, Value: v})
	}
	return bson.D{
		{Key: "$inc", Value: inc},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: now}}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: now}}},
	}
}

func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// NoopSink drops counters. It is used when no analytics store is configured.
type NoopSink struct {
	log *slog.Logger
}

func NewNoopSink(log *slog.Logger) NoopSink {
	return NoopSink{log: log}
}

func (n NoopSink) Increment(_ context.Context, day time.Time, counters map[string]int64) error {
	if n.log != nil {
		n.log.Debug("Analytics disabled, dropping counters",
			slog.String("day", day.Format(time.DateOnly)),
			slog.Any("counters", counters),
		)
	}
	return nil
}
