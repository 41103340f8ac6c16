package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GlobalWatermarkKey is the state key for the merged-record pass watermark.
const GlobalWatermarkKey = "Last Index Update"

// SourceWatermarkKey returns the state key for one source's individual-pass
// watermark.
func SourceWatermarkKey(sourceID string) string {
	return GlobalWatermarkKey + " " + sourceID
}

type stateEntry struct {
	ID    string    `bson:"_id"`
	Value time.Time `bson:"value"`
}

// ReadWatermark returns the stored watermark for the key, or nil when none
// has been written.
func (s *Store) ReadWatermark(ctx context.Context, key string) (*time.Time, error) {
	var entry stateEntry
	err := s.db.Collection(stateCollection).
		FindOne(ctx, bson.D{{Key: "_id", Value: key}}).
		Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read watermark %q: %w", key, err)
	}
	t := entry.Value
	return &t, nil
}

// WriteWatermark upserts the watermark for the key.
func (s *Store) WriteWatermark(ctx context.Context, key string, t time.Time) error {
	_, err := s.db.Collection(stateCollection).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: key}},
		stateEntry{ID: key, Value: t},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("write watermark %q: %w", key, err)
	}
	return nil
}
