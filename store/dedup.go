package store

import (
	"context"
	"crypto/md5"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// dedupKeyPrefix names the cached dedup group counts for one filter. The
// cache collection name carries the filter hash and the newest matching
// record's timestamp, so a cache is reused only while no matching record
// has changed.
const dedupKeyPrefix = "mr_record_"

// DedupGroup is one dedup key with its member count.
type DedupGroup struct {
	Key   string `bson:"_id"`
	Count int64  `bson:"count"`
}

// EachDedupKey enumerates the dedup keys of the records matched by the
// filter, with their member counts, in key order. Deleted members are
// included so that a group whose only change is a member deletion is still
// enumerated. Group counts are aggregated into a cache collection that is
// rebuilt whenever the filter or the newest matching record changes; stale
// caches are dropped.
func (s *Store) EachDedupKey(ctx context.Context, filter RecordFilter, fn func(group DedupGroup) error) error {
	hasKey := true
	filter.HasDedupKey = &hasKey

	name, err := s.dedupCacheName(ctx, filter)
	if err != nil {
		return err
	}
	exists, err := s.gcDedupCaches(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.buildDedupCache(ctx, filter, name); err != nil {
			return err
		}
	} else {
		s.log.WithField("collection", name).Info("reusing dedup group cache")
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.db.Collection(name).Find(ctx, bson.D{}, opts)
	if err != nil {
		return fmt.Errorf("iterate dedup groups: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var group DedupGroup
		if err := cur.Decode(&group); err != nil {
			return fmt.Errorf("decode dedup group: %w", err)
		}
		if err := fn(group); err != nil {
			return err
		}
	}
	return cur.Err()
}

// dedupCacheName derives the cache collection name from the filter and the
// newest matching record. Equal filters hash identically because selector
// field order is fixed.
func (s *Store) dedupCacheName(ctx context.Context, filter RecordFilter) (string, error) {
	encoded, err := bson.MarshalExtJSON(filter.selector(), true, false)
	if err != nil {
		return "", fmt.Errorf("encode dedup filter: %w", err)
	}
	newest, err := s.NewestUpdated(ctx, filter)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%x_%d", dedupKeyPrefix, md5.Sum(encoded), newest.Unix()), nil
}

// gcDedupCaches drops every dedup cache collection except keep and reports
// whether keep already exists.
func (s *Store) gcDedupCaches(ctx context.Context, keep string) (bool, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return false, fmt.Errorf("list collections: %w", err)
	}
	exists := false
	for _, name := range names {
		if !strings.HasPrefix(name, dedupKeyPrefix) {
			continue
		}
		if name == keep {
			exists = true
			continue
		}
		s.log.WithField("collection", name).Info("dropping stale dedup group cache")
		if err := s.db.Collection(name).Drop(ctx); err != nil {
			return false, fmt.Errorf("drop stale cache %s: %w", name, err)
		}
	}
	return exists, nil
}

// buildDedupCache aggregates group member counts into the cache collection.
func (s *Store) buildDedupCache(ctx context.Context, filter RecordFilter, name string) error {
	s.log.WithField("collection", name).Info("building dedup group cache")
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: filter.selector()}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$dedup_key"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		bson.D{{Key: "$out", Value: name}},
	}
	cur, err := s.db.Collection(recordCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("aggregate dedup groups: %w", err)
	}
	return cur.Close(ctx)
}
