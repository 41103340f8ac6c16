// Package store is the MongoDB record store layer: record enumeration,
// dedup group access, the geocoding location table, and the indexing
// watermarks kept in the state collection.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rajaro/RecordManager-Finna/common"
	"github.com/rajaro/RecordManager-Finna/config"
	"github.com/rajaro/RecordManager-Finna/record"
)

// Collection names.
const (
	recordCollection   = "record"
	stateCollection    = "state"
	locationCollection = "location"
)

// Store provides access to the record database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	counts bool
	log    *logrus.Entry
}

// Connect opens the record database and verifies the connection with a
// bounded retry.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("connect record store: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(func() error {
		return client.Ping(ctx, nil)
	}, backoff.WithContext(bo, ctx)); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping record store: %w", err)
	}

	return &Store{
		client: client,
		db:     client.Database(cfg.Database),
		counts: cfg.Counts,
		log:    common.Logger.WithField("component", "store"),
	}, nil
}

// Close disconnects from the database.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// RecordFilter selects records for enumeration. The zero value selects
// every record.
type RecordFilter struct {
	SourceID     string
	From         *time.Time
	SingleID     string
	UpdateNeeded *bool
	HasDedupKey  *bool
	LiveOnly     bool
}

// selector builds the ordered query document. Field order is fixed so that
// equal filters serialize identically.
func (f RecordFilter) selector() bson.D {
	sel := bson.D{}
	if f.SingleID != "" {
		sel = append(sel, bson.E{Key: "_id", Value: f.SingleID})
	}
	if f.SourceID != "" {
		sel = append(sel, bson.E{Key: "source_id", Value: f.SourceID})
	}
	if f.From != nil {
		sel = append(sel, bson.E{Key: "updated", Value: bson.D{{Key: "$gte", Value: *f.From}}})
	}
	if f.UpdateNeeded != nil {
		sel = append(sel, bson.E{Key: "update_needed", Value: *f.UpdateNeeded})
	}
	if f.HasDedupKey != nil {
		sel = append(sel, bson.E{Key: "dedup_key", Value: bson.D{{Key: "$exists", Value: *f.HasDedupKey}}})
	}
	if f.LiveOnly {
		sel = append(sel, bson.E{Key: "deleted", Value: false})
	}
	return sel
}

// EachRecord enumerates the records matched by the filter in updated order
// and calls fn for each. Enumeration stops on the first error from fn.
func (s *Store) EachRecord(ctx context.Context, filter RecordFilter, fn func(*record.Record) error) error {
	opts := options.Find().
		SetNoCursorTimeout(true).
		SetSort(bson.D{{Key: "updated", Value: 1}})
	cur, err := s.db.Collection(recordCollection).Find(ctx, filter.selector(), opts)
	if err != nil {
		return fmt.Errorf("find records: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var rec record.Record
		if err := cur.Decode(&rec); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return cur.Err()
}

// CountRecords counts the records matched by the filter. Counting is gated
// by the counts setting; the second return value reports whether a count
// was taken.
func (s *Store) CountRecords(ctx context.Context, filter RecordFilter) (int64, bool, error) {
	if !s.counts {
		return 0, false, nil
	}
	n, err := s.db.Collection(recordCollection).CountDocuments(ctx, filter.selector())
	if err != nil {
		return 0, false, fmt.Errorf("count records: %w", err)
	}
	return n, true, nil
}

// RecordsByDedupKey returns every record carrying the dedup key, deleted
// members included, in id order.
func (s *Store) RecordsByDedupKey(ctx context.Context, dedupKey string) ([]*record.Record, error) {
	sel := bson.D{{Key: "dedup_key", Value: dedupKey}}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.db.Collection(recordCollection).Find(ctx, sel, opts)
	if err != nil {
		return nil, fmt.Errorf("find dedup group %s: %w", dedupKey, err)
	}
	defer cur.Close(ctx)

	var records []*record.Record
	for cur.Next(ctx) {
		var rec record.Record
		if err := cur.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, cur.Err()
}

// ComponentParts returns the live component parts of a host record,
// identified by the host's linking id, in id order.
func (s *Store) ComponentParts(ctx context.Context, sourceID, linkingID string) ([]*record.Record, error) {
	sel := bson.D{
		{Key: "source_id", Value: sourceID},
		{Key: "host_record_id", Value: linkingID},
		{Key: "deleted", Value: false},
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.db.Collection(recordCollection).Find(ctx, sel, opts)
	if err != nil {
		return nil, fmt.Errorf("find component parts of %s: %w", linkingID, err)
	}
	defer cur.Close(ctx)

	var parts []*record.Record
	for cur.Next(ctx) {
		var rec record.Record
		if err := cur.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		parts = append(parts, &rec)
	}
	return parts, cur.Err()
}

// HostRecord resolves a component part's host record by its linking id.
// Returns nil without error when no live host exists.
func (s *Store) HostRecord(ctx context.Context, sourceID, linkingID string) (*record.Record, error) {
	sel := bson.D{
		{Key: "source_id", Value: sourceID},
		{Key: "linking_id", Value: linkingID},
		{Key: "deleted", Value: false},
	}
	var rec record.Record
	err := s.db.Collection(recordCollection).FindOne(ctx, sel).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find host record %s: %w", linkingID, err)
	}
	return &rec, nil
}

// HasLiveDedupMember reports whether the dedup key still has a live member
// other than excludeID.
func (s *Store) HasLiveDedupMember(ctx context.Context, dedupKey, excludeID string) (bool, error) {
	sel := bson.D{
		{Key: "dedup_key", Value: dedupKey},
		{Key: "deleted", Value: false},
		{Key: "_id", Value: bson.D{{Key: "$ne", Value: excludeID}}},
	}
	err := s.db.Collection(recordCollection).FindOne(ctx, sel).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check dedup group %s: %w", dedupKey, err)
	}
	return true, nil
}

// NewestUpdated returns the updated timestamp of the newest record matched
// by the filter, or the zero time when nothing matches.
func (s *Store) NewestUpdated(ctx context.Context, filter RecordFilter) (time.Time, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "updated", Value: -1}})
	var rec record.Record
	err := s.db.Collection(recordCollection).FindOne(ctx, filter.selector(), opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("find newest record: %w", err)
	}
	return rec.Updated, nil
}
