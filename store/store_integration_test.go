//go:build integration
// +build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/rajaro/RecordManager-Finna/config"
	"github.com/rajaro/RecordManager-Finna/record"
)

// setupMongoContainer starts a MongoDB container for testing
func setupMongoContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start MongoDB container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	url := fmt.Sprintf("mongodb://%s:%s", host, port.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return url, cleanup
}

func seedRecords(t *testing.T, s *Store, records []*record.Record) {
	t.Helper()
	coll := s.db.Collection(recordCollection)
	for _, rec := range records {
		_, err := coll.InsertOne(context.Background(), rec)
		require.NoError(t, err)
	}
}

func TestStore_Integration_EnumerationAndGroups(t *testing.T) {
	url, cleanup := setupMongoContainer(t)
	defer cleanup()

	ctx := context.Background()
	s, err := Connect(ctx, config.MongoConfig{URL: url, Database: "recman_test", Counts: true})
	require.NoError(t, err, "Failed to connect to record store")
	defer s.Close(ctx)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedRecords(t, s, []*record.Record{
		{ID: "src1.1", SourceID: "src1", Format: "Book", DedupKey: "g1", Updated: base},
		{ID: "src1.2", SourceID: "src1", Format: "Book", DedupKey: "g1", Updated: base.Add(time.Minute)},
		{ID: "src2.1", SourceID: "src2", Format: "Book", DedupKey: "g2", Updated: base.Add(2 * time.Minute)},
		{ID: "src2.2", SourceID: "src2", Format: "Book", DedupKey: "g2", Deleted: true, Updated: base.Add(3 * time.Minute)},
	})

	t.Run("enumerate in updated order", func(t *testing.T) {
		var ids []string
		err := s.EachRecord(ctx, RecordFilter{}, func(rec *record.Record) error {
			ids = append(ids, rec.ID)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"src1.1", "src1.2", "src2.1", "src2.2"}, ids)
	})

	t.Run("filter by source and liveness", func(t *testing.T) {
		var ids []string
		err := s.EachRecord(ctx, RecordFilter{SourceID: "src2", LiveOnly: true}, func(rec *record.Record) error {
			ids = append(ids, rec.ID)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"src2.1"}, ids)
	})

	t.Run("count gated by setting", func(t *testing.T) {
		n, counted, err := s.CountRecords(ctx, RecordFilter{SourceID: "src1"})
		require.NoError(t, err)
		assert.True(t, counted)
		assert.Equal(t, int64(2), n)
	})

	t.Run("dedup group cache", func(t *testing.T) {
		var groups []DedupGroup
		err := s.EachDedupKey(ctx, RecordFilter{}, func(g DedupGroup) error {
			groups = append(groups, g)
			return nil
		})
		require.NoError(t, err)
		require.Len(t, groups, 2)
		assert.Equal(t, DedupGroup{Key: "g1", Count: 2}, groups[0])
		// Deleted members count: a group whose last change is a member
		// deletion still has to be enumerated.
		assert.Equal(t, DedupGroup{Key: "g2", Count: 2}, groups[1])

		// The cache collection exists and survives a second pass.
		names, err := s.db.ListCollectionNames(ctx, bson.D{})
		require.NoError(t, err)
		cached := 0
		for _, name := range names {
			if len(name) > len(dedupKeyPrefix) && name[:len(dedupKeyPrefix)] == dedupKeyPrefix {
				cached++
			}
		}
		assert.Equal(t, 1, cached)

		require.NoError(t, s.EachDedupKey(ctx, RecordFilter{}, func(DedupGroup) error { return nil }))
	})

	t.Run("stale cache dropped when filter changes", func(t *testing.T) {
		require.NoError(t, s.EachDedupKey(ctx, RecordFilter{SourceID: "src1"}, func(DedupGroup) error { return nil }))
		names, err := s.db.ListCollectionNames(ctx, bson.D{})
		require.NoError(t, err)
		cached := 0
		for _, name := range names {
			if len(name) > len(dedupKeyPrefix) && name[:len(dedupKeyPrefix)] == dedupKeyPrefix {
				cached++
			}
		}
		assert.Equal(t, 1, cached)
	})

	t.Run("host and component lookups", func(t *testing.T) {
		seedRecords(t, s, []*record.Record{
			{ID: "src1.h", SourceID: "src1", Format: "Book", LinkingID: "host1", Updated: base},
			{ID: "src1.p1", SourceID: "src1", Format: "Book", HostRecordID: "host1", Updated: base},
			{ID: "src1.p2", SourceID: "src1", Format: "Book", HostRecordID: "host1", Deleted: true, Updated: base},
		})

		host, err := s.HostRecord(ctx, "src1", "host1")
		require.NoError(t, err)
		require.NotNil(t, host)
		assert.Equal(t, "src1.h", host.ID)

		missing, err := s.HostRecord(ctx, "src1", "ghost")
		require.NoError(t, err)
		assert.Nil(t, missing)

		parts, err := s.ComponentParts(ctx, "src1", "host1")
		require.NoError(t, err)
		require.Len(t, parts, 1)
		assert.Equal(t, "src1.p1", parts[0].ID)
	})

	t.Run("live dedup member check", func(t *testing.T) {
		ok, err := s.HasLiveDedupMember(ctx, "g1", "src1.1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.HasLiveDedupMember(ctx, "g2", "src2.1")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_Integration_Watermarks(t *testing.T) {
	url, cleanup := setupMongoContainer(t)
	defer cleanup()

	ctx := context.Background()
	s, err := Connect(ctx, config.MongoConfig{URL: url, Database: "recman_test"})
	require.NoError(t, err)
	defer s.Close(ctx)

	wm, err := s.ReadWatermark(ctx, GlobalWatermarkKey)
	require.NoError(t, err)
	assert.Nil(t, wm)

	stamp := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.WriteWatermark(ctx, GlobalWatermarkKey, stamp))
	require.NoError(t, s.WriteWatermark(ctx, SourceWatermarkKey("src1"), stamp.Add(time.Hour)))

	wm, err = s.ReadWatermark(ctx, GlobalWatermarkKey)
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.True(t, stamp.Equal(*wm))

	src, err := s.ReadWatermark(ctx, SourceWatermarkKey("src1"))
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.True(t, stamp.Add(time.Hour).Equal(*src))
}

func TestStore_Integration_Locations(t *testing.T) {
	url, cleanup := setupMongoContainer(t)
	defer cleanup()

	ctx := context.Background()
	s, err := Connect(ctx, config.MongoConfig{URL: url, Database: "recman_test"})
	require.NoError(t, err)
	defer s.Close(ctx)

	coll := s.db.Collection(locationCollection)
	for _, loc := range []record.Location{
		{Place: "HELSINKI", Importance: 2, Lon: 25.1, Lat: 60.3},
		{Place: "HELSINKI", Importance: 1, Lon: 24.9, Lat: 60.2},
	} {
		_, err := coll.InsertOne(ctx, loc)
		require.NoError(t, err)
	}

	locations, err := s.Locations(ctx, "HELSINKI")
	require.NoError(t, err)
	require.Len(t, locations, 2)
	assert.Equal(t, 1, locations[0].Importance)
	assert.Equal(t, 2, locations[1].Importance)
}
