package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rajaro/RecordManager-Finna/record"
)

// Locations returns the geocoding entries for an uppercased place name,
// ordered by importance ascending.
func (s *Store) Locations(ctx context.Context, place string) ([]record.Location, error) {
	opts := options.Find().SetSort(bson.D{{Key: "importance", Value: 1}})
	cur, err := s.db.Collection(locationCollection).
		Find(ctx, bson.D{{Key: "place", Value: place}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find locations for %q: %w", place, err)
	}
	defer cur.Close(ctx)

	var locations []record.Location
	for cur.Next(ctx) {
		var loc record.Location
		if err := cur.Decode(&loc); err != nil {
			return nil, fmt.Errorf("decode location: %w", err)
		}
		locations = append(locations, loc)
	}
	return locations, cur.Err()
}
