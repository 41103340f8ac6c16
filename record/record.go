// Package record defines the data model shared by the indexing pipeline:
// stored bibliographic records, projected index documents, the metadata
// parser abstraction, and the optional post-projection transformer hook.
package record

import "time"

// Record is a bibliographic record as stored in the record collection.
// Only the attributes consumed by the indexing pipeline are mapped; the raw
// metadata payload is kept opaque and handed to the format parser.
type Record struct {
	ID           string    `bson:"_id" json:"_id"`
	SourceID     string    `bson:"source_id" json:"source_id"`
	Format       string    `bson:"format" json:"format"`
	OAIID        string    `bson:"oai_id,omitempty" json:"oai_id,omitempty"`
	LinkingID    string    `bson:"linking_id,omitempty" json:"linking_id,omitempty"`
	HostRecordID string    `bson:"host_record_id,omitempty" json:"host_record_id,omitempty"`
	DedupKey     string    `bson:"dedup_key,omitempty" json:"dedup_key,omitempty"`
	Key          string    `bson:"key,omitempty" json:"key,omitempty"`
	Updated      time.Time `bson:"updated" json:"updated"`
	Created      time.Time `bson:"created" json:"created"`
	Date         time.Time `bson:"date" json:"date"`
	Deleted      bool      `bson:"deleted" json:"deleted"`
	UpdateNeeded bool      `bson:"update_needed" json:"update_needed"`
	Data         []byte    `bson:"data,omitempty" json:"data,omitempty"`
}

// IsComponentPart reports whether the record is a component part pointing at
// a host record.
func (r *Record) IsComponentPart() bool {
	return r.HostRecordID != ""
}

// Location is a geocoding entry from the location collection. Importance
// zero marks a definite match.
type Location struct {
	Place      string  `bson:"place"`
	Importance int     `bson:"importance"`
	Lon        float64 `bson:"lon"`
	Lat        float64 `bson:"lat"`
}

// FormatSet is a set of record format names used for merge and hide
// decisions on component parts.
type FormatSet map[string]bool

// NewFormatSet builds a set from a list of format names.
func NewFormatSet(formats []string) FormatSet {
	s := make(FormatSet, len(formats))
	for _, f := range formats {
		s[f] = true
	}
	return s
}

// Union returns the union of the receiver and other.
func (s FormatSet) Union(other FormatSet) FormatSet {
	out := make(FormatSet, len(s)+len(other))
	for f := range s {
		out[f] = true
	}
	for f := range other {
		out[f] = true
	}
	return out
}

// Contains reports set membership.
func (s FormatSet) Contains(format string) bool {
	return s[format]
}
