// Package merge composes a single merged index document from the projected
// documents of a dedup group's members.
//
// Fields are classified into multiplicity fields (unioned across members),
// allfields (appended), checked fields (taken from the first member that
// supplies them), and everything else (inherited from the first member
// only). The driver stamps the merged document's id and booleans after the
// group is finalized.
package merge

import (
	"strings"

	"github.com/rajaro/RecordManager-Finna/record"
)

// checkedFields are taken from the first child to supply them; later
// children never overwrite. First-writer-wins is deliberate: alternative
// policies would change search ranking.
var checkedFields = map[string]bool{
	"title_auth":  true,
	"title":       true,
	"title_short": true,
	"title_full":  true,
	"title_sort":  true,
	"author":      true,
}

// Merger folds child projections into a merged document.
type Merger struct {
	mergedFields map[string]bool
}

// NewMerger creates a merger with the given multiplicity field list.
func NewMerger(fields []string) *Merger {
	m := &Merger{mergedFields: make(map[string]bool, len(fields))}
	for _, f := range fields {
		m.mergedFields[f] = true
	}
	return m
}

// IsMultiplicityField reports whether values of the field are merged as a
// union: any field ending in _mv or named in the merged field list.
func (m *Merger) IsMultiplicityField(field string) bool {
	return strings.HasSuffix(field, "_mv") || m.mergedFields[field]
}

// Merge folds one child projection into the accumulator and returns the
// accumulator. A nil accumulator starts a new group. The child's id is
// collected into local_ids_str_mv; its id and fullrecord fields are never
// inherited.
func (m *Merger) Merge(acc record.Document, child record.Document) record.Document {
	if acc == nil {
		acc = record.Document{}
	}
	first := len(acc) == 0

	for _, field := range child.SortedFields() {
		if field == record.FieldID || field == record.FieldFullRecord || field == record.FieldLocalIDs {
			continue
		}
		value := child[field]
		switch {
		case field == record.FieldAllFields:
			acc[field] = append(record.Strings(acc[field]), record.Strings(value)...)
		case m.IsMultiplicityField(field):
			acc[field] = unionValues(record.Strings(acc[field]), record.Strings(value))
		case checkedFields[field]:
			if _, ok := acc[field]; !ok {
				acc[field] = record.CloneValue(value)
			}
		default:
			if first {
				acc[field] = record.CloneValue(value)
			}
		}
	}

	if id := record.Stringify(child[record.FieldID]); id != "" {
		acc[record.FieldLocalIDs] = append(record.Strings(acc[record.FieldLocalIDs]), id)
	}
	return acc
}

// Finalize applies the group-end pass: multiplicity fields and allfields
// are deduplicated case-insensitively.
func (m *Merger) Finalize(doc record.Document) {
	for field, value := range doc {
		if field != record.FieldAllFields && !m.IsMultiplicityField(field) {
			continue
		}
		doc[field] = record.DedupListFold(record.Strings(value))
	}
}

// unionValues appends the values of next not already present in base,
// preserving order of first appearance. Case-insensitive deduplication is
// deferred to Finalize.
func unionValues(base, next []string) []string {
	seen := make(map[string]bool, len(base))
	for _, v := range base {
		seen[v] = true
	}
	for _, v := range next {
		if seen[v] {
			continue
		}
		seen[v] = true
		base = append(base, v)
	}
	return base
}
