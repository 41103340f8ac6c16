package record

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Document is a projected index document: a map from field name to a value
// or a list of values. Values are strings, numbers, booleans, or lists
// thereof; the Solr layer serializes it as a flat JSON object.
type Document map[string]interface{}

// Reserved field names used by the pipeline.
const (
	FieldID                   = "id"
	FieldRecordType           = "recordtype"
	FieldFullRecord           = "fullrecord"
	FieldAllFields            = "allfields"
	FieldInstitution          = "institution"
	FieldBuilding             = "building"
	FieldFirstIndexed         = "first_indexed"
	FieldLastIndexed          = "last_indexed"
	FieldMerged               = "merged_boolean"
	FieldMergedChild          = "merged_child_boolean"
	FieldHiddenComponent      = "hidden_component_boolean"
	FieldLocalIDs             = "local_ids_str_mv"
	FieldHierarchyTopID       = "hierarchy_top_id"
	FieldHierarchyParentID    = "hierarchy_parent_id"
	FieldIsHierarchyID        = "is_hierarchy_id"
	FieldHierarchyParentTitle = "hierarchy_parent_title"
	FieldIsHierarchyTitle     = "is_hierarchy_title"
	FieldContainerTitle       = "container_title"
	FieldContainerVolume      = "container_volume"
	FieldContainerIssue       = "container_issue"
	FieldContainerStartPage   = "container_start_page"
	FieldContainerReference   = "container_reference"
	FieldGeographicFacet      = "geographic_facet"
)

// Clone returns a deep copy of the document. List values are copied so that
// mutation of the clone never aliases the original.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = CloneValue(v)
	}
	return out
}

// SortedFields returns the document's field names in lexical order, for
// deterministic iteration.
func (d Document) SortedFields() []string {
	fields := make([]string, 0, len(d))
	for k := range d {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// CloneValue deep-copies a document value.
func CloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Strings normalizes a document value to a list of strings. Scalars become
// singleton lists; nil becomes an empty list.
func Strings(v interface{}) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, Stringify(item))
		}
		return out
	default:
		return []string{Stringify(val)}
	}
}

// IsList reports whether the value carries list semantics.
func IsList(v interface{}) bool {
	switch v.(type) {
	case []string, []interface{}:
		return true
	}
	return false
}

// Stringify renders a scalar document value as a string. Lists are joined
// by a single space.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		return strings.Join(val, " ")
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, Stringify(item))
		}
		return strings.Join(parts, " ")
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// ValueEmpty reports whether a document value counts as empty for the final
// normalization pass. Literal 0, 0.0, and "0" are retained.
func ValueEmpty(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []string:
		return len(val) == 0
	case []interface{}:
		return len(val) == 0
	case bool:
		return !val
	default:
		return false
	}
}

// DedupList removes exact duplicates from a list value, preserving the
// order of first appearance.
func DedupList(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// DedupListFold removes case-insensitive duplicates from a list value,
// keeping the first spelling seen.
func DedupListFold(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

// Normalize applies the final projection pass: list values are deduplicated
// by identity and empty fields are dropped.
func (d Document) Normalize() {
	for field, v := range d {
		switch val := v.(type) {
		case []string:
			d[field] = DedupList(val)
		case []interface{}:
			d[field] = DedupList(Strings(val))
		}
		if ValueEmpty(d[field]) {
			delete(d, field)
		}
	}
}
