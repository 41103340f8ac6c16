package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajaro/RecordManager-Finna/config"
	"github.com/rajaro/RecordManager-Finna/record"
)

func newTestMerger() *Merger {
	return NewMerger(config.DefaultMergedFields())
}

func TestMerge_TwoMembers(t *testing.T) {
	m := newTestMerger()

	childX := record.Document{
		"id":     "a",
		"title":  "T",
		"author": "A",
		"topic":  []string{"t1"},
	}
	childY := record.Document{
		"id":     "b",
		"title":  "T2",
		"author": "A2",
		"topic":  []string{"t1", "t2"},
	}

	acc := m.Merge(nil, childX)
	acc = m.Merge(acc, childY)
	m.Finalize(acc)

	assert.Equal(t, "T", acc["title"])
	assert.Equal(t, "A", acc["author"])
	assert.Equal(t, []string{"t1", "t2"}, acc["topic"])
	assert.Equal(t, []string{"a", "b"}, acc["local_ids_str_mv"])
	assert.NotContains(t, acc, "id")
}

func TestMerge_CheckedFieldsFirstWriterWins(t *testing.T) {
	m := newTestMerger()

	acc := m.Merge(nil, record.Document{"id": "a", "author": "First"})
	acc = m.Merge(acc, record.Document{"id": "b", "author": "Second", "title": "LateTitle"})

	assert.Equal(t, "First", acc["author"])
	// A checked field missing from the first child is supplied by the
	// first child that has it.
	assert.Equal(t, "LateTitle", acc["title"])
}

func TestMerge_OtherFieldsFromFirstChildOnly(t *testing.T) {
	m := newTestMerger()

	acc := m.Merge(nil, record.Document{"id": "a", "callnumber": "C1"})
	acc = m.Merge(acc, record.Document{"id": "b", "callnumber": "C2", "edition": "2nd"})

	assert.Equal(t, "C1", acc["callnumber"])
	// Non-checked fields from later children are ignored once the
	// accumulator is non-empty.
	assert.NotContains(t, acc, "edition")
}

func TestMerge_FullrecordNeverInherited(t *testing.T) {
	m := newTestMerger()

	acc := m.Merge(nil, record.Document{"id": "a", "fullrecord": "<xml/>"})
	assert.NotContains(t, acc, "fullrecord")
}

func TestMerge_AllfieldsAppendedAndFoldedAtEnd(t *testing.T) {
	m := newTestMerger()

	acc := m.Merge(nil, record.Document{"id": "a", "allfields": []string{"T", "shared"}})
	acc = m.Merge(acc, record.Document{"id": "b", "allfields": []string{"T2", "Shared"}})

	// Order preserved before finalization.
	assert.Equal(t, []string{"T", "shared", "T2", "Shared"}, acc["allfields"])

	m.Finalize(acc)
	assert.Equal(t, []string{"T", "shared", "T2"}, acc["allfields"])
}

func TestMerge_MVSuffixIsMultiplicity(t *testing.T) {
	m := newTestMerger()
	assert.True(t, m.IsMultiplicityField("callnumber_str_mv"))
	assert.True(t, m.IsMultiplicityField("topic"))
	assert.False(t, m.IsMultiplicityField("title"))
}

func TestMerge_MultiplicityUnionPreservesFirstAppearance(t *testing.T) {
	m := newTestMerger()

	acc := m.Merge(nil, record.Document{"id": "a", "language": []string{"fin", "swe"}})
	acc = m.Merge(acc, record.Document{"id": "b", "language": []string{"eng", "fin"}})
	m.Finalize(acc)

	assert.Equal(t, []string{"fin", "swe", "eng"}, acc["language"])
}

func TestMerge_ScalarMultiplicityValue(t *testing.T) {
	m := newTestMerger()

	acc := m.Merge(nil, record.Document{"id": "a", "institution": "INST1"})
	acc = m.Merge(acc, record.Document{"id": "b", "institution": "INST2"})
	m.Finalize(acc)

	assert.Equal(t, []string{"INST1", "INST2"}, acc["institution"])
}

func TestMerge_ChildNotMutated(t *testing.T) {
	m := newTestMerger()

	child := record.Document{"id": "a", "topic": []string{"t1"}}
	acc := m.Merge(nil, child)
	acc["topic"] = append(acc["topic"].([]string), "t2")

	require.Equal(t, []string{"t1"}, child["topic"])
}
