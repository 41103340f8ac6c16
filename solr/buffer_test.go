package solr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajaro/RecordManager-Finna/record"
)

func TestBuffer_FlushSendsPendingAdds(t *testing.T) {
	cs := newCaptureServer(t)
	c := NewClient(Config{UpdateURL: cs.srv.URL})
	b := NewBuffer(c, 100, 1024, 0)

	require.NoError(t, b.Add(context.Background(), record.Document{"id": "a"}, 1, true))
	require.NoError(t, b.Add(context.Background(), record.Document{"id": "b"}, 2, true))
	assert.Empty(t, cs.received())

	require.NoError(t, b.Flush(context.Background()))
	bodies := cs.received()
	require.Len(t, bodies, 1)

	var docs []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(bodies[0]), &docs))
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0]["id"])
	assert.Equal(t, "b", docs[1]["id"])
}

func TestBuffer_MaxRecordsTriggersSend(t *testing.T) {
	cs := newCaptureServer(t)
	c := NewClient(Config{UpdateURL: cs.srv.URL})
	b := NewBuffer(c, 2, 1024, 0)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Add(context.Background(), record.Document{"id": fmt.Sprintf("r%d", i)}, i+1, true))
	}
	require.NoError(t, b.Flush(context.Background()))

	// No batch may exceed the record ceiling.
	for _, body := range cs.received() {
		var docs []map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(body), &docs))
		assert.LessOrEqual(t, len(docs), 2)
	}
	assert.Len(t, cs.received(), 3)
}

func TestBuffer_ByteCeilingTriggersSend(t *testing.T) {
	cs := newCaptureServer(t)
	c := NewClient(Config{UpdateURL: cs.srv.URL})
	b := NewBuffer(c, 1000, 1, 0) // 1 KiB ceiling

	big := strings.Repeat("x", 700)
	require.NoError(t, b.Add(context.Background(), record.Document{"id": "a", "fullrecord": big}, 1, true))
	require.NoError(t, b.Add(context.Background(), record.Document{"id": "b", "fullrecord": big}, 2, true))
	require.NoError(t, b.Flush(context.Background()))

	// The accumulation was cut so that no batch exceeds the ceiling.
	bodies := cs.received()
	require.Len(t, bodies, 2)
	for _, body := range bodies {
		assert.LessOrEqual(t, len(body), 1024)
	}
}

func TestBuffer_DeleteBatchFormat(t *testing.T) {
	cs := newCaptureServer(t)
	c := NewClient(Config{UpdateURL: cs.srv.URL})
	b := NewBuffer(c, 100, 1024, 0)

	require.NoError(t, b.Delete(context.Background(), "a"))
	require.NoError(t, b.Delete(context.Background(), `b"quoted`))
	require.NoError(t, b.Flush(context.Background()))

	bodies := cs.received()
	require.Len(t, bodies, 1)
	assert.Equal(t, `{"delete":{"id":"a"},"delete":{"id":"b\"quoted"}}`, bodies[0])
}

func TestBuffer_DeleteBatchLimit(t *testing.T) {
	cs := newCaptureServer(t)
	c := NewClient(Config{UpdateURL: cs.srv.URL})
	b := NewBuffer(c, 100, 1024, 0)

	for i := 0; i < deleteBatchLimit; i++ {
		require.NoError(t, b.Delete(context.Background(), fmt.Sprintf("r%d", i)))
	}
	// The full batch was flushed without an explicit Flush.
	assert.Len(t, cs.received(), 1)
}

func TestBuffer_CommitCadence(t *testing.T) {
	cs := newCaptureServer(t)
	c := NewClient(Config{UpdateURL: cs.srv.URL})
	b := NewBuffer(c, 1, 1024, 2)

	for i := 1; i <= 4; i++ {
		require.NoError(t, b.Add(context.Background(), record.Document{"id": fmt.Sprintf("r%d", i)}, i, false))
	}

	commits := 0
	for _, body := range cs.received() {
		if body == `{"commit":{}}` {
			commits++
		}
	}
	assert.Equal(t, 2, commits)
}

func TestBuffer_NoCommitSuppressesCadence(t *testing.T) {
	cs := newCaptureServer(t)
	c := NewClient(Config{UpdateURL: cs.srv.URL})
	b := NewBuffer(c, 1, 1024, 1)

	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Add(context.Background(), record.Document{"id": fmt.Sprintf("r%d", i)}, i, true))
	}
	for _, body := range cs.received() {
		assert.NotEqual(t, `{"commit":{}}`, body)
	}
}

func TestBuffer_AllfieldsJoinedToScalar(t *testing.T) {
	cs := newCaptureServer(t)
	c := NewClient(Config{UpdateURL: cs.srv.URL})
	b := NewBuffer(c, 100, 1024, 0)

	doc := record.Document{"id": "a", "allfields": []string{"T", "Author"}}
	require.NoError(t, b.Add(context.Background(), doc, 1, true))
	require.NoError(t, b.Flush(context.Background()))

	var docs []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(cs.received()[0]), &docs))
	assert.Equal(t, "T Author", docs[0]["allfields"])
}

func TestBuffer_Dirty(t *testing.T) {
	cs := newCaptureServer(t)
	c := NewClient(Config{UpdateURL: cs.srv.URL})
	b := NewBuffer(c, 100, 1024, 0)

	assert.False(t, b.Dirty())
	require.NoError(t, b.Add(context.Background(), record.Document{"id": "a"}, 1, true))
	assert.True(t, b.Dirty())
	require.NoError(t, b.Flush(context.Background()))
	assert.True(t, b.Dirty())
}
