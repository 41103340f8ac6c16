package solr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rajaro/RecordManager-Finna/common"
	"github.com/rajaro/RecordManager-Finna/record"
)

// deleteBatchLimit is the number of queued deletions that forces a flush of
// the delete batch.
const deleteBatchLimit = 1000

// Buffer accumulates document additions and deletions and flushes them in
// batches bounded by record count and payload size. Intermediate commits
// are issued on a configurable cadence of processed records.
//
// The buffer may emit buffered adds and deletes in separate HTTP batches
// without a same-id barrier; callers must not enqueue contradicting
// operations for the same id within one pass.
type Buffer struct {
	client *Client

	maxRecords     int
	maxBytes       int
	commitInterval int

	adds      bytes.Buffer
	addCount  int
	deletions []string

	sent int64

	log *logrus.Entry
}

// NewBuffer creates an update buffer. maxSizeKiB is the add batch byte
// ceiling in KiB; commitInterval is the number of records between
// intermediate commits (zero disables them).
func NewBuffer(client *Client, maxRecords, maxSizeKiB, commitInterval int) *Buffer {
	if maxRecords <= 0 {
		maxRecords = 5000
	}
	if maxSizeKiB <= 0 {
		maxSizeKiB = 1024
	}
	return &Buffer{
		client:         client,
		maxRecords:     maxRecords,
		maxBytes:       maxSizeKiB * 1024,
		commitInterval: commitInterval,
		log:            common.Logger.WithField("component", "solr"),
	}
}

// Add enqueues one document. seq is the caller's running record sequence
// used for the commit cadence; noCommit suppresses intermediate commits.
func (b *Buffer) Add(ctx context.Context, doc record.Document, seq int, noCommit bool) error {
	// The backend expects allfields as a single scalar.
	if v, ok := doc[record.FieldAllFields]; ok && record.IsList(v) {
		doc[record.FieldAllFields] = strings.Join(record.Strings(v), " ")
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %v: %w", doc[record.FieldID], err)
	}

	// Ship the pending batch first if appending would push it over the
	// byte ceiling; a batch never exceeds the configured limits (a single
	// oversized document still goes out alone).
	if b.addCount > 0 && b.adds.Len()+len(encoded)+2 > b.maxBytes {
		if err := b.flushAdds(ctx); err != nil {
			return err
		}
	}

	if b.addCount == 0 {
		b.adds.WriteByte('[')
	} else {
		b.adds.WriteByte(',')
	}
	b.adds.Write(encoded)
	b.addCount++

	if b.addCount >= b.maxRecords {
		if err := b.flushAdds(ctx); err != nil {
			return err
		}
	}

	if !noCommit && b.commitInterval > 0 && seq > 0 && seq%b.commitInterval == 0 {
		b.log.WithField("records", seq).Info("intermediate commit")
		if err := b.client.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Delete enqueues the deletion of one document id.
func (b *Buffer) Delete(ctx context.Context, id string) error {
	encoded, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode delete id %q: %w", id, err)
	}
	b.deletions = append(b.deletions, fmt.Sprintf(`"delete":{"id":%s}`, encoded))
	if len(b.deletions) >= deleteBatchLimit {
		return b.flushDeletes(ctx)
	}
	return nil
}

// Flush sends any pending add and delete batches and drains the background
// worker.
func (b *Buffer) Flush(ctx context.Context) error {
	if err := b.flushAdds(ctx); err != nil {
		return err
	}
	if err := b.flushDeletes(ctx); err != nil {
		return err
	}
	return b.client.Await()
}

// Dirty reports whether any operation has been shipped or is pending.
func (b *Buffer) Dirty() bool {
	return b.sent > 0 || b.addCount > 0 || len(b.deletions) > 0
}

func (b *Buffer) flushAdds(ctx context.Context) error {
	if b.addCount == 0 {
		return nil
	}
	b.adds.WriteByte(']')
	payload := make([]byte, b.adds.Len())
	copy(payload, b.adds.Bytes())
	count := b.addCount
	b.adds.Reset()
	b.addCount = 0

	b.log.WithFields(logrus.Fields{
		"records": count,
		"bytes":   len(payload),
	}).Debug("sending add batch")
	if err := b.client.Send(ctx, payload); err != nil {
		return err
	}
	b.sent += int64(count)
	return nil
}

func (b *Buffer) flushDeletes(ctx context.Context) error {
	if len(b.deletions) == 0 {
		return nil
	}
	payload := []byte("{" + strings.Join(b.deletions, ",") + "}")
	count := len(b.deletions)
	b.deletions = b.deletions[:0]

	b.log.WithField("deletions", count).Debug("sending delete batch")
	if err := b.client.Send(ctx, payload); err != nil {
		return err
	}
	b.sent += int64(count)
	return nil
}

// deleteByQueryBody builds a delete-by-query payload.
func deleteByQueryBody(query string) ([]byte, error) {
	encoded, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encode delete query: %w", err)
	}
	return []byte(fmt.Sprintf(`{"delete":{"query":%s}}`, encoded)), nil
}
