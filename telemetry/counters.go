// Package telemetry exposes the pipeline's OpenTelemetry counters. The
// global meter provider is used; without a configured SDK the counters are
// no-ops.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/rajaro/RecordManager-Finna/pipeline"

// Counters holds the pipeline's metric instruments.
type Counters struct {
	processed  metric.Int64Counter
	deleted    metric.Int64Counter
	merged     metric.Int64Counter
	components metric.Int64Counter
}

// NewCounters creates the pipeline counters on the global meter provider.
func NewCounters() *Counters {
	m := otel.Meter(scopeName)
	processed, _ := m.Int64Counter("recman.records.processed",
		metric.WithDescription("Records projected and queued for update"),
	)
	deleted, _ := m.Int64Counter("recman.records.deleted",
		metric.WithDescription("Record deletions forwarded to the index"),
	)
	merged, _ := m.Int64Counter("recman.groups.merged",
		metric.WithDescription("Dedup groups written as merged documents"),
	)
	components, _ := m.Int64Counter("recman.components.merged",
		metric.WithDescription("Component parts folded into host records"),
	)
	return &Counters{
		processed:  processed,
		deleted:    deleted,
		merged:     merged,
		components: components,
	}
}

// Processed counts records projected for a source.
func (c *Counters) Processed(ctx context.Context, source string, n int64) {
	c.processed.Add(ctx, n, metric.WithAttributes(attribute.String("source", source)))
}

// Deleted counts deletions forwarded for a source.
func (c *Counters) Deleted(ctx context.Context, source string, n int64) {
	c.deleted.Add(ctx, n, metric.WithAttributes(attribute.String("source", source)))
}

// Merged counts dedup groups written as merged documents.
func (c *Counters) Merged(ctx context.Context, n int64) {
	c.merged.Add(ctx, n)
}

// ComponentsMerged counts component parts folded into hosts.
func (c *Counters) ComponentsMerged(ctx context.Context, source string, n int64) {
	c.components.Add(ctx, n, metric.WithAttributes(attribute.String("source", source)))
}
