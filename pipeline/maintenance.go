package pipeline

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/rajaro/RecordManager-Finna/record"
	"github.com/rajaro/RecordManager-Finna/store"
)

// DeleteDataSource removes every index document of the source by id prefix
// and commits with the long timeout.
func (d *Driver) DeleteDataSource(ctx context.Context, sourceID string) error {
	if sourceID == "" {
		return fmt.Errorf("source id is required")
	}
	d.log.WithField("source", sourceID).Info("deleting data source from index")
	if err := d.client.DeleteByQuery(ctx, fmt.Sprintf("id:%s.*", sourceID)); err != nil {
		return err
	}
	return d.client.CommitLong(ctx)
}

// OptimizeIndex runs an index optimize with the long timeout.
func (d *Driver) OptimizeIndex(ctx context.Context) error {
	d.log.Info("optimizing index")
	return d.client.Optimize(ctx)
}

// CountValues tallies the distinct values a field would get across the
// projections of the selected live records and writes them to w, most
// frequent first.
func (d *Driver) CountValues(ctx context.Context, opts Options, field string, w io.Writer) error {
	if field == "" {
		return fmt.Errorf("field name is required")
	}
	filter := store.RecordFilter{
		SourceID: opts.SourceID,
		SingleID: opts.SingleID,
		From:     opts.From,
		LiveOnly: true,
	}

	counts := map[string]int64{}
	err := d.store.EachRecord(ctx, filter, func(rec *record.Record) error {
		src, ok := d.cfg.Source(rec.SourceID)
		if !ok {
			return nil
		}
		res, err := d.proj.Project(ctx, rec, src)
		if err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
		if res.Skip {
			return nil
		}
		for _, v := range record.Strings(res.Doc[field]) {
			counts[v]++
		}
		return nil
	})
	if err != nil {
		return err
	}

	values := make([]string, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		if counts[values[i]] != counts[values[j]] {
			return counts[values[i]] > counts[values[j]]
		}
		return values[i] < values[j]
	})
	for _, v := range values {
		if _, err := fmt.Fprintf(w, "%s: %s\n", v, humanize.Comma(counts[v])); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "%d distinct values\n", len(values))
	return err
}
