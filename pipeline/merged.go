package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rajaro/RecordManager-Finna/common"
	"github.com/rajaro/RecordManager-Finna/config"
	"github.com/rajaro/RecordManager-Finna/merge"
	"github.com/rajaro/RecordManager-Finna/record"
	"github.com/rajaro/RecordManager-Finna/solr"
	"github.com/rajaro/RecordManager-Finna/store"
)

// mergedRecordType is the recordtype of merged dedup group documents.
const mergedRecordType = "merged"

// UpdateMergedRecords runs the merged pass: dedup groups touched since the
// watermark are rewritten as merged documents with their members marked as
// merged children, and the residual records outside any group are indexed
// individually.
func (d *Driver) UpdateMergedRecords(ctx context.Context, opts Options) error {
	log := d.log.WithField("run", uuid.NewString())
	buf := d.newBuffer()

	mergedFields := d.cfg.Solr.MergedFields
	if len(mergedFields) == 0 {
		mergedFields = config.DefaultMergedFields()
	}
	merger := merge.NewMerger(mergedFields)

	filter := store.RecordFilter{SourceID: opts.SourceID, SingleID: opts.SingleID}
	if !opts.Delete {
		needed := false
		filter.UpdateNeeded = &needed
	}
	if opts.From != nil {
		filter.From = opts.From
	} else if opts.SingleID == "" {
		wm, err := d.store.ReadWatermark(ctx, store.GlobalWatermarkKey)
		if err != nil {
			return err
		}
		filter.From = wm
	}

	meter := common.NewMeter(0)
	var groups, handled int64
	var maxUpdated time.Time

	err := d.store.EachDedupKey(ctx, filter, func(g store.DedupGroup) error {
		if err := d.updateDedupGroup(ctx, log, buf, merger, g.Key, &handled, &maxUpdated, opts); err != nil {
			return err
		}
		groups++
		meter.Add(1)
		if groups%progressInterval == 0 {
			log.WithFields(logrus.Fields{
				"groups": humanize.Comma(groups),
				"speed":  fmt.Sprintf("%.0f/s", meter.Speed()),
			}).Info("merged update progress")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := d.updateResidualRecords(ctx, log, buf, filter, &handled, &maxUpdated, opts); err != nil {
		return err
	}

	if err := buf.Flush(ctx); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"groups":  humanize.Comma(groups),
		"records": humanize.Comma(handled),
	}).Info("merged update finished")

	// Commit before advancing the watermark so an interrupted pass is
	// repeated rather than skipped.
	if !opts.NoCommit && buf.Dirty() {
		if err := d.client.Commit(ctx); err != nil {
			return err
		}
	}
	if opts.SingleID == "" && !opts.Delete && !maxUpdated.IsZero() {
		if err := d.store.WriteWatermark(ctx, store.GlobalWatermarkKey, maxUpdated); err != nil {
			return err
		}
	}
	return nil
}

// updateDedupGroup rewrites one dedup group. Groups with at least two live
// members get a merged parent document and merged-child members; a lone
// survivor is indexed individually and the stale merged document is removed.
// In delete mode only the members of the selected source are removed and the
// survivors are rewritten under the normal rules.
func (d *Driver) updateDedupGroup(ctx context.Context, log *logrus.Entry, buf *solr.Buffer, merger *merge.Merger, dedupKey string, handled *int64, maxUpdated *time.Time, opts Options) error {
	members, err := d.store.RecordsByDedupKey(ctx, dedupKey)
	if err != nil {
		return err
	}

	var live []*record.Record
	for _, m := range members {
		if m.Updated.After(*maxUpdated) {
			*maxUpdated = m.Updated
		}
		targeted := opts.Delete && (opts.SourceID == "" || m.SourceID == opts.SourceID)
		if targeted || m.Deleted {
			if err := buf.Delete(ctx, m.ID); err != nil {
				return err
			}
			d.counters.Deleted(ctx, m.SourceID, 1)
			*handled++
			continue
		}
		live = append(live, m)
	}

	if len(live) >= 2 {
		return d.writeMergedGroup(ctx, log, buf, merger, dedupKey, live, handled, opts)
	}

	// One or zero survivors: the merged document is obsolete.
	if err := buf.Delete(ctx, dedupKey); err != nil {
		return err
	}
	d.counters.Deleted(ctx, mergedRecordType, 1)
	if len(live) == 1 {
		rec := live[0]
		if !opts.Delete {
			log.WithFields(logrus.Fields{"record": rec.ID, "group": dedupKey}).
				Warn("single record carries a dedup key")
		}
		if rec.Key != "" && rec.Key != rec.ID && rec.Key != dedupKey {
			if err := buf.Delete(ctx, rec.Key); err != nil {
				return err
			}
			d.counters.Deleted(ctx, rec.SourceID, 1)
		}
		src, ok := d.cfg.Source(rec.SourceID)
		if !ok {
			log.WithFields(logrus.Fields{"record": rec.ID, "source": rec.SourceID}).
				Warn("record references an unconfigured data source")
			return nil
		}
		res, err := d.proj.Project(ctx, rec, src)
		if err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
		*handled++
		if res.Skip {
			d.counters.Deleted(ctx, rec.SourceID, 1)
			return buf.Delete(ctx, rec.ID)
		}
		d.counters.Processed(ctx, rec.SourceID, 1)
		return buf.Add(ctx, res.Doc, int(*handled), opts.NoCommit)
	}
	return nil
}

// writeMergedGroup indexes the members as merged children and writes the
// merged parent document under the dedup key.
func (d *Driver) writeMergedGroup(ctx context.Context, log *logrus.Entry, buf *solr.Buffer, merger *merge.Merger, dedupKey string, live []*record.Record, handled *int64, opts Options) error {
	var acc record.Document
	for _, rec := range live {
		src, ok := d.cfg.Source(rec.SourceID)
		if !ok {
			log.WithFields(logrus.Fields{"record": rec.ID, "source": rec.SourceID}).
				Warn("record references an unconfigured data source")
			continue
		}
		res, err := d.proj.Project(ctx, rec, src)
		if err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
		if res.Skip {
			continue
		}
		// The member was last indexed under another key; that document is
		// obsolete now.
		if rec.Key != "" && rec.Key != rec.DedupKey {
			if err := buf.Delete(ctx, rec.Key); err != nil {
				return err
			}
			d.counters.Deleted(ctx, rec.SourceID, 1)
		}
		doc := res.Doc
		acc = merger.Merge(acc, doc)
		// Set after merging so the flag never leaks into the parent.
		doc[record.FieldMergedChild] = true
		*handled++
		d.counters.Processed(ctx, rec.SourceID, 1)
		if err := buf.Add(ctx, doc, int(*handled), opts.NoCommit); err != nil {
			return err
		}
	}

	if len(acc) == 0 {
		d.counters.Deleted(ctx, mergedRecordType, 1)
		return buf.Delete(ctx, dedupKey)
	}

	merger.Finalize(acc)
	acc[record.FieldID] = dedupKey
	acc[record.FieldRecordType] = mergedRecordType
	acc[record.FieldMerged] = true
	if record.ValueEmpty(acc[record.FieldAllFields]) {
		log.WithField("group", dedupKey).Warn("merged record has no allfields")
	}
	d.counters.Merged(ctx, 1)
	*handled++
	return buf.Add(ctx, acc, int(*handled), opts.NoCommit)
}

// updateResidualRecords indexes the changed records that belong to no dedup
// group. A record that recently left a group may leave behind an orphaned
// merged document; it is removed when no live member remains.
func (d *Driver) updateResidualRecords(ctx context.Context, log *logrus.Entry, buf *solr.Buffer, filter store.RecordFilter, handled *int64, maxUpdated *time.Time, opts Options) error {
	hasKey := false
	filter.HasDedupKey = &hasKey

	return d.store.EachRecord(ctx, filter, func(rec *record.Record) error {
		if rec.Updated.After(*maxUpdated) {
			*maxUpdated = rec.Updated
		}
		if rec.Key != "" && rec.Key != rec.ID {
			stillLive, err := d.store.HasLiveDedupMember(ctx, rec.Key, rec.ID)
			if err != nil {
				return err
			}
			if !stillLive {
				if err := buf.Delete(ctx, rec.Key); err != nil {
					return err
				}
				d.counters.Deleted(ctx, mergedRecordType, 1)
			}
		}
		*handled++
		if opts.Delete || rec.Deleted {
			d.counters.Deleted(ctx, rec.SourceID, 1)
			return buf.Delete(ctx, rec.ID)
		}
		src, ok := d.cfg.Source(rec.SourceID)
		if !ok {
			log.WithFields(logrus.Fields{"record": rec.ID, "source": rec.SourceID}).
				Warn("record references an unconfigured data source")
			return nil
		}
		res, err := d.proj.Project(ctx, rec, src)
		if err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
		if res.Skip {
			d.counters.Deleted(ctx, rec.SourceID, 1)
			return buf.Delete(ctx, rec.ID)
		}
		d.counters.Processed(ctx, rec.SourceID, 1)
		return buf.Add(ctx, res.Doc, int(*handled), opts.NoCommit)
	})
}
