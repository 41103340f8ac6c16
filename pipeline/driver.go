// Package pipeline drives the index update passes: the per-source
// individual record pass, the dedup group merged pass, and the maintenance
// operations (source deletion, optimize, value counting).
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
	"github.com/rajaro/RecordManager-Finna/projector"
	"github.com/rajaro/RecordManager-Finna/record"
	"github.com/rajaro/RecordManager-Finna/solr"
	"github.com/rajaro/RecordManager-Finna/store"
	"github.com/rajaro/RecordManager-Finna/telemetry"
)

// progressInterval is the number of handled records between progress log
// lines.
const progressInterval = 1000

// Store is the record store access the driver needs.
type Store interface {
	EachRecord(ctx context.Context, filter store.RecordFilter, fn func(*record.Record) error) error
	CountRecords(ctx context.Context, filter store.RecordFilter) (int64, bool, error)
	EachDedupKey(ctx context.Context, filter store.RecordFilter, fn func(store.DedupGroup) error) error
	RecordsByDedupKey(ctx context.Context, dedupKey string) ([]*record.Record, error)
	HasLiveDedupMember(ctx context.Context, dedupKey, excludeID string) (bool, error)
	ReadWatermark(ctx context.Context, key string) (*time.Time, error)
	WriteWatermark(ctx context.Context, key string, t time.Time) error
}

// Projector produces index documents for records.
type Projector interface {
	Project(ctx context.Context, rec *record.Record, src *config.DataSource) (*projector.Result, error)
}

// Options select the scope of one update pass.
type Options struct {
	// From overrides the stored watermark as the pass start time.
	From *time.Time

	// SourceID restricts the pass to one data source.
	SourceID string

	// SingleID restricts the pass to one record; no watermark is written.
	SingleID string

	// NoCommit suppresses intermediate and final commits.
	NoCommit bool

	// Delete removes the selected records from the index instead of
	// updating them; no watermark is written.
	Delete bool
}

// Driver runs index update passes.
type Driver struct {
	store    Store
	proj     Projector
	client   *solr.Client
	cfg      *config.Config
	counters *telemetry.Counters
	log      *logrus.Entry
}

// NewDriver creates a pass driver.
func NewDriver(st Store, proj Projector, client *solr.Client, cfg *config.Config) *Driver {
	return &Driver{
		store:    st,
		proj:     proj,
		client:   client,
		cfg:      cfg,
		counters: telemetry.NewCounters(),
		log:      common.Logger.WithField("component", "pipeline"),
	}
}

func (d *Driver) newBuffer() *solr.Buffer {
	return solr.NewBuffer(d.client,
		d.cfg.Solr.MaxUpdateRecords,
		d.cfg.Solr.MaxUpdateSize,
		d.cfg.Solr.MaxCommitInterval)
}

// UpdateIndividualRecords runs the per-source individual pass: changed
// records of each selected source are projected and indexed under their own
// ids. A failing source is logged and skipped; the pass fails only when
// every selected source fails.
func (d *Driver) UpdateIndividualRecords(ctx context.Context, opts Options) error {
	log := d.log.WithField("run", uuid.NewString())

	var sources []string
	if opts.SourceID != "" {
		if _, ok := d.cfg.Source(opts.SourceID); !ok {
			return fmt.Errorf("unknown data source %q", opts.SourceID)
		}
		sources = []string{opts.SourceID}
	} else {
		sources = d.cfg.SourceIDs()
	}
	if len(sources) == 0 {
		log.Warn("no data sources configured")
		return nil
	}

	succeeded := 0
	dirty := false
	var marks []sourceMark
	for _, id := range sources {
		src, _ := d.cfg.Source(id)
		maxUpdated, sent, err := d.updateSource(ctx, log, src, opts)
		if err != nil {
			log.WithError(err).WithField("source", id).Error("source update failed")
			continue
		}
		succeeded++
		dirty = dirty || sent
		if !maxUpdated.IsZero() {
			marks = append(marks, sourceMark{source: src.ID, updated: maxUpdated})
		}
	}
	if succeeded == 0 {
		return fmt.Errorf("all %d data sources failed", len(sources))
	}

	// One commit covers every source; the watermarks advance only once it
	// has succeeded.
	if !opts.NoCommit && dirty {
		if err := d.client.Commit(ctx); err != nil {
			return err
		}
	}
	if opts.SingleID == "" && !opts.Delete {
		for _, m := range marks {
			if err := d.store.WriteWatermark(ctx, store.SourceWatermarkKey(m.source), m.updated); err != nil {
				return err
			}
		}
	}
	return nil
}

// sourceMark is the pending watermark of one successfully updated source.
type sourceMark struct {
	source  string
	updated time.Time
}

// updateSource runs the individual pass for one source. It reports the
// newest record timestamp seen and whether anything was sent to the index;
// the caller commits and writes the watermarks.
func (d *Driver) updateSource(ctx context.Context, log *logrus.Entry, src *config.DataSource, opts Options) (time.Time, bool, error) {
	log = log.WithField("source", src.ID)
	buf := d.newBuffer()

	filter := store.RecordFilter{SourceID: src.ID, SingleID: opts.SingleID}
	if !opts.Delete {
		needed := false
		filter.UpdateNeeded = &needed
	}
	if opts.From != nil {
		filter.From = opts.From
	} else if opts.SingleID == "" {
		wm, err := d.store.ReadWatermark(ctx, store.SourceWatermarkKey(src.ID))
		if err != nil {
			return time.Time{}, false, err
		}
		filter.From = wm
	}

	if total, counted, err := d.store.CountRecords(ctx, filter); err != nil {
		return time.Time{}, false, err
	} else if counted {
		log.WithField("records", humanize.Comma(total)).Info("starting source update")
	} else {
		log.Info("starting source update")
	}

	meter := common.NewMeter(0)
	var processed, deleted int64
	var maxUpdated time.Time

	err := d.store.EachRecord(ctx, filter, func(rec *record.Record) error {
		if rec.Updated.After(maxUpdated) {
			maxUpdated = rec.Updated
		}
		switch {
		case opts.Delete || rec.Deleted:
			if err := buf.Delete(ctx, deleteID(rec)); err != nil {
				return err
			}
			deleted++
		default:
			res, err := d.proj.Project(ctx, rec, src)
			if err != nil {
				return fmt.Errorf("record %s: %w", rec.ID, err)
			}
			if res.Skip {
				if err := buf.Delete(ctx, rec.ID); err != nil {
					return err
				}
				deleted++
				break
			}
			processed++
			if err := buf.Add(ctx, res.Doc, int(processed+deleted), opts.NoCommit); err != nil {
				return err
			}
			if res.MergedComponents > 0 {
				d.counters.ComponentsMerged(ctx, src.ID, int64(res.MergedComponents))
			}
		}

		meter.Add(1)
		if n := processed + deleted; n%progressInterval == 0 {
			log.WithFields(logrus.Fields{
				"handled": humanize.Comma(n),
				"speed":   fmt.Sprintf("%.0f/s", meter.Speed()),
			}).Info("source update progress")
		}
		return nil
	})
	if err != nil {
		return time.Time{}, false, err
	}
	if err := buf.Flush(ctx); err != nil {
		return time.Time{}, false, err
	}

	d.counters.Processed(ctx, src.ID, processed)
	d.counters.Deleted(ctx, src.ID, deleted)
	log.WithFields(logrus.Fields{
		"processed": humanize.Comma(processed),
		"deleted":   humanize.Comma(deleted),
	}).Info("source update finished")

	return maxUpdated, buf.Dirty(), nil
}

// deleteID returns the index document id to delete for a record: the last
// indexed key when tracked, the record id otherwise.
func deleteID(rec *record.Record) string {
	if rec.Key != "" {
		return rec.Key
	}
	return rec.ID
}
