// Package projector materializes one index document from one stored
// record. Projection runs the format parser (or the source's configured
// transformation), attaches host/component linkage, applies per-source
// mapping tables, expands hierarchical facets, backfills allfields, stamps
// timestamps, and strips empty fields.
package projector

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rajaro/RecordManager-Finna/common"
	"github.com/rajaro/RecordManager-Finna/config"
	"github.com/rajaro/RecordManager-Finna/record"
)

// indexTimeFormat is the ISO-8601 UTC layout used for the first_indexed and
// last_indexed fields.
const indexTimeFormat = "2006-01-02T15:04:05Z"

// allfieldsExcluded are the fields never concatenated into allfields.
var allfieldsExcluded = map[string]bool{
	record.FieldFullRecord: true,
	"thumbnail":            true,
	record.FieldID:         true,
	record.FieldRecordType: true,
	"ctrlnum":              true,
}

// Store is the record store access the projector needs: component part and
// host record lookups plus the geocoding location table.
type Store interface {
	// ComponentParts returns the live component parts of the same source
	// whose host_record_id equals linkingID.
	ComponentParts(ctx context.Context, sourceID, linkingID string) ([]*record.Record, error)

	// HostRecord resolves a component part's host by (source_id,
	// linking_id). It returns nil without error when no host exists.
	HostRecord(ctx context.Context, sourceID, linkingID string) (*record.Record, error)

	// Locations returns geocoding entries for an uppercased place name,
	// ordered by importance ascending.
	Locations(ctx context.Context, place string) ([]record.Location, error)
}

// Result is the outcome of projecting one record.
type Result struct {
	// Doc is the projected document; nil when Skip is set.
	Doc record.Document

	// Skip marks a hidden component part whose source does not index
	// merged parts.
	Skip bool

	// MergedComponents is the number of component parts folded into the
	// host's metadata.
	MergedComponents int
}

// Projector builds index documents for records.
type Projector struct {
	store              Store
	formats            config.Formats
	hierarchicalFacets map[string]bool
	geoField           string
	log                *logrus.Entry
}

// New creates a projector using the Solr indexing policy from cfg.
func New(store Store, cfg *config.Config) *Projector {
	facets := make(map[string]bool, len(cfg.Solr.HierarchicalFacets))
	for _, f := range cfg.Solr.HierarchicalFacets {
		facets[f] = true
	}
	return &Projector{
		store:              store,
		formats:            cfg.Solr.Formats(),
		hierarchicalFacets: facets,
		geoField:           cfg.Solr.Geocoding,
		log:                common.Logger.WithField("component", "projector"),
	}
}

// Project produces the index document for one record, or a skip marker for
// hidden component parts of sources that do not index merged parts.
func (p *Projector) Project(ctx context.Context, rec *record.Record, src *config.DataSource) (*Result, error) {
	parser, err := record.NewParser(rec, src.Format)
	if err != nil {
		return nil, err
	}

	hidden := p.hiddenComponent(rec, src)
	if hidden && !src.MergedPartsIndexed() {
		return &Result{Skip: true}, nil
	}

	mergedComponents := 0
	var components []*record.Record
	if !rec.IsComponentPart() && rec.LinkingID != "" {
		components, err = p.store.ComponentParts(ctx, rec.SourceID, rec.LinkingID)
		if err != nil {
			return nil, fmt.Errorf("fetch component parts of %s: %w", rec.ID, err)
		}
		if len(components) > 0 && p.mergeComponents(rec, src) {
			n, err := parser.MergeComponentParts(components)
			if err != nil {
				return nil, fmt.Errorf("merge component parts of %s: %w", rec.ID, err)
			}
			mergedComponents = n
		}
	}

	doc, err := p.baseProjection(parser, rec, src)
	if err != nil {
		return nil, err
	}
	doc[record.FieldID] = rec.ID

	if err := p.applyLinkage(ctx, doc, parser, rec, src, len(components) > 0); err != nil {
		return nil, err
	}

	if record.ValueEmpty(doc[record.FieldInstitution]) {
		doc[record.FieldInstitution] = src.Institution
	}

	p.applyMappings(doc, src)
	p.applyHierarchicalBuilding(doc, rec, src)
	p.expandHierarchicalFacets(doc)
	p.backfillAllfields(doc)

	doc[record.FieldFirstIndexed] = rec.Created.UTC().Format(indexTimeFormat)
	doc[record.FieldLastIndexed] = rec.Date.UTC().Format(indexTimeFormat)
	doc[record.FieldRecordType] = rec.Format
	if record.ValueEmpty(doc[record.FieldFullRecord]) {
		xmlOut, err := parser.XML()
		if err != nil {
			return nil, fmt.Errorf("serialize record %s: %w", rec.ID, err)
		}
		doc[record.FieldFullRecord] = xmlOut
	}
	ensureFormatList(doc, rec)

	if hidden {
		doc[record.FieldHiddenComponent] = true
	}

	p.applyGeocoding(ctx, doc)

	doc.Normalize()
	return &Result{Doc: doc, MergedComponents: mergedComponents}, nil
}

// hiddenComponent applies the component-part policy: a component part is
// hidden when the source merges parts of its kind into the host record.
func (p *Projector) hiddenComponent(rec *record.Record, src *config.DataSource) bool {
	if !rec.IsComponentPart() {
		return false
	}
	switch src.EffectiveComponentParts() {
	case config.ComponentPartsMergeAll:
		return true
	case config.ComponentPartsMergeNonArticles:
		return !p.formats.AllArticle.Contains(rec.Format)
	case config.ComponentPartsMergeNonEArticle:
		if !p.formats.AllArticle.Contains(rec.Format) {
			return true
		}
		return p.formats.Article.Contains(rec.Format) && !p.formats.EArticle.Contains(rec.Format)
	}
	return false
}

// mergeComponents decides whether a host record folds its component parts
// into its own metadata.
func (p *Projector) mergeComponents(rec *record.Record, src *config.DataSource) bool {
	cp := src.EffectiveComponentParts()
	if cp == config.ComponentPartsMergeAll {
		return true
	}
	if !p.formats.AllJournal.Contains(rec.Format) {
		return true
	}
	return p.formats.Journal.Contains(rec.Format) && cp == config.ComponentPartsMergeNonEArticle
}

// baseProjection runs the configured transformation, or the parser's native
// projection when none is set.
func (p *Projector) baseProjection(parser record.Parser, rec *record.Record, src *config.DataSource) (record.Document, error) {
	if src.Transformer == nil {
		doc, err := parser.Project()
		if err != nil {
			return nil, fmt.Errorf("project record %s: %w", rec.ID, err)
		}
		return doc, nil
	}
	xmlOut, err := parser.XML()
	if err != nil {
		return nil, fmt.Errorf("serialize record %s: %w", rec.ID, err)
	}
	doc, err := src.Transformer.Transform(xmlOut, map[string]string{
		"source_id":   rec.SourceID,
		"institution": src.Institution,
		"format":      rec.Format,
		"id_prefix":   src.EffectiveIDPrefix(),
	})
	if err != nil {
		return nil, fmt.Errorf("transform record %s: %w", rec.ID, err)
	}
	return doc, nil
}

// applyLinkage attaches host/component linkage fields.
func (p *Projector) applyLinkage(ctx context.Context, doc record.Document, parser record.Parser, rec *record.Record, src *config.DataSource, hasComponents bool) error {
	if rec.IsComponentPart() {
		host, err := p.store.HostRecord(ctx, rec.SourceID, rec.HostRecordID)
		if err != nil {
			return fmt.Errorf("resolve host of %s: %w", rec.ID, err)
		}
		container := parser.Container()
		if host != nil {
			doc[record.FieldHierarchyParentID] = host.ID
			hostParser, err := record.NewParser(host, src.Format)
			if err != nil {
				return fmt.Errorf("parse host %s: %w", host.ID, err)
			}
			title := hostParser.Title()
			doc[record.FieldContainerTitle] = title
			doc[record.FieldHierarchyParentTitle] = title
		} else {
			p.log.WithFields(logrus.Fields{
				"record": rec.ID,
				"host":   rec.HostRecordID,
			}).Warn("host record not found")
			doc[record.FieldContainerTitle] = container.Title
		}
		doc[record.FieldContainerVolume] = container.Volume
		doc[record.FieldContainerIssue] = container.Issue
		doc[record.FieldContainerStartPage] = container.StartPage
		doc[record.FieldContainerReference] = container.Reference
	} else {
		for _, field := range []string{
			record.FieldHierarchyTopID,
			record.FieldHierarchyParentID,
			record.FieldIsHierarchyID,
		} {
			if v, ok := doc[field]; ok && !record.ValueEmpty(v) {
				values := record.Strings(v)
				prefixed := make([]string, len(values))
				for i, val := range values {
					prefixed[i] = rec.SourceID + "." + val
				}
				doc[field] = prefixed
			}
		}
	}

	if hasComponents {
		doc[record.FieldIsHierarchyID] = rec.ID
		doc[record.FieldIsHierarchyTitle] = parser.Title()
	}
	return nil
}

// applyMappings runs each configured field mapping table over the document.
func (p *Projector) applyMappings(doc record.Document, src *config.DataSource) {
	for _, field := range sortedKeys(src.MappingTables) {
		table := src.MappingTables[field]
		v, present := doc[field]
		if !present || record.ValueEmpty(v) {
			repl, ok := table.EmptyReplacement(record.IsList(v))
			if !ok {
				repl, ok = table.EmptyReplacement(!record.IsList(v))
			}
			if ok {
				doc[field] = repl
			}
			continue
		}
		mapped, keep := table.Apply(v)
		if keep {
			doc[field] = mapped
		} else {
			delete(doc, field)
		}
	}
}

// applyHierarchicalBuilding prefixes building values with the institution
// code when building is a hierarchical facet.
func (p *Projector) applyHierarchicalBuilding(doc record.Document, rec *record.Record, src *config.DataSource) {
	if !p.hierarchicalFacets[record.FieldBuilding] {
		return
	}
	var code string
	switch src.InstitutionInBuilding {
	case config.InstitutionInBuildingDriver:
		values := record.Strings(doc[record.FieldInstitution])
		if len(values) > 0 {
			code = values[0]
		}
	case config.InstitutionInBuildingNone:
		code = ""
	case config.InstitutionInBuildingSource:
		code = rec.SourceID
	default:
		code = src.Institution
	}
	if code == "" {
		return
	}
	if v, ok := doc[record.FieldBuilding]; ok && !record.ValueEmpty(v) {
		values := record.Strings(v)
		prefixed := make([]string, len(values))
		for i, val := range values {
			prefixed[i] = code + "/" + val
		}
		doc[record.FieldBuilding] = prefixed
	} else {
		doc[record.FieldBuilding] = []string{code}
	}
}

// expandHierarchicalFacets replaces each facet value "a/b/c" by the
// level-prefixed rungs "0/a", "1/a/b", "2/a/b/c".
func (p *Projector) expandHierarchicalFacets(doc record.Document) {
	for _, facet := range sortedKeys(p.hierarchicalFacets) {
		v, ok := doc[facet]
		if !ok || record.ValueEmpty(v) {
			continue
		}
		var expanded []string
		for _, value := range record.Strings(v) {
			parts := strings.Split(value, "/")
			for i := range parts {
				expanded = append(expanded, strconv.Itoa(i)+"/"+strings.Join(parts[:i+1], "/"))
			}
		}
		doc[facet] = expanded
	}
}

// backfillAllfields concatenates the stringified values of every field not
// excluded, case-insensitively deduplicated, when allfields is absent.
func (p *Projector) backfillAllfields(doc record.Document) {
	if !record.ValueEmpty(doc[record.FieldAllFields]) {
		return
	}
	var all []string
	for _, field := range doc.SortedFields() {
		if field == record.FieldAllFields || allfieldsExcluded[field] {
			continue
		}
		if s := record.Stringify(doc[field]); s != "" {
			all = append(all, s)
		}
	}
	doc[record.FieldAllFields] = record.DedupListFold(all)
}

// ensureFormatList makes format a list, defaulting to the record's format.
func ensureFormatList(doc record.Document, rec *record.Record) {
	v := doc["format"]
	if record.ValueEmpty(v) {
		doc["format"] = []string{rec.Format}
		return
	}
	if !record.IsList(v) {
		doc["format"] = []string{record.Stringify(v)}
	}
}

// applyGeocoding fills the configured geo field from the location table
// when a geographic facet is present. Lookup failures are tolerated: they
// are logged and the place is skipped.
func (p *Projector) applyGeocoding(ctx context.Context, doc record.Document) {
	if p.geoField == "" {
		return
	}
	facet := doc[record.FieldGeographicFacet]
	if record.ValueEmpty(facet) || !record.ValueEmpty(doc[p.geoField]) {
		return
	}
	var out []string
	for _, place := range expandPlaces(record.Strings(facet)) {
		locations, err := p.store.Locations(ctx, strings.ToUpper(strings.TrimSpace(place)))
		if err != nil {
			p.log.WithError(err).WithField("place", place).Warn("geocoding lookup failed")
			continue
		}
		if len(locations) == 0 {
			continue
		}
		// Importance zero marks a definite match: consume the remaining
		// definite entries and stop looking at further places.
		definite := locations[0].Importance == 0
		for _, loc := range locations {
			if definite && loc.Importance != 0 {
				break
			}
			out = append(out, formatLonLat(loc))
		}
		if definite {
			break
		}
	}
	if len(out) > 0 {
		doc[p.geoField] = out
	}
}

// expandPlaces lists each place followed by its comma-split parts.
func expandPlaces(places []string) []string {
	var out []string
	for _, place := range places {
		out = append(out, place)
		if strings.Contains(place, ",") {
			for _, part := range strings.Split(place, ",") {
				if trimmed := strings.TrimSpace(part); trimmed != "" {
					out = append(out, trimmed)
				}
			}
		}
	}
	return out
}

func formatLonLat(loc record.Location) string {
	return strconv.FormatFloat(loc.Lon, 'f', -1, 64) + " " + strconv.FormatFloat(loc.Lat, 'f', -1, 64)
}

// sortedKeys returns map keys in lexical order for deterministic iteration.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
