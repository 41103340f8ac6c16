package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rajaro/RecordManager-Finna/mapping"
	"github.com/rajaro/RecordManager-Finna/record"
)

// Component part handling policies.
const (
	ComponentPartsAsIs             = "as_is"
	ComponentPartsMergeAll         = "merge_all"
	ComponentPartsMergeNonArticles = "merge_non_articles"
	ComponentPartsMergeNonEArticle = "merge_non_earticles"
)

// Institution-in-building policies for hierarchical building facets.
const (
	InstitutionInBuildingDriver = "driver"
	InstitutionInBuildingNone   = "none"
	InstitutionInBuildingSource = "source"
)

// DataSource holds per-source settings. Keys in the configuration file
// ending in "_mapping" name mapping table files for the corresponding
// field; they are collected from the remainder map and loaded into
// MappingTables.
type DataSource struct {
	ID string `mapstructure:"-"`

	// Institution is the owning institution code. Required.
	Institution string `mapstructure:"institution"`

	// Format is the default record format. Required.
	Format string `mapstructure:"format"`

	// IDPrefix defaults to the source id.
	IDPrefix string `mapstructure:"idprefix"`

	// ComponentParts selects the component part policy; default as_is.
	ComponentParts string `mapstructure:"componentparts"`

	// IndexMergedParts controls whether hidden component parts are still
	// indexed; default true.
	IndexMergedParts *bool `mapstructure:"indexmergedparts"`

	// SolrTransformation names the optional transformation stylesheet; the
	// Transformer handle is attached by the wiring layer.
	SolrTransformation string `mapstructure:"solrtransformation"`

	// InstitutionInBuilding selects the institution code prefixed into
	// hierarchical building values: "driver", "none", "source", or empty
	// for the settings institution.
	InstitutionInBuilding string `mapstructure:"institutioninbuilding"`

	// Remainder catches unrecognized keys, notably <field>_mapping file
	// references.
	Remainder map[string]interface{} `mapstructure:",remain"`

	// MappingTables maps field name to its loaded mapping table.
	MappingTables map[string]mapping.Table `mapstructure:"-"`

	// Transformer is the optional post-projection hook.
	Transformer record.Transformer `mapstructure:"-"`
}

// EffectiveIDPrefix returns the id prefix, defaulting to the source id.
func (d *DataSource) EffectiveIDPrefix() string {
	if d.IDPrefix != "" {
		return d.IDPrefix
	}
	return d.ID
}

// EffectiveComponentParts returns the component part policy, defaulting to
// as_is.
func (d *DataSource) EffectiveComponentParts() string {
	if d.ComponentParts != "" {
		return d.ComponentParts
	}
	return ComponentPartsAsIs
}

// MergedPartsIndexed reports whether hidden component parts are indexed.
func (d *DataSource) MergedPartsIndexed() bool {
	if d.IndexMergedParts == nil {
		return true
	}
	return *d.IndexMergedParts
}

// Validate enforces required settings and value ranges.
func (d *DataSource) Validate() error {
	if d.Institution == "" {
		return fmt.Errorf("institution is required")
	}
	if d.Format == "" {
		return fmt.Errorf("format is required")
	}
	switch d.EffectiveComponentParts() {
	case ComponentPartsAsIs, ComponentPartsMergeAll,
		ComponentPartsMergeNonArticles, ComponentPartsMergeNonEArticle:
	default:
		return fmt.Errorf("invalid componentParts value %q", d.ComponentParts)
	}
	switch d.InstitutionInBuilding {
	case "", InstitutionInBuildingDriver, InstitutionInBuildingNone,
		InstitutionInBuildingSource:
	default:
		return fmt.Errorf("invalid institutionInBuilding value %q", d.InstitutionInBuilding)
	}
	return nil
}

// finish loads the mapping tables referenced by <field>_mapping keys,
// resolving relative paths against baseDir. A missing or malformed mapping
// file is a configuration error and fails the load.
func (d *DataSource) finish(baseDir string) error {
	d.MappingTables = map[string]mapping.Table{}
	for key, raw := range d.Remainder {
		if !strings.HasSuffix(key, "_mapping") {
			continue
		}
		field := strings.TrimSuffix(key, "_mapping")
		path, ok := raw.(string)
		if !ok || path == "" {
			return fmt.Errorf("%s: expected a mapping file path", key)
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		table, err := mapping.Load(path)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		d.MappingTables[field] = table
	}
	return nil
}
