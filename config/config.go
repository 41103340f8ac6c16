// Package config provides configuration management for the record manager.
//
// Configuration is loaded from multiple sources with proper precedence:
//   - YAML configuration files
//   - Environment variables (RECMAN_ prefix)
//   - Default values
//
// The configuration carries three concerns: the Solr connection and
// indexing policy (section "solr"), the MongoDB record store (section
// "mongo"), and the per-source data source settings (section
// "datasources"). There is no hidden global configuration table; the loaded
// Config is threaded through constructors.
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/rajaro/RecordManager-Finna/record"
)

// SolrConfig contains the search backend connection and indexing policy.
type SolrConfig struct {
	// UpdateURL is the backend POST target for all update requests.
	UpdateURL string `mapstructure:"update_url"`

	// Username and Password enable optional basic auth.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// BackgroundUpdate decouples HTTP submission from enumeration with a
	// single background worker.
	BackgroundUpdate bool `mapstructure:"background_update"`

	// MaxCommitInterval is the number of records between intermediate
	// commits.
	MaxCommitInterval int `mapstructure:"max_commit_interval"`

	// MaxUpdateRecords is the number of adds per HTTP batch.
	MaxUpdateRecords int `mapstructure:"max_update_records"`

	// MaxUpdateSize is the batch byte ceiling in KiB.
	MaxUpdateSize int `mapstructure:"max_update_size"`

	// Timeout bounds a single update request in seconds; zero means no
	// timeout. Commit after source deletion and optimize use LongTimeout.
	Timeout     int `mapstructure:"timeout"`
	LongTimeout int `mapstructure:"long_timeout"`

	// InsecureSkipVerify disables TLS peer verification. Off by default;
	// enable only for backends with self-signed certificates.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`

	// Format classification sets.
	JournalFormats  []string `mapstructure:"journal_formats"`
	EJournalFormats []string `mapstructure:"ejournal_formats"`
	ArticleFormats  []string `mapstructure:"article_formats"`
	EArticleFormats []string `mapstructure:"earticle_formats"`

	// MergedFields overrides the list of fields merged as unions across
	// dedup group members.
	MergedFields []string `mapstructure:"merged_fields"`

	// HierarchicalFacets are facet names expanded to level-prefixed rungs;
	// including "building" enables the institution prefix.
	HierarchicalFacets []string `mapstructure:"hierarchical_facets"`

	// Geocoding names the target field for location lookups; empty
	// disables geocoding.
	Geocoding string `mapstructure:"geocoding"`
}

// Formats bundles the format classification sets and their unions.
type Formats struct {
	Journal    record.FormatSet
	EJournal   record.FormatSet
	Article    record.FormatSet
	EArticle   record.FormatSet
	AllJournal record.FormatSet
	AllArticle record.FormatSet
}

// Formats builds the classification sets from the configured lists.
func (c *SolrConfig) Formats() Formats {
	f := Formats{
		Journal:  record.NewFormatSet(c.JournalFormats),
		EJournal: record.NewFormatSet(c.EJournalFormats),
		Article:  record.NewFormatSet(c.ArticleFormats),
		EArticle: record.NewFormatSet(c.EArticleFormats),
	}
	f.AllJournal = f.Journal.Union(f.EJournal)
	f.AllArticle = f.Article.Union(f.EArticle)
	return f
}

// MongoConfig contains the record store connection settings.
type MongoConfig struct {
	// URL is the MongoDB connection string.
	URL string `mapstructure:"url"`

	// Database is the database name, also used to scope listCollections.
	Database string `mapstructure:"database"`

	// Counts enables cursor counting for progress reporting. Counting a
	// large filter can be expensive, so it is gated.
	Counts bool `mapstructure:"counts"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the root configuration structure.
type Config struct {
	Solr    SolrConfig  `mapstructure:"solr"`
	Mongo   MongoConfig `mapstructure:"mongo"`
	Logging LoggingConfig
	// MappingsDir is the directory mapping table files are resolved
	// against when given as relative paths.
	MappingsDir string                 `mapstructure:"mappings_dir"`
	DataSources map[string]*DataSource `mapstructure:"datasources"`
}

// Source returns the settings for a data source id.
func (c *Config) Source(id string) (*DataSource, bool) {
	ds, ok := c.DataSources[id]
	return ds, ok
}

// SourceIDs returns all configured data source ids in lexical order.
func (c *Config) SourceIDs() []string {
	ids := make([]string, 0, len(c.DataSources))
	for id := range c.DataSources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Loader provides configuration loading functionality.
type Loader struct {
	v      *viper.Viper
	prefix string
}

// NewLoader creates a new configuration loader with the given environment
// prefix.
func NewLoader(envPrefix string) *Loader {
	return &Loader{
		v:      viper.New(),
		prefix: envPrefix,
	}
}

// SetConfigDefaults sets the standard record manager defaults.
func (l *Loader) SetConfigDefaults() {
	l.v.SetDefault("solr.update_url", "http://localhost:8983/solr/biblio/update/json")
	l.v.SetDefault("solr.background_update", false)
	l.v.SetDefault("solr.max_commit_interval", 50000)
	l.v.SetDefault("solr.max_update_records", 5000)
	l.v.SetDefault("solr.max_update_size", 1024)
	l.v.SetDefault("solr.timeout", 0)
	l.v.SetDefault("solr.long_timeout", 3600)
	l.v.SetDefault("solr.insecure_skip_verify", false)
	l.v.SetDefault("solr.journal_formats", []string{"Journal"})
	l.v.SetDefault("solr.ejournal_formats", []string{"eJournal"})
	l.v.SetDefault("solr.article_formats", []string{"Article"})
	l.v.SetDefault("solr.earticle_formats", []string{"eArticle"})
	l.v.SetDefault("solr.merged_fields", DefaultMergedFields())
	l.v.SetDefault("solr.hierarchical_facets", []string{})
	l.v.SetDefault("solr.geocoding", "")

	l.v.SetDefault("mongo.url", "mongodb://localhost:27017")
	l.v.SetDefault("mongo.database", "recman")
	l.v.SetDefault("mongo.counts", false)

	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.format", "text")

	l.v.SetDefault("mappings_dir", "mappings")
}

// DefaultMergedFields returns the default multiplicity field list for merged
// documents.
func DefaultMergedFields() []string {
	return []string{
		"institution", "collection", "building", "language", "physical",
		"publisher", "publishDate", "contents", "url", "ctrlnum", "author2",
		"author_additional", "title_alt", "title_old", "title_new",
		"dateSpan", "series", "series2", "topic", "genre", "geographic",
		"era", "long_lat",
	}
}

// Load reads configuration from file and environment variables into target.
func (l *Loader) Load(cfgFile string, target interface{}) error {
	if cfgFile != "" {
		l.v.SetConfigFile(cfgFile)
	} else {
		l.v.SetConfigName("recman")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("./configs")
		l.v.AddConfigPath("/etc/recman")
	}

	if err := l.v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if l.prefix != "" {
		l.v.SetEnvPrefix(l.prefix)
	}
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.Unmarshal(target); err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}

	return nil
}

// LoadConfig loads, validates, and finishes the configuration: data source
// ids are stamped, mapping tables are loaded, and required fields are
// enforced.
func LoadConfig(envPrefix, cfgFile string) (*Config, error) {
	loader := NewLoader(envPrefix)
	loader.SetConfigDefaults()

	cfg := &Config{}
	if err := loader.Load(cfgFile, cfg); err != nil {
		return nil, err
	}

	baseDir := cfg.MappingsDir
	if cfgFile != "" && !filepath.IsAbs(baseDir) {
		baseDir = filepath.Join(filepath.Dir(cfgFile), baseDir)
	}
	for id, ds := range cfg.DataSources {
		ds.ID = id
		if err := ds.finish(baseDir); err != nil {
			return nil, fmt.Errorf("data source %s: %w", id, err)
		}
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ValidateConfig validates the loaded configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.Solr.UpdateURL == "" {
		return fmt.Errorf("solr.update_url is required")
	}
	if cfg.Mongo.Database == "" {
		return fmt.Errorf("mongo.database is required")
	}
	for id, ds := range cfg.DataSources {
		if err := ds.Validate(); err != nil {
			return fmt.Errorf("data source %s: %w", id, err)
		}
	}
	return nil
}
