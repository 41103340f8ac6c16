// Package cli provides the record manager command-line interface. The root
// command carries the shared configuration and logging flags; subcommands
// run the index update passes and the maintenance operations.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables with the RECMAN_ prefix
//  2. Configuration file values
//  3. Default values
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rajaro/RecordManager-Finna/common"
	"github.com/rajaro/RecordManager-Finna/config"
	"github.com/rajaro/RecordManager-Finna/pipeline"
	"github.com/rajaro/RecordManager-Finna/projector"
	"github.com/rajaro/RecordManager-Finna/solr"
	"github.com/rajaro/RecordManager-Finna/store"
	"github.com/rajaro/RecordManager-Finna/version"
)

var (
	cfgFile string
	verbose bool

	fromFlag     string
	sourceFlag   string
	singleFlag   string
	noCommitFlag bool
	deleteFlag   bool
)

// RootCmd is the record manager root command.
var RootCmd = &cobra.Command{
	Use:   "recman",
	Short: "keep a Solr index in sync with the bibliographic record store",
	Long: `Record manager indexing pipeline

Keeps a Solr index in sync with the MongoDB record store. The update
command indexes changed records per data source; the merged command
rewrites deduplication groups as merged documents. Maintenance commands
delete a data source from the index, optimize the index, and tally
projected field values.

Configuration is read from a YAML file (--config) with RECMAN_ prefixed
environment variable overrides.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./recman.yaml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	RootCmd.AddCommand(updateCmd)
	RootCmd.AddCommand(mergedCmd)
	RootCmd.AddCommand(deleteSourceCmd)
	RootCmd.AddCommand(optimizeCmd)
	RootCmd.AddCommand(countValuesCmd)
	RootCmd.AddCommand(versionCmd)

	for _, cmd := range []*cobra.Command{updateCmd, mergedCmd, countValuesCmd} {
		cmd.Flags().StringVar(&fromFlag, "from", "", "start time (RFC3339 or YYYY-MM-DD), overrides the stored watermark")
		cmd.Flags().StringVar(&sourceFlag, "source", "", "restrict to one data source")
		cmd.Flags().StringVar(&singleFlag, "single", "", "process a single record id")
		cmd.Flags().BoolVar(&noCommitFlag, "no-commit", false, "suppress commits")
	}
	for _, cmd := range []*cobra.Command{updateCmd, mergedCmd} {
		cmd.Flags().BoolVar(&deleteFlag, "delete", false, "delete the selected records from the index instead of updating")
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
	},
}

// passOptions builds the pass options from the shared flags.
func passOptions() (pipeline.Options, error) {
	from, err := parseFrom(fromFlag)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		From:     from,
		SourceID: sourceFlag,
		SingleID: singleFlag,
		NoCommit: noCommitFlag,
		Delete:   deleteFlag,
	}, nil
}

// parseFrom parses the --from flag; empty means "use the watermark".
func parseFrom(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid --from value %q (want RFC3339 or YYYY-MM-DD)", s)
}

// setup loads the configuration, configures logging, and wires the pass
// driver. The returned cleanup closes the record store connection.
func setup(ctx context.Context) (*pipeline.Driver, func(), error) {
	cfg, err := config.LoadConfig("RECMAN", cfgFile)
	if err != nil {
		return nil, nil, err
	}

	logCfg := common.DefaultLoggerConfig()
	if cfg.Logging.Level != "" {
		logCfg.Level = common.LogLevel(cfg.Logging.Level)
	}
	if cfg.Logging.Format != "" {
		logCfg.Format = cfg.Logging.Format
	}
	if verbose {
		logCfg.Level = common.LogLevelDebug
	}
	common.ConfigureLogger(logCfg)

	st, err := store.Connect(ctx, cfg.Mongo)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := st.Close(context.Background()); err != nil {
			common.Logger.WithError(err).Warn("closing record store failed")
		}
	}

	client := solr.NewClient(solr.Config{
		UpdateURL:          cfg.Solr.UpdateURL,
		Username:           cfg.Solr.Username,
		Password:           cfg.Solr.Password,
		Timeout:            time.Duration(cfg.Solr.Timeout) * time.Second,
		LongTimeout:        time.Duration(cfg.Solr.LongTimeout) * time.Second,
		InsecureSkipVerify: cfg.Solr.InsecureSkipVerify,
		Background:         cfg.Solr.BackgroundUpdate,
	})
	proj := projector.New(st, cfg)
	return pipeline.NewDriver(st, proj, client, cfg), cleanup, nil
}
