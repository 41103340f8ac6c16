package cli

import (
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "index changed records per data source",
	Long: `Runs the individual record pass: records changed since each
source's watermark are projected and indexed under their own ids.
Deleted records are removed from the index. A failing source is logged
and skipped; the command fails only when every selected source fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := passOptions()
		if err != nil {
			return err
		}
		driver, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()
		return driver.UpdateIndividualRecords(cmd.Context(), opts)
	},
}

var mergedCmd = &cobra.Command{
	Use:   "merged",
	Short: "rewrite deduplication groups as merged documents",
	Long: `Runs the merged pass: deduplication groups touched since the
global watermark are rewritten as merged documents with their members
marked as merged children. Records outside any group are indexed
individually and orphaned merged documents are removed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := passOptions()
		if err != nil {
			return err
		}
		driver, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()
		return driver.UpdateMergedRecords(cmd.Context(), opts)
	},
}
