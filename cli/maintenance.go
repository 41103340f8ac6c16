package cli

import (
	"github.com/spf13/cobra"
)

var deleteSourceCmd = &cobra.Command{
	Use:   "delete-source <source-id>",
	Short: "delete every index document of a data source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		driver, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()
		return driver.DeleteDataSource(cmd.Context(), args[0])
	},
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "optimize the index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		driver, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()
		return driver.OptimizeIndex(cmd.Context())
	},
}

var countValuesCmd = &cobra.Command{
	Use:   "count-values <field>",
	Short: "tally the projected values of a field across live records",
	Args:  cobra.ExactArgs(1),
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
		return driver.CountValues(cmd.Context(), opts, args[0], cmd.OutOrStdout())
	},
}
