// Command recman runs the record manager indexing pipeline: it keeps a
// Solr index in sync with the MongoDB record store.
package main

import (
	"os"

	"github.com/rajaro/RecordManager-Finna/cli"
	"github.com/rajaro/RecordManager-Finna/common"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		common.Logger.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
