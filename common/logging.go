// Package common provides centralized logging infrastructure for the record
// manager. It implements output routing that directs error messages to stderr
// while sending other log levels to stdout, enabling proper stream separation
// for containerized and scripted environments.
//
// The logging system is built on logrus for structured logging capabilities
// with custom output handling that supports both interactive use and
// cron-style batch runs. All packages in this repository log through the
// global Logger so that formatting and routing stay uniform.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to the appropriate output stream.
// Error-level messages go to stderr so that schedulers and wrapper scripts can
// capture failures separately; everything else goes to stdout.
type OutputSplitter struct{}

// Write implements io.Writer. It inspects the formatted entry for the logrus
// error level markers and selects the stream accordingly.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte("level=fatal")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance used across the record manager.
// It is pre-configured with the OutputSplitter; the CLI layer adjusts the
// level and format from configuration at startup.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
