// Package version extracts build information embedded in the binary by the
// Go toolchain.
package version

import (
	"fmt"
	"runtime/debug"
)

// BuildInfo contains build-time information.
type BuildInfo struct {
	GoVersion string `json:"goVersion"`
	Module    string `json:"module"`
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
}

// Get reads the build information embedded at build time.
func Get() *BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return &BuildInfo{
			GoVersion: "unknown",
			Module:    "unknown",
			Version:   "unknown",
		}
	}

	b := &BuildInfo{
		GoVersion: info.GoVersion,
		Module:    info.Path,
		Version:   info.Main.Version,
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			b.Revision = setting.Value
		case "vcs.modified":
			b.Modified = setting.Value == "true"
		}
	}
	return b
}

// String renders a one-line human readable version.
func (b *BuildInfo) String() string {
	s := fmt.Sprintf("%s %s (%s)", b.Module, b.Version, b.GoVersion)
	if b.Revision != "" {
		rev := b.Revision
		if len(rev) > 12 {
			rev = rev[:12]
		}
		s += " " + rev
		if b.Modified {
			s += "-dirty"
		}
	}
	return s
}
