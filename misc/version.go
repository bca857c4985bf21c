// Package misc keeps build identification helpers.
package misc

import "runtime/debug"

// set by the linker during release builds
var (
	version = "development"
	gitHash = ""
)

// GetVersion returns the program version baked in at build time.
func GetVersion() string {
	return version
}

// GetGitHash returns the source revision, preferring the linker-set value
// and falling back to the revision recorded by the Go toolchain.
func GetGitHash() string {
	if len(gitHash) > 0 {
		return gitHash
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return "unknown"
}
