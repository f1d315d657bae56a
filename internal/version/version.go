// Package appversion provides build version information injected via ldflags.
//
//	-ldflags="-X github.com/dantte-lp/gomstp/internal/version.Version=v1.0.0
//	          -X github.com/dantte-lp/gomstp/internal/version.GitCommit=abc1234
//	          -X github.com/dantte-lp/gomstp/internal/version.BuildDate=2026-02-22T12:00:00Z"
//
// When GitCommit is not injected, the VCS revision recorded by the Go
// toolchain is used instead.
package appversion

import (
	"fmt"
	"runtime/debug"
)

// Protocol names the spanning tree standard the binaries implement.
const Protocol = "IEEE 802.1Q MSTP (RSTP and STP compatible)"

// Version is the semantic version (e.g., "v0.1.0" or "dev").
var Version = "dev"

// GitCommit is the short git commit hash at build time.
var GitCommit = "unknown"

// BuildDate is the RFC 3339 build timestamp.
var BuildDate = "unknown"

// Commit returns GitCommit, falling back to the embedded vcs.revision
// shortened to 7 characters.
func Commit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return GitCommit
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return s.Value[:min(7, len(s.Value))]
		}
	}
	return GitCommit
}

// Full returns a human-readable multi-line version string.
func Full(binary string) string {
	return fmt.Sprintf("%s %s\n  protocol: %s\n  commit:   %s\n  built:    %s",
		binary, Version, Protocol, Commit(), BuildDate)
}
