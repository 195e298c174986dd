// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"sync"
)

// Injected with -ldflags "-X github.com/bureau-foundation/spanpipe/lib/version.Name=value".
// When GitCommit is not injected it is read from the VCS stamp of the
// build info, if the toolchain recorded one.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

var stampOnce sync.Once

// stamp fills the git variables from the embedded build info.
func stamp() {
	stampOnce.Do(func() {
		if GitCommit != "unknown" {
			return
		}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		applySettings(info.Settings)
	})
}

func applySettings(settings []debug.BuildSetting) {
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			if len(setting.Value) > 7 {
				GitCommit = setting.Value[:7]
			} else if setting.Value != "" {
				GitCommit = setting.Value
			}
		case "vcs.modified":
			GitDirty = setting.Value
		case "vcs.time":
			if BuildTime == "unknown" {
				BuildTime = setting.Value
			}
		}
	}
}

// Info returns "0.1.0-dev (abc1234, 2026-03-01T00:00:00Z)".
func Info() string {
	stamp()
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns Info followed by the Go runtime and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), Runtime(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number, as sent in the client
// version header.
func Short() string { return Version }

// Runtime returns the Go runtime version, as sent in the client
// runtime header.
func Runtime() string { return runtime.Version() }

// Print writes "<binary> <Full()>" to w for --version.
func Print(w io.Writer, binary string) {
	fmt.Fprintf(w, "%s %s\n", binary, Full())
}
