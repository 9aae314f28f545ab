// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

// Package version holds the current version of localcloud, as a single
// source of truth for the CLI, the edge server banner and the HTTP
// user agent.
package version

import (
	"fmt"

	"github.com/hashicorp/go-version"
)

// Version is the main version number that is being run at the moment,
// following semantic versioning conventions.
var Version = "0.3.0"

// Prerelease is a pre-release marker for the version. If this is ""
// (empty string) then it means that it is a final release. Otherwise,
// this is a pre-release such as "dev" (in development), "beta",
// "rc1", etc.
var Prerelease = "dev"

// SemVer is an instance of version.Version representing the main
// version without any pre-release information.
var SemVer *version.Version

func init() {
	SemVer = version.Must(version.NewVersion(Version))
}

// String returns the complete version string, including prerelease.
func String() string {
	if Prerelease != "" {
		return fmt.Sprintf("%s-%s", Version, Prerelease)
	}
	return Version
}
