// Package buildinfo holds version information stamped at build time.
package buildinfo

// Version is overridden with -ldflags "-X github.com/silver2dream/pipesup/internal/buildinfo.Version=...".
var Version = "0.1.0-dev"
