// Package version exposes build metadata of the gateway binary.
//
// Version, Commit and BuildTime are injected with ldflags; Full falls back to
// the VCS stamp Go embeds in the binary for commit and build time.
package version
