// Package version exposes build metadata of the lane router binaries.
//
// Version, Commit and BuildTime are injected via ldflags. Full renders them
// for the CLI, Get for the HTTP version endpoint.
package version
