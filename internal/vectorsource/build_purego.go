//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package vectorsource

// This file is compiled when building without CGO or with the purego tag.
// Similarity search falls back to a Go-side cosine similarity computation.
//
// Build command:
//   CGO_ENABLED=0 go build -tags purego ./...
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use.
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates whether the optimized SQL-side
	// cosine distance path can be used.
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration.
	BuildMode = "purego"
)
