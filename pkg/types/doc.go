// Package types provides the shared domain types of seagoat's index and
// query engine.
//
// # Core Types
//
// File tracks one Git-committed path and its frecency-weighted history:
//
//	f := &types.File{Path: "internal/engine/engine.go", BlobID: "a1b2c3", Frecency: 0.82}
//
// Chunk is the unit of embedding and regex indexing, a content-addressed
// slice of one file:
//
//	c := types.NewChunk("internal/engine/engine.go", 1, "package engine\n...", f.BlobID)
//
// Hit, ResultLine, and ResultBlock model what a query returns, from a raw
// per-source match up to a ranked, context-bearing block of lines:
//
//	hit := types.Hit{Path: c.Path, Line: c.StartLine, Score: 0.91, Source: types.SourceVector}
package types
