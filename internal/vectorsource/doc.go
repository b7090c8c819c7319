// Package vectorsource implements the Vector Source: a similarity index
// over chunk embeddings backed by SQLite, selected at build time between a
// pure-Go driver and a cgo driver with a native cosine-distance function.
package vectorsource
