// Package engine orchestrates the Scanner, Chunker, both Sources, and the
// Cache behind analyze, query, and get_stats. Every Engine method is meant
// to be called from exactly one goroutine; internal/taskqueue supplies
// that serialization in production, tests call it directly.
package engine
