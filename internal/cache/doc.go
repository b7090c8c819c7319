// Package cache persists the index maintainer's incremental state — which
// chunk ids have been embedded, each file's last-observed frecency, and the
// repository state hash — across restarts.
//
// It is backed by go.etcd.io/bbolt, an embedded key-value store whose
// transactions are already atomic and crash-safe, matching this design's
// requirement for atomic, durable writes without reaching for a bespoke
// temp-file-and-rename scheme.
package cache
