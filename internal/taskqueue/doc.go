// Package taskqueue implements the single-worker priority dispatcher that
// serializes every Engine mutation and query while letting submitters on
// other goroutines enqueue work and await completion handles.
package taskqueue
