// Package retry provides exponential-backoff retry for the single calls the
// Vector and Regex sources make against their external backends, the
// BackendUnavailable policy: retry the call up to three times with
// exponential backoff before surfacing the failure.
package retry
