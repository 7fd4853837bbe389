// Package sync implements the dataset synchronizer: it decides whether a
// remote dataset has changed since the last fetch, downloads and atomically
// replaces the local cached copy when it has, and leaves the cache
// untouched otherwise.
package sync

import "github.com/gampnico/paeon/store/metadb"

// Result is the outcome of a verify-update call.
type Result int

const (
	// UpToDate means the cached copy already matches the origin; no
	// bytes changed on disk.
	UpToDate Result = iota
	// Updated means new content was downloaded, validated and moved
	// into place.
	Updated
	// DownloadFailed means the origin could not be reached or answered
	// with an error; the previous cache entry is untouched.
	DownloadFailed
	// ValidationFailed means the downloaded payload was empty or not
	// parseable as the expected tabular format; the previous cache
	// entry is untouched.
	ValidationFailed
)

// String implements fmt.Stringer.
func (r Result) String() string {
	switch r {
	case UpToDate:
		return "UpToDate"
	case Updated:
		return "Updated"
	case DownloadFailed:
		return "DownloadFailed"
	case ValidationFailed:
		return "ValidationFailed"
	default:
		return "Unknown"
	}
}

// MetricLabel returns the low-cardinality label used for metrics.
func (r Result) MetricLabel() string {
	switch r {
	case UpToDate:
		return "up_to_date"
	case Updated:
		return "updated"
	case DownloadFailed:
		return "download_failed"
	case ValidationFailed:
		return "validation_failed"
	default:
		return "unknown"
	}
}

// Outcome describes what a verify-update call did.
type Outcome struct {
	// Result classifies the call.
	Result Result
	// Entry is the cache entry now on record, nil when no entry exists
	// (first run that failed).
	Entry *metadb.Entry
	// Downloaded is the number of payload bytes transferred, zero when
	// the cache was already fresh.
	Downloaded int64
}
