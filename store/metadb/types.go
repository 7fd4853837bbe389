package metadb

import (
	"time"

	paeon "github.com/gampnico/paeon"
)

// Entry is the recorded freshness state for one dataset.
type Entry struct {
	// DatasetID identifies the dataset descriptor this entry belongs to.
	DatasetID string `json:"dataset_id"`

	// ETag is the entity tag the origin sent with the cached content,
	// empty if the origin does not publish one.
	ETag string `json:"etag,omitempty"`

	// LastModified is the Last-Modified header value as sent by the
	// origin, kept verbatim for use in If-Modified-Since.
	LastModified string `json:"last_modified,omitempty"`

	// Digest is the BLAKE3 digest of the downloaded payload. It is the
	// freshness indicator of last resort for origins without validators.
	Digest paeon.Digest `json:"digest"`

	// Size is the payload size in bytes.
	Size int64 `json:"size"`

	// FetchedAt is when the origin was last checked, whether or not new
	// content was downloaded.
	FetchedAt time.Time `json:"fetched_at"`

	// UpdatedAt is when the cached content last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// HasValidators reports whether the origin gave us anything to send in a
// conditional request.
func (e *Entry) HasValidators() bool {
	return e.ETag != "" || e.LastModified != ""
}
