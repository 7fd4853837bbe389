package sync

import "fmt"

// TransportError reports that the origin could not be reached or answered
// with an unexpected status. The previous cache entry is preserved.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError reports that a downloaded payload was rejected before it
// reached the cache. The previous cache entry is preserved.
type ValidationError struct {
	Dataset string
	Reason  string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid payload for %s (%s): %v", e.Dataset, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid payload for %s: %s", e.Dataset, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// CacheWriteError reports a filesystem or metadata failure while replacing
// the cached copy.
type CacheWriteError struct {
	Path string
	Err  error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("cache write error for %s: %v", e.Path, e.Err)
}

func (e *CacheWriteError) Unwrap() error {
	return e.Err
}
