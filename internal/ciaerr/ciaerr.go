// Package ciaerr defines the daemon's error taxonomy. Handlers and pipeline
// stages classify failures with errors.Is against these sentinels rather
// than matching on message text.
package ciaerr

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", ErrX) to attach context.
var (
	// ErrValidation marks a malformed request payload. HTTP 400.
	ErrValidation = errors.New("validation error")

	// ErrAuth marks a missing or invalid auth token. HTTP 401.
	ErrAuth = errors.New("auth error")

	// ErrNotFound marks a reference to an unknown id. HTTP 404.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a duplicate-active-resource condition (e.g. two
	// active batches for one session). HTTP 409, or silent dedup depending
	// on the endpoint.
	ErrConflict = errors.New("conflict")

	// ErrDependency marks an external dependency (embedding/summarization
	// provider) being unavailable or erroring. The hook path fails open on
	// this kind; the pipeline enqueues a retry.
	ErrDependency = errors.New("dependency unavailable")

	// ErrTransient marks a condition expected to clear on retry (database
	// busy, watcher hiccup).
	ErrTransient = errors.New("transient error")

	// ErrFatal marks an unrecoverable condition. The daemon logs and exits;
	// a watchdog is expected to restart it.
	ErrFatal = errors.New("fatal error")
)

// Is reports whether err wraps kind, via errors.Is.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
