package source

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure sentinels shared by all adapters; check with errors.Is.
var (
	// ErrNotFound is returned when a provider has no record of the track.
	ErrNotFound = errors.New("source: track not found")

	// ErrAuthRejected is returned when a provider rejects the request signature
	// or credentials.
	ErrAuthRejected = errors.New("source: authentication rejected")

	// ErrRateLimited is returned when a provider signals rate limiting.
	ErrRateLimited = errors.New("source: rate limit exceeded")

	// ErrUnreachable covers timeouts, transport errors and dead URLs.
	ErrUnreachable = errors.New("source: provider unreachable")

	// ErrMalformed is returned when a provider response cannot be decoded.
	ErrMalformed = errors.New("source: malformed provider response")

	// ErrAllSourcesExhausted is the terminal orchestrator failure: no adapter
	// and no bridge search produced a playable URL.
	ErrAllSourcesExhausted = errors.New("source: all sources exhausted")

	// ErrCacheUnavailable marks cache storage I/O failures. It is logged and
	// recovered by failing open, never surfaced to callers.
	ErrCacheUnavailable = errors.New("source: cache unavailable")
)

// SourceError wraps a failure with the adapter and track that caused it,
// while staying checkable against the sentinels via errors.Is.
type SourceError struct {
	Source   string
	Platform string
	TrackID  string
	Err      error
}

func (e *SourceError) Error() string {
	if e.TrackID != "" {
		return fmt.Sprintf("%s: %s/%s: %v", e.Source, e.Platform, e.TrackID, e.Err)
	}
	if e.Platform != "" {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Platform, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewError wraps err with adapter context.
func NewError(sourceName, platform, trackID string, err error) error {
	return &SourceError{
		Source:   sourceName,
		Platform: platform,
		TrackID:  trackID,
		Err:      err,
	}
}

// ErrorFromStatus maps an HTTP status code to a failure sentinel.
// Success-class statuses map to nil.
func ErrorFromStatus(status int) error {
	switch {
	case status >= 200 && status < 400:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthRejected
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return ErrUnreachable
	default:
		return ErrMalformed
	}
}

// Retryable reports whether a failure should fall through to the next
// adapter rather than abort the pipeline.
func Retryable(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAuthRejected) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnreachable) ||
		errors.Is(err, ErrMalformed)
}
