package dashdl

import (
	"errors"
	"fmt"

	"kepler.sh/dashdl/internal/fetch"
	"kepler.sh/dashdl/internal/track"
)

// The Network/NetworkTimeout/NetworkConnect and HttpStatus error kinds
// are produced inside internal/fetch and re-exported here unwrapped,
// rather than duplicated, so errors.As keeps working across the
// package boundary.
type (
	NetworkError        = fetch.NetworkError
	NetworkTimeoutError = fetch.NetworkTimeoutError
	NetworkConnectError = fetch.NetworkConnectError
	HTTPStatusError     = fetch.HTTPStatusError
	UnhandledMediaError = track.ErrNoMatch
)

// ParsingError wraps a manifest decode/validation failure with a
// JSON-like path into the document, for diagnostic value.
type ParsingError struct {
	Path string
	Err  error
}

func (e *ParsingError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parsing: %v", e.Err)
	}
	return fmt.Sprintf("parsing: %s: %v", e.Path, e.Err)
}

func (e *ParsingError) Unwrap() error { return e.Err }

// DecryptError wraps a decryption failure: no decryptor configured, or
// every external decryptor helper failing.
type DecryptError struct {
	Err error
}

func (e *DecryptError) Error() string { return fmt.Sprintf("decrypt: %v", e.Err) }
func (e *DecryptError) Unwrap() error { return e.Err }

// MuxingError wraps the aggregated failure of every helper in a Muxer
// Driver's preference list.
type MuxingError struct {
	Err error
}

func (e *MuxingError) Error() string { return fmt.Sprintf("muxing: %v", e.Err) }
func (e *MuxingError) Unwrap() error { return e.Err }

// ConformityError records a non-fatal conformity check violation;
// surfaced as an error only when StrictConformity is enabled, otherwise
// just logged.
type ConformityError struct {
	Check  string
	Detail string
}

func (e *ConformityError) Error() string {
	return fmt.Sprintf("conformity: %s: %s", e.Check, e.Detail)
}

// IsRetryableSegmentError reports whether err is the kind of transient
// per-segment failure the Segment Fetcher already retried internally —
// exposed so a caller inspecting a returned Download error can decide
// whether retrying the whole call is worthwhile.
func IsRetryableSegmentError(err error) bool {
	var timeout *NetworkTimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	var status *HTTPStatusError
	if errors.As(err, &status) {
		return status.Code >= 500
	}
	return false
}
