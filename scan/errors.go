package scan

import (
	"errors"
)

// The gateway reduces every failure to one of these so callers can match
// exhaustively with errors.Is instead of string-matching vendor payloads.
var (
	// ErrUnsupportedType means the artifact's declared type is not in the
	// accepted set. User-actionable.
	ErrUnsupportedType = errors.New("artifact type is not supported for scanning")

	// ErrPasswordProtected means a compressed artifact is encrypted and the
	// scanning service would not be able to inspect it. User-actionable.
	ErrPasswordProtected = errors.New("archive is password protected")

	// ErrTimedOut means no poll attempt saw the analysis complete within the
	// retry budget.
	ErrTimedOut = errors.New("analysis did not complete in time")

	// ErrTransport means an HTTP call to the scanning service failed.
	ErrTransport = errors.New("scanning service is unreachable")

	// ErrMalformedReport means the service answered but the payload did not
	// have the expected shape.
	ErrMalformedReport = errors.New("scanning service returned a malformed report")
)

// UserActionable reports whether the sender can fix the failure themselves,
// e.g. by re-uploading without a password. Everything else is an upstream
// problem that should degrade to "no signal" rather than bother the group.
func UserActionable(err error) bool {
	return errors.Is(err, ErrUnsupportedType) || errors.Is(err, ErrPasswordProtected)
}
