// Package cryptcaterr defines the small, closed error taxonomy shared by
// every core component. Peripheral collaborators may keep finer-grained
// error codes internally but must map to one of these kinds at the
// boundary they expose to the core.
package cryptcaterr

import "errors"

// Kind is a closed taxonomy of core failure categories.
type Kind int

const (
	// InvalidArgument marks caller-side misuse: empty passphrase, oversized
	// plaintext, an unknown message tag on send.
	InvalidArgument Kind = iota
	// Malformed marks wire bytes that could not be parsed.
	Malformed
	// AuthFailed marks a MAC mismatch, a replay, a bad handshake proof, or
	// a version mismatch. The engine never distinguishes these to callers.
	AuthFailed
	// Timeout marks a blocking operation that exceeded its bound.
	Timeout
	// TransportClosed marks a peer close or an irrecoverable transport
	// failure.
	TransportClosed
	// Io marks a local I/O failure not covered by another kind.
	Io
	// VerifyFailed marks an end-of-transfer SHA-256 mismatch.
	VerifyFailed
	// Cancelled marks local cancellation (signal or caller-requested).
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case Malformed:
		return "Malformed"
	case AuthFailed:
		return "AuthFailed"
	case Timeout:
		return "Timeout"
	case TransportClosed:
		return "TransportClosed"
	case Io:
		return "Io"
	case VerifyFailed:
		return "VerifyFailed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with one of the closed Kinds so callers
// at the core boundary can branch on Kind without string matching, while
// still retaining the original error for logging via Unwrap.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind wrapping cause.
func New(k Kind, cause error) *Error {
	return &Error{Kind: k, Cause: cause}
}

// Is reports whether err is (or wraps) an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// Wrap is a convenience for errors.New-based causes built inline.
func Wrap(k Kind, msg string) *Error {
	return &Error{Kind: k, Cause: errors.New(msg)}
}
