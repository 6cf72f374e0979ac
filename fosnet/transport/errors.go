package transport

import (
	"errors"
	"fmt"
)

// ErrorKind classifies transport errors for retry and telemetry policy.
// This core never retries on its own; the calling layer decides per kind.
type ErrorKind uint8

const (
	// KindOther is the catch-all for transport-specific failures.
	KindOther ErrorKind = iota
	// KindNotReady means the operation was attempted before Start/Connect.
	KindNotReady
	// KindInvalidConfig covers bad listen addresses, registry mismatches
	// and similar construction-time problems.
	KindInvalidConfig
	// KindIO is an underlying I/O failure.
	KindIO
	// KindSerialization is a frame encode/decode failure.
	KindSerialization
	// KindAuthValidation covers ticket and session errors.
	KindAuthValidation
	// KindDisabled means the backend was compiled out or not available at
	// runtime; the transport still satisfies the full contract.
	KindDisabled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotReady:
		return "not-ready"
	case KindInvalidConfig:
		return "invalid-config"
	case KindIO:
		return "io"
	case KindSerialization:
		return "serialization"
	case KindAuthValidation:
		return "auth-validation"
	case KindDisabled:
		return "disabled"
	default:
		return "other"
	}
}

// Error is the error type returned by transport operations.
type Error struct {
	Kind ErrorKind
	Op   string // operation, e.g. "send", "connect"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("transport: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errf builds an *Error with a formatted cause.
func Errf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from err, or KindOther when err is not a
// transport error.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindOther
}
