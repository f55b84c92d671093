package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies a hub error. The set is closed: every error surfaced by
// the core wraps exactly one kind so callers can branch without string
// matching.
type Kind string

const (
	KindConfig     Kind = "config"
	KindLifecycle  Kind = "lifecycle"
	KindCapability Kind = "capability"
	KindParameter  Kind = "parameter"
	KindConnect    Kind = "connect"
	KindDisconnect Kind = "disconnect"
	KindExecution  Kind = "execution"
	KindTimeout    Kind = "timeout"
	KindOverflow   Kind = "overflow"
	KindStore      Kind = "store"
	KindNotFound   Kind = "not-found"
)

// Error is a typed hub error. It carries a kind and wraps an optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a typed error with the given kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error. A nil cause returns nil.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of err, or the empty kind for untyped errors.
// It unwraps until it finds a typed error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func is(err error, kind Kind) bool { return KindOf(err) == kind }

// IsConfig reports whether err is a configuration error (missing id/type,
// schema violation, unknown type, duplicate id). Never retried.
func IsConfig(err error) bool { return is(err, KindConfig) }

// IsLifecycle reports an illegal lifecycle transition, such as executing a
// connection-requiring capability on a disconnected instance.
func IsLifecycle(err error) bool { return is(err, KindLifecycle) }

// IsCapability reports an unknown, disabled, or operation-unsupported
// capability.
func IsCapability(err error) bool { return is(err, KindCapability) }

// IsParameter reports a parameter schema violation.
func IsParameter(err error) bool { return is(err, KindParameter) }

// IsConnect reports a PerformConnect failure. The supervisor retries these
// with backoff; nothing else does.
func IsConnect(err error) bool { return is(err, KindConnect) }

// IsDisconnect reports a PerformDisconnect failure.
func IsDisconnect(err error) bool { return is(err, KindDisconnect) }

// IsExecution reports a failure inside a driver's ExecuteCapability.
func IsExecution(err error) bool { return is(err, KindExecution) }

// IsTimeout reports an expired operation deadline.
func IsTimeout(err error) bool { return is(err, KindTimeout) }

// IsStore reports a rule store I/O failure.
func IsStore(err error) bool { return is(err, KindStore) }

// IsNotFound reports a missing instance, rule, or alarm entry.
func IsNotFound(err error) bool { return is(err, KindNotFound) }
