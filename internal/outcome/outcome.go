// Package outcome defines the request-scoped result and failure taxonomy
// shared by validation, sanitization and ingestion.
package outcome

import (
	"errors"
	"fmt"
)

// Kind classifies why a request failed. The zero value means success.
type Kind string

const (
	KindNone              Kind = ""
	KindNotFound          Kind = "not_found"
	KindNotAFile          Kind = "not_a_file"
	KindNotReadable       Kind = "not_readable"
	KindEmpty             Kind = "empty"
	KindTooLarge          Kind = "too_large"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindCorrupt           Kind = "corrupt"
	KindToolUnavailable   Kind = "tool_unavailable"
	KindProcessingFailed  Kind = "processing_failed"
	KindTimeout           Kind = "timeout"
	KindOutputNotCreated  Kind = "output_not_created"
	KindCanceled          Kind = "canceled"
)

// Sentinel errors, one per Kind, for errors.Is checks on Result.Err.
var (
	ErrNotFound          = errors.New("file does not exist")
	ErrNotAFile          = errors.New("path is not a file")
	ErrNotReadable       = errors.New("file is not readable")
	ErrEmpty             = errors.New("file is empty")
	ErrTooLarge          = errors.New("file too large")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorrupt           = errors.New("invalid or corrupted file")
	ErrToolUnavailable   = errors.New("video tool unavailable")
	ErrProcessingFailed  = errors.New("processing failed")
	ErrTimeout           = errors.New("processing timed out")
	ErrOutputNotCreated  = errors.New("output not created")
	ErrCanceled          = errors.New("request canceled")
)

var sentinels = map[Kind]error{
	KindNotFound:          ErrNotFound,
	KindNotAFile:          ErrNotAFile,
	KindNotReadable:       ErrNotReadable,
	KindEmpty:             ErrEmpty,
	KindTooLarge:          ErrTooLarge,
	KindUnsupportedFormat: ErrUnsupportedFormat,
	KindCorrupt:           ErrCorrupt,
	KindToolUnavailable:   ErrToolUnavailable,
	KindProcessingFailed:  ErrProcessingFailed,
	KindTimeout:           ErrTimeout,
	KindOutputNotCreated:  ErrOutputNotCreated,
	KindCanceled:          ErrCanceled,
}

// Sentinel returns the sentinel error for k, or nil for KindNone.
func (k Kind) Sentinel() error {
	if k == KindNone {
		return nil
	}
	if err, ok := sentinels[k]; ok {
		return err
	}
	return ErrProcessingFailed
}

// Result is a binary pass/fail outcome. Reason is short, user-facing and
// never contains filesystem paths.
type Result struct {
	Kind   Kind
	Reason string
}

// OK returns a successful result.
func OK() Result {
	return Result{}
}

// Fail returns a failed result. An empty reason falls back to the sentinel text.
func Fail(kind Kind, reason string) Result {
	if kind == KindNone {
		kind = KindProcessingFailed
	}
	if reason == "" {
		reason = kind.Sentinel().Error()
	}
	return Result{Kind: kind, Reason: reason}
}

// Failf is Fail with a formatted reason.
func Failf(kind Kind, format string, args ...any) Result {
	return Fail(kind, fmt.Sprintf(format, args...))
}

// OK reports whether the result is a success.
func (r Result) OK() bool {
	return r.Kind == KindNone
}

// Err returns nil on success, otherwise an error wrapping the Kind sentinel.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &Error{Kind: r.Kind, Reason: r.Reason}
}

func (r Result) String() string {
	if r.OK() {
		return "ok"
	}
	return string(r.Kind) + ": " + r.Reason
}

// Error is the error form of a failed Result.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Kind.Sentinel()
}

// FromError converts err back into a Result. Errors that carry no Kind become
// ProcessingFailed with the given fallback reason.
func FromError(err error, fallback string) Result {
	if err == nil {
		return OK()
	}
	var oe *Error
	if errors.As(err, &oe) {
		return Fail(oe.Kind, oe.Reason)
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return Fail(kind, fallback)
		}
	}
	return Fail(KindProcessingFailed, fallback)
}
