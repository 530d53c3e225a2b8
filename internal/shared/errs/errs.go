// Package errs defines the workspace error taxonomy.
//
// Every user-visible failure is an *Error carrying a Kind and a Detail
// string specific enough to display. The underlying cause stays reachable
// through Unwrap.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindAuth               Kind = "auth"
	KindMissingCredentials Kind = "missing_credentials"
	KindContentFetch       Kind = "content_fetch"
	KindContentWrite       Kind = "content_write"
	KindJobSubmission      Kind = "job_submission"
	KindJobNotFound        Kind = "job_not_found"
	KindJobStatus          Kind = "job_status"
	KindAssistant          Kind = "assistant"
	KindCommandExecution   Kind = "command_execution"
	KindParseDegradation   Kind = "parse_degradation"
)

// Error is a classified workspace failure.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Detail
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an *Error. Detail defaults to the cause's message.
func E(kind Kind, op string, detail string, cause error) *Error {
	if detail == "" && cause != nil {
		detail = DetailOf(cause)
	}
	return &Error{Kind: kind, Op: op, Detail: detail, Err: cause}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// DetailOf returns the most specific display message for err. Types that
// carry a backend detail expose it through a Detail() method.
func DetailOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	var d interface{ DetailMessage() string }
	if errors.As(err, &d) {
		if msg := d.DetailMessage(); msg != "" {
			return msg
		}
	}
	return err.Error()
}

// Local precondition failures.
var (
	ErrBufferNotFound = errors.New("buffer not found")
	ErrBufferDirty    = errors.New("buffer has unsaved changes")
	ErrNotDirty       = errors.New("buffer has no unsaved changes")
	ErrBufferClosing  = errors.New("buffer is not open")
	ErrEmptyContent   = errors.New("content is empty")
	ErrThreadBusy     = errors.New("thread is awaiting a reply")
	ErrUnknownMode    = errors.New("unknown conversation mode")
	ErrInvalidRef     = errors.New("container and member are required")
	ErrUnknownStream  = errors.New("unknown output stream")
)
