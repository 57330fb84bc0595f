// Package errs classifies runtime errors into the kinds the survival tier
// governor and the inference router reason about.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error classes a turn can fail with.
type Kind string

const (
	// KindTransient covers network timeouts, 429s, and 5xx responses — retry
	// with backoff may succeed.
	KindTransient Kind = "transient"

	// KindProviderConfig covers bad base URLs, missing API keys, and 401/403
	// responses — retrying without operator intervention will not help.
	KindProviderConfig Kind = "provider_config"

	// KindValidation covers malformed tool arguments or requests rejected
	// with 400 — the turn's own input was wrong.
	KindValidation Kind = "validation"

	// KindProtocol covers responses the router could not parse, including
	// the case where both the chat and completions endpoints 404.
	KindProtocol Kind = "protocol"

	// KindFatal covers errors that should stop the agent loop outright,
	// such as the store failing to open a session or record a turn.
	KindFatal Kind = "fatal"
)

// Error wraps an underlying error with a Kind so callers can unwrap it with
// errors.As instead of string-matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind and operation label.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of err if it (or something it wraps) is an *Error,
// and false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsRetryable reports whether err's kind warrants a retry with backoff.
func IsRetryable(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindTransient
}

// IsFatal reports whether err should halt the agent loop.
func IsFatal(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindFatal
}
