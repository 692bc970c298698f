// Package faults defines the error taxonomy every wallet operation reports
// through. Callers discriminate with the Is* helpers; Message extracts the
// single human-readable line that may be shown to a user.
package faults

import "errors"

// Kind buckets an operation failure.
type Kind int

const (
	// KindValidation marks malformed, missing or non-positive input,
	// rejected before any mutation. Its message is surfaced verbatim.
	KindValidation Kind = iota

	// KindAuthorization marks frozen accounts, missing or mismatched PINs
	// and non-admin callers of admin operations.
	KindAuthorization

	// KindNotFound marks unknown recipients, loans or requests.
	KindNotFound

	// KindConflict marks records no longer in their expected status and
	// balance shortfalls discovered at apply time. Never retried.
	KindConflict

	// KindPersistence marks a storage failure mid-unit-of-work. The unit
	// rolls back fully and the caller sees only a generic message.
	KindPersistence
)

// genericMessage is what persistence failures surface instead of driver
// detail.
const genericMessage = "Something went wrong. Please try again."

// Error is a categorized operation failure with a user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Kind == KindPersistence && e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the wrapped cause to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Err }

// Validation reports input rejected before any mutation.
func Validation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Authorization reports a caller not allowed to perform the operation.
func Authorization(msg string) error {
	return &Error{Kind: KindAuthorization, Message: msg}
}

// NotFound reports a missing record.
func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Conflict reports a record that drifted out of its expected state.
func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

// Persistence wraps a storage failure. The cause stays available for logs
// but never reaches the caller's message.
func Persistence(err error) error {
	return &Error{Kind: KindPersistence, Message: genericMessage, Err: err}
}

func is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsAuthorization reports whether err is an authorization failure.
func IsAuthorization(err error) bool { return is(err, KindAuthorization) }

// IsNotFound reports whether err is a missing-record failure.
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// IsConflict reports whether err is a state-conflict failure.
func IsConflict(err error) bool { return is(err, KindConflict) }

// IsPersistence reports whether err is a storage failure.
func IsPersistence(err error) bool { return is(err, KindPersistence) }

// Message returns the line safe to show a user. Uncategorized errors
// collapse to the generic message so internals never leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindPersistence {
			return genericMessage
		}
		return e.Message
	}
	return genericMessage
}
