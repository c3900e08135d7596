// Package errs defines the error taxonomy shared by the settlement core.
// Every error surfaced to a handler is classified by Kind so the HTTP layer
// can map it without string matching.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindValidation covers malformed or out-of-range input, including an
	// unsupported currency.
	KindValidation Kind = iota
	// KindAuthorization means the caller does not own the resource.
	KindAuthorization
	// KindNotFound means the referenced card or deposit does not exist.
	KindNotFound
	// KindConflict means an invalid state transition, such as confirming an
	// already-failed deposit.
	KindConflict
	// KindBusinessRule covers rule failures detected before any mutation:
	// insufficient funds, self-transfer, expired deposit.
	KindBusinessRule
	// KindIntegrity means a multi-step settlement failed after a mutation had
	// already occurred. Compensation was attempted before this was returned.
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBusinessRule:
		return "business_rule"
	case KindIntegrity:
		return "integrity"
	}
	return "unknown"
}

// Error is the typed error carried through the settlement core. Code is a
// stable machine-readable identifier; Message is safe to return to callers.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func Authorization(code, message string) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: message}
}

func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func BusinessRule(code, message string) *Error {
	return &Error{Kind: KindBusinessRule, Code: code, Message: message}
}

func Integrity(code, message string, err error) *Error {
	return &Error{Kind: KindIntegrity, Code: code, Message: message, Err: err}
}

// KindOf classifies any error. Errors that are not *Error are treated as
// integrity failures because they escaped the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIntegrity
}

// CodeOf returns the stable code of a classified error, or "internal_error".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}

// MessageOf returns the caller-safe message of a classified error.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
