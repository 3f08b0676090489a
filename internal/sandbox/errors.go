package sandbox

import (
	"errors"
	"strconv"
)

// ErrorKind classifies sandbox failures so callers can map them without
// inspecting messages.
type ErrorKind int

const (
	// KindInternal covers anything unexpected: workspace I/O, interpreter launch, etc.
	KindInternal ErrorKind = iota
	// KindValidation means the payload was missing fields or had wrong types.
	KindValidation
	// KindUnsupportedLanguage means the payload was well-formed but names another language.
	KindUnsupportedLanguage
	// KindTimeout means the interpreter was killed at the wall-clock limit.
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnsupportedLanguage:
		return "unsupported_language"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// FieldError describes one offending field of a request payload.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// Error is a classified sandbox failure.
type Error struct {
	Kind    ErrorKind
	Msg     string
	Details []FieldError // only set for KindValidation
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain. Errors that were
// never classified are KindInternal.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// DetailsOf returns the field errors carried by a validation error.
func DetailsOf(err error) []FieldError {
	var se *Error
	if errors.As(err, &se) {
		return se.Details
	}
	return nil
}

func internalError(msg string, err error) error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

func quote(s string) string {
	return strconv.Quote(s)
}
