// Package apperr defines the error kinds shared by the ingestion and query
// pipelines.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	Extraction
	Embedding
	Database
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Extraction:
		return "extraction"
	case Embedding:
		return "embedding"
	case Database:
		return "database"
	default:
		return "internal"
	}
}

type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Cause)
	}

	return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func Validationf(format string, args ...any) *Error {
	return New(Validation, fmt.Sprintf(format, args...), nil)
}

func Extractionf(cause error, format string, args ...any) *Error {
	return New(Extraction, fmt.Sprintf(format, args...), cause)
}

func Embeddingf(cause error, format string, args ...any) *Error {
	return New(Embedding, fmt.Sprintf(format, args...), cause)
}

func Databasef(cause error, format string, args ...any) *Error {
	return New(Database, fmt.Sprintf(format, args...), cause)
}

// KindOf reports the kind of the first *Error in err's chain. Unclassified
// errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return Internal
}

// Retryable reports whether err is transient by default.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Embedding, Database:
		return true
	default:
		return false
	}
}

// Public returns a message safe to show outside the process. Internal errors
// are reduced to a generic text.
func Public(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind == Internal {
		return "internal server error"
	}

	if e.Kind == Validation {
		return e.Msg
	}

	return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
}
