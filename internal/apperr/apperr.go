// Package apperr defines the client-facing failure taxonomy and its HTTP mapping.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is a machine-readable failure category.
type Kind string

const (
	MissingCredential   Kind = "MissingCredential"
	ExpiredCredential   Kind = "ExpiredCredential"
	MalformedCredential Kind = "MalformedCredential"
	UnknownSubject      Kind = "UnknownSubject"
	InvalidCredentials  Kind = "InvalidCredentials"

	EmptyUpload      Kind = "EmptyUpload"
	InvalidEncoding  Kind = "InvalidEncoding"
	MissingField     Kind = "MissingField"
	UsernameTaken    Kind = "UsernameTaken"
	PayloadTooLarge  Kind = "PayloadTooLarge"
	UnsupportedMedia Kind = "UnsupportedMedia"
	NotFound         Kind = "NotFound"

	CorruptImage     Kind = "CorruptImage"
	InferenceFailure Kind = "InferenceFailure"
	Internal         Kind = "Internal"
)

var statusByKind = map[Kind]int{
	MissingCredential:   http.StatusUnauthorized,
	ExpiredCredential:   http.StatusUnauthorized,
	MalformedCredential: http.StatusUnauthorized,
	UnknownSubject:      http.StatusUnauthorized,
	InvalidCredentials:  http.StatusUnauthorized,
	EmptyUpload:         http.StatusBadRequest,
	InvalidEncoding:     http.StatusBadRequest,
	MissingField:        http.StatusBadRequest,
	UsernameTaken:       http.StatusBadRequest,
	PayloadTooLarge:     http.StatusRequestEntityTooLarge,
	UnsupportedMedia:    http.StatusUnsupportedMediaType,
	NotFound:            http.StatusNotFound,
	CorruptImage:        http.StatusInternalServerError,
	InferenceFailure:    http.StatusInternalServerError,
	Internal:            http.StatusInternalServerError,
}

// Status returns the HTTP status for the kind. Unknown kinds map to 500.
func (k Kind) Status() int {
	if status, ok := statusByKind[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error carries a Kind, a message safe to show to clients, and an optional cause
// that is only ever logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind so callers can write errors.Is(err, apperr.New(kind, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf extracts the Kind of err, defaulting to Internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
