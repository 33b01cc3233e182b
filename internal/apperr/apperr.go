// Package apperr defines the error taxonomy surfaced to callers.
//
// Every failure that leaves the service carries a stable Kind plus a
// human-readable message. The wrapped cause is for server-side logs only and
// is never rendered to clients.
package apperr

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindContentRejected     Kind = "content_rejected"
	KindExternalUnavailable Kind = "external_service_unavailable"
	KindPersistence         Kind = "persistence_error"
	KindConflict            Kind = "conflict"
	KindNotFound            Kind = "not_found"
	KindInternal            Kind = "internal_error"
)

// Sentinel causes for the finer-grained failures named by individual stages.
var (
	ErrUnsupportedFormat   = errors.New("unsupported image format")
	ErrStorageUploadFailed = errors.New("storage upload failed")
	ErrUnknownUser         = errors.New("unknown user")
	ErrAlreadyVoted        = errors.New("already voted")
)

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

// New builds an *Error. cause may be nil.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func Validation(message string) *Error {
	return New(KindValidation, message, nil)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message, nil)
}

func Persistence(message string, cause error) *Error {
	return New(KindPersistence, message, cause)
}

func Unavailable(message string, cause error) *Error {
	return New(KindExternalUnavailable, message, cause)
}

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns the message that is safe to show a caller.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Something went wrong on our side. Please try again later."
}

// HTTPStatus maps a kind to the status code used by the HTTP layer.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindContentRejected:
		return http.StatusUnprocessableEntity
	case KindExternalUnavailable:
		return http.StatusBadGateway
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
