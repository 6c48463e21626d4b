// Package errs implements the error taxonomy COS uses at its boundary:
// Invalid, Conflict, NotFound, PreconditionFailed, FlashUpload, Transient,
// and Fatal. Every domain error surfaced by the core is an *errs.Error so a
// transport layer can translate it into an HTTP envelope ({status, message,
// content}) without re-deriving the classification.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for HTTP-status and retry purposes.
type Kind int

const (
	Invalid Kind = iota
	Conflict
	NotFound
	PreconditionFailed
	FlashUpload
	Transient
	Fatal
)

// Domain status codes carried in an envelope's numeric status field.
const (
	CodeFlashUpload        = 100
	CodeConflictedID        = 101
	CodeConflictedHash      = 102
	CodeMultipartNotFound   = 103
	CodeNoSuchPart          = 104
	CodeUnmatchedHash       = 105
)

// Error is the single error type COS returns across package boundaries.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps a Kind to the status code its response envelope uses.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case Transient, Fatal:
		return 500
	default:
		return 400
	}
}

func newErr(kind Kind, code int, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

func NewInvalid(msg string) *Error  { return newErr(Invalid, 0, msg, nil) }
func NewNotFound(msg string) *Error { return newErr(NotFound, 0, msg, nil) }

func NewPreconditionFailed(msg string) *Error {
	return newErr(PreconditionFailed, 0, msg, nil)
}

func NewFlashUpload(existingMetaID string) *Error {
	return newErr(FlashUpload, CodeFlashUpload, existingMetaID, nil)
}

func NewConflictedID(metaID string) *Error {
	return newErr(Conflict, CodeConflictedID, fmt.Sprintf("multipart already in progress for meta %s", metaID), nil)
}

func NewConflictedHash(metaID, hash string) *Error {
	return newErr(Conflict, CodeConflictedHash, fmt.Sprintf("multipart already in progress for hash %s (meta %s)", hash, metaID), nil)
}

func NewMultipartNotFound(metaID string) *Error {
	return newErr(NotFound, CodeMultipartNotFound, fmt.Sprintf("no multipart upload for meta %s", metaID), nil)
}

func NewNoSuchPart(metaID string, nth int) *Error {
	return newErr(NotFound, CodeNoSuchPart, fmt.Sprintf("part %d not registered for meta %s", nth, metaID), nil)
}

func NewUnmatchedHash(want, got string) *Error {
	return newErr(Conflict, CodeUnmatchedHash, fmt.Sprintf("hash mismatch: want %s got %s", want, got), nil)
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return newErr(kind, 0, msg, cause)
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
