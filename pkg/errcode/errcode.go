// Package errcode defines the typed errors returned by the chart registry
// components. Every error carries a Code and unwraps to the matching
// containerd/errdefs category, so callers can use either errors.Is against a
// code sentinel or the errdefs.Is* helpers.
package errcode

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"
)

// Code identifies a class of failure.
type Code string

const (
	MissingMultipartField Code = "MISSING_MULTIPART_FIELD"
	MissingContentType    Code = "MISSING_CONTENT_TYPE"
	InvalidContentType    Code = "INVALID_CONTENT_TYPE"
	InvalidInput          Code = "INVALID_INPUT"
	AccessNotPermitted    Code = "ACCESS_NOT_PERMITTED"
	PermissionDenied      Code = "PERMISSION_DENIED"
	EntityNotFound        Code = "ENTITY_NOT_FOUND"
	EntityTooLarge        Code = "ENTITY_TOO_LARGE"
	Conflict              Code = "CONFLICT"
	ParseError            Code = "PARSE_ERROR"
	StorageError          Code = "STORAGE_ERROR"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// New returns an error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error with the given code that wraps err.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Storage wraps a backend failure.
func Storage(err error, op, path string) *Error {
	return Wrap(StorageError, err, "%s %s", op, path)
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Code)
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

// Unwrap exposes the cause and the errdefs category.
func (e *Error) Unwrap() []error {
	errs := []error{category(e.Code)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Is matches another *Error by code. A bare sentinel (no message, no cause)
// matches any error of the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Err == nil
}

// Sentinel returns a bare error usable as an errors.Is target.
func Sentinel(code Code) *Error {
	return &Error{Code: code}
}

// CodeOf extracts the Code from err, or "" when err is not coded.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Has reports whether err carries the given code.
func Has(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsNotFound reports whether err means an absent index, version or object.
func IsNotFound(err error) bool {
	return errdefs.IsNotFound(err)
}

func category(code Code) error {
	switch code {
	case EntityNotFound:
		return errdefs.ErrNotFound
	case MissingMultipartField, MissingContentType, InvalidContentType, InvalidInput, ParseError:
		return errdefs.ErrInvalidArgument
	case AccessNotPermitted, PermissionDenied:
		return errdefs.ErrPermissionDenied
	case EntityTooLarge:
		return errdefs.ErrOutOfRange
	case Conflict:
		return errdefs.ErrConflict
	case StorageError:
		return errdefs.ErrUnavailable
	}
	return errdefs.ErrUnknown
}

// HTTPStatus maps err to the status code a transport layer should answer with.
// Archive content violations are unprocessable, request shape problems are bad
// requests and anything uncoded is an internal failure.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch CodeOf(err) {
	case EntityNotFound:
		return http.StatusNotFound
	case MissingMultipartField, MissingContentType, InvalidContentType:
		return http.StatusBadRequest
	case InvalidInput, AccessNotPermitted:
		return http.StatusUnprocessableEntity
	case PermissionDenied:
		return http.StatusForbidden
	case EntityTooLarge:
		return http.StatusRequestEntityTooLarge
	case Conflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
