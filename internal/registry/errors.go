package registry

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an Error for the HTTP boundary.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindVerification Kind = "verification"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindUnavailable  Kind = "unavailable"
	KindInternal     Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindValidation:   http.StatusBadRequest,
	KindVerification: http.StatusBadRequest,
	KindConflict:     http.StatusConflict,
	KindNotFound:     http.StatusNotFound,
	KindUnavailable:  http.StatusServiceUnavailable,
	KindInternal:     http.StatusInternalServerError,
}

// Error is the registry's error type. Inner is logged but never shown to clients.
type Error struct {
	Kind    Kind
	Message string
	// Fields lists offending input fields for validation errors, in request order.
	Fields []string
	// Reason and StatusCode describe a failed metadata probe.
	Reason     Reason
	StatusCode int
	Inner      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.Message)
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Fields, ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " (reason=%s)", e.Reason)
	}
	if e.Inner != nil {
		fmt.Fprintf(&b, ": %v", e.Inner)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Inner }

// HTTPStatus maps the error kind onto a response status.
func (e *Error) HTTPStatus() int {
	if s, ok := kindStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func NewValidationError(message string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// NewMissingFieldsError reports required fields that were absent or null.
func NewMissingFieldsError(fields []string) *Error {
	return &Error{Kind: KindValidation, Message: "missing required fields", Fields: fields}
}

func NewVerificationError(res Result) *Error {
	return &Error{
		Kind:       KindVerification,
		Message:    "instance metadata verification failed",
		Reason:     res.Reason,
		StatusCode: res.StatusCode,
		Inner:      res.Err,
	}
}

func NewConflictError(link string, inner error) *Error {
	return &Error{Kind: KindConflict, Message: "instance already registered: " + link, Inner: inner}
}

func NewNotFoundError(link string) *Error {
	return &Error{Kind: KindNotFound, Message: "instance not found: " + link}
}

func NewUnavailableError(message string, inner error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, Inner: inner}
}

func NewInternalError(message string, inner error) *Error {
	return &Error{Kind: KindInternal, Message: message, Inner: inner}
}

// AsError returns err as an *Error, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	e := AsError(err)
	return e != nil && e.Kind == k
}
