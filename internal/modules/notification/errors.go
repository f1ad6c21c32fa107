package notification

import (
	"fmt"
	"net/http"
)

// DomainError is a structured, self-describing domain error used across the
// notification module. It carries HTTP/RFC7807-friendly metadata so a shared
// formatter can convert any domain error into a Problem response without
// enumerating error types.
type DomainError struct {
	// Code is a stable, machine-readable business code (e.g., "ErrTemplateNotFound").
	Code string

	// HTTPStatus is the HTTP status suggested for this error.
	HTTPStatus int

	// Title is a short human summary; if empty the formatter defaults to
	// StatusText(HTTPStatus).
	Title string

	// Message is a human-readable message primarily for logs. When Detail is
	// empty, this is used as the public detail.
	Message string

	// Detail is a user-friendly, safe explanation for clients.
	Detail string

	// TypeURI is an RFC7807 type URI, e.g. "urn:problem:notification/err-template-not-found".
	TypeURI string

	// Context is an optional extension payload for clients.
	Context any

	cause error
}

func (e *DomainError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Message
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap provides compatibility for errors.Is and errors.As.
func (e *DomainError) Unwrap() error { return e.cause }

// Is enables errors.Is comparisons based on the stable Code rather than
// pointer identity, so copies created via WithCause match their sentinel.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error wrapping the provided cause.
func (e *DomainError) WithCause(err error) *DomainError {
	if err == nil {
		return e
	}
	cp := *e
	cp.cause = err
	return &cp
}

// WithDetail sets a public-friendly detail message for clients.
func (e *DomainError) WithDetail(detail string) *DomainError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithContext attaches an extension payload for clients.
func (e *DomainError) WithContext(ctx any) *DomainError {
	cp := *e
	cp.Context = ctx
	return &cp
}

// --- RFC7807 mapping accessors (satisfy httpx.DomainProblem) ---

func (e *DomainError) ProblemCode() string { return e.Code }
func (e *DomainError) ProblemStatus() int {
	if e.HTTPStatus == 0 {
		return http.StatusInternalServerError
	}
	return e.HTTPStatus
}
func (e *DomainError) ProblemTitle() string { return e.Title }
func (e *DomainError) ProblemDetail() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Message
}
func (e *DomainError) ProblemTypeURI() string { return e.TypeURI }
func (e *DomainError) ProblemContext() any    { return e.Context }

// --- Pre-defined Domain Errors ---

var (
	ErrNotFound = &DomainError{
		Code:       "ErrNotFound",
		HTTPStatus: http.StatusNotFound,
		Title:      "Not Found",
		Message:    "notification not found",
		TypeURI:    "urn:problem:notification/err-not-found",
	}

	// ErrTemplateNotFound is the configuration error: the referenced template
	// has no active row. It aborts the whole send and surfaces to the caller.
	ErrTemplateNotFound = &DomainError{
		Code:       "ErrTemplateNotFound",
		HTTPStatus: http.StatusNotFound,
		Title:      "Not Found",
		Message:    "no active template with that name",
		TypeURI:    "urn:problem:notification/err-template-not-found",
	}

	ErrTemplateExists = &DomainError{
		Code:       "ErrTemplateExists",
		HTTPStatus: http.StatusConflict,
		Title:      "Conflict",
		Message:    "a template with this name already exists",
		TypeURI:    "urn:problem:notification/err-template-exists",
	}

	// ErrCategoryImmutable guards the template invariant that category never
	// changes after creation.
	ErrCategoryImmutable = &DomainError{
		Code:       "ErrCategoryImmutable",
		HTTPStatus: http.StatusConflict,
		Title:      "Conflict",
		Message:    "template category cannot be changed after creation",
		TypeURI:    "urn:problem:notification/err-category-immutable",
	}

	ErrBatchNotFound = &DomainError{
		Code:       "ErrBatchNotFound",
		HTTPStatus: http.StatusNotFound,
		Title:      "Not Found",
		Message:    "batch not found",
		TypeURI:    "urn:problem:notification/err-batch-not-found",
	}

	ErrBatchState = &DomainError{
		Code:       "ErrBatchState",
		HTTPStatus: http.StatusConflict,
		Title:      "Conflict",
		Message:    "batch is not in a state that allows this operation",
		TypeURI:    "urn:problem:notification/err-batch-state",
	}

	ErrInvalidCategory = &DomainError{
		Code:       "ErrInvalidCategory",
		HTTPStatus: http.StatusBadRequest,
		Title:      "Bad Request",
		Message:    "unknown notification category",
		TypeURI:    "urn:problem:notification/err-invalid-category",
	}

	ErrInvalidChannel = &DomainError{
		Code:       "ErrInvalidChannel",
		HTTPStatus: http.StatusBadRequest,
		Title:      "Bad Request",
		Message:    "unknown delivery channel",
		TypeURI:    "urn:problem:notification/err-invalid-channel",
	}

	ErrMetadataTooLarge = &DomainError{
		Code:       "ErrMetadataTooLarge",
		HTTPStatus: http.StatusBadRequest,
		Title:      "Bad Request",
		Message:    "notification metadata exceeds the allowed size",
		TypeURI:    "urn:problem:notification/err-metadata-too-large",
	}

	ErrSMSBodyTooLong = &DomainError{
		Code:       "ErrSMSBodyTooLong",
		HTTPStatus: http.StatusBadRequest,
		Title:      "Bad Request",
		Message:    "sms body exceeds 160 characters",
		TypeURI:    "urn:problem:notification/err-sms-body-too-long",
	}

	ErrForbidden = &DomainError{
		Code:       "ErrForbidden",
		HTTPStatus: http.StatusForbidden,
		Title:      "Forbidden",
		Message:    "notification belongs to another recipient",
		TypeURI:    "urn:problem:notification/err-forbidden",
	}

	ErrInternal = &DomainError{
		Code:       "ErrInternal",
		HTTPStatus: http.StatusInternalServerError,
		Title:      "Internal Server Error",
		Message:    "internal server error",
		TypeURI:    "urn:problem:notification/err-internal",
	}
)
