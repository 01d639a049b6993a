package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindCapacityConflict  Kind = "CAPACITY_CONFLICT"
	KindPolicyViolation   Kind = "POLICY_VIOLATION"
	KindInvalidRequest    Kind = "INVALID_REQUEST"
	KindNotFound          Kind = "NOT_FOUND"
	KindForbidden         Kind = "FORBIDDEN"
	KindExternalOperation Kind = "EXTERNAL_OPERATION_FAILED"
	KindInvariant         Kind = "INVARIANT_VIOLATION"
	KindInternal          Kind = "INTERNAL_ERROR"
)

type AppError struct {
	Kind    Kind           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindCapacityConflict:
		return http.StatusConflict
	case KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindExternalOperation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

func New(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *AppError {
	return New(KindValidation, message, nil)
}

func CapacityConflict(message string, err error) *AppError {
	return New(KindCapacityConflict, message, err)
}

func PolicyViolation(message string, err error) *AppError {
	return New(KindPolicyViolation, message, err)
}

func InvalidRequest(message string, err error) *AppError {
	return New(KindInvalidRequest, message, err)
}

func NotFound(resource string) *AppError {
	return New(KindNotFound, fmt.Sprintf("%s not found", resource), nil)
}

func Forbidden(message string) *AppError {
	return New(KindForbidden, message, nil)
}

func ExternalOperation(message string, err error) *AppError {
	return New(KindExternalOperation, message, err)
}

func Invariant(message string, err error) *AppError {
	return New(KindInvariant, message, err)
}

func Internal(message string, err error) *AppError {
	return New(KindInternal, message, err)
}

// KindOf returns the kind of the first AppError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// As converts any error into an AppError; unknown errors become internal.
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("an unexpected error occurred", err)
}
