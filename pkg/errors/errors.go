package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternal           = errors.New("internal error")
	ErrConflict           = errors.New("conflict")
	ErrGone               = errors.New("gone")
	ErrServiceUnavail     = errors.New("service unavailable")
	ErrBudgetExceeded     = errors.New("budget exceeded")
	ErrUsageLimitExceeded = errors.New("usage limit exceeded")
	ErrInconsistentConfig = errors.New("inconsistent configuration")
)

// AppError represents a structured application error with HTTP status mapping.
// Retryable tells the caller that repeating the whole operation (for example
// re-running campaign selection) may succeed.
type AppError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Status    int    `json:"-"`
	Err       error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// AlreadyExists creates a 409 error.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Status:  http.StatusConflict,
		Err:     ErrAlreadyExists,
	}
}

// InvalidInput creates a 400 error. It is the ValidationError of the engine:
// a malformed order snapshot or campaign payload, never retryable.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Conflict creates a 409 error for state conflicts such as illegal status transitions.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// Gone creates a 410 error.
func Gone(message string) *AppError {
	return &AppError{
		Code:    "GONE",
		Message: message,
		Status:  http.StatusGone,
		Err:     ErrGone,
	}
}

// ServiceUnavailable creates a retryable 503 error.
func ServiceUnavailable(message string) *AppError {
	return &AppError{
		Code:      "SERVICE_UNAVAILABLE",
		Message:   message,
		Retryable: true,
		Status:    http.StatusServiceUnavailable,
		Err:       ErrServiceUnavail,
	}
}

// BudgetExceeded is returned when a conditional commit loses the race for the
// last unit of a campaign budget.
func BudgetExceeded(resource, id string) *AppError {
	return &AppError{
		Code:      "BUDGET_EXCEEDED",
		Message:   fmt.Sprintf("%s %s has no budget left for this order", resource, id),
		Retryable: true,
		Status:    http.StatusConflict,
		Err:       ErrBudgetExceeded,
	}
}

// UsageLimitExceeded is returned when a conditional commit would push a usage
// counter past its cap.
func UsageLimitExceeded(resource, id, limit string) *AppError {
	return &AppError{
		Code:      "USAGE_LIMIT_EXCEEDED",
		Message:   fmt.Sprintf("%s %s reached its %s usage limit", resource, id, limit),
		Retryable: true,
		Status:    http.StatusConflict,
		Err:       ErrUsageLimitExceeded,
	}
}

// InconsistentConfiguration reports a campaign whose stored configuration
// breaks its own invariants. It is fatal for the request.
func InconsistentConfiguration(message string) *AppError {
	return &AppError{
		Code:    "INCONSISTENT_CONFIGURATION",
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrInconsistentConfig,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// IsRetryable reports whether the caller should re-run the operation.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return errors.Is(err, ErrBudgetExceeded) || errors.Is(err, ErrUsageLimitExceeded)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict),
		errors.Is(err, ErrBudgetExceeded), errors.Is(err, ErrUsageLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrGone):
		return http.StatusGone
	case errors.Is(err, ErrInconsistentConfig):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
