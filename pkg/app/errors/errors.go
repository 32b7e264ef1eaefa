// Package errors defines the service error type shared by the HTTP layer.
package errors

import (
	"errors"
	"net/http"
)

// Category classifies a service error for HTTP mapping and logging.
type Category int

const (
	// CategoryNoError marks the absence of an error.
	CategoryNoError Category = iota
	// CategoryDataError covers invalid request payloads or parameters.
	CategoryDataError
	// CategoryResourceNotFound covers lookups of records that do not exist.
	CategoryResourceNotFound
	// CategoryDataConflict covers requests that clash with current state,
	// such as executing a transfer that is not pending.
	CategoryDataConflict
	// CategoryDependencyFailure covers failures of upstream services
	// (attestation API, chain RPC).
	CategoryDependencyFailure
	// CategoryGeneralError covers unexpected internal failures.
	CategoryGeneralError
)

func (c Category) String() string {
	switch c {
	case CategoryDataError:
		return "CategoryDataError"
	case CategoryResourceNotFound:
		return "CategoryResourceNotFound"
	case CategoryDataConflict:
		return "CategoryDataConflict"
	case CategoryDependencyFailure:
		return "CategoryDependencyFailure"
	default:
		return "CategoryGeneralError"
	}
}

// ServiceError carries a user-facing message alongside the wrapped cause.
// The message is returned to API clients; the cause goes to the logs.
type ServiceError struct {
	Category Category
	Message  string
	Err      error
}

func (err ServiceError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	return err.Message
}

// Unwrap returns the wrapped cause.
func (err ServiceError) Unwrap() error {
	return err.Err
}

// Is checks that the provided error is a ServiceError with the given category.
func Is(err error, cat Category) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Category == cat
}

// GeneralError wraps an unexpected failure. Clients see a generic message.
func GeneralError(err error) error {
	if err == nil {
		err = errors.New("internal server error")
	}
	return &ServiceError{
		Category: CategoryGeneralError,
		Message:  "Internal Server Error",
		Err:      err,
	}
}

// ResourceNotFoundError wraps a missing-record failure.
func ResourceNotFoundError(err error, message string) error {
	if err == nil {
		err = errors.New("resource not found: " + message)
	}
	return &ServiceError{
		Category: CategoryResourceNotFound,
		Message:  message,
		Err:      err,
	}
}

// BadRequestError wraps an invalid-input failure.
func BadRequestError(err error, message string) error {
	if err == nil {
		err = errors.New("bad request: " + message)
	}
	return &ServiceError{
		Category: CategoryDataError,
		Message:  message,
		Err:      err,
	}
}

// ConflictError wraps a state-conflict failure.
func ConflictError(err error, message string) error {
	if err == nil {
		err = errors.New("conflict: " + message)
	}
	return &ServiceError{
		Category: CategoryDataConflict,
		Message:  message,
		Err:      err,
	}
}

// DependencyError wraps an upstream-service failure.
func DependencyError(err error, message string) error {
	if err == nil {
		err = errors.New("dependency failure: " + message)
	}
	return &ServiceError{
		Category: CategoryDependencyFailure,
		Message:  message,
		Err:      err,
	}
}

// StatusCode maps the error category to an HTTP status code.
func (err ServiceError) StatusCode() int {
	switch err.Category {
	case CategoryDataError:
		return http.StatusBadRequest
	case CategoryResourceNotFound:
		return http.StatusNotFound
	case CategoryDataConflict:
		return http.StatusConflict
	case CategoryDependencyFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
