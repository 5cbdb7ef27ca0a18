package service

import (
	"errors"
	"fmt"
)

// Common service errors. The API layer maps them to HTTP status codes.
var (
	// ErrListNotBound is returned when an operation needs a remote binding
	// the list does not have.
	ErrListNotBound = errors.New("list is not bound to a remote list")

	// ErrTaskGone is returned when a task was deleted.
	ErrTaskGone = errors.New("task was deleted")
)

// ServiceError adds the failed operation to an error.
type ServiceError struct {
	Service   string
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s service %s failed: %s: %v", e.Service, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s service %s failed: %s", e.Service, e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewTaskServiceError creates a ServiceError for the task service.
func NewTaskServiceError(operation, message string, err error) *ServiceError {
	return &ServiceError{Service: "task", Operation: operation, Message: message, Err: err}
}

// NewBindingServiceError creates a ServiceError for the binding service.
func NewBindingServiceError(operation, message string, err error) *ServiceError {
	return &ServiceError{Service: "binding", Operation: operation, Message: message, Err: err}
}
