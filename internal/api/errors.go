package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/tasksync/internal/api/shared"
	"github.com/phrazzld/tasksync/internal/coordinator"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/provider"
	"github.com/phrazzld/tasksync/internal/service"
	"github.com/phrazzld/tasksync/internal/service/auth"
	"github.com/phrazzld/tasksync/internal/store"
)

// MapErrorToStatusCode maps service, store and provider errors to HTTP
// status codes.
func MapErrorToStatusCode(err error) int {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, service.ErrTaskGone):
		return http.StatusNotFound

	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrRevisionConflict),
		errors.Is(err, coordinator.ErrNeedsReauth),
		errors.Is(err, provider.ErrAuthExpired):
		return http.StatusConflict

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidFormat),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidProviderKind),
		errors.Is(err, domain.ErrInvalidRegion),
		errors.Is(err, domain.ErrEmptyTaskTitle),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, store.ErrInvalidEntity),
		errors.As(err, &validationErrs):
		return http.StatusBadRequest

	case errors.Is(err, provider.ErrProviderUnavailable),
		errors.Is(err, provider.ErrMalformed),
		errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusBadGateway

	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err that never
// includes internal details.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"

	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"

	case errors.Is(err, store.ErrTaskNotFound), errors.Is(err, service.ErrTaskGone):
		return "Task not found"
	case errors.Is(err, store.ErrBindingNotFound):
		return "List is not bound to a remote list"
	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, store.ErrBindingExists):
		return "List is already bound"
	case errors.Is(err, store.ErrRevisionConflict):
		return "Task was changed concurrently, retry the edit"
	case errors.Is(err, coordinator.ErrNeedsReauth), errors.Is(err, provider.ErrAuthExpired):
		return "Remote account needs re-authorization"

	case errors.Is(err, domain.ErrInvalidProviderKind):
		return "Unsupported provider"
	case errors.Is(err, domain.ErrInvalidRegion):
		return "Invalid geofence region"
	case errors.Is(err, domain.ErrEmptyTaskTitle):
		return "Task title is required"
	case errors.Is(err, domain.ErrInvalidPriority):
		return "Invalid priority"
	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidFormat),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request data"

	case errors.Is(err, provider.ErrProviderUnavailable),
		errors.Is(err, provider.ErrMalformed),
		errors.Is(err, provider.ErrUnknownProvider):
		return "Remote provider unavailable"

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Request cancelled"

	default:
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return SanitizeValidationError(validationErrs)
		}
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError describes the first failed field without
// echoing the rejected value.
func SanitizeValidationError(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "Validation error"
	}
	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return "Invalid " + fe.Field() + ": required field"
	case "max":
		return "Invalid " + fe.Field() + ": too long"
	case "min", "gte", "lte", "gt", "lt":
		return "Invalid " + fe.Field() + ": out of range"
	case "oneof":
		return "Invalid " + fe.Field() + ": invalid value"
	default:
		return "Invalid " + fe.Field()
	}
}

// HandleAPIError writes the error response for err. message overrides the
// derived client message when non-empty.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}
