package services

import (
	"fmt"
	"net/http"
)

// Error codes for the change workflow. Every error message names the request
// number and attempted action so failures are traceable without context.
const (
	CodeValidation        = "CM_VALIDATION"
	CodeInvalidTransition = "CM_INVALID_TRANSITION"
	CodeInvalidState      = "CM_INVALID_STATE"
	CodePermissionDenied  = "CM_PERMISSION_DENIED"
	CodeNotFound          = "CM_NOT_FOUND"
	CodeNumberExhausted   = "CM_NUMBER_EXHAUSTED"
	CodePartialSync       = "CM_PARTIAL_SYNC"
)

type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

func validationError(message string) *ServiceError {
	return newServiceError(http.StatusUnprocessableEntity, CodeValidation, message, nil)
}

func invalidTransitionError(requestNumber, action, detail string) *ServiceError {
	return newServiceError(
		http.StatusConflict,
		CodeInvalidTransition,
		fmt.Sprintf("request %s: cannot %s: %s", requestNumber, action, detail),
		nil,
	)
}

func permissionDeniedError(requestNumber, action, detail string) *ServiceError {
	return newServiceError(
		http.StatusForbidden,
		CodePermissionDenied,
		fmt.Sprintf("request %s: %s denied: %s", requestNumber, action, detail),
		nil,
	)
}

func notFoundError(requestNumber, action string) *ServiceError {
	return newServiceError(
		http.StatusNotFound,
		CodeNotFound,
		fmt.Sprintf("request %s: cannot %s: no such change request", requestNumber, action),
		nil,
	)
}

// partialSyncError reports the one failure the coordinator itself can cause:
// the form-side mutation committed but the ledger could not be brought along.
func partialSyncError(requestNumber, action string, cause error) *ServiceError {
	return newServiceError(
		http.StatusInternalServerError,
		CodePartialSync,
		fmt.Sprintf("request %s: form updated but ledger sync failed during %s", requestNumber, action),
		cause,
	)
}
