package domain

import "fmt"

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: "NOT_FOUND", Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: "VALIDATION_ERROR", Message: msg, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Message: msg, Status: 401}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Message: msg, Status: 403}
}

// ErrSyncInFlight signals that an ingestion pass is already executing.
func ErrSyncInFlight() *AppError {
	return &AppError{Code: "SYNC_IN_FLIGHT", Message: "a sync pass is already running", Status: 409}
}

// ErrFeedUnavailable signals a pass-level feed failure; no partial writes occurred.
func ErrFeedUnavailable(cause error) *AppError {
	return &AppError{Code: "FEED_UNAVAILABLE", Message: "fixture feed unavailable", Status: 500, Cause: cause}
}

// ErrNoExternalKey signals a provider record with no usable identifier.
func ErrNoExternalKey() *AppError {
	return &AppError{Code: "NO_EXTERNAL_KEY", Message: "provider record has no event or market identifier", Status: 422}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: "INTERNAL_ERROR", Message: msg, Status: 500, Cause: cause}
}
