package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy. UnknownCondition and UnableToConfirm are valid outcomes and therefore have no
// sentinel here.
var (
	// ErrInvalidInput marks malformed image payloads, answer maps or candidate sets.
	ErrInvalidInput = errors.New("invalid input")
	// ErrClassificationFailure marks a failed or malformed model scoring call.
	ErrClassificationFailure = errors.New("classification failure")

	ErrUnknownDisease  = errors.New("unknown disease")
	ErrUnknownSymptom  = errors.New("unknown symptom")
	ErrInvalidCatalog  = errors.New("invalid symptom catalog")
	ErrContextNotFound = errors.New("candidate context not found")
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeClassification = "CLASSIFICATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput on any validation failure.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewInputError returns a validation error that satisfies errors.Is(err, ErrInvalidInput).
func NewInputError(field, message string, value interface{}) error {
	return NewValidationError(field, message, value)
}

// NewClassificationError wraps a scoring failure of the named model.
func NewClassificationError(model string, err error) error {
	return fmt.Errorf("%w: model %s: %w", ErrClassificationFailure, model, err)
}

// IsInputError reports whether err is an InputError.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsClassificationFailure reports whether err is a ClassificationFailure.
func IsClassificationFailure(err error) bool {
	return errors.Is(err, ErrClassificationFailure)
}

// ErrorCode maps an error onto the API error code used by the transports.
func ErrorCode(err error) string {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return ErrCodeValidation
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownDisease), errors.Is(err, ErrUnknownSymptom):
		return ErrCodeInvalidInput
	case errors.Is(err, ErrContextNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrClassificationFailure):
		return ErrCodeClassification
	default:
		return ErrCodeInternalServer
	}
}
