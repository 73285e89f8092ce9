package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Validation
	ErrCodeValidation           ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired      ErrorCode = "MISSING_REQUIRED"
	ErrCodeEmptyPreferenceSet   ErrorCode = "EMPTY_PREFERENCE_SET"
	ErrCodeMalformedPreferences ErrorCode = "MALFORMED_PREFERENCES"
	ErrCodeNoReferenceLocation  ErrorCode = "NO_REFERENCE_LOCATION"
	ErrCodeVotingClosed         ErrorCode = "VOTING_CLOSED"
	ErrCodeNotEligible          ErrorCode = "NOT_ELIGIBLE"
	ErrCodeInvalidTransition    ErrorCode = "INVALID_STATUS_TRANSITION"

	// Resource
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeUnknownCandidate ErrorCode = "UNKNOWN_CANDIDATE"
	ErrCodeDuplicateCode    ErrorCode = "DUPLICATE_CODE"
	ErrCodeConflict         ErrorCode = "CONFLICT"

	// Authorization
	ErrCodeForbidden ErrorCode = "FORBIDDEN"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMITED"

	// Upstream
	ErrCodeSearchUnavailable ErrorCode = "SEARCH_UNAVAILABLE"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// Is reports whether target is an AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func SessionNotFound(code string) *AppError {
	return New(ErrCodeNotFound, "Session not found").WithDetails(map[string]string{"code": code})
}

func UnknownCandidate(candidateID string) *AppError {
	return New(ErrCodeUnknownCandidate, "Candidate is not part of this session").
		WithDetails(map[string]string{"candidateId": candidateID})
}

func DuplicateCode(code string) *AppError {
	return New(ErrCodeDuplicateCode, fmt.Sprintf("Session code %s is already active", code))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason)).
		WithDetails(map[string]string{"field": field})
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func EmptyPreferenceSet() *AppError {
	return New(ErrCodeEmptyPreferenceSet, "At least one preference set is required")
}

func MalformedPreferences(participantID string, field string) *AppError {
	return New(ErrCodeMalformedPreferences, fmt.Sprintf("Preferences are missing %s", field)).
		WithDetails(map[string]string{"participantId": participantID, "field": field})
}

func NoReferenceLocation() *AppError {
	return New(ErrCodeNoReferenceLocation, "No participant provided a complete preference set with a location")
}

func InvalidStatusTransition(from, to string) *AppError {
	return New(ErrCodeInvalidTransition, fmt.Sprintf("Cannot move session from %s to %s", from, to))
}

func VotingClosed(phase string) *AppError {
	return New(ErrCodeVotingClosed, "Session is not accepting votes").
		WithDetails(map[string]string{"phase": phase})
}

func NotEligible(participantID string) *AppError {
	return New(ErrCodeNotEligible, "Participant is not part of the voting roster").
		WithDetails(map[string]string{"participantId": participantID})
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func SearchUnavailable(cause error) *AppError {
	return Wrap(ErrCodeSearchUnavailable, "Restaurant search is unavailable", cause)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}
