package domain

import (
	"errors"
	"fmt"
)

// Application error codes. These strings are part of the API contract and are
// returned verbatim in the "code" field of every error response.
const (
	EVALIDATION = "VALIDATION_ERROR"       // Field-level validation failure
	EBODY       = "INVALID_BODY"           // Malformed or missing request body
	ECSRF       = "CSRF_TOKEN_INVALID"     // Missing, invalid or expired CSRF token
	ECSRFGEN    = "CSRF_GENERATION_FAILED" // CSRF token could not be issued
	ERATELIMIT  = "RATE_LIMIT_EXCEEDED"    // Rate limit exceeded
	EMETHOD     = "METHOD_NOT_ALLOWED"     // HTTP method not in the endpoint allow-list
	ENOTFOUND   = "NOT_FOUND"              // Route not found
	EUNAUTH     = "UNAUTHORIZED"           // Missing or wrong credentials on an operator endpoint
	EEMAIL      = "EMAIL_SEND_FAILED"      // Email provider failed after all retries
	EINTERNAL   = "INTERNAL_ERROR"         // Internal server error
)

// genericInternalMessage is the only text clients ever see for internal errors.
const genericInternalMessage = "Internal server error"

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "contact.send")
	Message string // Human-readable message, safe to show to clients
	Details any    // Optional structured details included in the response
	Err     error  // Underlying error, logged but never returned to clients
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return EVALIDATION
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
// Internal errors always collapse to a generic message.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "Validation failed"
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Code == EINTERNAL {
			return genericInternalMessage
		}
		return e.Message
	}
	return genericInternalMessage
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Op
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// ErrorDetails returns the structured details attached to the error, if any.
func ErrorDetails(err error) any {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// Convenience constructors for common error types

// InvalidBody creates an error for a request body that could not be decoded.
func InvalidBody(op string, err error) *Error {
	return &Error{
		Code:    EBODY,
		Op:      op,
		Message: "Invalid request body",
		Err:     err,
	}
}

// CSRFInvalid creates an anti-forgery error.
func CSRFInvalid(op string) *Error {
	return &Error{
		Code:    ECSRF,
		Op:      op,
		Message: "Invalid CSRF token",
	}
}

// MethodNotAllowed creates a method error.
func MethodNotAllowed(op, method string) *Error {
	return &Error{
		Code:    EMETHOD,
		Op:      op,
		Message: "Method not allowed",
		Err:     fmt.Errorf("method %s not allowed", method),
	}
}

// NotFound creates a route not found error.
func NotFound(op string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: "The requested resource was not found",
	}
}

// Unauthorized creates a credentials error for operator endpoints.
func Unauthorized(op string) *Error {
	return &Error{
		Code:    EUNAUTH,
		Op:      op,
		Message: "Authentication required",
	}
}

// EmailFailed creates a downstream delivery error. The cause is retained for
// logging only.
func EmailFailed(err error, op string) *Error {
	return &Error{
		Code:    EEMAIL,
		Op:      op,
		Message: "Failed to send email. Please try again later.",
		Err:     err,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: genericInternalMessage,
		Err:     err,
	}
}

// RateLimitDetails is the details payload of a rate limit error.
type RateLimitDetails struct {
	RetryAfter      int `json:"retryAfter"`
	RateLimitMax    int `json:"rateLimitMax"`
	RateLimitWindow int `json:"rateLimitWindow"`
}

// RateLimit creates a rate limit error.
func RateLimit(op string, details RateLimitDetails) *Error {
	return &Error{
		Code:    ERATELIMIT,
		Op:      op,
		Message: "Too many requests. Please try again later.",
		Details: details,
	}
}

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError represents field-level validation errors.
// Fields keeps insertion order so clients can render errors in form order.
type ValidationError struct {
	Op     string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation failed (%d fields)", e.Op, len(e.Fields))
}

// NewValidationError creates a new validation error with the first field error.
func NewValidationError(op, field, message string) *ValidationError {
	return &ValidationError{
		Op:     op,
		Fields: []FieldError{{Field: field, Message: message}},
	}
}

// Add appends a field error.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Field returns the message recorded for field, if any.
func (e *ValidationError) Field(field string) (string, bool) {
	for _, f := range e.Fields {
		if f.Field == field {
			return f.Message, true
		}
	}
	return "", false
}
