// Package errors provides a structured error system for sharefs with error codes, categories, and context.
package errors

import (
	"context"
	"encoding/json"
	stderr "errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"syscall"
	"time"
)

// ErrorCode represents a structured error code for sharefs operations.
type ErrorCode string

const (
	// Remote resource errors
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Connection errors
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	ErrCodeUnknownHost     ErrorCode = "UNKNOWN_HOST"
	ErrCodeTimeout         ErrorCode = "TIMEOUT"
	ErrCodeIO              ErrorCode = "IO_ERROR"

	// Cancelled operations are never surfaced to the host as failures.
	ErrCodeCancelled ErrorCode = "CANCELLED"

	// Configuration and state errors
	ErrCodeInvalidConfig       ErrorCode = "INVALID_CONFIG"
	ErrCodeInvalidState        ErrorCode = "INVALID_STATE"
	ErrCodeUnsupportedProtocol ErrorCode = "UNSUPPORTED_PROTOCOL"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryResource      ErrorCategory = "resource"
	CategoryConnection    ErrorCategory = "connection"
	CategoryOperation     ErrorCategory = "operation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ShareError represents a structured error with context and metadata.
type ShareError struct {
	Code     ErrorCode         `json:"code"`
	Category ErrorCategory     `json:"category"`
	Message  string            `json:"message"`
	Context  map[string]string `json:"context,omitempty"`
	Cause    error             `json:"-"`

	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Operation string    `json:"operation,omitempty"`

	Retryable  bool `json:"retryable"`
	UserFacing bool `json:"user_facing"`
}

// Error implements the error interface.
func (e *ShareError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, msg)
		} else {
			msg = fmt.Sprintf("[%s] %s", e.Component, msg)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *ShareError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *ShareError) Is(target error) bool {
	if shareErr, ok := target.(*ShareError); ok {
		return e.Code == shareErr.Code
	}
	return false
}

// JSON returns the error as a JSON string.
func (e *ShareError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new sharefs error with default values.
func NewError(code ErrorCode, message string) *ShareError {
	return &ShareError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		UserFacing: IsUserFacingByDefault(code),
	}
}

// Wrap classifies cause and wraps it in a ShareError. A cause that already
// is a ShareError is returned as is.
func Wrap(cause error, message string) error {
	if cause == nil {
		return nil
	}
	var shareErr *ShareError
	if stderr.As(cause, &shareErr) {
		return cause
	}
	return NewError(Classify(cause), message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeNotFound, ErrCodePermissionDenied:
		return CategoryResource
	case ErrCodeUnauthenticated, ErrCodeUnknownHost, ErrCodeTimeout, ErrCodeIO:
		return CategoryConnection
	case ErrCodeCancelled, ErrCodeInvalidState:
		return CategoryOperation
	case ErrCodeInvalidConfig, ErrCodeUnsupportedProtocol:
		return CategoryConfiguration
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	return code == ErrCodeTimeout || code == ErrCodeIO
}

// IsUserFacingByDefault determines if an error should be shown to users.
func IsUserFacingByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeNotFound, ErrCodePermissionDenied, ErrCodeUnauthenticated,
		ErrCodeUnknownHost, ErrCodeTimeout, ErrCodeInvalidConfig, ErrCodeUnsupportedProtocol:
		return true
	}
	return false
}

// Classify maps an arbitrary error onto the sharefs taxonomy.
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var shareErr *ShareError
	if stderr.As(err, &shareErr) {
		return shareErr.Code
	}

	var errno syscall.Errno
	if stderr.As(err, &errno) {
		switch errno {
		case syscall.ENOENT:
			return ErrCodeNotFound
		case syscall.EACCES, syscall.EPERM, syscall.EROFS:
			return ErrCodePermissionDenied
		case syscall.ETIMEDOUT:
			return ErrCodeTimeout
		case syscall.EHOSTUNREACH, syscall.ENETUNREACH:
			return ErrCodeUnknownHost
		case syscall.EINTR:
			return ErrCodeCancelled
		}
		return ErrCodeIO
	}

	switch {
	case stderr.Is(err, context.Canceled):
		return ErrCodeCancelled
	case stderr.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case stderr.Is(err, fs.ErrNotExist):
		return ErrCodeNotFound
	case stderr.Is(err, fs.ErrPermission):
		return ErrCodePermissionDenied
	}

	var dnsErr *net.DNSError
	if stderr.As(err, &dnsErr) {
		return ErrCodeUnknownHost
	}
	var netErr net.Error
	if stderr.As(err, &netErr) && netErr.Timeout() {
		return ErrCodeTimeout
	}
	return ErrCodeIO
}

// CodeOf returns the code of the first ShareError in err's chain, or the
// classified code otherwise.
func CodeOf(err error) ErrorCode {
	return Classify(err)
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && Classify(err) == code
}

// ToErrno translates an error crossing the host boundary into an errno.
// An error that already is an errno passes through unchanged.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	var errno syscall.Errno
	if stderr.As(err, &errno) {
		return errno
	}

	switch Classify(err) {
	case ErrCodeNotFound:
		return syscall.ENOENT
	case ErrCodePermissionDenied, ErrCodeUnauthenticated:
		return syscall.EACCES
	case ErrCodeUnknownHost:
		return syscall.EHOSTUNREACH
	case ErrCodeTimeout:
		return syscall.ETIMEDOUT
	case ErrCodeCancelled:
		return syscall.EINTR
	case ErrCodeUnsupportedProtocol:
		return syscall.EPROTONOSUPPORT
	default:
		return syscall.EIO
	}
}

// WithContext adds contextual information to an error
func (e *ShareError) WithContext(key, value string) *ShareError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *ShareError) WithComponent(component string) *ShareError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *ShareError) WithOperation(operation string) *ShareError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *ShareError) WithCause(cause error) *ShareError {
	e.Cause = cause
	return e
}

// GetRecommendation returns a user-friendly recommendation for fixing the error
func (e *ShareError) GetRecommendation() string {
	recommendations := map[ErrorCode]string{
		ErrCodeUnknownHost: "The host could not be reached. " +
			"Check the host name, port and your network connection.",
		ErrCodeUnauthenticated: "The server rejected the credentials. " +
			"Verify the username and password of the connection profile.",
		ErrCodePermissionDenied: "Access was denied. " +
			"Check the share permissions for this account, or open the file read-only.",
		ErrCodeNotFound: "The file or share does not exist. " +
			"Verify the share name and path.",
		ErrCodeTimeout: "The server did not respond in time. " +
			"Consider increasing network timeouts in the configuration.",
		ErrCodeInvalidConfig: "Configuration validation failed. " +
			"Check your configuration file syntax and required parameters.",
		ErrCodeUnsupportedProtocol: "No connector is registered for this protocol.",
	}

	if rec, exists := recommendations[e.Code]; exists {
		return rec
	}
	return "Please check the error message for details."
}

// UserFacingMessage returns a simplified message suitable for end users
func (e *ShareError) UserFacingMessage() string {
	if !e.UserFacing {
		return "An internal error occurred. Please retry the operation."
	}

	messages := map[ErrorCode]string{
		ErrCodeUnknownHost:         "Host unreachable",
		ErrCodeUnauthenticated:     "Authentication failed",
		ErrCodePermissionDenied:    "Access denied",
		ErrCodeNotFound:            "Not found",
		ErrCodeTimeout:             "Connection timed out",
		ErrCodeInvalidConfig:       "Invalid configuration",
		ErrCodeUnsupportedProtocol: "Unsupported protocol",
	}

	if msg, exists := messages[e.Code]; exists {
		return msg
	}
	return e.Message
}

// DetailedDiagnostic returns a comprehensive diagnostic message
func (e *ShareError) DetailedDiagnostic() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Error: %s", e.UserFacingMessage()))
	parts = append(parts, fmt.Sprintf("Code: %s", e.Code))
	parts = append(parts, fmt.Sprintf("Category: %s", e.Category))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component: %s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation: %s", e.Operation))
	}

	if len(e.Context) > 0 {
		parts = append(parts, "\nContext:")
		for k, v := range e.Context {
			parts = append(parts, fmt.Sprintf("  %s: %s", k, v))
		}
	}

	parts = append(parts, "\nRecommendation:")
	parts = append(parts, "  "+e.GetRecommendation())

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("\nUnderlying cause: %s", e.Cause.Error()))
	}

	return strings.Join(parts, "\n")
}
