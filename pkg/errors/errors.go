// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package errors provides structured error types for alert destinations.
//
// Delivery failures are never returned to the alerting host, but inside the
// module they travel as typed errors so the boundary can log them with a
// distinguishable category instead of a single catch-all message.
//
// # Error Kinds
//
// A NotificationError carries one of the following kinds:
//   - request: the outbound request could not be built (missing or malformed URL)
//   - network: transport failure or timeout
//   - status: the webhook answered with a status other than 200
//   - serialization: the payload could not be encoded
//   - render: the alert template could not be rendered
//
// # Example Usage
//
//	err := errors.NewNotificationError("mattermost", errors.KindNetwork, netErr)
//	if errors.IsKind(err, errors.KindNetwork) {
//	    log.Printf("webhook unreachable: %v", err)
//	}
//
//	var notifErr *errors.NotificationError
//	if errors.As(err, &notifErr) {
//	    log.Printf("status: %d", notifErr.StatusCode)
//	}
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a delivery failure.
type Kind string

const (
	// KindRequest means the HTTP request could not be constructed.
	KindRequest Kind = "request"
	// KindNetwork means the request failed in transport or timed out.
	KindNetwork Kind = "network"
	// KindStatus means the webhook returned a non-200 status code.
	KindStatus Kind = "status"
	// KindSerialization means the payload could not be encoded.
	KindSerialization Kind = "serialization"
	// KindRender means the alert template could not be rendered.
	KindRender Kind = "render"
)

// NotificationError represents an error sending a notification to a destination.
type NotificationError struct {
	Type       string // Destination type (e.g., "mattermost", "slack")
	Kind       Kind   // Failure category
	StatusCode int    // HTTP status code, set for KindStatus
	Err        error  // Underlying error
}

func (e *NotificationError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("notification %s: %s error: webhook returned status %d", e.Type, e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("notification %s: %s error: %v", e.Type, e.Kind, e.Err)
	}
	return fmt.Sprintf("notification %s: %s error", e.Type, e.Kind)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// NewNotificationError creates a new notification error.
func NewNotificationError(notifType string, kind Kind, err error) *NotificationError {
	return &NotificationError{Type: notifType, Kind: kind, Err: err}
}

// NewStatusError creates a notification error for an unexpected HTTP status.
func NewStatusError(notifType string, statusCode int) *NotificationError {
	return &NotificationError{Type: notifType, Kind: KindStatus, StatusCode: statusCode}
}

// IsNotificationError checks if an error is a NotificationError.
func IsNotificationError(err error) bool {
	var ne *NotificationError
	return errors.As(err, &ne)
}

// KindOf returns the kind of a NotificationError, or an empty Kind if err is
// not one.
func KindOf(err error) Kind {
	var ne *NotificationError
	if errors.As(err, &ne) {
		return ne.Kind
	}
	return ""
}

// IsKind reports whether err is a NotificationError of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field string // Configuration field that caused the error
	Value string // Invalid value (optional, may be redacted for sensitive fields)
	Err   error  // Underlying error or description
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config error in field %q (value=%q): %v", e.Field, e.Value, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("config error in field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error in field %q", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(field string, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: err}
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ValidationError represents a data validation error.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   any    // Invalid value
	Reason  string // Why validation failed
	Details error  // Additional details (optional)
}

func (e *ValidationError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("validation error: field %q with value %v: %s (%v)", e.Field, e.Value, e.Reason, e.Details)
	}
	return fmt.Sprintf("validation error: field %q with value %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Details
}

// NewValidationError creates a new validation error.
func NewValidationError(field string, value any, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NetworkError represents a network-related error.
type NetworkError struct {
	Op   string // Operation being performed (e.g., "post", "health check")
	Addr string // Network address (if applicable)
	Err  error  // Underlying error
}

func (e *NetworkError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("network %s (%s): %v", e.Op, e.Addr, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("network %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("network %s failed", e.Op)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new network error.
func NewNetworkError(op string, addr string, err error) *NetworkError {
	return &NetworkError{Op: op, Addr: addr, Err: err}
}

// IsNetworkError checks if an error is a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// Sentinel errors for common conditions
var (
	// ErrMissingURL indicates a destination has no webhook URL configured
	ErrMissingURL = errors.New("webhook url is not configured")

	// ErrUnknownDestination indicates a destination type or instance is not registered
	ErrUnknownDestination = errors.New("unknown destination")

	// ErrCircuitBreakerOpen indicates the circuit breaker is open
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timeout")
)
