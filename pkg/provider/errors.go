package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for connector operations.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrProviderUnavailable indicates the provider service is unavailable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrThrottled indicates the request was rate limited by the provider.
	ErrThrottled = errors.New("request throttled")
)

// ConnectorError wraps connector-specific errors with context.
type ConnectorError struct {
	// Op is the operation that failed (e.g., "ListResources").
	Op string

	// Kind is the connector kind (e.g., "s3").
	Kind Kind

	// Resource is the resource id, if applicable.
	Resource string

	// Err is the underlying error.
	Err error
}

func (e *ConnectorError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Kind, e.Op, e.Resource, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ConnectorError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidCredentials returns true if the error indicates authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
