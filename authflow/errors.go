package authflow

import (
	"errors"
	"fmt"
)

// Package-level errors
var (
	// ErrInvalidConfig indicates the static configuration cannot be used.
	// It is not recoverable within a flow.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDiscoveryFailed indicates the discovery document could not be used
	ErrDiscoveryFailed = errors.New("discovery failed")

	// ErrRegistrationFailed indicates dynamic client registration failed
	ErrRegistrationFailed = errors.New("client registration failed")

	// ErrIssuanceCancelled indicates the user cancelled the authorization
	ErrIssuanceCancelled = errors.New("authorization cancelled")

	// ErrInterruptedWait indicates the wait for a warmed artifact ended
	// before one was available
	ErrInterruptedWait = errors.New("interrupted while waiting for warm-up")

	// ErrNotReady indicates an operation that needs a Ready flow
	ErrNotReady = errors.New("flow not ready")

	// ErrWorkerStopped indicates a submission to a stopped worker
	ErrWorkerStopped = errors.New("worker stopped")

	// ErrClosed indicates the flow has been closed
	ErrClosed = errors.New("flow closed")

	// ErrAccessDenied indicates user denied access
	ErrAccessDenied = errors.New("access denied by user")

	// ErrServerError indicates provider server error
	ErrServerError = errors.New("provider server error")

	// ErrTemporarilyUnavailable indicates service temporarily unavailable
	ErrTemporarilyUnavailable = errors.New("service temporarily unavailable")

	// ErrInvalidRedirectURI is the RFC 7591 invalid_redirect_uri error
	ErrInvalidRedirectURI = errors.New("invalid redirect uri")

	// ErrInvalidClientMetadata is the RFC 7591 invalid_client_metadata error
	ErrInvalidClientMetadata = errors.New("invalid client metadata")

	// ErrNetworkError indicates a network error occurred
	ErrNetworkError = errors.New("network error")

	// ErrCircuitOpen indicates the circuit breaker rejected the call
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Error represents a detailed OAuth error
type Error struct {
	Code        string // OAuth error code (e.g., "invalid_request")
	Description string // Human-readable error description
	URI         string // Optional URI with error details
	Provider    string // Provider where error occurred
	Err         error  // Underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth error [%s]: %s (%s)", e.Provider, e.Description, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("oauth error [%s]: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("oauth error [%s]: %s", e.Provider, e.Code)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// ParseError builds an Error from the error fields of an OAuth response
// and maps well known codes onto the package sentinels.
func ParseError(provider, code, description, uri string) *Error {
	oauthErr := &Error{
		Provider:    provider,
		Code:        code,
		Description: description,
		URI:         uri,
	}

	switch code {
	case "access_denied":
		oauthErr.Err = ErrAccessDenied
	case "server_error":
		oauthErr.Err = ErrServerError
	case "temporarily_unavailable":
		oauthErr.Err = ErrTemporarilyUnavailable
	case "invalid_redirect_uri":
		oauthErr.Err = ErrInvalidRedirectURI
	case "invalid_client_metadata":
		oauthErr.Err = ErrInvalidClientMetadata
	}

	return oauthErr
}

// IsRetryable checks if an error is transient
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNetworkError) ||
		errors.Is(err, ErrServerError) ||
		errors.Is(err, ErrTemporarilyUnavailable) {
		return true
	}

	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return oauthErr.Code == "temporarily_unavailable" ||
			oauthErr.Code == "server_error"
	}

	return false
}

// DiscoveryErrorKind classifies discovery failures.
type DiscoveryErrorKind int

const (
	NetworkFailure DiscoveryErrorKind = iota
	MalformedDocument
	UnsupportedIssuer
)

func (k DiscoveryErrorKind) String() string {
	switch k {
	case NetworkFailure:
		return "network failure"
	case MalformedDocument:
		return "malformed document"
	case UnsupportedIssuer:
		return "unsupported issuer"
	default:
		return "unknown"
	}
}

// DiscoveryError describes why a discovery document could not be used.
type DiscoveryError struct {
	Kind DiscoveryErrorKind
	URL  string
	Err  error

	retryAfter int
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("discovery %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("discovery %s: %s", e.URL, e.Kind)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Is makes every DiscoveryError match ErrDiscoveryFailed.
func (e *DiscoveryError) Is(target error) bool {
	return target == ErrDiscoveryFailed
}

// RegistrationError describes a failed dynamic client registration.
type RegistrationError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *RegistrationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("registration at %s failed with status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("registration at %s failed: %v", e.Endpoint, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// Is makes every RegistrationError match ErrRegistrationFailed.
func (e *RegistrationError) Is(target error) bool {
	return target == ErrRegistrationFailed
}

// ErrorKind is the flow-level classification shown to the user.
type ErrorKind int

const (
	KindConfigurationInvalid ErrorKind = iota + 1
	KindDiscoveryFailed
	KindRegistrationFailed
	KindIssuanceCancelled
	KindIssuanceFailed
	KindInterruptedWait
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfigurationInvalid:
		return "configuration invalid"
	case KindDiscoveryFailed:
		return "discovery failed"
	case KindRegistrationFailed:
		return "registration failed"
	case KindIssuanceCancelled:
		return "issuance cancelled"
	case KindIssuanceFailed:
		return "issuance failed"
	case KindInterruptedWait:
		return "interrupted wait"
	default:
		return "unknown"
	}
}

// FlowError is how a failure on the worker reaches the foreground: as a
// value recorded in the Snapshot and handed to View.ShowError.
type FlowError struct {
	Kind        ErrorKind
	Err         error
	Recoverable bool
}

func (e *FlowError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *FlowError) Unwrap() error { return e.Err }
