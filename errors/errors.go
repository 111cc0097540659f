// Package errors provides standardized error handling for the peer bus.
// It includes error classification, standard error variables, and helper
// functions for consistent error wrapping across the bus, directory and
// dispatch subsystems.
//
// Classification is structural: an error is transient, invalid or fatal
// because of WHICH error it wraps, never because of what its message
// says. The bus error taxonomy follows the propagation policy of the
// core: handler errors are local, repository and configuration errors
// are fatal only at startup, transport errors are retryable, and
// cancellation means shutdown, which is never retried.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/c360/peerbus/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or contract
	// violations; retrying cannot help
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop startup
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Dispatch errors
	ErrQueueStopped     = errors.New("dispatch queue stopped")
	ErrQueueNotStarted  = errors.New("dispatch queue not started")
	ErrHandlerFailed    = errors.New("handler failed")
	ErrHandlerContract  = errors.New("async handler returned a task that was never started")
	ErrNoHandler        = errors.New("no handler registered for message type")
	ErrBatchNotMergable = errors.New("dispatch entries cannot be merged")

	// Directory errors
	ErrPeerNotFound       = errors.New("peer not found")
	ErrOutdatedUpdate     = errors.New("update older than last applied timestamp")
	ErrDirectoryUnreached = errors.New("no directory endpoint reachable")

	// Transport and wire errors
	ErrInvalidFrame      = errors.New("malformed wire frame")
	ErrTransportClosed   = errors.New("transport closed")
	ErrEndpointNotBound  = errors.New("transport endpoint not bound")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Repository persistence errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrKeyNotFound        = errors.New("key not found")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// transientErrors are the bus conditions a caller may reasonably retry:
// the peer or endpoint can come back.
var transientErrors = []error{
	ErrConnectionTimeout,
	ErrConnectionLost,
	ErrStorageUnavailable,
	ErrDirectoryUnreached,
	ErrPeerNotFound,
	context.DeadlineExceeded,
}

// invalidErrors are contract violations: the same call will fail the
// same way forever.
var invalidErrors = []error{
	ErrInvalidFrame,
	ErrHandlerContract,
	ErrBatchNotMergable,
	ErrNoHandler,
	ErrEndpointNotBound,
	ErrOutdatedUpdate,
	ErrQueueStopped,
	ErrQueueNotStarted,
}

// fatalErrors stop startup; in-flight dispatch never reaches them.
var fatalErrors = []error{
	ErrInvalidConfig,
	ErrMissingConfig,
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried.
//
// Cancellation is deliberately NOT transient: on the bus a cancelled
// context means the peer is shutting down, and retry loops must stop
// rather than outlive it. Network-level timeouts surfaced by transport
// adapters (net.Error with Timeout) are transient; other socket errors
// are only transient when a transport explicitly classified them.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	for _, transient := range transientErrors {
		if errors.Is(err, transient) {
			return true
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsFatal checks if an error should abort startup
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	for _, fatal := range fatalErrors {
		if errors.Is(err, fatal) {
			return true
		}
	}
	return false
}

// IsInvalid checks if an error is a contract violation that no retry
// can fix
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	for _, invalid := range invalidErrors {
		if errors.Is(err, invalid) {
			return true
		}
	}
	return false
}

// Classify returns the error class for an error. Unclassified errors
// come out transient: a handler or transport failure must never stop
// the dispatch loop, so the bus leans toward retry-and-log for errors
// it does not recognize.
func Classify(err error) ErrorClass {
	switch {
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

// newClassified creates a new classified error
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// HandlerContractViolation builds the deterministic fault raised when an
// async handler hands back a task that was never started. The diagnostic
// identifies the handler and message type involved.
func HandlerContractViolation(handlerType, messageType string) error {
	return fmt.Errorf("%s.%s: %w", handlerType, messageType, ErrHandlerContract)
}

// RetryConfig defines configuration for retry operations
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []error
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BackoffFactor:   2.0,
		RetryableErrors: nil, // Empty list means retry all transient errors
	}
}

// ShouldRetry determines if an error should be retried based on config
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries {
		return false
	}
	return rc.retryable(err)
}

// retryable applies the transient rule, narrowed to RetryableErrors
// when the list is set.
func (rc RetryConfig) retryable(err error) bool {
	if !IsTransient(err) {
		return false
	}
	if len(rc.RetryableErrors) == 0 {
		return true
	}
	for _, retryableErr := range rc.RetryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}
	return false
}

// ToRetryConfig converts the errors package RetryConfig to the retry
// framework's Config type. The conversion adds 1 to MaxRetries
// (converting "additional attempts" to "total attempts"), enables
// jitter and installs this package's transient classification as the
// retry predicate, so the retry engine stops on errors the bus knows
// to be permanent.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
		RetryIf:      rc.retryable,
	}
}
