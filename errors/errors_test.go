package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Repository", "AddOrUpdatePeer", "persist descriptor")
	require.Error(t, err)
	assert.Equal(t, "Repository.AddOrUpdatePeer: persist descriptor failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))

	assert.Nil(t, Wrap(nil, "a", "b", "c"))
}

func TestClassification(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionLost))
	assert.Equal(t, ErrorTransient, Classify(ErrDirectoryUnreached))
	assert.Equal(t, ErrorTransient, Classify(ErrPeerNotFound))
	assert.Equal(t, ErrorFatal, Classify(ErrInvalidConfig))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidFrame))
	assert.Equal(t, ErrorInvalid, Classify(ErrHandlerContract))
	assert.Equal(t, ErrorInvalid, Classify(ErrNoHandler))
}

// Classification is structural: wrapping preserves it, message text
// never influences it.
func TestClassificationIsStructural(t *testing.T) {
	wrapped := fmt.Errorf("outer context: %w", ErrConnectionLost)
	assert.True(t, IsTransient(wrapped))

	// An unrelated error whose MESSAGE mentions a transient-looking
	// word stays unclassified.
	impostor := stderrors.New("definitely not a connection timeout")
	assert.False(t, IsTransient(impostor))
	assert.False(t, IsInvalid(impostor))
	assert.False(t, IsFatal(impostor))
}

// Cancellation means shutdown: never retried. A deadline is a timeout:
// retryable.
func TestCancellationVersusDeadline(t *testing.T) {
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(fmt.Errorf("send: %w", context.Canceled)))
	assert.True(t, IsTransient(context.DeadlineExceeded))
}

// fakeNetError mimics a socket timeout surfaced by a transport
// adapter.
type fakeNetError struct {
	timeout bool
}

func (e *fakeNetError) Error() string   { return "socket error" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return e.timeout }

func TestNetErrorTimeouts(t *testing.T) {
	assert.True(t, IsTransient(&fakeNetError{timeout: true}))
	assert.True(t, IsTransient(fmt.Errorf("recv: %w", &fakeNetError{timeout: true})))
	assert.False(t, IsTransient(&fakeNetError{timeout: false}))
}

func TestWrapPreservesClass(t *testing.T) {
	err := WrapInvalid(stderrors.New("bad token"), "BindingKey", "Validate", "check wildcard placement")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))
	assert.False(t, IsFatal(err))

	err = WrapFatal(stderrors.New("nope"), "Config", "Load", "parse file")
	assert.True(t, IsFatal(err))

	err = WrapTransient(stderrors.New("nope"), "Transport", "Receive", "poll socket")
	assert.True(t, IsTransient(err))
}

// An explicit classification outranks the structural rules: a
// transport may mark a specific connection loss as invalid.
func TestExplicitClassOutranksStructural(t *testing.T) {
	err := WrapInvalid(ErrConnectionLost, "Transport", "Send", "reject endpoint")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	base := stderrors.New("inner")
	err := WrapTransient(base, "Transport", "Send", "write frame")

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, "Transport", ce.Component)
	assert.True(t, stderrors.Is(err, base))
}

func TestHandlerContractViolation(t *testing.T) {
	err := HandlerContractViolation("OrderHandler", "Abc.Orders.OrderPlaced")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrHandlerContract))
	assert.True(t, IsInvalid(err))
	assert.Contains(t, err.Error(), "OrderHandler.Abc.Orders.OrderPlaced")
}

func TestShouldRetry(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.True(t, cfg.ShouldRetry(ErrConnectionLost, 0))
	assert.False(t, cfg.ShouldRetry(ErrConnectionLost, cfg.MaxRetries))
	assert.False(t, cfg.ShouldRetry(nil, 0))
	assert.False(t, cfg.ShouldRetry(ErrInvalidConfig, 0))
	assert.False(t, cfg.ShouldRetry(context.Canceled, 0))

	cfg.RetryableErrors = []error{ErrStorageUnavailable}
	assert.True(t, cfg.ShouldRetry(fmt.Errorf("wrapped: %w", ErrStorageUnavailable), 0))
	assert.False(t, cfg.ShouldRetry(ErrConnectionLost, 0))
}

func TestToRetryConfig(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BackoffFactor: 2.0}
	converted := cfg.ToRetryConfig()
	assert.Equal(t, 4, converted.MaxAttempts)
	assert.True(t, converted.AddJitter)

	// The transient classification rides along as the retry predicate.
	require.NotNil(t, converted.RetryIf)
	assert.True(t, converted.RetryIf(ErrConnectionLost))
	assert.False(t, converted.RetryIf(ErrInvalidFrame))
	assert.False(t, converted.RetryIf(context.Canceled))
}
