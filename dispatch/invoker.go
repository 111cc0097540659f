package dispatch

import (
	"context"
	"fmt"

	"github.com/c360/peerbus/errors"
	"github.com/c360/peerbus/routing"
)

// InvocationMode selects how a queue executes a batch.
type InvocationMode int

const (
	// ModeSynchronous runs the handler inline on the queue worker.
	ModeSynchronous InvocationMode = iota
	// ModeAsynchronous starts a handler task and lets the worker keep
	// pulling while it runs.
	ModeAsynchronous
)

// String returns the string representation of the mode
func (m InvocationMode) String() string {
	switch m {
	case ModeSynchronous:
		return "synchronous"
	case ModeAsynchronous:
		return "asynchronous"
	default:
		return "unknown"
	}
}

// Handler processes a batch of messages of one type. Batches carry a
// single message unless the invoker is batchable.
type Handler func(ctx context.Context, messages []any) error

// AsyncHandler starts processing a batch and returns the running task.
type AsyncHandler func(ctx context.Context, messages []any) *Task

// HandlerInvoker binds a message type to a handler and carries the
// dispatch policy: target queue, execution mode and batch merging.
type HandlerInvoker interface {
	MessageTypeID() routing.MessageTypeID
	HandlerName() string
	QueueName() string
	Mode() InvocationMode
	// Handler returns the underlying handler object for capability
	// probing (MessageContextAware); may be nil.
	Handler() any
	// ShouldHandle lets an invoker veto individual dispatches.
	ShouldHandle(dispatch *MessageDispatch) bool
	// CanMergeWith reports whether an entry for other may join a batch
	// headed by this invoker.
	CanMergeWith(other HandlerInvoker) bool
	// Invoke runs the batch synchronously.
	Invoke(ctx context.Context, messages []any) error
	// InvokeAsync starts the batch and returns its task. Only called
	// when Mode() is ModeAsynchronous.
	InvokeAsync(ctx context.Context, messages []any) *Task
}

// MessageHandlerInvoker is the standard HandlerInvoker implementation.
type MessageHandlerInvoker struct {
	typeID       routing.MessageTypeID
	handlerName  string
	queueName    string
	mode         InvocationMode
	batchable    bool
	handler      Handler
	asyncHandler AsyncHandler
	handlerValue any
	filter       func(*MessageDispatch) bool
}

// InvokerOption configures a MessageHandlerInvoker.
type InvokerOption func(*MessageHandlerInvoker)

// WithQueue assigns the invoker to a named queue. Unset invokers share
// the default queue.
func WithQueue(name string) InvokerOption {
	return func(i *MessageHandlerInvoker) { i.queueName = name }
}

// WithBatching allows consecutive entries for this invoker to merge
// into one invocation.
func WithBatching() InvokerOption {
	return func(i *MessageHandlerInvoker) { i.batchable = true }
}

// WithDispatchFilter lets the invoker veto individual dispatches.
func WithDispatchFilter(filter func(*MessageDispatch) bool) InvokerOption {
	return func(i *MessageHandlerInvoker) { i.filter = filter }
}

// WithHandlerValue attaches the handler object used for capability
// probing (MessageContextAware).
func WithHandlerValue(handler any) InvokerOption {
	return func(i *MessageHandlerInvoker) { i.handlerValue = handler }
}

// NewHandlerInvoker builds a synchronous invoker.
func NewHandlerInvoker(typeID routing.MessageTypeID, handlerName string, handler Handler, opts ...InvokerOption) *MessageHandlerInvoker {
	i := &MessageHandlerInvoker{
		typeID:      typeID,
		handlerName: handlerName,
		queueName:   DefaultQueueName,
		mode:        ModeSynchronous,
		handler:     handler,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// NewAsyncHandlerInvoker builds an asynchronous invoker.
func NewAsyncHandlerInvoker(typeID routing.MessageTypeID, handlerName string, handler AsyncHandler, opts ...InvokerOption) *MessageHandlerInvoker {
	i := &MessageHandlerInvoker{
		typeID:       typeID,
		handlerName:  handlerName,
		queueName:    DefaultQueueName,
		mode:         ModeAsynchronous,
		asyncHandler: handler,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// MessageTypeID returns the handled message type.
func (i *MessageHandlerInvoker) MessageTypeID() routing.MessageTypeID { return i.typeID }

// HandlerName returns the handler name used in diagnostics.
func (i *MessageHandlerInvoker) HandlerName() string { return i.handlerName }

// QueueName returns the target dispatch queue.
func (i *MessageHandlerInvoker) QueueName() string { return i.queueName }

// Mode returns the execution mode.
func (i *MessageHandlerInvoker) Mode() InvocationMode { return i.mode }

// Handler returns the attached handler object, if any.
func (i *MessageHandlerInvoker) Handler() any { return i.handlerValue }

// ShouldHandle applies the invoker's dispatch filter.
func (i *MessageHandlerInvoker) ShouldHandle(dispatch *MessageDispatch) bool {
	if i.filter == nil {
		return true
	}
	return i.filter(dispatch)
}

// CanMergeWith accepts entries for the same invoker when batching is
// enabled: same handler, same mode, batchable.
func (i *MessageHandlerInvoker) CanMergeWith(other HandlerInvoker) bool {
	if !i.batchable {
		return false
	}
	otherInvoker, ok := other.(*MessageHandlerInvoker)
	if !ok {
		return false
	}
	return otherInvoker == i && otherInvoker.mode == i.mode
}

// Invoke runs the batch synchronously.
func (i *MessageHandlerInvoker) Invoke(ctx context.Context, messages []any) error {
	if i.handler == nil {
		return errors.WrapInvalid(
			fmt.Errorf("invoker %s has no synchronous handler", i.handlerName),
			"MessageHandlerInvoker", "Invoke", "resolve handler")
	}
	return i.handler(ctx, messages)
}

// InvokeAsync starts the batch and returns its task.
func (i *MessageHandlerInvoker) InvokeAsync(ctx context.Context, messages []any) *Task {
	if i.asyncHandler == nil {
		return nil
	}
	return i.asyncHandler(ctx, messages)
}
