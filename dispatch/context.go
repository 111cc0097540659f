package dispatch

import (
	"context"

	"github.com/c360/peerbus/routing"
)

// MessageContext is the ambient per-dispatch information a handler can
// read while processing a message.
type MessageContext struct {
	MessageID      string
	MessageTypeID  routing.MessageTypeID
	SenderID       routing.PeerID
	SenderEndpoint string
	SenderMachine  string
	InitiatorUser  string
	Environment    string
	WasPersisted   bool
}

// MessageContextAware is implemented by handlers that want the message
// context injected before they run.
type MessageContextAware interface {
	SetMessageContext(*MessageContext)
}

type contextKey int

const (
	messageContextKey contextKey = iota
	currentQueueKey
	schedulerKey
)

// WithMessageContext installs the message context for the duration of
// a handler invocation.
func WithMessageContext(ctx context.Context, mc *MessageContext) context.Context {
	return context.WithValue(ctx, messageContextKey, mc)
}

// MessageContextFrom returns the ambient message context, or nil when
// called outside a handler invocation.
func MessageContextFrom(ctx context.Context) *MessageContext {
	mc, _ := ctx.Value(messageContextKey).(*MessageContext)
	return mc
}

// withCurrentQueue marks the context as executing on the named queue's
// worker.
func withCurrentQueue(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, currentQueueKey, name)
}

// CurrentQueueName returns the name of the queue whose worker is
// executing, or "" when not on a dispatch queue. Used for reentrancy
// detection and by tests.
func CurrentQueueName(ctx context.Context) string {
	name, _ := ctx.Value(currentQueueKey).(string)
	return name
}

// WithScheduler installs the cooperative scheduler for an asynchronous
// invocation. A nil scheduler clears the ambient one, which is what
// synchronous execution does.
func WithScheduler(ctx context.Context, s Scheduler) context.Context {
	return context.WithValue(ctx, schedulerKey, s)
}

// SchedulerFrom returns the ambient cooperative scheduler. Handlers
// use it to marshal continuations back onto their queue; it is nil in
// synchronous mode.
func SchedulerFrom(ctx context.Context) Scheduler {
	s, _ := ctx.Value(schedulerKey).(Scheduler)
	return s
}
