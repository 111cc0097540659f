package dispatch

import (
	"context"
	"fmt"

	"github.com/c360/peerbus/errors"
)

// PipeInvocation wraps one handler invocation in the registered pipe
// chain: before hooks in order, the handler, after hooks in reverse,
// with per-pipe state threaded through.
type PipeInvocation struct {
	invoker    HandlerInvoker
	messages   []any
	msgContext *MessageContext
	pipes      []Pipe
	mutations  []func(handler any)
}

// NewPipeInvocation builds an invocation. The queue worker calls Run
// or RunAsync exactly once.
func NewPipeInvocation(invoker HandlerInvoker, messages []any, mc *MessageContext, pipes []Pipe) *PipeInvocation {
	return &PipeInvocation{
		invoker:    invoker,
		messages:   messages,
		msgContext: mc,
		pipes:      pipes,
	}
}

// Invoker returns the invoker being wrapped.
func (inv *PipeInvocation) Invoker() HandlerInvoker { return inv.invoker }

// Messages returns the batch.
func (inv *PipeInvocation) Messages() []any { return inv.messages }

// MessageContext returns the dispatch context.
func (inv *PipeInvocation) MessageContext() *MessageContext { return inv.msgContext }

// AddHandlerMutation registers a mutation applied to the handler
// object before it runs, in registration order. Pipes call this from
// BeforeInvoke.
func (inv *PipeInvocation) AddHandlerMutation(fn func(handler any)) {
	inv.mutations = append(inv.mutations, fn)
}

// Run executes the invocation synchronously: before hooks, handler,
// after hooks. After hooks always run, also on panic or error.
func (inv *PipeInvocation) Run(ctx context.Context) (err error) {
	states := inv.beforeInvoke()
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapInvalid(
				fmt.Errorf("handler panic: %v", r),
				inv.invoker.HandlerName(), "Run", "invoke handler")
		}
		inv.afterInvoke(states, err)
	}()

	ctx = inv.setupForInvocation(ctx)
	err = inv.invoker.Invoke(ctx, inv.messages)
	return err
}

// RunAsync starts the invocation's asynchronous form and returns its
// task. The after hooks run when the task completes, before the
// caller's continuation observes the outcome. A handler returning a
// task that was never started yields a completed task faulted with the
// handler-contract diagnostic.
func (inv *PipeInvocation) RunAsync(ctx context.Context) *Task {
	states := inv.beforeInvoke()

	ctx = inv.setupForInvocation(ctx)
	task := inv.invoker.InvokeAsync(ctx, inv.messages)
	if task == nil || !task.Started() {
		err := errors.HandlerContractViolation(inv.invoker.HandlerName(), inv.invoker.MessageTypeID().String())
		inv.afterInvoke(states, err)
		return CompletedTask(err)
	}

	completion := NewTask()
	completion.started = true
	task.ContinueWith(func(err error) {
		inv.afterInvoke(states, err)
		completion.complete(err)
	})
	return completion
}

// beforeInvoke runs the before hooks in order, collecting per-pipe
// state.
func (inv *PipeInvocation) beforeInvoke() []any {
	states := make([]any, len(inv.pipes))
	for i, pipe := range inv.pipes {
		states[i] = pipe.BeforeInvoke(inv)
	}
	return states
}

// afterInvoke runs the after hooks in reverse order with the preserved
// state and the outcome.
func (inv *PipeInvocation) afterInvoke(states []any, err error) {
	faulted := err != nil
	for i := len(inv.pipes) - 1; i >= 0; i-- {
		inv.pipes[i].AfterInvoke(inv, states[i], faulted, err)
	}
}

// setupForInvocation installs the message context as ambient, injects
// it into context-aware handlers and applies registered handler
// mutations in registration order.
func (inv *PipeInvocation) setupForInvocation(ctx context.Context) context.Context {
	ctx = WithMessageContext(ctx, inv.msgContext)
	handler := inv.invoker.Handler()
	if handler != nil {
		if aware, ok := handler.(MessageContextAware); ok {
			aware.SetMessageContext(inv.msgContext)
		}
	}
	for _, mutate := range inv.mutations {
		mutate(handler)
	}
	return ctx
}
