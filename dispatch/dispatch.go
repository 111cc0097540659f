package dispatch

import (
	"sync"

	"github.com/c360/peerbus/routing"
)

// HandlerResult records one handler's outcome for a dispatch.
type HandlerResult struct {
	Invoker HandlerInvoker
	Err     error
}

// DispatchResult aggregates the outcomes of every handler a dispatch
// was routed to.
type DispatchResult struct {
	Results []HandlerResult
}

// Errors returns the non-nil handler errors.
func (r DispatchResult) Errors() []error {
	var errs []error
	for _, result := range r.Results {
		if result.Err != nil {
			errs = append(errs, result.Err)
		}
	}
	return errs
}

// Succeeded reports whether every handler completed without error.
func (r DispatchResult) Succeeded() bool {
	return len(r.Errors()) == 0
}

// MessageDispatch tracks one inbound message through all its handlers.
// The dispatcher sets the handler count; each queue reports per-entry
// outcomes through SetHandled, and the completion callback fires once
// every handler reported.
type MessageDispatch struct {
	Message       any
	MessageTypeID routing.MessageTypeID
	Context       *MessageContext
	// ShouldRunSynchronously forces RunOrEnqueue to run the entry
	// inline instead of enqueueing it.
	ShouldRunSynchronously bool

	mu        sync.Mutex
	remaining int
	counted   bool
	enqueued  int
	results   []HandlerResult
	onDone    func(DispatchResult)
}

// NewMessageDispatch builds a dispatch for a message.
func NewMessageDispatch(typeID routing.MessageTypeID, message any, mc *MessageContext) *MessageDispatch {
	return &MessageDispatch{
		Message:       message,
		MessageTypeID: typeID,
		Context:       mc,
	}
}

// OnCompleted registers the callback fired once every handler has
// reported. With zero handlers it fires when SetHandlerCount is
// called.
func (d *MessageDispatch) OnCompleted(fn func(DispatchResult)) {
	d.mu.Lock()
	d.onDone = fn
	d.mu.Unlock()
}

// SetHandlerCount records how many handlers the dispatcher selected.
func (d *MessageDispatch) SetHandlerCount(n int) {
	d.mu.Lock()
	d.remaining = n
	d.counted = true
	done := d.counted && d.remaining == 0
	fn := d.onDone
	result := DispatchResult{Results: d.results}
	d.mu.Unlock()

	if done && fn != nil {
		fn(result)
	}
}

// BeforeEnqueue is invoked by RunOrEnqueue before handing the entry to
// a queue.
func (d *MessageDispatch) BeforeEnqueue() {
	d.mu.Lock()
	d.enqueued++
	d.mu.Unlock()
}

// EnqueuedCount returns how many times the dispatch was enqueued
// rather than run inline.
func (d *MessageDispatch) EnqueuedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enqueued
}

// SetHandled records one handler outcome. The completion callback
// fires on the goroutine reporting the final outcome.
func (d *MessageDispatch) SetHandled(invoker HandlerInvoker, err error) {
	d.mu.Lock()
	d.results = append(d.results, HandlerResult{Invoker: invoker, Err: err})
	d.remaining--
	done := d.counted && d.remaining == 0
	fn := d.onDone
	result := DispatchResult{Results: d.results}
	d.mu.Unlock()

	if done && fn != nil {
		fn(result)
	}
}
