package dispatch

import (
	"sync"
)

// Pipe intercepts handler invocations. BeforeInvoke runs in
// registration order and returns an opaque state slot handed back to
// AfterInvoke, which runs in reverse order and always runs, including
// when the handler failed.
type Pipe interface {
	Name() string
	BeforeInvoke(invocation *PipeInvocation) any
	AfterInvoke(invocation *PipeInvocation, state any, faulted bool, err error)
}

// PipeSource builds the pipe invocation for a batch. The PipeManager
// is the standard implementation; tests substitute their own.
type PipeSource interface {
	BuildInvocation(invoker HandlerInvoker, messages []any, mc *MessageContext) *PipeInvocation
}

// PipeManager holds the registered pipes in order and builds
// invocations around them.
type PipeManager struct {
	mu    sync.RWMutex
	pipes []Pipe
}

// NewPipeManager creates an empty pipe manager.
func NewPipeManager(pipes ...Pipe) *PipeManager {
	return &PipeManager{pipes: pipes}
}

// Register appends a pipe. Registration order is invocation order for
// the before hooks.
func (pm *PipeManager) Register(pipe Pipe) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.pipes = append(pm.pipes, pipe)
}

// BuildInvocation snapshots the current pipes into an invocation.
func (pm *PipeManager) BuildInvocation(invoker HandlerInvoker, messages []any, mc *MessageContext) *PipeInvocation {
	pm.mu.RLock()
	pipes := make([]Pipe, len(pm.pipes))
	copy(pipes, pm.pipes)
	pm.mu.RUnlock()

	return NewPipeInvocation(invoker, messages, mc, pipes)
}
