package dispatch

import (
	"sync"
)

// Scheduler receives continuations and decides where they execute. A
// DispatchQueue is a Scheduler whose continuations become action
// entries on the queue.
type Scheduler interface {
	Schedule(action func())
}

// Task is the handle of an asynchronously executing handler. A task is
// either started (its function is running or finished) or unstarted; an
// async handler returning an unstarted task violates the handler
// contract and is surfaced as a fault.
type Task struct {
	mu            sync.Mutex
	started       bool
	completed     bool
	err           error
	continuations []func(error)
}

// NewTask creates an unstarted task. Only useful to represent the
// contract-violation case and in tests.
func NewTask() *Task {
	return &Task{}
}

// StartTask runs fn on its own goroutine and returns the started task.
func StartTask(fn func() error) *Task {
	t := &Task{started: true}
	go func() {
		t.complete(fn())
	}()
	return t
}

// CompletedTask returns a task that already finished with err.
func CompletedTask(err error) *Task {
	return &Task{started: true, completed: true, err: err}
}

// Started reports whether the task's function was ever started.
func (t *Task) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Err returns the task error; only meaningful once completed.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// complete finishes the task and fires continuations inline on the
// completing goroutine ("execute synchronously where possible").
func (t *Task) complete(err error) {
	t.mu.Lock()
	if t.completed {
		t.mu.Unlock()
		return
	}
	t.completed = true
	t.err = err
	continuations := t.continuations
	t.continuations = nil
	t.mu.Unlock()

	for _, fn := range continuations {
		fn(err)
	}
}

// ContinueWith registers fn to run when the task completes. If the
// task already completed, fn runs inline; otherwise it runs on the
// goroutine that completes the task.
func (t *Task) ContinueWith(fn func(error)) {
	t.mu.Lock()
	if t.completed {
		err := t.err
		t.mu.Unlock()
		fn(err)
		return
	}
	t.continuations = append(t.continuations, fn)
	t.mu.Unlock()
}
