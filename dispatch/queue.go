package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/peerbus/errors"
	"github.com/c360/peerbus/metric"
)

// DefaultQueueName is the queue invokers run on when they do not name
// one.
const DefaultQueueName = "Main"

// DefaultBatchSize bounds how many entries one worker iteration pulls.
const DefaultBatchSize = 100

// queueState tracks the lifecycle of a queue.
type queueState int32

const (
	queueStopped queueState = iota
	queueRunning
)

// queueEntry is the closed entry variant: either a dispatch bound to
// an invoker, or a bare action. Exactly one arm is set, selected by
// kind.
type queueEntry struct {
	kind     entryKind
	dispatch *MessageDispatch
	invoker  HandlerInvoker
	action   func()
}

type entryKind int

const (
	entryDispatch entryKind = iota
	entryAction
)

// DispatchQueue is a named single-consumer worker. Entries are
// consumed in FIFO order; consecutive dispatch entries merge into one
// invocation while the batch head's invoker accepts them.
type DispatchQueue struct {
	name      string
	batchSize int
	pipes     PipeSource
	logger    *slog.Logger
	metrics   *metric.Metrics

	mu      sync.Mutex
	cond    *sync.Cond
	entries []queueEntry
	state   queueState
	sealed  bool
	done    chan struct{}

	asyncInFlight   atomic.Int32
	asyncCompleted  atomic.Int64
	executingInline atomic.Int32
}

// QueueOption configures a DispatchQueue.
type QueueOption func(*DispatchQueue)

// WithQueueLogger sets the logger.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *DispatchQueue) { q.logger = logger }
}

// WithQueueMetrics wires the core bus metrics.
func WithQueueMetrics(metrics *metric.Metrics) QueueOption {
	return func(q *DispatchQueue) { q.metrics = metrics }
}

// WithBatchSize bounds the per-iteration pull. Values below 1 keep the
// default.
func WithBatchSize(size int) QueueOption {
	return func(q *DispatchQueue) {
		if size >= 1 {
			q.batchSize = size
		}
	}
}

// NewDispatchQueue creates a stopped queue.
func NewDispatchQueue(name string, pipes PipeSource, opts ...QueueOption) *DispatchQueue {
	q := &DispatchQueue{
		name:      name,
		batchSize: DefaultBatchSize,
		pipes:     pipes,
		logger:    slog.Default(),
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue name.
func (q *DispatchQueue) Name() string { return q.name }

// IsRunning reports whether the worker is active.
func (q *DispatchQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state == queueRunning
}

// QueueLength returns the number of pending entries.
func (q *DispatchQueue) QueueLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Start launches the worker. Starting a running queue is an error.
func (q *DispatchQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == queueRunning {
		return errors.WrapInvalid(fmt.Errorf("queue %s already running", q.name), "DispatchQueue", "Start", "check state")
	}
	q.state = queueRunning
	q.sealed = false
	q.done = make(chan struct{})

	go q.worker(withCurrentQueue(ctx, q.name), q.done)
	q.logger.Debug("dispatch queue started", "queue", q.name, "batch_size", q.batchSize)
	return nil
}

// Stop waits for quiescence, seals the queue and joins the worker.
func (q *DispatchQueue) Stop() error {
	q.mu.Lock()
	if q.state != queueRunning {
		q.mu.Unlock()
		return nil
	}
	done := q.done
	q.mu.Unlock()

	q.WaitUntilAllMessagesAreProcessed()

	q.mu.Lock()
	q.sealed = true
	q.state = queueStopped
	q.cond.Broadcast()
	q.mu.Unlock()

	<-done
	q.logger.Debug("dispatch queue stopped", "queue", q.name)
	return nil
}

// Enqueue appends a dispatch entry.
func (q *DispatchQueue) Enqueue(dispatch *MessageDispatch, invoker HandlerInvoker) error {
	return q.push(queueEntry{kind: entryDispatch, dispatch: dispatch, invoker: invoker})
}

// EnqueueAction appends an untyped action entry. Continuations posted
// by the cooperative scheduler arrive here.
func (q *DispatchQueue) EnqueueAction(action func()) error {
	return q.push(queueEntry{kind: entryAction, action: action})
}

// Schedule implements Scheduler: continuations land on the queue as
// action entries, which is the reentrancy mechanism for asynchronous
// handlers.
func (q *DispatchQueue) Schedule(action func()) {
	if err := q.EnqueueAction(action); err != nil {
		q.logger.Warn("dropping continuation for sealed queue", "queue", q.name, "error", err)
	}
}

// RunOrEnqueue runs the entry inline when the caller already executes
// on this queue's worker or the dispatch demands synchronous
// execution; otherwise it invokes BeforeEnqueue on the dispatch and
// enqueues.
func (q *DispatchQueue) RunOrEnqueue(ctx context.Context, dispatch *MessageDispatch, invoker HandlerInvoker) error {
	if CurrentQueueName(ctx) == q.name || dispatch.ShouldRunSynchronously {
		q.runBatch(withCurrentQueue(ctx, q.name), batch{invoker: invoker, dispatches: []*MessageDispatch{dispatch}})
		return nil
	}

	dispatch.BeforeEnqueue()
	return q.Enqueue(dispatch, invoker)
}

// Purge atomically drains pending entries without running them and
// returns the count.
func (q *DispatchQueue) Purge() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := len(q.entries)
	q.entries = nil
	q.observeDepthLocked()
	return count
}

// WaitUntilAllMessagesAreProcessed spins with a 1 ms sleep until the
// queue is empty, no asynchronous batch is in flight and none
// completed since the last observation. Returns true iff it had to
// wait at least one full cycle.
func (q *DispatchQueue) WaitUntilAllMessagesAreProcessed() bool {
	waited := false
	lastCompleted := q.asyncCompleted.Load()
	for {
		if q.QueueLength() == 0 && q.asyncInFlight.Load() == 0 && q.executingInline.Load() == 0 {
			completed := q.asyncCompleted.Load()
			if completed == lastCompleted {
				return waited
			}
			lastCompleted = completed
		}
		waited = true
		time.Sleep(time.Millisecond)
	}
}

func (q *DispatchQueue) push(entry queueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed || q.state != queueRunning {
		return errors.WrapInvalid(errors.ErrQueueStopped, "DispatchQueue", "Enqueue", "append entry")
	}
	q.entries = append(q.entries, entry)
	q.observeDepthLocked()
	q.cond.Signal()
	return nil
}

// batch is one merged handler invocation.
type batch struct {
	invoker    HandlerInvoker
	dispatches []*MessageDispatch
}

func (b *batch) messages() []any {
	messages := make([]any, len(b.dispatches))
	for i, dispatch := range b.dispatches {
		messages[i] = dispatch.Message
	}
	return messages
}

// worker is the queue's single consumer loop.
func (q *DispatchQueue) worker(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		pulled := q.pull()
		if pulled == nil {
			return
		}
		q.process(ctx, pulled)
	}
}

// pull blocks until entries are available or the queue is sealed, then
// takes up to batchSize entries.
func (q *DispatchQueue) pull() []queueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.entries) == 0 && !q.sealed {
		q.cond.Wait()
	}
	if len(q.entries) == 0 {
		return nil
	}

	n := q.batchSize
	if n > len(q.entries) {
		n = len(q.entries)
	}
	pulled := make([]queueEntry, n)
	copy(pulled, q.entries[:n])
	q.entries = q.entries[n:]
	q.observeDepthLocked()
	return pulled
}

// process walks the pulled entries, merging consecutive dispatch
// entries while the batch head's invoker accepts them. Action entries
// and non-mergeable entries flush the running batch first.
func (q *DispatchQueue) process(ctx context.Context, entries []queueEntry) {
	var current *batch
	flush := func() {
		if current != nil {
			q.runBatch(ctx, *current)
			current = nil
		}
	}

	for _, entry := range entries {
		switch entry.kind {
		case entryAction:
			flush()
			entry.action()
		case entryDispatch:
			if current != nil && current.invoker.CanMergeWith(entry.invoker) {
				current.dispatches = append(current.dispatches, entry.dispatch)
				continue
			}
			flush()
			current = &batch{invoker: entry.invoker, dispatches: []*MessageDispatch{entry.dispatch}}
		}
	}
	flush()
}

// runBatch executes one merged invocation in the batch head's mode.
func (q *DispatchQueue) runBatch(ctx context.Context, b batch) {
	q.executingInline.Add(1)
	defer q.executingInline.Add(-1)

	mc := b.dispatches[0].Context
	invocation := q.pipes.BuildInvocation(b.invoker, b.messages(), mc)
	q.observeBatch(b)

	switch b.invoker.Mode() {
	case ModeAsynchronous:
		q.runBatchAsync(ctx, b, invocation)
	default:
		q.runBatchSync(ctx, b, invocation)
	}
}

// runBatchSync clears the ambient scheduler and runs the invocation
// inline; every entry is marked handled with the outcome.
func (q *DispatchQueue) runBatchSync(ctx context.Context, b batch, invocation *PipeInvocation) {
	start := time.Now()
	err := invocation.Run(WithScheduler(ctx, nil))
	q.observeDuration(start)

	if err != nil {
		q.logger.Error("handler failed",
			"queue", q.name, "handler", b.invoker.HandlerName(),
			"type", b.invoker.MessageTypeID(), "error", err)
		q.observeFailure(b)
	}
	for _, dispatch := range b.dispatches {
		dispatch.SetHandled(b.invoker, err)
	}
}

// runBatchAsync installs this queue as the cooperative scheduler,
// clones the batch and starts the invocation's asynchronous form. The
// worker keeps pulling while the task runs; completion marks the clone
// handled and balances the in-flight counter.
func (q *DispatchQueue) runBatchAsync(ctx context.Context, b batch, invocation *PipeInvocation) {
	cloned := batch{invoker: b.invoker, dispatches: make([]*MessageDispatch, len(b.dispatches))}
	copy(cloned.dispatches, b.dispatches)

	start := time.Now()
	q.asyncInFlight.Add(1)
	task := invocation.RunAsync(WithScheduler(ctx, q))
	task.ContinueWith(func(err error) {
		q.observeDuration(start)
		if err != nil {
			q.logger.Error("async handler failed",
				"queue", q.name, "handler", cloned.invoker.HandlerName(),
				"type", cloned.invoker.MessageTypeID(), "error", err)
			q.observeFailure(cloned)
		}
		for _, dispatch := range cloned.dispatches {
			dispatch.SetHandled(cloned.invoker, err)
		}
		q.asyncInFlight.Add(-1)
		q.asyncCompleted.Add(1)
	})
}

func (q *DispatchQueue) observeDepthLocked() {
	if q.metrics != nil {
		q.metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(q.entries)))
	}
}

func (q *DispatchQueue) observeBatch(b batch) {
	if q.metrics == nil {
		return
	}
	q.metrics.BatchSize.WithLabelValues(q.name).Observe(float64(len(b.dispatches)))
	q.metrics.MessagesDispatched.WithLabelValues(q.name, b.invoker.MessageTypeID().String()).
		Add(float64(len(b.dispatches)))
}

func (q *DispatchQueue) observeFailure(b batch) {
	if q.metrics == nil {
		return
	}
	q.metrics.HandlerFailures.WithLabelValues(q.name, b.invoker.MessageTypeID().String()).Inc()
}

func (q *DispatchQueue) observeDuration(start time.Time) {
	if q.metrics == nil {
		return
	}
	q.metrics.DispatchDuration.WithLabelValues(q.name).Observe(time.Since(start).Seconds())
}
