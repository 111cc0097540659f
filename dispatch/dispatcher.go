package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/peerbus/errors"
	"github.com/c360/peerbus/metric"
	"github.com/c360/peerbus/routing"
)

// HandlerFilter restricts which invokers a dispatcher considers; nil
// accepts everything.
type HandlerFilter func(HandlerInvoker) bool

// Dispatcher owns the message-type to invoker mapping and the dispatch
// queues invokers run on.
type Dispatcher struct {
	pipes   *PipeManager
	logger  *slog.Logger
	metrics *metric.Metrics
	filter  HandlerFilter

	queueOptions map[string][]QueueOption

	mu       sync.RWMutex
	invokers map[routing.MessageTypeID][]HandlerInvoker
	queues   map[string]*DispatchQueue
	started  bool
	runCtx   context.Context
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithDispatcherMetrics wires the core bus metrics into the dispatcher
// and every queue it creates.
func WithDispatcherMetrics(metrics *metric.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = metrics }
}

// WithHandlerFilter restricts the invokers considered for dispatch.
func WithHandlerFilter(filter HandlerFilter) DispatcherOption {
	return func(d *Dispatcher) { d.filter = filter }
}

// WithQueueOptions applies options to the named queue when it is
// created, e.g. a per-queue batch size.
func WithQueueOptions(queueName string, opts ...QueueOption) DispatcherOption {
	return func(d *Dispatcher) { d.queueOptions[queueName] = opts }
}

// NewDispatcher creates a dispatcher over a pipe manager.
func NewDispatcher(pipes *PipeManager, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		pipes:        pipes,
		logger:       slog.Default(),
		invokers:     make(map[routing.MessageTypeID][]HandlerInvoker),
		queues:       make(map[string]*DispatchQueue),
		queueOptions: make(map[string][]QueueOption),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds an invoker. Its queue is created lazily; when the
// dispatcher is already running the queue starts immediately.
func (d *Dispatcher) Register(invoker HandlerInvoker) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	typeID := invoker.MessageTypeID()
	d.invokers[typeID] = append(d.invokers[typeID], invoker)

	_, err := d.queueForLocked(invoker.QueueName())
	return err
}

// HandledTypeIDs returns the message types with at least one
// registered invoker. The bus derives its static subscriptions from
// this set.
func (d *Dispatcher) HandledTypeIDs() []routing.MessageTypeID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]routing.MessageTypeID, 0, len(d.invokers))
	for typeID := range d.invokers {
		ids = append(ids, typeID)
	}
	return ids
}

// Queue returns the named queue, or nil when no invoker uses it.
func (d *Dispatcher) Queue(name string) *DispatchQueue {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.queues[name]
}

// Start launches every queue.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}
	for _, queue := range d.queues {
		if err := queue.Start(ctx); err != nil {
			return err
		}
	}
	d.started = true
	d.runCtx = ctx
	return nil
}

// Stop quiesces and stops every queue.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	queues := make([]*DispatchQueue, 0, len(d.queues))
	for _, queue := range d.queues {
		queues = append(queues, queue)
	}
	d.started = false
	d.mu.Unlock()

	var firstErr error
	for _, queue := range queues {
		if err := queue.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Dispatch routes a message to every invoker registered for its type
// whose filters accept it, enqueuing (or inlining) one entry per
// invoker.
func (d *Dispatcher) Dispatch(ctx context.Context, dispatch *MessageDispatch) error {
	d.mu.RLock()
	candidates := d.invokers[dispatch.MessageTypeID]
	selected := make([]HandlerInvoker, 0, len(candidates))
	for _, invoker := range candidates {
		if d.filter != nil && !d.filter(invoker) {
			continue
		}
		if !invoker.ShouldHandle(dispatch) {
			continue
		}
		selected = append(selected, invoker)
	}
	queues := make([]*DispatchQueue, len(selected))
	for i, invoker := range selected {
		queues[i] = d.queues[invoker.QueueName()]
	}
	d.mu.RUnlock()

	dispatch.SetHandlerCount(len(selected))
	if len(selected) == 0 {
		d.logger.Debug("no handler for message type", "type", dispatch.MessageTypeID)
		return nil
	}

	for i, invoker := range selected {
		if err := queues[i].RunOrEnqueue(ctx, dispatch, invoker); err != nil {
			return errors.Wrap(err, "Dispatcher", "Dispatch", "enqueue entry")
		}
	}
	return nil
}

// WaitUntilAllMessagesAreProcessed quiesces every queue; returns true
// when any queue had work to wait on.
func (d *Dispatcher) WaitUntilAllMessagesAreProcessed() bool {
	d.mu.RLock()
	queues := make([]*DispatchQueue, 0, len(d.queues))
	for _, queue := range d.queues {
		queues = append(queues, queue)
	}
	d.mu.RUnlock()

	waited := false
	for _, queue := range queues {
		if queue.WaitUntilAllMessagesAreProcessed() {
			waited = true
		}
	}
	return waited
}

// queueForLocked resolves or creates the named queue. Caller holds the
// write lock.
func (d *Dispatcher) queueForLocked(name string) (*DispatchQueue, error) {
	if queue, ok := d.queues[name]; ok {
		return queue, nil
	}

	opts := []QueueOption{WithQueueLogger(d.logger)}
	if d.metrics != nil {
		opts = append(opts, WithQueueMetrics(d.metrics))
	}
	opts = append(opts, d.queueOptions[name]...)

	queue := NewDispatchQueue(name, d.pipes, opts...)
	d.queues[name] = queue

	if d.started {
		if err := queue.Start(d.runCtx); err != nil {
			return nil, err
		}
	}
	return queue, nil
}
