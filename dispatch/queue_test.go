package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	buserrors "github.com/c360/peerbus/errors"
	"github.com/c360/peerbus/routing"
)

const testTypeID routing.MessageTypeID = "Abc.Testing.QueueCommand"

func newTestQueue(t *testing.T, opts ...QueueOption) *DispatchQueue {
	t.Helper()
	queue := NewDispatchQueue("test-queue", NewPipeManager(), opts...)
	require.NoError(t, queue.Start(context.Background()))
	t.Cleanup(func() { _ = queue.Stop() })
	return queue
}

func newDispatch(msg any) *MessageDispatch {
	d := NewMessageDispatch(testTypeID, msg, &MessageContext{MessageID: "m"})
	d.SetHandlerCount(1)
	return d
}

func TestDispatchQueue_FIFOForSynchronousEntries(t *testing.T) {
	var mu sync.Mutex
	var order []int
	invoker := NewHandlerInvoker(testTypeID, "OrderedHandler", func(_ context.Context, messages []any) error {
		mu.Lock()
		defer mu.Unlock()
		for _, msg := range messages {
			order = append(order, msg.(int))
		}
		return nil
	})

	queue := newTestQueue(t)
	for i := 0; i < 20; i++ {
		require.NoError(t, queue.Enqueue(newDispatch(i), invoker))
	}
	queue.WaitUntilAllMessagesAreProcessed()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 20)
	for i, got := range order {
		assert.Equal(t, i, got)
	}
}

// Three mergeable synchronous dispatches produce ONE invocation with a
// list of three messages; a non-mergeable fourth flushes the batch and
// starts a new one.
func TestDispatchQueue_BatchMerging(t *testing.T) {
	var mu sync.Mutex
	var batches [][]any
	record := func(_ context.Context, messages []any) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, messages)
		return nil
	}

	mergeable := NewHandlerInvoker(testTypeID, "BatchHandler", record, WithBatching())
	other := NewHandlerInvoker(testTypeID, "SingleHandler", record)

	queue := newTestQueue(t)

	// Block the worker on a gate entry so the next four entries are
	// pulled together in a single iteration.
	gate := make(chan struct{})
	blocker := NewHandlerInvoker(testTypeID, "GateHandler", func(_ context.Context, _ []any) error {
		<-gate
		return nil
	})
	require.NoError(t, queue.Enqueue(newDispatch("gate"), blocker))
	time.Sleep(10 * time.Millisecond)

	entries := []struct {
		msg     any
		invoker HandlerInvoker
	}{
		{"a", mergeable}, {"b", mergeable}, {"c", mergeable}, {"d", other},
	}
	for _, e := range entries {
		require.NoError(t, queue.Enqueue(newDispatch(e.msg), e.invoker))
	}
	close(gate)
	queue.WaitUntilAllMessagesAreProcessed()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2)
	assert.Equal(t, []any{"a", "b", "c"}, batches[0])
	assert.Equal(t, []any{"d"}, batches[1])
}

func TestDispatchQueue_NonBatchableNeverMerges(t *testing.T) {
	var count atomic.Int32
	invoker := NewHandlerInvoker(testTypeID, "PlainHandler", func(_ context.Context, messages []any) error {
		count.Add(1)
		if len(messages) != 1 {
			t.Errorf("expected singleton batch, got %d", len(messages))
		}
		return nil
	})

	queue := newTestQueue(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, queue.Enqueue(newDispatch(i), invoker))
	}
	queue.WaitUntilAllMessagesAreProcessed()
	assert.Equal(t, int32(5), count.Load())
}

func TestDispatchQueue_HandlerErrorReportedPerEntry(t *testing.T) {
	boom := errors.New("boom")
	invoker := NewHandlerInvoker(testTypeID, "FailingHandler", func(_ context.Context, _ []any) error {
		return boom
	})

	queue := newTestQueue(t)

	var result DispatchResult
	var wg sync.WaitGroup
	wg.Add(1)
	d := NewMessageDispatch(testTypeID, "x", nil)
	d.OnCompleted(func(r DispatchResult) {
		result = r
		wg.Done()
	})
	d.SetHandlerCount(1)

	require.NoError(t, queue.Enqueue(d, invoker))
	wg.Wait()

	require.Len(t, result.Results, 1)
	assert.ErrorIs(t, result.Results[0].Err, boom)
	assert.False(t, result.Succeeded())

	// The queue keeps running after a handler failure.
	assert.True(t, queue.IsRunning())
}

func TestDispatchQueue_Purge(t *testing.T) {
	block := make(chan struct{})
	invoker := NewHandlerInvoker(testTypeID, "BlockingHandler", func(_ context.Context, _ []any) error {
		<-block
		return nil
	})

	queue := newTestQueue(t, WithBatchSize(1))
	require.NoError(t, queue.Enqueue(newDispatch(0), invoker))

	// Wait for the worker to pick up the first entry, then stack more.
	time.Sleep(10 * time.Millisecond)
	for i := 1; i <= 3; i++ {
		require.NoError(t, queue.Enqueue(newDispatch(i), invoker))
	}

	purged := queue.Purge()
	assert.Equal(t, 3, purged)
	assert.Equal(t, 0, queue.QueueLength())
	close(block)
}

func TestDispatchQueue_StopQuiesces(t *testing.T) {
	var processed atomic.Int32
	invoker := NewHandlerInvoker(testTypeID, "SlowHandler", func(_ context.Context, _ []any) error {
		time.Sleep(time.Millisecond)
		processed.Add(1)
		return nil
	})

	queue := NewDispatchQueue("stop-queue", NewPipeManager())
	require.NoError(t, queue.Start(context.Background()))
	for i := 0; i < 10; i++ {
		require.NoError(t, queue.Enqueue(newDispatch(i), invoker))
	}

	require.NoError(t, queue.Stop())

	assert.Equal(t, int32(10), processed.Load())
	assert.Equal(t, 0, queue.QueueLength())
	assert.Zero(t, queue.asyncInFlight.Load())
	assert.False(t, queue.IsRunning())

	// Enqueue after stop is rejected.
	assert.Error(t, queue.Enqueue(newDispatch(99), invoker))
}

func TestDispatchQueue_WaitReportsWhetherItWaited(t *testing.T) {
	queue := newTestQueue(t)

	// Idle queue: no wait.
	assert.False(t, queue.WaitUntilAllMessagesAreProcessed())

	invoker := NewHandlerInvoker(testTypeID, "SlowHandler", func(_ context.Context, _ []any) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	require.NoError(t, queue.Enqueue(newDispatch(0), invoker))
	assert.True(t, queue.WaitUntilAllMessagesAreProcessed())
}

// RunOrEnqueue runs inline when the caller is already on the queue's
// worker.
func TestDispatchQueue_ReentrantRunOrEnqueue(t *testing.T) {
	queue := newTestQueue(t)

	var innerRan atomic.Bool
	inner := NewHandlerInvoker(testTypeID, "InnerHandler", func(ctx context.Context, _ []any) error {
		// Running inline on the same worker: queue identity sticks.
		if CurrentQueueName(ctx) != queue.Name() {
			t.Errorf("inner handler not on queue worker, got %q", CurrentQueueName(ctx))
		}
		innerRan.Store(true)
		return nil
	})

	outer := NewHandlerInvoker(testTypeID, "OuterHandler", func(ctx context.Context, _ []any) error {
		// Dispatching from inside a handler on the same queue must run
		// inline, not deadlock on the busy worker.
		return queue.RunOrEnqueue(ctx, newDispatch("inner"), inner)
	})

	require.NoError(t, queue.Enqueue(newDispatch("outer"), outer))
	queue.WaitUntilAllMessagesAreProcessed()
	assert.True(t, innerRan.Load())
}

func TestDispatchQueue_ShouldRunSynchronouslyRunsInline(t *testing.T) {
	queue := newTestQueue(t)

	var ran atomic.Bool
	invoker := NewHandlerInvoker(testTypeID, "InlineHandler", func(_ context.Context, _ []any) error {
		ran.Store(true)
		return nil
	})

	d := newDispatch("x")
	d.ShouldRunSynchronously = true
	require.NoError(t, queue.RunOrEnqueue(context.Background(), d, invoker))

	// Ran on the calling goroutine, nothing enqueued.
	assert.True(t, ran.Load())
	assert.Zero(t, d.EnqueuedCount())
}

func TestDispatchQueue_RunOrEnqueueFromOutsideEnqueues(t *testing.T) {
	queue := newTestQueue(t)

	invoker := NewHandlerInvoker(testTypeID, "Handler", func(_ context.Context, _ []any) error { return nil })
	d := newDispatch("x")
	require.NoError(t, queue.RunOrEnqueue(context.Background(), d, invoker))
	queue.WaitUntilAllMessagesAreProcessed()

	assert.Equal(t, 1, d.EnqueuedCount())
}

func TestDispatchQueue_AsyncBatchCompletion(t *testing.T) {
	queue := newTestQueue(t)

	release := make(chan struct{})
	invoker := NewAsyncHandlerInvoker(testTypeID, "AsyncHandler", func(_ context.Context, _ []any) *Task {
		return StartTask(func() error {
			<-release
			return nil
		})
	})

	var done sync.WaitGroup
	done.Add(1)
	d := NewMessageDispatch(testTypeID, "x", nil)
	d.OnCompleted(func(DispatchResult) { done.Done() })
	d.SetHandlerCount(1)
	require.NoError(t, queue.Enqueue(d, invoker))

	// The worker moves on while the task is in flight.
	var syncRan atomic.Bool
	syncInvoker := NewHandlerInvoker(testTypeID, "SyncHandler", func(_ context.Context, _ []any) error {
		syncRan.Store(true)
		return nil
	})
	require.NoError(t, queue.Enqueue(newDispatch("y"), syncInvoker))

	require.Eventually(t, syncRan.Load, time.Second, time.Millisecond,
		"worker must keep pulling while an async batch is in flight")
	assert.Equal(t, int32(1), queue.asyncInFlight.Load())

	close(release)
	done.Wait()
	queue.WaitUntilAllMessagesAreProcessed()
	assert.Zero(t, queue.asyncInFlight.Load())
}

// Continuations a handler schedules land back on the same queue as
// action entries.
func TestDispatchQueue_AsyncContinuationLandsOnSameQueue(t *testing.T) {
	queue := newTestQueue(t)

	continuationQueue := make(chan string, 1)
	invoker := NewAsyncHandlerInvoker(testTypeID, "AsyncHandler", func(ctx context.Context, _ []any) *Task {
		scheduler := SchedulerFrom(ctx)
		return StartTask(func() error {
			done := make(chan struct{})
			scheduler.Schedule(func() {
				// The ambient scheduler is the queue itself: the
				// continuation arrives as an action entry on its worker.
				name := ""
				if owner, ok := scheduler.(*DispatchQueue); ok {
					name = owner.Name()
				}
				continuationQueue <- name
				close(done)
			})
			<-done
			return nil
		})
	})

	require.NoError(t, queue.Enqueue(newDispatch("x"), invoker))

	select {
	case name := <-continuationQueue:
		assert.Equal(t, queue.Name(), name)
	case <-time.After(time.Second):
		t.Fatal("continuation never ran")
	}
	queue.WaitUntilAllMessagesAreProcessed()
}

// An async handler returning an unstarted task (or nil) faults with
// the handler-contract diagnostic identifying HandlerType.MessageType.
func TestDispatchQueue_UnstartedTaskIsContractViolation(t *testing.T) {
	queue := newTestQueue(t)

	for name, handler := range map[string]AsyncHandler{
		"nil task":       func(_ context.Context, _ []any) *Task { return nil },
		"unstarted task": func(_ context.Context, _ []any) *Task { return NewTask() },
	} {
		t.Run(name, func(t *testing.T) {
			invoker := NewAsyncHandlerInvoker(testTypeID, "LazyHandler", handler)

			var result DispatchResult
			var wg sync.WaitGroup
			wg.Add(1)
			d := NewMessageDispatch(testTypeID, "x", nil)
			d.OnCompleted(func(r DispatchResult) {
				result = r
				wg.Done()
			})
			d.SetHandlerCount(1)

			require.NoError(t, queue.Enqueue(d, invoker))
			wg.Wait()

			require.Len(t, result.Errors(), 1)
			err := result.Errors()[0]
			assert.ErrorIs(t, err, buserrors.ErrHandlerContract)
			assert.Contains(t, err.Error(), "LazyHandler."+string(testTypeID))
		})
	}
}
