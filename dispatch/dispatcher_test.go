package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/peerbus/routing"
)

const (
	dispatcherTypeA routing.MessageTypeID = "Abc.Testing.CommandA"
	dispatcherTypeB routing.MessageTypeID = "Abc.Testing.CommandB"
)

func newTestDispatcher(t *testing.T, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	d := NewDispatcher(NewPipeManager(), opts...)
	t.Cleanup(func() { _ = d.Stop() })
	return d
}

func dispatchAndWait(t *testing.T, d *Dispatcher, typeID routing.MessageTypeID, msg any) DispatchResult {
	t.Helper()
	var result DispatchResult
	var wg sync.WaitGroup
	wg.Add(1)
	md := NewMessageDispatch(typeID, msg, &MessageContext{})
	md.OnCompleted(func(r DispatchResult) {
		result = r
		wg.Done()
	})
	require.NoError(t, d.Dispatch(context.Background(), md))
	wg.Wait()
	return result
}

func TestDispatcher_RoutesByMessageType(t *testing.T) {
	d := newTestDispatcher(t)

	var aCount, bCount atomic.Int32
	require.NoError(t, d.Register(NewHandlerInvoker(dispatcherTypeA, "HandlerA",
		func(_ context.Context, _ []any) error { aCount.Add(1); return nil })))
	require.NoError(t, d.Register(NewHandlerInvoker(dispatcherTypeB, "HandlerB",
		func(_ context.Context, _ []any) error { bCount.Add(1); return nil })))
	require.NoError(t, d.Start(context.Background()))

	dispatchAndWait(t, d, dispatcherTypeA, "x")
	assert.Equal(t, int32(1), aCount.Load())
	assert.Equal(t, int32(0), bCount.Load())
}

func TestDispatcher_FanOutToMultipleInvokers(t *testing.T) {
	d := newTestDispatcher(t)

	var count atomic.Int32
	handler := func(_ context.Context, _ []any) error { count.Add(1); return nil }
	require.NoError(t, d.Register(NewHandlerInvoker(dispatcherTypeA, "First", handler)))
	require.NoError(t, d.Register(NewHandlerInvoker(dispatcherTypeA, "Second", handler, WithQueue("other"))))
	require.NoError(t, d.Start(context.Background()))

	result := dispatchAndWait(t, d, dispatcherTypeA, "x")
	assert.Equal(t, int32(2), count.Load())
	assert.Len(t, result.Results, 2)
	assert.True(t, result.Succeeded())
}

func TestDispatcher_NoHandlerCompletesImmediately(t *testing.T) {
	d := newTestDispatcher(t)
	require.NoError(t, d.Start(context.Background()))

	result := dispatchAndWait(t, d, dispatcherTypeA, "x")
	assert.Empty(t, result.Results)
	assert.True(t, result.Succeeded())
}

func TestDispatcher_HandlerFilter(t *testing.T) {
	filter := func(invoker HandlerInvoker) bool { return invoker.HandlerName() != "Excluded" }
	d := newTestDispatcher(t, WithHandlerFilter(filter))

	var included, excluded atomic.Int32
	require.NoError(t, d.Register(NewHandlerInvoker(dispatcherTypeA, "Included",
		func(_ context.Context, _ []any) error { included.Add(1); return nil })))
	require.NoError(t, d.Register(NewHandlerInvoker(dispatcherTypeA, "Excluded",
		func(_ context.Context, _ []any) error { excluded.Add(1); return nil })))
	require.NoError(t, d.Start(context.Background()))

	dispatchAndWait(t, d, dispatcherTypeA, "x")
	assert.Equal(t, int32(1), included.Load())
	assert.Equal(t, int32(0), excluded.Load())
}

func TestDispatcher_InvokerDispatchFilter(t *testing.T) {
	d := newTestDispatcher(t)

	var count atomic.Int32
	require.NoError(t, d.Register(NewHandlerInvoker(dispatcherTypeA, "Picky",
		func(_ context.Context, _ []any) error { count.Add(1); return nil },
		WithDispatchFilter(func(md *MessageDispatch) bool { return md.Message == "yes" }))))
	require.NoError(t, d.Start(context.Background()))

	dispatchAndWait(t, d, dispatcherTypeA, "no")
	dispatchAndWait(t, d, dispatcherTypeA, "yes")
	assert.Equal(t, int32(1), count.Load())
}

func TestDispatcher_QueuesCreatedPerInvoker(t *testing.T) {
	d := newTestDispatcher(t, WithQueueOptions("custom", WithBatchSize(1)))

	require.NoError(t, d.Register(NewHandlerInvoker(dispatcherTypeA, "Default",
		func(_ context.Context, _ []any) error { return nil })))
	require.NoError(t, d.Register(NewHandlerInvoker(dispatcherTypeB, "Custom",
		func(_ context.Context, _ []any) error { return nil }, WithQueue("custom"))))

	require.NotNil(t, d.Queue(DefaultQueueName))
	require.NotNil(t, d.Queue("custom"))
	assert.Nil(t, d.Queue("unknown"))
	assert.Equal(t, 1, d.Queue("custom").batchSize)
}

func TestDispatcher_RegisterAfterStartStartsQueue(t *testing.T) {
	d := newTestDispatcher(t)
	require.NoError(t, d.Start(context.Background()))

	var count atomic.Int32
	require.NoError(t, d.Register(NewHandlerInvoker(dispatcherTypeA, "Late",
		func(_ context.Context, _ []any) error { count.Add(1); return nil },
		WithQueue("late-queue"))))

	assert.True(t, d.Queue("late-queue").IsRunning())
	dispatchAndWait(t, d, dispatcherTypeA, "x")
	assert.Equal(t, int32(1), count.Load())
}

func TestDispatcher_StopQuiescesAllQueues(t *testing.T) {
	d := newTestDispatcher(t)

	var count atomic.Int32
	require.NoError(t, d.Register(NewHandlerInvoker(dispatcherTypeA, "A",
		func(_ context.Context, _ []any) error { count.Add(1); return nil })))
	require.NoError(t, d.Register(NewHandlerInvoker(dispatcherTypeB, "B",
		func(_ context.Context, _ []any) error { count.Add(1); return nil }, WithQueue("other"))))
	require.NoError(t, d.Start(context.Background()))

	for i := 0; i < 10; i++ {
		md := NewMessageDispatch(dispatcherTypeA, i, nil)
		require.NoError(t, d.Dispatch(context.Background(), md))
		md = NewMessageDispatch(dispatcherTypeB, i, nil)
		require.NoError(t, d.Dispatch(context.Background(), md))
	}

	require.NoError(t, d.Stop())
	assert.Equal(t, int32(20), count.Load())
	assert.Equal(t, 0, d.Queue(DefaultQueueName).QueueLength())
	assert.Equal(t, 0, d.Queue("other").QueueLength())
}
