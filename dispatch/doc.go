// Package dispatch implements the per-peer dispatch engine: named
// single-consumer queues with batched synchronous and cooperative
// asynchronous execution, the pipe interceptor chain around handler
// invocations, and the dispatcher that routes inbound messages to
// registered handler invokers.
//
// # Queues
//
// A DispatchQueue owns one worker goroutine consuming entries in FIFO
// order. Each iteration pulls up to the configured batch size;
// consecutive entries merge into one handler invocation while the
// batch head's invoker accepts them. Synchronous batches run inline on
// the worker; asynchronous batches start a handler task and keep the
// worker pulling, with completion tracked by an in-flight counter.
// Continuations a handler schedules through its context land back on
// the same queue as action entries, which is what makes asynchronous
// handlers reentrant without leaving their queue.
//
// # Pipes
//
// A Pipe brackets every handler invocation with BeforeInvoke and
// AfterInvoke hooks. Before hooks run in registration order and
// produce per-pipe state; after hooks run in reverse order and always
// run, including on handler failure.
//
// # Queue identity
//
// The executing queue's name travels in the context. RunOrEnqueue
// runs an entry inline when the caller is already on the target
// queue's worker (or the dispatch demands synchronous execution), and
// enqueues it otherwise.
package dispatch
