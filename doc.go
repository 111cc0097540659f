// Package peerbus is a distributed peer-to-peer service bus: peers
// exchange typed messages (commands and events) over a message-oriented
// transport, discover each other through a replicated directory, and
// route inbound messages to handlers on ordered per-queue workers.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│             Bus Facade              │  Publish / Send, inbound
//	│   (peer resolution, frame pump)     │  pump, lifecycle
//	└─────────────────────────────────────┘
//	      ↓ resolves via        ↓ dispatches via
//	┌──────────────────┐  ┌─────────────────────┐
//	│  Peer Directory  │  │  Dispatch Engine    │  Named queues,
//	│ (server/replica, │  │ (queues, invokers,  │  batching, pipes
//	│  repository)     │  │  pipe invocations)  │
//	└──────────────────┘  └─────────────────────┘
//	      ↓ matches via         ↓ frames via
//	┌──────────────────┐  ┌─────────────────────┐
//	│ Subscription     │  │  Transport          │  ZeroMQ PUSH/PULL,
//	│ Matcher (tree)   │  │  Adapters           │  WebSocket, channel
//	└──────────────────┘  └─────────────────────┘
//
// # Data flow
//
// Inbound: the transport yields a raw frame → the wire codec decodes a
// TransportMessage → the payload codec rebuilds the typed message →
// the dispatcher selects handler invokers → each invoker's dispatch
// queue runs the pipe invocation → the handler sees the ambient
// MessageContext.
//
// Outbound: the bus extracts the message's routing content → the
// directory returns the peers whose subscriptions match → the envelope
// is encoded once and pushed to every target endpoint.
//
// # Packages
//
// Core:
//   - routing: peer identity, message types, binding keys, routing
//     content, the subscription matcher tree
//   - directory: peer descriptors, the repository with its monotonic
//     timestamp rule, the directory server and client replica
//   - dispatch: dispatch queues, cooperative async execution, pipes,
//     the dispatcher
//   - transport: the wire envelope, length-prefixed codec and the
//     frame adapters
//   - bus: the facade wiring the above into one peer
//
// Infrastructure:
//   - config: JSON configuration with schema validation
//   - errors: error classification and wrapping
//   - metric: Prometheus metrics
//   - health: liveness snapshots driven by the directory ping clock
//   - pkg/retry, pkg/timestamp: backoff and canonical UTC-millisecond
//     timestamps
//
// # Usage
//
//	cfg, _ := config.Load("bus.json")
//	dispatcher := dispatch.NewDispatcher(dispatch.NewPipeManager())
//	dispatcher.Register(dispatch.NewHandlerInvoker(
//	    "Abc.Orders.OrderPlaced", "OrderHandler",
//	    func(ctx context.Context, messages []any) error {
//	        for _, msg := range messages {
//	            process(msg.(*OrderPlaced))
//	        }
//	        return nil
//	    }))
//
//	repo := directory.NewMemoryRepository()
//	server := directory.NewServerDirectory(repo, directory.ServerConfig{})
//	b := bus.New(cfg, transport.NewZmqTransport(transport.DefaultConfig()),
//	    dispatcher, server, bus.WithRegistrar(server))
//	_ = b.Start(ctx)
//	defer b.Stop(ctx)
//
//	_ = b.Publish(ctx, &OrderPlaced{OrderID: 10, Region: "eu"})
package peerbus
