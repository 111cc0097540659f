// Package bus provides the peer bus facade: outbound publish/send
// flows that resolve target peers through the directory, and the
// inbound pump that feeds received frames into the dispatcher.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"sync"
	"time"

	"github.com/c360/peerbus/config"
	"github.com/c360/peerbus/directory"
	"github.com/c360/peerbus/dispatch"
	"github.com/c360/peerbus/errors"
	"github.com/c360/peerbus/health"
	"github.com/c360/peerbus/metric"
	"github.com/c360/peerbus/pkg/retry"
	"github.com/c360/peerbus/routing"
	"github.com/c360/peerbus/transport"
)

// PeerResolver resolves the peers handling an outbound message. Both
// directory roles implement it.
type PeerResolver interface {
	GetPeersHandling(typeID routing.MessageTypeID, content routing.RoutingContent) []routing.Peer
}

// Registrar is the directory-side registration contract the bus drives
// at startup and shutdown.
type Registrar interface {
	Register(ctx context.Context, bus directory.EventPublisher, peer routing.Peer, subscriptions []routing.Subscription) error
	Unregister(ctx context.Context, bus directory.EventPublisher) error
}

// Bus wires the transport, dispatcher and directory into one peer.
type Bus struct {
	cfg        *config.Config
	transport  transport.Transport
	dispatcher *dispatch.Dispatcher
	resolver   PeerResolver
	registrar  Registrar
	logger     *slog.Logger
	metrics    *metric.Metrics
	monitor    *health.Monitor

	machineName string
	userName    string

	mu         sync.Mutex
	endpoint   string
	started    bool
	registered bool
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// WithMetrics wires the core bus metrics.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(b *Bus) { b.metrics = metrics }
}

// WithRegistrar attaches the directory registration flow driven by
// Start and Stop.
func WithRegistrar(registrar Registrar) Option {
	return func(b *Bus) { b.registrar = registrar }
}

// New assembles a bus from its collaborators.
func New(cfg *config.Config, tr transport.Transport, dispatcher *dispatch.Dispatcher, resolver PeerResolver, opts ...Option) *Bus {
	b := &Bus{
		cfg:        cfg,
		transport:  tr,
		dispatcher: dispatcher,
		resolver:   resolver,
		logger:     slog.Default(),
	}
	b.machineName, _ = os.Hostname()
	if current, err := user.Current(); err == nil {
		b.userName = current.Username
	}
	for _, opt := range opts {
		opt(b)
	}

	b.monitor = health.NewMonitor()
	b.monitor.RegisterCheck("transport", func() health.Status {
		if b.Endpoint() == "" {
			return health.Unhealthy("transport", "not bound")
		}
		return health.Healthy("transport")
	})
	if pinger, ok := b.registrar.(interface{ TimeSinceLastPing() time.Duration }); ok && cfg.Directory.PingInterval > 0 {
		b.monitor.RegisterCheck("directory", health.PingCheck(
			"directory", pinger.TimeSinceLastPing,
			2*cfg.Directory.PingInterval.Std(), 10*cfg.Directory.PingInterval.Std()))
	}
	return b
}

// Health returns the bus health monitor. Checks for the transport and
// the directory ping clock are pre-registered; callers add their own.
func (b *Bus) Health() *health.Monitor {
	return b.monitor
}

// PeerID returns the local peer id.
func (b *Bus) PeerID() routing.PeerID { return b.cfg.PeerID }

// Endpoint returns the bound transport endpoint; empty before Start.
func (b *Bus) Endpoint() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.endpoint
}

// Start binds the transport, launches the dispatcher and the inbound
// pump, and registers with the directory (with backoff) when a
// registrar is attached.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	endpoint, err := b.transport.Bind(b.cfg.Transport.Endpoint)
	if err != nil {
		return errors.Wrap(err, "Bus", "Start", "bind transport")
	}

	if err := b.dispatcher.Start(ctx); err != nil {
		_ = b.transport.Unbind()
		return errors.Wrap(err, "Bus", "Start", "start dispatcher")
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	b.mu.Lock()
	b.endpoint = endpoint
	b.started = true
	b.pumpCancel = cancel
	b.pumpDone = done
	b.mu.Unlock()

	go b.pump(pumpCtx, done)

	if b.registrar != nil {
		peer := routing.NewPeer(b.cfg.PeerID, endpoint)
		subscriptions := b.staticSubscriptions()
		// Retry only errors the bus classifies as transient; a fatal
		// or invalid registration failure surfaces immediately.
		regCfg := retry.Registration()
		regCfg.RetryIf = errors.IsTransient
		err := retry.Do(ctx, regCfg, func() error {
			return b.registrar.Register(ctx, b, peer, subscriptions)
		})
		if err != nil {
			_ = b.Stop(ctx)
			return errors.Wrap(err, "Bus", "Start", "register with directory")
		}
		b.mu.Lock()
		b.registered = true
		b.mu.Unlock()
	}

	b.logger.Info("bus started", "peer", b.cfg.PeerID, "endpoint", endpoint)
	return nil
}

// Stop unregisters, stops the inbound pump, quiesces the dispatch
// queues and unbinds the transport.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	registered := b.registered
	b.registered = false
	cancel := b.pumpCancel
	done := b.pumpDone
	b.mu.Unlock()

	if registered && b.registrar != nil {
		if err := b.registrar.Unregister(ctx, b); err != nil {
			b.logger.Warn("unregister failed", "error", err)
		}
	}

	cancel()
	<-done

	err := b.dispatcher.Stop()
	if unbindErr := b.transport.Unbind(); err == nil {
		err = unbindErr
	}

	b.logger.Info("bus stopped", "peer", b.cfg.PeerID)
	return err
}

// Publish sends an event to every peer subscribed to it. Resolving
// zero peers is not an error.
func (b *Bus) Publish(ctx context.Context, event any) error {
	typeID, content, data, err := b.prepare(event)
	if err != nil {
		return err
	}

	peers := b.resolver.GetPeersHandling(typeID, content)
	for _, peer := range peers {
		if err := b.sendFrame(ctx, peer, data); err != nil {
			return err
		}
	}
	return nil
}

// Send routes a command to the single peer handling it. Zero or
// multiple handling peers is an error: commands have exactly one
// owner.
func (b *Bus) Send(ctx context.Context, command any) (routing.Peer, error) {
	typeID, content, data, err := b.prepare(command)
	if err != nil {
		return routing.Peer{}, err
	}

	peers := b.resolver.GetPeersHandling(typeID, content)
	switch len(peers) {
	case 0:
		return routing.Peer{}, errors.WrapTransient(
			fmt.Errorf("%w: %s", errors.ErrPeerNotFound, typeID),
			"Bus", "Send", "resolve target peer")
	case 1:
	default:
		return routing.Peer{}, errors.WrapInvalid(
			fmt.Errorf("%d peers handle command %s", len(peers), typeID),
			"Bus", "Send", "resolve target peer")
	}

	if err := b.sendFrame(ctx, peers[0], data); err != nil {
		return routing.Peer{}, err
	}
	return peers[0], nil
}

// SendTo delivers a message to an explicit peer, bypassing directory
// resolution. Directory servers answer registration commands this way.
func (b *Bus) SendTo(ctx context.Context, msg any, peer routing.Peer) error {
	_, _, data, err := b.prepare(msg)
	if err != nil {
		return err
	}
	return b.sendFrame(ctx, peer, data)
}

// prepare resolves the type id, extracts the routing content and
// builds the encoded wire frame.
func (b *Bus) prepare(msg any) (routing.MessageTypeID, routing.RoutingContent, []byte, error) {
	typeID, err := TypeIDOf(msg)
	if err != nil {
		return "", routing.RoutingContent{}, nil, err
	}

	desc, _ := routing.DescriptorOf(typeID)
	content := routing.ContentFromMessage(msg, desc)

	payload, err := EncodePayload(msg)
	if err != nil {
		return "", routing.RoutingContent{}, nil, err
	}

	tm := transport.NewTransportMessage(typeID, payload, b.originator(), b.cfg.Environment)
	return typeID, content, transport.WriteMessage(tm), nil
}

func (b *Bus) originator() transport.OriginatorInfo {
	return transport.OriginatorInfo{
		SenderID:       b.cfg.PeerID,
		SenderEndpoint: b.Endpoint(),
		SenderMachine:  b.machineName,
		InitiatorUser:  b.userName,
	}
}

func (b *Bus) sendFrame(ctx context.Context, peer routing.Peer, data []byte) error {
	if err := b.transport.Send(ctx, peer.Endpoint, data); err != nil {
		return errors.Wrap(err, "Bus", "sendFrame", "send to "+peer.String())
	}
	return nil
}

// staticSubscriptions derives the registration subscriptions from the
// dispatcher's invokers: one all-matching subscription per handled
// message type.
func (b *Bus) staticSubscriptions() []routing.Subscription {
	var subs []routing.Subscription
	for _, typeID := range b.dispatcher.HandledTypeIDs() {
		subs = append(subs, routing.SubscribeToAll(typeID))
	}
	return routing.DedupeSubscriptions(subs)
}

// pump is the inbound loop: receive a frame, decode it, dispatch it.
func (b *Bus) pump(ctx context.Context, done chan struct{}) {
	defer close(done)

	timeout := b.cfg.Transport.ReceiveTimeout.Std()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := b.transport.Receive(timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("transport receive failed", "error", err)
			continue
		}
		if frame == nil {
			continue
		}
		b.handleFrame(ctx, frame)
	}
}

// handleFrame decodes one frame and hands it to the dispatcher.
// Malformed frames are counted and dropped, never fatal.
func (b *Bus) handleFrame(ctx context.Context, frame *transport.Frame) {
	tm, ok := transport.ReadMessage(frame.Payload)
	if !ok {
		b.logger.Warn("dropping malformed frame", "size", len(frame.Payload))
		if b.metrics != nil {
			b.metrics.FrameReadErrors.Inc()
		}
		return
	}

	msg, err := DecodePayload(tm.MessageTypeID, tm.Content)
	if err != nil {
		b.logger.Warn("dropping undecodable message",
			"type", tm.MessageTypeID, "id", tm.ID, "error", err)
		return
	}

	mc := &dispatch.MessageContext{
		MessageID:      tm.ID.String(),
		MessageTypeID:  tm.MessageTypeID,
		SenderID:       tm.Originator.SenderID,
		SenderEndpoint: tm.Originator.SenderEndpoint,
		SenderMachine:  tm.Originator.SenderMachine,
		InitiatorUser:  tm.Originator.InitiatorUser,
		Environment:    tm.Environment,
		WasPersisted:   tm.WasPersisted,
	}

	md := dispatch.NewMessageDispatch(tm.MessageTypeID, msg, mc)
	if err := b.dispatcher.Dispatch(ctx, md); err != nil {
		b.logger.Error("dispatch failed", "type", tm.MessageTypeID, "error", err)
	}
}
