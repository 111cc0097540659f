package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/c360/peerbus/errors"
	"github.com/c360/peerbus/metric"
)

// ZmqTransport moves frames over ZeroMQ sockets: a bound PULL socket
// for inbound frames and one cached PUSH socket per remote endpoint.
type ZmqTransport struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics

	mu       sync.Mutex
	pull     zmq4.Socket
	pushers  map[string]zmq4.Socket
	frames   chan *Frame
	cancel   context.CancelFunc
	bound    bool
	endpoint string
}

// ZmqOption configures a ZmqTransport.
type ZmqOption func(*ZmqTransport)

// WithZmqLogger sets the logger.
func WithZmqLogger(logger *slog.Logger) ZmqOption {
	return func(t *ZmqTransport) { t.logger = logger }
}

// WithZmqMetrics wires the core bus metrics.
func WithZmqMetrics(metrics *metric.Metrics) ZmqOption {
	return func(t *ZmqTransport) { t.metrics = metrics }
}

// NewZmqTransport creates an unbound transport.
func NewZmqTransport(cfg Config, opts ...ZmqOption) *ZmqTransport {
	if cfg.ReceiveHighWaterMark <= 0 {
		cfg.ReceiveHighWaterMark = DefaultConfig().ReceiveHighWaterMark
	}
	t := &ZmqTransport{
		cfg:     cfg,
		logger:  slog.Default(),
		pushers: make(map[string]zmq4.Socket),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Bind listens on the endpoint and starts the inbound reader. The
// returned endpoint has wildcard ports resolved.
func (t *ZmqTransport) Bind(endpoint string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bound {
		return t.endpoint, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	pull := zmq4.NewPull(ctx)
	if err := pull.Listen(endpoint); err != nil {
		cancel()
		return "", errors.WrapTransient(err, "ZmqTransport", "Bind", "listen on "+endpoint)
	}

	resolved := endpoint
	if addr := pull.Addr(); addr != nil {
		resolved = "tcp://" + addr.String()
	}

	t.pull = pull
	t.cancel = cancel
	t.frames = make(chan *Frame, t.cfg.ReceiveHighWaterMark)
	t.bound = true
	t.endpoint = resolved

	go t.readLoop(pull, t.frames)

	t.logger.Info("transport bound", "endpoint", resolved)
	return resolved, nil
}

// readLoop pumps socket messages into the frame buffer until the
// socket closes.
func (t *ZmqTransport) readLoop(pull zmq4.Socket, frames chan<- *Frame) {
	for {
		msg, err := pull.Recv()
		if err != nil {
			// Socket closed on Unbind; anything else is logged and
			// terminates the reader, surfaced by Receive timeouts.
			t.logger.Debug("inbound reader stopped", "error", err)
			close(frames)
			return
		}
		frame := &Frame{Payload: msg.Bytes(), ReceivedAt: time.Now()}
		frames <- frame
		if t.metrics != nil {
			t.metrics.FramesReceived.WithLabelValues("zmq").Inc()
		}
	}
}

// Receive returns the next frame, or nil when the timeout expires.
func (t *ZmqTransport) Receive(timeout time.Duration) (*Frame, error) {
	t.mu.Lock()
	frames := t.frames
	bound := t.bound
	t.mu.Unlock()

	if !bound {
		return nil, errors.WrapInvalid(errors.ErrEndpointNotBound, "ZmqTransport", "Receive", "check binding")
	}
	if timeout <= 0 {
		timeout = t.cfg.ReceiveTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-frames:
		if !ok {
			return nil, errors.WrapTransient(errors.ErrTransportClosed, "ZmqTransport", "Receive", "read frame")
		}
		return frame, nil
	case <-timer.C:
		return nil, nil
	}
}

// Send pushes one frame to a remote endpoint, dialing and caching the
// PUSH socket on first use.
func (t *ZmqTransport) Send(ctx context.Context, endpoint string, payload []byte) error {
	push, err := t.pusherFor(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := push.Send(zmq4.NewMsg(payload)); err != nil {
		t.dropPusher(endpoint)
		return errors.WrapTransient(err, "ZmqTransport", "Send", "push frame to "+endpoint)
	}
	if t.metrics != nil {
		t.metrics.FramesSent.WithLabelValues("zmq").Inc()
	}
	return nil
}

// Unbind closes the inbound socket without waiting for in-flight
// receives, and drops every cached outbound socket.
func (t *ZmqTransport) Unbind() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.bound {
		return nil
	}
	t.bound = false
	t.cancel()
	_ = t.pull.Close()
	for endpoint, push := range t.pushers {
		_ = push.Close()
		delete(t.pushers, endpoint)
	}
	t.logger.Info("transport unbound", "endpoint", t.endpoint)
	return nil
}

func (t *ZmqTransport) pusherFor(_ context.Context, endpoint string) (zmq4.Socket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if push, ok := t.pushers[endpoint]; ok {
		return push, nil
	}
	// Socket lifetime is owned by the transport, not the send call.
	push := zmq4.NewPush(context.Background())
	if err := push.Dial(endpoint); err != nil {
		return nil, errors.WrapTransient(err, "ZmqTransport", "Send", "dial "+endpoint)
	}
	t.pushers[endpoint] = push
	return push, nil
}

func (t *ZmqTransport) dropPusher(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if push, ok := t.pushers[endpoint]; ok {
		_ = push.Close()
		delete(t.pushers, endpoint)
	}
}
