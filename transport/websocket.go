package transport

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/peerbus/errors"
	"github.com/c360/peerbus/metric"
)

// WebSocketTransport implements the transport contract over WebSocket
// binary frames, for deployments where raw TCP sockets cannot pass.
// Inbound peers connect to ws://host:port/bus and push frames; one
// cached client connection per remote endpoint handles outbound.
type WebSocketTransport struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *metric.Metrics
	upgrader websocket.Upgrader

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	conns    map[string]*websocket.Conn
	frames   chan *Frame
	bound    bool
	endpoint string
}

// WebSocketOption configures a WebSocketTransport.
type WebSocketOption func(*WebSocketTransport)

// WithWebSocketLogger sets the logger.
func WithWebSocketLogger(logger *slog.Logger) WebSocketOption {
	return func(t *WebSocketTransport) { t.logger = logger }
}

// WithWebSocketMetrics wires the core bus metrics.
func WithWebSocketMetrics(metrics *metric.Metrics) WebSocketOption {
	return func(t *WebSocketTransport) { t.metrics = metrics }
}

// NewWebSocketTransport creates an unbound transport.
func NewWebSocketTransport(cfg Config, opts ...WebSocketOption) *WebSocketTransport {
	if cfg.ReceiveHighWaterMark <= 0 {
		cfg.ReceiveHighWaterMark = DefaultConfig().ReceiveHighWaterMark
	}
	t := &WebSocketTransport{
		cfg:    cfg,
		logger: slog.Default(),
		conns:  make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Bind starts the HTTP listener. The endpoint is "host:port"; port 0
// resolves to the assigned port in the returned endpoint.
func (t *WebSocketTransport) Bind(endpoint string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bound {
		return t.endpoint, nil
	}

	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return "", errors.WrapTransient(err, "WebSocketTransport", "Bind", "listen on "+endpoint)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/bus", t.handleInbound)
	server := &http.Server{Handler: mux}

	t.server = server
	t.listener = listener
	t.frames = make(chan *Frame, t.cfg.ReceiveHighWaterMark)
	t.bound = true
	t.endpoint = "ws://" + listener.Addr().String() + "/bus"

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			t.logger.Warn("websocket server stopped", "error", err)
		}
	}()

	t.logger.Info("transport bound", "endpoint", t.endpoint)
	return t.endpoint, nil
}

// handleInbound upgrades a peer connection and pumps its binary frames
// into the buffer.
func (t *WebSocketTransport) handleInbound(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		t.mu.Lock()
		frames := t.frames
		bound := t.bound
		t.mu.Unlock()
		if !bound {
			return
		}
		frames <- &Frame{Payload: payload, ReceivedAt: time.Now()}
		if t.metrics != nil {
			t.metrics.FramesReceived.WithLabelValues("websocket").Inc()
		}
	}
}

// Receive returns the next frame, or nil when the timeout expires.
func (t *WebSocketTransport) Receive(timeout time.Duration) (*Frame, error) {
	t.mu.Lock()
	frames := t.frames
	bound := t.bound
	t.mu.Unlock()

	if !bound {
		return nil, errors.WrapInvalid(errors.ErrEndpointNotBound, "WebSocketTransport", "Receive", "check binding")
	}
	if timeout <= 0 {
		timeout = t.cfg.ReceiveTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-frames:
		if !ok {
			return nil, errors.WrapTransient(errors.ErrTransportClosed, "WebSocketTransport", "Receive", "read frame")
		}
		return frame, nil
	case <-timer.C:
		return nil, nil
	}
}

// Send writes one binary frame to a remote endpoint, dialing and
// caching the connection on first use.
func (t *WebSocketTransport) Send(ctx context.Context, endpoint string, payload []byte) error {
	conn, err := t.connFor(ctx, endpoint)
	if err != nil {
		return err
	}

	t.mu.Lock()
	err = conn.WriteMessage(websocket.BinaryMessage, payload)
	t.mu.Unlock()
	if err != nil {
		t.dropConn(endpoint)
		return errors.WrapTransient(err, "WebSocketTransport", "Send", "write frame to "+endpoint)
	}
	if t.metrics != nil {
		t.metrics.FramesSent.WithLabelValues("websocket").Inc()
	}
	return nil
}

// Unbind closes the listener and every cached connection without
// waiting for in-flight receives.
func (t *WebSocketTransport) Unbind() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.bound {
		return nil
	}
	t.bound = false
	_ = t.server.Close()
	for endpoint, conn := range t.conns {
		_ = conn.Close()
		delete(t.conns, endpoint)
	}
	t.logger.Info("transport unbound", "endpoint", t.endpoint)
	return nil
}

func (t *WebSocketTransport) connFor(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	t.mu.Lock()
	if conn, ok := t.conns[endpoint]; ok {
		t.mu.Unlock()
		return conn, nil
	}
	t.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, errors.WrapTransient(err, "WebSocketTransport", "Send", "dial "+endpoint)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.conns[endpoint]; ok {
		_ = conn.Close()
		return existing, nil
	}
	t.conns[endpoint] = conn
	return conn, nil
}

func (t *WebSocketTransport) dropConn(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[endpoint]; ok {
		_ = conn.Close()
		delete(t.conns, endpoint)
	}
}
