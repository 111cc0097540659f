package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/peerbus/errors"
)

// channelNetwork is the process-wide registry of in-memory endpoints.
var channelNetwork = struct {
	mu        sync.RWMutex
	endpoints map[string]chan *Frame
	nextPort  atomic.Int64
}{endpoints: make(map[string]chan *Frame)}

// ChannelTransport is the in-process Transport: frames move over Go
// channels between transports in the same process. Used by tests and
// single-process buses.
type ChannelTransport struct {
	cfg Config

	mu       sync.Mutex
	frames   chan *Frame
	bound    bool
	endpoint string
}

// NewChannelTransport creates an unbound in-process transport.
func NewChannelTransport(cfg Config) *ChannelTransport {
	if cfg.ReceiveHighWaterMark <= 0 {
		cfg.ReceiveHighWaterMark = DefaultConfig().ReceiveHighWaterMark
	}
	return &ChannelTransport{cfg: cfg}
}

// Bind registers the endpoint in the process-wide network. An empty
// or wildcard endpoint gets a generated one.
func (t *ChannelTransport) Bind(endpoint string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bound {
		return t.endpoint, nil
	}
	if endpoint == "" || endpoint == "inproc://*" {
		endpoint = fmt.Sprintf("inproc://peer-%d", channelNetwork.nextPort.Add(1))
	}

	frames := make(chan *Frame, t.cfg.ReceiveHighWaterMark)

	channelNetwork.mu.Lock()
	if _, taken := channelNetwork.endpoints[endpoint]; taken {
		channelNetwork.mu.Unlock()
		return "", errors.WrapInvalid(fmt.Errorf("endpoint %s already bound", endpoint),
			"ChannelTransport", "Bind", "register endpoint")
	}
	channelNetwork.endpoints[endpoint] = frames
	channelNetwork.mu.Unlock()

	t.frames = frames
	t.bound = true
	t.endpoint = endpoint
	return endpoint, nil
}

// Receive returns the next frame, or nil when the timeout expires.
func (t *ChannelTransport) Receive(timeout time.Duration) (*Frame, error) {
	t.mu.Lock()
	frames := t.frames
	bound := t.bound
	t.mu.Unlock()

	if !bound {
		return nil, errors.WrapInvalid(errors.ErrEndpointNotBound, "ChannelTransport", "Receive", "check binding")
	}
	if timeout <= 0 {
		timeout = t.cfg.ReceiveTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-frames:
		return frame, nil
	case <-timer.C:
		return nil, nil
	}
}

// Send delivers one frame to another in-process endpoint.
func (t *ChannelTransport) Send(_ context.Context, endpoint string, payload []byte) error {
	channelNetwork.mu.RLock()
	frames, ok := channelNetwork.endpoints[endpoint]
	channelNetwork.mu.RUnlock()
	if !ok {
		return errors.WrapTransient(errors.ErrConnectionLost, "ChannelTransport", "Send", "resolve "+endpoint)
	}

	copied := make([]byte, len(payload))
	copy(copied, payload)
	frames <- &Frame{Payload: copied, ReceivedAt: time.Now()}
	return nil
}

// Unbind removes the endpoint from the process-wide network.
func (t *ChannelTransport) Unbind() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.bound {
		return nil
	}
	channelNetwork.mu.Lock()
	delete(channelNetwork.endpoints, t.endpoint)
	channelNetwork.mu.Unlock()
	t.bound = false
	return nil
}
