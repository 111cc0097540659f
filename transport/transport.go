package transport

import (
	"context"
	"time"
)

// Frame is one raw inbound record with its per-frame metadata.
type Frame struct {
	Payload    []byte
	ReceivedAt time.Time
}

// Transport is the frame-in / frame-out adapter contract.
//
// Bind attaches the inbound side to an endpoint and returns the
// resolved endpoint string (wildcard ports resolved to the bound
// port). Receive blocks up to timeout and returns a nil frame when it
// expires; any other failure propagates. Send delivers one frame to a
// remote endpoint. Unbind stops the inbound side without blocking on
// in-flight receives.
type Transport interface {
	Bind(endpoint string) (string, error)
	Receive(timeout time.Duration) (*Frame, error)
	Send(ctx context.Context, endpoint string, payload []byte) error
	Unbind() error
}

// Config carries the transport options recognized by the core.
type Config struct {
	// ReceiveTimeout bounds a single Receive call.
	ReceiveTimeout time.Duration `json:"receive_timeout"`
	// ReceiveHighWaterMark bounds the inbound frame buffer; frames
	// beyond it apply backpressure to the socket reader.
	ReceiveHighWaterMark int `json:"receive_high_water_mark"`
}

// DefaultConfig returns the standard transport tuning.
func DefaultConfig() Config {
	return Config{
		ReceiveTimeout:       100 * time.Millisecond,
		ReceiveHighWaterMark: 40000,
	}
}
