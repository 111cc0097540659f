// Package transport carries bus frames between peers: the wire-level
// TransportMessage, its length-prefixed binary codec, the Transport
// adapter contract and the shipped adapters.
//
// # Adapters
//
// ZmqTransport moves frames over ZeroMQ PUSH/PULL sockets: one bound
// PULL socket for inbound frames, one cached PUSH socket per remote
// peer endpoint. WebSocketTransport offers the same contract over
// WebSocket binary frames for networks where raw TCP sockets cannot
// pass. ChannelTransport is the in-process adapter used by tests and
// single-process buses.
//
// # Receive contract
//
// Receive blocks up to the configured timeout and returns a nil frame
// (not an error) when it expires. Errors other than "no frame
// available" propagate to the caller, which decides whether to
// reconnect. Unbind is non-blocking and stops the inbound side.
package transport
