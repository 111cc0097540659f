package routing

import (
	"strings"
)

// PeerID identifies a peer on the bus. The textual form is dot-separated
// tokens (e.g. "Org.Service.0"). Comparison is case-sensitive on the
// normalized string.
type PeerID string

// String returns the textual form of the peer id.
func (id PeerID) String() string {
	return string(id)
}

// IsEmpty reports whether the id is unset.
func (id PeerID) IsEmpty() bool {
	return id == ""
}

// Tokens returns the dot-separated tokens of the id.
func (id PeerID) Tokens() []string {
	if id == "" {
		return nil
	}
	return strings.Split(string(id), ".")
}

// Peer describes a bus endpoint: its identity, transport address and
// liveness flags as last observed by the directory.
type Peer struct {
	ID           PeerID `json:"id"`
	Endpoint     string `json:"endpoint"`
	IsUp         bool   `json:"is_up"`
	IsResponding bool   `json:"is_responding"`
}

// NewPeer creates a peer that is up and responding.
func NewPeer(id PeerID, endpoint string) Peer {
	return Peer{
		ID:           id,
		Endpoint:     endpoint,
		IsUp:         true,
		IsResponding: true,
	}
}

// String returns "id@endpoint" for logging.
func (p Peer) String() string {
	return string(p.ID) + "@" + p.Endpoint
}
