package directory

import (
	"github.com/c360/peerbus/routing"
)

// Message type ids of the directory protocol.
const (
	PeerStartedTypeID                      routing.MessageTypeID = "PeerBus.Directory.PeerStarted"
	PeerStoppedTypeID                      routing.MessageTypeID = "PeerBus.Directory.PeerStopped"
	PeerDecommissionedTypeID               routing.MessageTypeID = "PeerBus.Directory.PeerDecommissioned"
	PeerSubscriptionsUpdatedTypeID         routing.MessageTypeID = "PeerBus.Directory.PeerSubscriptionsUpdated"
	PeerSubscriptionsForTypesUpdatedTypeID routing.MessageTypeID = "PeerBus.Directory.PeerSubscriptionsForTypesUpdated"
	PeerRespondingTypeID                   routing.MessageTypeID = "PeerBus.Directory.PeerResponding"
	PeerNotRespondingTypeID                routing.MessageTypeID = "PeerBus.Directory.PeerNotResponding"
	PingPeerCommandTypeID                  routing.MessageTypeID = "PeerBus.Directory.PingPeerCommand"
	RegisterPeerCommandTypeID              routing.MessageTypeID = "PeerBus.Directory.RegisterPeerCommand"
	RegisterPeerResponseTypeID             routing.MessageTypeID = "PeerBus.Directory.RegisterPeerResponse"
)

// PeerStarted announces a peer registration, carrying the full
// descriptor so replicas can seed their state.
type PeerStarted struct {
	Descriptor *PeerDescriptor `json:"descriptor"`
}

// PeerStopped announces an orderly shutdown. The peer's descriptor
// stays in the directory, marked down.
type PeerStopped struct {
	Peer         routing.Peer `json:"peer"`
	TimestampUTC int64        `json:"timestamp_utc,omitempty"`
}

// PeerDecommissioned announces permanent removal; replicas drop the
// descriptor and every dynamic subscription of the peer.
type PeerDecommissioned struct {
	PeerID routing.PeerID `json:"peer_id"`
}

// PeerSubscriptionsUpdated carries a full refreshed descriptor.
type PeerSubscriptionsUpdated struct {
	Descriptor *PeerDescriptor `json:"descriptor"`
}

// PeerSubscriptionsForTypesUpdated carries a dynamic subscription
// update: the input list exactly as submitted (adds and removes
// together, removes signaled by empty binding key sets) and the single
// timestamp the persister used. Receivers must apply the same
// partition with the same timestamp.
type PeerSubscriptionsForTypesUpdated struct {
	PeerID        routing.PeerID                 `json:"peer_id"`
	TimestampUTC  int64                          `json:"timestamp_utc"`
	Subscriptions []routing.SubscriptionsForType `json:"subscriptions"`
}

// PeerResponding marks a peer as answering again.
type PeerResponding struct {
	PeerID routing.PeerID `json:"peer_id"`
}

// PeerNotResponding marks a peer as unreachable without removing it.
type PeerNotResponding struct {
	PeerID routing.PeerID `json:"peer_id"`
}

// PingPeerCommand probes a peer's liveness; handling it resets the
// peer's last-ping clock.
type PingPeerCommand struct{}

// RegisterPeerCommand asks a directory server to register the sender
// and reply with the current directory state.
type RegisterPeerCommand struct {
	Descriptor *PeerDescriptor `json:"descriptor"`
}

// RegisterPeerResponse carries the directory snapshot returned to a
// newly registered peer.
type RegisterPeerResponse struct {
	Descriptors []*PeerDescriptor `json:"descriptors"`
}

// PeerUpdatedAction describes how a peer changed in a PeerUpdated
// notification.
type PeerUpdatedAction int

const (
	// PeerUpdatedStarted is raised for PeerStarted events.
	PeerUpdatedStarted PeerUpdatedAction = iota
	// PeerUpdatedStopped is raised for PeerStopped events.
	PeerUpdatedStopped
	// PeerUpdatedDecommissioned is raised for PeerDecommissioned events.
	PeerUpdatedDecommissioned
	// PeerUpdatedUpdated is raised for subscription and liveness
	// changes (both Responding and NotResponding map here).
	PeerUpdatedUpdated
)

// String returns the string representation of the action
func (a PeerUpdatedAction) String() string {
	switch a {
	case PeerUpdatedStarted:
		return "started"
	case PeerUpdatedStopped:
		return "stopped"
	case PeerUpdatedDecommissioned:
		return "decommissioned"
	case PeerUpdatedUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// PeerUpdatedObserver receives local notifications after a directory
// applied an event.
type PeerUpdatedObserver func(peerID routing.PeerID, action PeerUpdatedAction)

func init() {
	routing.RegisterMessageType(routing.MessageTypeDescriptor{
		ID:  PeerStartedTypeID,
		New: func() any { return &PeerStarted{} },
	})
	routing.RegisterMessageType(routing.MessageTypeDescriptor{
		ID:  PeerStoppedTypeID,
		New: func() any { return &PeerStopped{} },
	})
	routing.RegisterMessageType(routing.MessageTypeDescriptor{
		ID:  PeerDecommissionedTypeID,
		New: func() any { return &PeerDecommissioned{} },
	})
	routing.RegisterMessageType(routing.MessageTypeDescriptor{
		ID:  PeerSubscriptionsUpdatedTypeID,
		New: func() any { return &PeerSubscriptionsUpdated{} },
	})
	routing.RegisterMessageType(routing.MessageTypeDescriptor{
		ID:  PeerSubscriptionsForTypesUpdatedTypeID,
		New: func() any { return &PeerSubscriptionsForTypesUpdated{} },
	})
	routing.RegisterMessageType(routing.MessageTypeDescriptor{
		ID:  PeerRespondingTypeID,
		New: func() any { return &PeerResponding{} },
	})
	routing.RegisterMessageType(routing.MessageTypeDescriptor{
		ID:  PeerNotRespondingTypeID,
		New: func() any { return &PeerNotResponding{} },
	})
	routing.RegisterMessageType(routing.MessageTypeDescriptor{
		ID:  PingPeerCommandTypeID,
		New: func() any { return &PingPeerCommand{} },
	})
	routing.RegisterMessageType(routing.MessageTypeDescriptor{
		ID:  RegisterPeerCommandTypeID,
		New: func() any { return &RegisterPeerCommand{} },
	})
	routing.RegisterMessageType(routing.MessageTypeDescriptor{
		ID:  RegisterPeerResponseTypeID,
		New: func() any { return &RegisterPeerResponse{} },
	})
}
