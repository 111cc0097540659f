package directory

import (
	"github.com/c360/peerbus/routing"
)

// PeerDescriptor is the directory's record for one peer: identity,
// persistence flag, subscription state and the timestamp of the last
// descriptor update (Unix milliseconds, UTC).
type PeerDescriptor struct {
	Peer                routing.Peer           `json:"peer"`
	IsPersistent        bool                   `json:"is_persistent"`
	TimestampUTC        int64                  `json:"timestamp_utc,omitempty"`
	StaticSubscriptions []routing.Subscription `json:"static_subscriptions,omitempty"`
	// DynamicSubscriptionsByType carries the runtime subscription sets,
	// keyed by message type. Managed exclusively through the dynamic
	// subscription operations; AddOrUpdatePeer never touches it.
	DynamicSubscriptionsByType map[routing.MessageTypeID][]routing.BindingKey `json:"dynamic_subscriptions_by_type,omitempty"`
	HasDebuggerAttached        bool                                           `json:"has_debugger_attached,omitempty"`
}

// NewPeerDescriptor builds a descriptor for a live peer with its static
// subscriptions.
func NewPeerDescriptor(peer routing.Peer, isPersistent bool, subscriptions ...routing.Subscription) *PeerDescriptor {
	return &PeerDescriptor{
		Peer:                peer,
		IsPersistent:        isPersistent,
		StaticSubscriptions: subscriptions,
	}
}

// PeerID returns the descriptor's peer id.
func (d *PeerDescriptor) PeerID() routing.PeerID {
	return d.Peer.ID
}

// EffectiveSubscriptions returns the deduplicated union of static and
// dynamic subscriptions. A dynamic empty-binding-key subscription
// coexists with a non-empty static one: the result is the union.
func (d *PeerDescriptor) EffectiveSubscriptions() []routing.Subscription {
	subs := make([]routing.Subscription, 0, len(d.StaticSubscriptions))
	subs = append(subs, d.StaticSubscriptions...)
	for typeID, keys := range d.DynamicSubscriptionsByType {
		for _, key := range keys {
			subs = append(subs, routing.NewSubscription(typeID, key))
		}
	}
	return routing.DedupeSubscriptions(subs)
}

// HandlesMessage reports whether any effective subscription matches the
// given type and routing content.
func (d *PeerDescriptor) HandlesMessage(typeID routing.MessageTypeID, content routing.RoutingContent) bool {
	for _, sub := range d.EffectiveSubscriptions() {
		if sub.Matches(typeID, content) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Repositories hand out clones so callers
// can never mutate shared state.
func (d *PeerDescriptor) Clone() *PeerDescriptor {
	if d == nil {
		return nil
	}
	copied := *d
	if d.StaticSubscriptions != nil {
		copied.StaticSubscriptions = make([]routing.Subscription, len(d.StaticSubscriptions))
		copy(copied.StaticSubscriptions, d.StaticSubscriptions)
	}
	if d.DynamicSubscriptionsByType != nil {
		copied.DynamicSubscriptionsByType = make(map[routing.MessageTypeID][]routing.BindingKey, len(d.DynamicSubscriptionsByType))
		for typeID, keys := range d.DynamicSubscriptionsByType {
			copiedKeys := make([]routing.BindingKey, len(keys))
			copy(copiedKeys, keys)
			copied.DynamicSubscriptionsByType[typeID] = copiedKeys
		}
	}
	return &copied
}

// WithoutDynamicSubscriptions returns a clone stripped of dynamic
// state, for static-only directory lookups.
func (d *PeerDescriptor) WithoutDynamicSubscriptions() *PeerDescriptor {
	copied := d.Clone()
	copied.DynamicSubscriptionsByType = nil
	return copied
}
