package directory

import (
	"log/slog"
	"sync"

	"github.com/c360/peerbus/errors"
	"github.com/c360/peerbus/pkg/timestamp"
	"github.com/c360/peerbus/routing"
)

// ClientDirectory is the replica every ordinary peer runs. It applies
// the directory event stream to a local repository and mirrors the
// resulting subscriptions into a routing.SubscriptionTree, so target
// peer resolution is a local tree lookup instead of a linear scan.
type ClientDirectory struct {
	repo   *MemoryRepository
	tree   *routing.SubscriptionTree
	logger *slog.Logger

	mu sync.RWMutex
	// indexed mirrors what is currently in the tree, per peer:
	// static subscriptions and dynamic keys per type. Needed to diff
	// tree state when an event replaces a subscription set.
	indexed   map[routing.PeerID]*indexedPeer
	observers []PeerUpdatedObserver
}

type indexedPeer struct {
	static  []routing.Subscription
	dynamic map[routing.MessageTypeID][]routing.BindingKey
}

// ClientOption configures a ClientDirectory.
type ClientOption func(*ClientDirectory)

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *ClientDirectory) { c.logger = logger }
}

// NewClientDirectory creates an empty replica.
func NewClientDirectory(opts ...ClientOption) *ClientDirectory {
	c := &ClientDirectory{
		repo:    NewMemoryRepository(),
		tree:    routing.NewSubscriptionTree(),
		logger:  slog.Default(),
		indexed: make(map[routing.PeerID]*indexedPeer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnPeerUpdated registers an observer notified after every applied
// event.
func (c *ClientDirectory) OnPeerUpdated(observer PeerUpdatedObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, observer)
}

// Get returns the merged descriptor for a peer.
func (c *ClientDirectory) Get(peerID routing.PeerID) (*PeerDescriptor, bool) {
	return c.repo.Get(peerID)
}

// GetPeersHandling resolves the peers subscribed to a message through
// the tree, returning only peers currently up.
func (c *ClientDirectory) GetPeersHandling(typeID routing.MessageTypeID, content routing.RoutingContent) []routing.Peer {
	ids := c.tree.PeersHandling(typeID, content, true)
	peers := make([]routing.Peer, 0, len(ids))
	for _, id := range ids {
		desc, ok := c.repo.Get(id)
		if !ok || !desc.Peer.IsUp {
			continue
		}
		peers = append(peers, desc.Peer)
	}
	return peers
}

// LoadSnapshot seeds the replica from a RegisterPeerResponse.
func (c *ClientDirectory) LoadSnapshot(descriptors []*PeerDescriptor) error {
	for _, desc := range descriptors {
		if desc == nil {
			continue
		}
		if err := c.applyDescriptor(desc); err != nil {
			return err
		}
	}
	return nil
}

// HandlePeerStarted indexes a newly registered peer.
func (c *ClientDirectory) HandlePeerStarted(ev *PeerStarted) error {
	if err := c.applyDescriptor(ev.Descriptor); err != nil {
		return err
	}
	c.notify(ev.Descriptor.PeerID(), PeerUpdatedStarted)
	return nil
}

// HandlePeerStopped marks the peer down. Its subscriptions stay
// indexed; GetPeersHandling filters on liveness.
func (c *ClientDirectory) HandlePeerStopped(ev *PeerStopped) error {
	desc, ok := c.repo.Get(ev.Peer.ID)
	if !ok {
		return nil
	}
	desc.Peer.IsUp = false
	desc.Peer.IsResponding = false
	if ev.TimestampUTC != 0 {
		desc.TimestampUTC = ev.TimestampUTC
	}
	if err := c.repo.AddOrUpdatePeer(desc); err != nil {
		return errors.Wrap(err, "ClientDirectory", "HandlePeerStopped", "persist descriptor")
	}
	c.notify(ev.Peer.ID, PeerUpdatedStopped)
	return nil
}

// HandlePeerDecommissioned drops the peer from the replica entirely.
func (c *ClientDirectory) HandlePeerDecommissioned(ev *PeerDecommissioned) error {
	if err := c.repo.RemovePeer(ev.PeerID); err != nil {
		return errors.Wrap(err, "ClientDirectory", "HandlePeerDecommissioned", "remove peer")
	}

	c.mu.Lock()
	delete(c.indexed, ev.PeerID)
	c.mu.Unlock()
	c.tree.RemovePeer(ev.PeerID)

	c.notify(ev.PeerID, PeerUpdatedDecommissioned)
	return nil
}

// HandlePeerSubscriptionsUpdated applies a full descriptor refresh.
func (c *ClientDirectory) HandlePeerSubscriptionsUpdated(ev *PeerSubscriptionsUpdated) error {
	if err := c.applyDescriptor(ev.Descriptor); err != nil {
		return err
	}
	c.notify(ev.Descriptor.PeerID(), PeerUpdatedUpdated)
	return nil
}

// HandlePeerSubscriptionsForTypesUpdated applies a dynamic update,
// preserving the sender's partition: entries with keys replace the
// type's dynamic set, empty entries clear it. The repository's
// monotonic clocks make replayed events no-ops; the tree is refreshed
// from the repository state afterwards, so a replay leaves it
// unchanged.
func (c *ClientDirectory) HandlePeerSubscriptionsForTypesUpdated(ev *PeerSubscriptionsForTypesUpdated) error {
	ts := timestamp.ToTime(ev.TimestampUTC)

	var adds []routing.SubscriptionsForType
	var removals []routing.MessageTypeID
	for _, entry := range ev.Subscriptions {
		if entry.IsRemoval() {
			removals = append(removals, entry.MessageTypeID)
		} else {
			adds = append(adds, entry)
		}
	}

	if len(adds) > 0 {
		if _, err := c.repo.AddDynamicSubscriptionsForTypes(ev.PeerID, ts, adds); err != nil {
			return errors.Wrap(err, "ClientDirectory", "HandlePeerSubscriptionsForTypesUpdated", "add dynamic subscriptions")
		}
	}
	if len(removals) > 0 {
		if _, err := c.repo.RemoveDynamicSubscriptionsForTypes(ev.PeerID, ts, removals); err != nil {
			return errors.Wrap(err, "ClientDirectory", "HandlePeerSubscriptionsForTypesUpdated", "remove dynamic subscriptions")
		}
	}

	c.reindexDynamic(ev.PeerID)
	c.notify(ev.PeerID, PeerUpdatedUpdated)
	return nil
}

// HandlePeerResponding marks the peer as answering again.
func (c *ClientDirectory) HandlePeerResponding(ev *PeerResponding) error {
	return c.setResponding(ev.PeerID, true)
}

// HandlePeerNotResponding marks the peer unreachable.
func (c *ClientDirectory) HandlePeerNotResponding(ev *PeerNotResponding) error {
	return c.setResponding(ev.PeerID, false)
}

func (c *ClientDirectory) setResponding(peerID routing.PeerID, responding bool) error {
	desc, ok := c.repo.Get(peerID)
	if !ok {
		return nil
	}
	desc.Peer.IsResponding = responding
	if err := c.repo.AddOrUpdatePeer(desc); err != nil {
		return errors.Wrap(err, "ClientDirectory", "setResponding", "persist descriptor")
	}
	c.notify(peerID, PeerUpdatedUpdated)
	return nil
}

// applyDescriptor upserts a descriptor and resyncs the peer's static
// index. Dynamic subscriptions carried on the descriptor (snapshot
// load) are applied through the repository operations so the monotonic
// clocks stay consistent.
func (c *ClientDirectory) applyDescriptor(desc *PeerDescriptor) error {
	if err := c.repo.AddOrUpdatePeer(desc); err != nil {
		return errors.Wrap(err, "ClientDirectory", "applyDescriptor", "persist descriptor")
	}

	if len(desc.DynamicSubscriptionsByType) > 0 {
		entries := make([]routing.SubscriptionsForType, 0, len(desc.DynamicSubscriptionsByType))
		for typeID, keys := range desc.DynamicSubscriptionsByType {
			entries = append(entries, routing.SubscriptionsForType{MessageTypeID: typeID, BindingKeys: keys})
		}
		ts := timestamp.ToTime(desc.TimestampUTC)
		if _, err := c.repo.AddDynamicSubscriptionsForTypes(desc.PeerID(), ts, entries); err != nil {
			return errors.Wrap(err, "ClientDirectory", "applyDescriptor", "apply snapshot dynamics")
		}
	}

	c.reindexStatic(desc.PeerID(), desc.StaticSubscriptions)
	c.reindexDynamic(desc.PeerID())
	return nil
}

// reindexStatic replaces a peer's static subscriptions in the tree.
func (c *ClientDirectory) reindexStatic(peerID routing.PeerID, subs []routing.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.indexedPeerLocked(peerID)
	for _, sub := range entry.static {
		c.tree.Remove(peerID, sub, false)
	}
	deduped := routing.DedupeSubscriptions(subs)
	for _, sub := range deduped {
		c.tree.Add(peerID, sub, false)
	}
	entry.static = deduped
}

// reindexDynamic diffs a peer's dynamic tree state against the
// repository.
func (c *ClientDirectory) reindexDynamic(peerID routing.PeerID) {
	desc, ok := c.repo.Get(peerID)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.indexedPeerLocked(peerID)
	for typeID, keys := range entry.dynamic {
		for _, key := range keys {
			c.tree.Remove(peerID, routing.NewSubscription(typeID, key), true)
		}
	}
	entry.dynamic = make(map[routing.MessageTypeID][]routing.BindingKey)

	if !ok {
		return
	}
	for typeID, keys := range desc.DynamicSubscriptionsByType {
		copied := make([]routing.BindingKey, len(keys))
		copy(copied, keys)
		entry.dynamic[typeID] = copied
		for _, key := range keys {
			c.tree.Add(peerID, routing.NewSubscription(typeID, key), true)
		}
	}
}

func (c *ClientDirectory) indexedPeerLocked(peerID routing.PeerID) *indexedPeer {
	entry, ok := c.indexed[peerID]
	if !ok {
		entry = &indexedPeer{dynamic: make(map[routing.MessageTypeID][]routing.BindingKey)}
		c.indexed[peerID] = entry
	}
	return entry
}

func (c *ClientDirectory) notify(peerID routing.PeerID, action PeerUpdatedAction) {
	c.mu.RLock()
	observers := make([]PeerUpdatedObserver, len(c.observers))
	copy(observers, c.observers)
	c.mu.RUnlock()

	for _, observer := range observers {
		observer(peerID, action)
	}
}
