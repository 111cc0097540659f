package directory

import (
	"sync"
	"time"

	"github.com/c360/peerbus/pkg/timestamp"
	"github.com/c360/peerbus/routing"
)

// Repository is the persistent mapping from peer id to descriptor.
// Implementations must be safe for concurrent readers with serialized
// writers, and must apply the monotonic timestamp rule to every
// dynamic subscription operation: an update whose timestamp is not
// strictly greater than the last applied one for the same (peer, type)
// is a no-op.
type Repository interface {
	// AddOrUpdatePeer upserts the descriptor. Previously recorded
	// dynamic subscriptions are preserved.
	AddOrUpdatePeer(desc *PeerDescriptor) error
	// Get returns the merged (static + dynamic) descriptor.
	Get(peerID routing.PeerID) (*PeerDescriptor, bool)
	// GetPeers returns every descriptor; when loadDynamic is false the
	// descriptors carry static subscriptions only.
	GetPeers(loadDynamic bool) []*PeerDescriptor
	// RemovePeer removes the descriptor and all its dynamic
	// subscriptions.
	RemovePeer(peerID routing.PeerID) error
	// AddDynamicSubscriptionsForTypes sets the dynamic binding key set
	// per type, guarded by the (peer, type) timestamp. Returns the
	// number of entries applied; outdated entries are silently
	// discarded and not counted.
	AddDynamicSubscriptionsForTypes(peerID routing.PeerID, ts time.Time, subs []routing.SubscriptionsForType) (int, error)
	// RemoveDynamicSubscriptionsForTypes clears the dynamic set per
	// type, guarded by the (peer, type) timestamp. Returns the number
	// of entries applied.
	RemoveDynamicSubscriptionsForTypes(peerID routing.PeerID, ts time.Time, typeIDs []routing.MessageTypeID) (int, error)
	// RemoveAllDynamicSubscriptionsForPeer clears every dynamic set of
	// the peer, with the same monotonic guard applied per type.
	RemoveAllDynamicSubscriptionsForPeer(peerID routing.PeerID, ts time.Time) (int, error)
}

// opClock tracks the last applied timestamp per (peer, type).
// Comparison is strict: equal timestamps do not pass.
type opClock struct {
	lastApplied map[routing.PeerID]map[routing.MessageTypeID]int64
}

func newOpClock() *opClock {
	return &opClock{lastApplied: make(map[routing.PeerID]map[routing.MessageTypeID]int64)}
}

// advance returns true and records ts when ts is strictly greater than
// the last applied timestamp for (peerID, typeID).
func (c *opClock) advance(peerID routing.PeerID, typeID routing.MessageTypeID, ts int64) bool {
	byType, ok := c.lastApplied[peerID]
	if !ok {
		byType = make(map[routing.MessageTypeID]int64)
		c.lastApplied[peerID] = byType
	}
	if !timestamp.After(ts, byType[typeID]) {
		return false
	}
	byType[typeID] = ts
	return true
}

func (c *opClock) forget(peerID routing.PeerID) {
	delete(c.lastApplied, peerID)
}

// MemoryRepository is the in-memory Repository. Descriptors and
// dynamic subscription state are held in separate maps so that
// descriptor upserts can never clobber dynamic subscriptions.
type MemoryRepository struct {
	mu          sync.RWMutex
	descriptors map[routing.PeerID]*PeerDescriptor
	dynamics    map[routing.PeerID]map[routing.MessageTypeID][]routing.BindingKey
	// clock guards both add and remove operations: the original
	// directory keeps ONE timestamp per (peer, type) for the dynamic
	// subscription state, so a remove stamped before the last applied
	// add is discarded, and vice versa.
	clock *opClock
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		descriptors: make(map[routing.PeerID]*PeerDescriptor),
		dynamics:    make(map[routing.PeerID]map[routing.MessageTypeID][]routing.BindingKey),
		clock:       newOpClock(),
	}
}

// AddOrUpdatePeer upserts the descriptor, preserving recorded dynamic
// subscriptions. Any dynamic state carried on the argument is ignored:
// dynamic subscriptions only move through the dedicated operations.
func (r *MemoryRepository) AddOrUpdatePeer(desc *PeerDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := desc.Clone()
	stored.DynamicSubscriptionsByType = nil
	stored.TimestampUTC = roundMs(stored.TimestampUTC)
	r.descriptors[desc.PeerID()] = stored
	return nil
}

// Get returns the merged descriptor for a peer.
func (r *MemoryRepository) Get(peerID routing.PeerID) (*PeerDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.descriptors[peerID]
	if !ok {
		return nil, false
	}
	return r.mergeLocked(stored), true
}

// GetPeers returns every descriptor, merged with dynamic state when
// loadDynamic is set.
func (r *MemoryRepository) GetPeers(loadDynamic bool) []*PeerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]*PeerDescriptor, 0, len(r.descriptors))
	for _, stored := range r.descriptors {
		if loadDynamic {
			peers = append(peers, r.mergeLocked(stored))
		} else {
			peers = append(peers, stored.Clone())
		}
	}
	return peers
}

// RemovePeer removes the descriptor, its dynamic subscriptions and the
// associated timestamp clocks.
func (r *MemoryRepository) RemovePeer(peerID routing.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.descriptors, peerID)
	delete(r.dynamics, peerID)
	r.clock.forget(peerID)
	return nil
}

// AddDynamicSubscriptionsForTypes applies each non-empty entry as a
// set-replacement for its type, guarded by the clock. Empty entries
// are skipped here; the caller partitions them to the remove
// operation.
func (r *MemoryRepository) AddDynamicSubscriptionsForTypes(peerID routing.PeerID, ts time.Time, subs []routing.SubscriptionsForType) (int, error) {
	ms := timestamp.FromTime(timestamp.Round(ts))

	r.mu.Lock()
	defer r.mu.Unlock()

	applied := 0
	for _, entry := range subs {
		if entry.IsRemoval() {
			continue
		}
		if !r.clock.advance(peerID, entry.MessageTypeID, ms) {
			continue
		}
		byType, ok := r.dynamics[peerID]
		if !ok {
			byType = make(map[routing.MessageTypeID][]routing.BindingKey)
			r.dynamics[peerID] = byType
		}
		keys := make([]routing.BindingKey, len(entry.BindingKeys))
		copy(keys, entry.BindingKeys)
		byType[entry.MessageTypeID] = keys
		applied++
	}
	return applied, nil
}

// RemoveDynamicSubscriptionsForTypes clears the dynamic set of each
// listed type, guarded by the clock.
func (r *MemoryRepository) RemoveDynamicSubscriptionsForTypes(peerID routing.PeerID, ts time.Time, typeIDs []routing.MessageTypeID) (int, error) {
	ms := timestamp.FromTime(timestamp.Round(ts))

	r.mu.Lock()
	defer r.mu.Unlock()

	applied := 0
	for _, typeID := range typeIDs {
		if !r.clock.advance(peerID, typeID, ms) {
			continue
		}
		if byType, ok := r.dynamics[peerID]; ok {
			delete(byType, typeID)
			if len(byType) == 0 {
				delete(r.dynamics, peerID)
			}
		}
		applied++
	}
	return applied, nil
}

// RemoveAllDynamicSubscriptionsForPeer clears every dynamic set of the
// peer, with the monotonic guard applied per type.
func (r *MemoryRepository) RemoveAllDynamicSubscriptionsForPeer(peerID routing.PeerID, ts time.Time) (int, error) {
	r.mu.RLock()
	typeIDs := make([]routing.MessageTypeID, 0, len(r.dynamics[peerID]))
	for typeID := range r.dynamics[peerID] {
		typeIDs = append(typeIDs, typeID)
	}
	r.mu.RUnlock()

	return r.RemoveDynamicSubscriptionsForTypes(peerID, ts, typeIDs)
}

// mergeLocked builds the merged view of a stored descriptor. Caller
// holds at least the read lock.
func (r *MemoryRepository) mergeLocked(stored *PeerDescriptor) *PeerDescriptor {
	merged := stored.Clone()
	byType, ok := r.dynamics[stored.PeerID()]
	if !ok || len(byType) == 0 {
		return merged
	}
	merged.DynamicSubscriptionsByType = make(map[routing.MessageTypeID][]routing.BindingKey, len(byType))
	for typeID, keys := range byType {
		copied := make([]routing.BindingKey, len(keys))
		copy(copied, keys)
		merged.DynamicSubscriptionsByType[typeID] = copied
	}
	return merged
}

// roundMs re-rounds a millisecond timestamp; values are already ms so
// this only normalizes negatives from hand-built descriptors.
func roundMs(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	return ms
}
