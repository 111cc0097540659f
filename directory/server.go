package directory

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/c360/peerbus/errors"
	"github.com/c360/peerbus/metric"
	"github.com/c360/peerbus/pkg/timestamp"
	"github.com/c360/peerbus/routing"
)

// Infinity is the TimeSinceLastPing value before registration and
// after unregistration.
const Infinity = time.Duration(math.MaxInt64)

// EventPublisher publishes directory events to the rest of the
// cluster. The bus facade implements it.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// ServerConfig carries the directory server options.
type ServerConfig struct {
	// DisableDynamicSubscriptionsForOutgoingMessages makes
	// GetPeersHandling consult static subscriptions only.
	DisableDynamicSubscriptionsForOutgoingMessages bool
}

// ServerOption configures a ServerDirectory.
type ServerOption func(*ServerDirectory)

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *ServerDirectory) { s.logger = logger }
}

// WithServerMetrics wires the core bus metrics.
func WithServerMetrics(metrics *metric.Metrics) ServerOption {
	return func(s *ServerDirectory) { s.metrics = metrics }
}

// ServerDirectory is the authoritative peer directory. It persists
// descriptors in a Repository, publishes the directory event stream
// and resolves the peers handling a message.
//
// Directory methods are externally synchronized by the bus dispatch
// loop; the internal mutex only guards the ping clock and observer
// list against concurrent reads from other goroutines.
type ServerDirectory struct {
	repo    Repository
	cfg     ServerConfig
	logger  *slog.Logger
	metrics *metric.Metrics

	mu         sync.RWMutex
	self       *PeerDescriptor
	registered bool
	lastPing   time.Time

	observers    []PeerUpdatedObserver
	onRegistered []func(*PeerDescriptor)
}

// NewServerDirectory creates a directory server over a repository.
func NewServerDirectory(repo Repository, cfg ServerConfig, opts ...ServerOption) *ServerDirectory {
	s := &ServerDirectory{
		repo:   repo,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnPeerUpdated registers an observer notified after every applied
// directory event.
func (s *ServerDirectory) OnPeerUpdated(observer PeerUpdatedObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, observer)
}

// OnRegistered registers a local callback fired after a successful
// Register.
func (s *ServerDirectory) OnRegistered(fn func(*PeerDescriptor)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRegistered = append(s.onRegistered, fn)
}

// Register persists the local peer's descriptor, publishes PeerStarted
// and resets the ping clock.
func (s *ServerDirectory) Register(ctx context.Context, bus EventPublisher, peer routing.Peer, subscriptions []routing.Subscription) error {
	now := timestamp.Round(time.Now())
	desc := &PeerDescriptor{
		Peer:                peer,
		TimestampUTC:        timestamp.FromTime(now),
		StaticSubscriptions: routing.DedupeSubscriptions(subscriptions),
	}

	if err := s.repo.AddOrUpdatePeer(desc); err != nil {
		return errors.Wrap(err, "ServerDirectory", "Register", "persist descriptor")
	}

	s.mu.Lock()
	s.self = desc.Clone()
	s.registered = true
	s.lastPing = now
	registeredCallbacks := make([]func(*PeerDescriptor), len(s.onRegistered))
	copy(registeredCallbacks, s.onRegistered)
	s.mu.Unlock()

	if err := bus.Publish(ctx, &PeerStarted{Descriptor: desc}); err != nil {
		return errors.Wrap(err, "ServerDirectory", "Register", "publish PeerStarted")
	}

	for _, fn := range registeredCallbacks {
		fn(desc.Clone())
	}

	s.updatePeerGauge()
	s.logger.Info("peer registered", "peer", peer.ID, "endpoint", peer.Endpoint)
	return nil
}

// Unregister publishes PeerStopped, marks the local descriptor down
// and resets the ping clock to infinity.
func (s *ServerDirectory) Unregister(ctx context.Context, bus EventPublisher) error {
	s.mu.Lock()
	if !s.registered || s.self == nil {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrPeerNotFound, "ServerDirectory", "Unregister", "resolve local peer")
	}
	self := s.self.Clone()
	s.registered = false
	s.lastPing = time.Time{}
	s.mu.Unlock()

	now := timestamp.Round(time.Now())
	self.Peer.IsUp = false
	self.Peer.IsResponding = false
	self.TimestampUTC = timestamp.FromTime(now)
	if err := s.repo.AddOrUpdatePeer(self); err != nil {
		return errors.Wrap(err, "ServerDirectory", "Unregister", "persist descriptor")
	}

	if err := bus.Publish(ctx, &PeerStopped{Peer: self.Peer, TimestampUTC: self.TimestampUTC}); err != nil {
		return errors.Wrap(err, "ServerDirectory", "Unregister", "publish PeerStopped")
	}

	s.logger.Info("peer unregistered", "peer", self.Peer.ID)
	return nil
}

// UpdateSubscriptions applies a dynamic subscription update for the
// local peer. Entries with binding keys become adds; entries with an
// empty or nil set become removals. One instant is synthesized for the
// repository mutations and the published event, so every replica
// applies the same partition at the same timestamp.
func (s *ServerDirectory) UpdateSubscriptions(ctx context.Context, bus EventPublisher, subscriptions []routing.SubscriptionsForType) error {
	s.mu.RLock()
	self := s.self
	registered := s.registered
	s.mu.RUnlock()
	if !registered || self == nil {
		return errors.WrapInvalid(errors.ErrPeerNotFound, "ServerDirectory", "UpdateSubscriptions", "resolve local peer")
	}
	if len(subscriptions) == 0 {
		return nil
	}

	now := timestamp.Round(time.Now())
	peerID := self.Peer.ID

	var adds []routing.SubscriptionsForType
	var removals []routing.MessageTypeID
	for _, entry := range subscriptions {
		if entry.IsRemoval() {
			removals = append(removals, entry.MessageTypeID)
		} else {
			adds = append(adds, entry)
		}
	}

	submitted := 0
	applied := 0
	if len(adds) > 0 {
		n, err := s.repo.AddDynamicSubscriptionsForTypes(peerID, now, adds)
		if err != nil {
			return errors.Wrap(err, "ServerDirectory", "UpdateSubscriptions", "add dynamic subscriptions")
		}
		submitted += len(adds)
		applied += n
	}
	if len(removals) > 0 {
		n, err := s.repo.RemoveDynamicSubscriptionsForTypes(peerID, now, removals)
		if err != nil {
			return errors.Wrap(err, "ServerDirectory", "UpdateSubscriptions", "remove dynamic subscriptions")
		}
		submitted += len(removals)
		applied += n
	}
	s.countOutdated(submitted - applied)

	event := &PeerSubscriptionsForTypesUpdated{
		PeerID:        peerID,
		TimestampUTC:  timestamp.FromTime(now),
		Subscriptions: subscriptions,
	}
	if err := bus.Publish(ctx, event); err != nil {
		return errors.Wrap(err, "ServerDirectory", "UpdateSubscriptions", "publish update event")
	}
	return nil
}

// GetPeersHandling returns the unique peers whose effective
// subscriptions match the message. Dynamic subscriptions are skipped
// when the server is configured for static-only outgoing resolution.
func (s *ServerDirectory) GetPeersHandling(typeID routing.MessageTypeID, content routing.RoutingContent) []routing.Peer {
	loadDynamic := !s.cfg.DisableDynamicSubscriptionsForOutgoingMessages

	seen := make(map[routing.PeerID]struct{})
	var peers []routing.Peer
	for _, desc := range s.repo.GetPeers(loadDynamic) {
		if _, dup := seen[desc.PeerID()]; dup {
			continue
		}
		if desc.HandlesMessage(typeID, content) {
			seen[desc.PeerID()] = struct{}{}
			peers = append(peers, desc.Peer)
		}
	}
	return peers
}

// HandleRegisterPeerCommand persists a remote peer's descriptor and
// returns the directory snapshot the new peer seeds its replica with.
func (s *ServerDirectory) HandleRegisterPeerCommand(cmd *RegisterPeerCommand) (*RegisterPeerResponse, error) {
	if cmd.Descriptor == nil {
		return nil, errors.WrapInvalid(errors.ErrPeerNotFound, "ServerDirectory", "HandleRegisterPeerCommand", "read descriptor")
	}
	if err := s.repo.AddOrUpdatePeer(cmd.Descriptor); err != nil {
		return nil, errors.Wrap(err, "ServerDirectory", "HandleRegisterPeerCommand", "persist descriptor")
	}
	s.notify(cmd.Descriptor.PeerID(), PeerUpdatedStarted)
	s.updatePeerGauge()

	return &RegisterPeerResponse{Descriptors: s.repo.GetPeers(true)}, nil
}

// HandlePeerStarted applies a registration event from another peer.
func (s *ServerDirectory) HandlePeerStarted(ev *PeerStarted) error {
	if err := s.repo.AddOrUpdatePeer(ev.Descriptor); err != nil {
		return errors.Wrap(err, "ServerDirectory", "HandlePeerStarted", "persist descriptor")
	}
	s.notify(ev.Descriptor.PeerID(), PeerUpdatedStarted)
	s.updatePeerGauge()
	return nil
}

// HandlePeerStopped marks the peer down, keeping its descriptor and
// dynamic subscriptions.
func (s *ServerDirectory) HandlePeerStopped(ev *PeerStopped) error {
	desc, ok := s.repo.Get(ev.Peer.ID)
	if !ok {
		return nil
	}
	desc.Peer.IsUp = false
	desc.Peer.IsResponding = false
	if ev.TimestampUTC != 0 {
		desc.TimestampUTC = ev.TimestampUTC
	}
	if err := s.repo.AddOrUpdatePeer(desc); err != nil {
		return errors.Wrap(err, "ServerDirectory", "HandlePeerStopped", "persist descriptor")
	}
	s.notify(ev.Peer.ID, PeerUpdatedStopped)
	return nil
}

// HandlePeerDecommissioned removes the peer and all its dynamic
// subscriptions.
func (s *ServerDirectory) HandlePeerDecommissioned(ev *PeerDecommissioned) error {
	if err := s.repo.RemovePeer(ev.PeerID); err != nil {
		return errors.Wrap(err, "ServerDirectory", "HandlePeerDecommissioned", "remove peer")
	}
	s.notify(ev.PeerID, PeerUpdatedDecommissioned)
	s.updatePeerGauge()
	return nil
}

// HandlePeerSubscriptionsUpdated applies a full descriptor refresh.
func (s *ServerDirectory) HandlePeerSubscriptionsUpdated(ev *PeerSubscriptionsUpdated) error {
	if err := s.repo.AddOrUpdatePeer(ev.Descriptor); err != nil {
		return errors.Wrap(err, "ServerDirectory", "HandlePeerSubscriptionsUpdated", "persist descriptor")
	}
	s.notify(ev.Descriptor.PeerID(), PeerUpdatedUpdated)
	return nil
}

// HandlePeerSubscriptionsForTypesUpdated applies a replicated dynamic
// subscription update, preserving the sender's add/remove partition
// and timestamp.
func (s *ServerDirectory) HandlePeerSubscriptionsForTypesUpdated(ev *PeerSubscriptionsForTypesUpdated) error {
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

	submitted := 0
	applied := 0
	if len(adds) > 0 {
		n, err := s.repo.AddDynamicSubscriptionsForTypes(ev.PeerID, ts, adds)
		if err != nil {
			return errors.Wrap(err, "ServerDirectory", "HandlePeerSubscriptionsForTypesUpdated", "add dynamic subscriptions")
		}
		submitted += len(adds)
		applied += n
	}
	if len(removals) > 0 {
		n, err := s.repo.RemoveDynamicSubscriptionsForTypes(ev.PeerID, ts, removals)
		if err != nil {
			return errors.Wrap(err, "ServerDirectory", "HandlePeerSubscriptionsForTypesUpdated", "remove dynamic subscriptions")
		}
		submitted += len(removals)
		applied += n
	}
	s.countOutdated(submitted - applied)

	s.notify(ev.PeerID, PeerUpdatedUpdated)
	return nil
}

// HandlePeerResponding marks the peer as answering again.
func (s *ServerDirectory) HandlePeerResponding(ev *PeerResponding) error {
	return s.setResponding(ev.PeerID, true)
}

// HandlePeerNotResponding marks the peer unreachable.
func (s *ServerDirectory) HandlePeerNotResponding(ev *PeerNotResponding) error {
	return s.setResponding(ev.PeerID, false)
}

func (s *ServerDirectory) setResponding(peerID routing.PeerID, responding bool) error {
	desc, ok := s.repo.Get(peerID)
	if !ok {
		return nil
	}
	desc.Peer.IsResponding = responding
	if err := s.repo.AddOrUpdatePeer(desc); err != nil {
		return errors.Wrap(err, "ServerDirectory", "setResponding", "persist descriptor")
	}
	s.notify(peerID, PeerUpdatedUpdated)
	return nil
}

// HandlePingPeerCommand resets the last-ping clock to now.
func (s *ServerDirectory) HandlePingPeerCommand(*PingPeerCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registered {
		s.lastPing = time.Now()
	}
	return nil
}

// TimeSinceLastPing returns Infinity before registration and after
// unregistration; otherwise the elapsed time since the last ping (or
// registration, whichever came later).
func (s *ServerDirectory) TimeSinceLastPing() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.registered || s.lastPing.IsZero() {
		return Infinity
	}
	return time.Since(s.lastPing)
}

func (s *ServerDirectory) notify(peerID routing.PeerID, action PeerUpdatedAction) {
	s.mu.RLock()
	observers := make([]PeerUpdatedObserver, len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	for _, observer := range observers {
		observer(peerID, action)
	}
	if s.metrics != nil {
		s.metrics.DirectoryUpdates.WithLabelValues(action.String()).Inc()
	}
}

func (s *ServerDirectory) updatePeerGauge() {
	if s.metrics == nil {
		return
	}
	s.metrics.DirectoryPeers.Set(float64(len(s.repo.GetPeers(false))))
}

func (s *ServerDirectory) countOutdated(n int) {
	if n <= 0 {
		return
	}
	s.logger.Debug("discarded outdated subscription updates", "count", n)
	if s.metrics != nil {
		s.metrics.OutdatedUpdates.Add(float64(n))
	}
}
