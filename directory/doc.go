// Package directory implements the peer directory: the replicated
// registration, subscription and liveness service that lets any peer
// locate the peers responsible for handling a message.
//
// # Roles
//
// ServerDirectory is the authoritative side. It persists peer
// descriptors in a Repository, publishes directory events on the bus
// (PeerStarted, PeerStopped, PeerSubscriptionsForTypesUpdated, ...)
// and answers GetPeersHandling by evaluating subscriptions against the
// repository.
//
// ClientDirectory is the replica every ordinary peer runs. It applies
// the directory event stream to a local repository and indexes the
// resulting subscriptions in a routing.SubscriptionTree, so outbound
// publishes resolve target peers without a network round trip.
//
// # Timestamp discipline
//
// Dynamic subscription updates are guarded by one timestamp per
// (peer, type), shared by adds and removes and compared with strict
// ">". Timestamps are
// UTC and rounded to millisecond granularity at the repository
// boundary; an update at or before the last applied instant is
// silently discarded. UpdateSubscriptions synthesizes a single instant
// and uses it both for the repository mutation and the published
// event, so every replica applies the same partition at the same
// timestamp.
package directory
