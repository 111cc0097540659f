package directory

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/peerbus/errors"
	"github.com/c360/peerbus/routing"
)

// KVRepository decorates a Repository with write-through persistence to
// a NATS JetStream key-value bucket: one JSON descriptor per peer key.
// Reads are always served from the inner repository; Load hydrates it
// from the bucket at startup so a restarted directory server resumes
// with the cluster state.
type KVRepository struct {
	inner   Repository
	kv      jetstream.KeyValue
	timeout time.Duration
	logger  *slog.Logger
}

// KVOption configures a KVRepository.
type KVOption func(*KVRepository)

// WithKVLogger sets the logger.
func WithKVLogger(logger *slog.Logger) KVOption {
	return func(r *KVRepository) { r.logger = logger }
}

// WithKVTimeout bounds each bucket operation.
func WithKVTimeout(timeout time.Duration) KVOption {
	return func(r *KVRepository) { r.timeout = timeout }
}

// NewKVRepository creates (or binds) the bucket and wraps the inner
// repository.
func NewKVRepository(ctx context.Context, js jetstream.JetStream, bucket string, inner Repository, opts ...KVOption) (*KVRepository, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "peer directory descriptors",
		History:     1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "KVRepository", "NewKVRepository", "create bucket")
	}

	r := &KVRepository{
		inner:   inner,
		kv:      kv,
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Load hydrates the inner repository from the bucket.
func (r *KVRepository) Load(ctx context.Context) error {
	ctx, cancel := r.applyTimeout(ctx)
	defer cancel()

	lister, err := r.kv.ListKeys(ctx)
	if err != nil {
		return errors.WrapTransient(err, "KVRepository", "Load", "list keys")
	}

	count := 0
	for key := range lister.Keys() {
		entry, err := r.kv.Get(ctx, key)
		if err != nil {
			return errors.WrapTransient(err, "KVRepository", "Load", "get key "+key)
		}
		var desc PeerDescriptor
		if err := json.Unmarshal(entry.Value(), &desc); err != nil {
			r.logger.Warn("skipping corrupt directory entry", "key", key, "error", err)
			continue
		}
		if err := r.inner.AddOrUpdatePeer(&desc); err != nil {
			return err
		}
		if len(desc.DynamicSubscriptionsByType) > 0 {
			entries := make([]routing.SubscriptionsForType, 0, len(desc.DynamicSubscriptionsByType))
			for typeID, keys := range desc.DynamicSubscriptionsByType {
				entries = append(entries, routing.SubscriptionsForType{MessageTypeID: typeID, BindingKeys: keys})
			}
			if _, err := r.inner.AddDynamicSubscriptionsForTypes(desc.PeerID(), time.UnixMilli(desc.TimestampUTC).UTC(), entries); err != nil {
				return err
			}
		}
		count++
	}

	r.logger.Info("directory state loaded", "peers", count)
	return nil
}

// AddOrUpdatePeer upserts in memory then persists the merged
// descriptor.
func (r *KVRepository) AddOrUpdatePeer(desc *PeerDescriptor) error {
	if err := r.inner.AddOrUpdatePeer(desc); err != nil {
		return err
	}
	return r.persist(desc.PeerID())
}

// Get returns the merged descriptor from the inner repository.
func (r *KVRepository) Get(peerID routing.PeerID) (*PeerDescriptor, bool) {
	return r.inner.Get(peerID)
}

// GetPeers returns every descriptor from the inner repository.
func (r *KVRepository) GetPeers(loadDynamic bool) []*PeerDescriptor {
	return r.inner.GetPeers(loadDynamic)
}

// RemovePeer removes in memory then deletes the bucket key.
func (r *KVRepository) RemovePeer(peerID routing.PeerID) error {
	if err := r.inner.RemovePeer(peerID); err != nil {
		return err
	}

	ctx, cancel := r.applyTimeout(context.Background())
	defer cancel()
	if err := r.kv.Delete(ctx, kvKey(peerID)); err != nil {
		return errors.WrapTransient(err, "KVRepository", "RemovePeer", "delete key")
	}
	return nil
}

// AddDynamicSubscriptionsForTypes applies in memory then persists.
func (r *KVRepository) AddDynamicSubscriptionsForTypes(peerID routing.PeerID, ts time.Time, subs []routing.SubscriptionsForType) (int, error) {
	applied, err := r.inner.AddDynamicSubscriptionsForTypes(peerID, ts, subs)
	if err != nil {
		return applied, err
	}
	if applied == 0 {
		return 0, nil
	}
	return applied, r.persist(peerID)
}

// RemoveDynamicSubscriptionsForTypes applies in memory then persists.
func (r *KVRepository) RemoveDynamicSubscriptionsForTypes(peerID routing.PeerID, ts time.Time, typeIDs []routing.MessageTypeID) (int, error) {
	applied, err := r.inner.RemoveDynamicSubscriptionsForTypes(peerID, ts, typeIDs)
	if err != nil {
		return applied, err
	}
	if applied == 0 {
		return 0, nil
	}
	return applied, r.persist(peerID)
}

// RemoveAllDynamicSubscriptionsForPeer applies in memory then persists.
func (r *KVRepository) RemoveAllDynamicSubscriptionsForPeer(peerID routing.PeerID, ts time.Time) (int, error) {
	applied, err := r.inner.RemoveAllDynamicSubscriptionsForPeer(peerID, ts)
	if err != nil {
		return applied, err
	}
	if applied == 0 {
		return 0, nil
	}
	return applied, r.persist(peerID)
}

// persist writes the merged descriptor for a peer to the bucket.
// A peer no longer in the inner repository is skipped: RemovePeer owns
// key deletion.
func (r *KVRepository) persist(peerID routing.PeerID) error {
	desc, ok := r.inner.Get(peerID)
	if !ok {
		return nil
	}

	data, err := json.Marshal(desc)
	if err != nil {
		return errors.WrapInvalid(err, "KVRepository", "persist", "marshal descriptor")
	}

	ctx, cancel := r.applyTimeout(context.Background())
	defer cancel()
	if _, err := r.kv.Put(ctx, kvKey(peerID), data); err != nil {
		return errors.WrapTransient(err, "KVRepository", "persist", "put descriptor")
	}
	return nil
}

func (r *KVRepository) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return ctx, func() {}
}

// kvKey maps a peer id to a bucket key. Peer id tokens are already
// dot-separated, which is the KV key separator, so ids map directly;
// any other character NATS rejects is replaced.
func kvKey(peerID routing.PeerID) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, string(peerID))
}
