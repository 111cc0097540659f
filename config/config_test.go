package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	buserrors "github.com/c360/peerbus/errors"
)

const validConfig = `{
  "peer_id": "Abc.Service.0",
  "environment": "prod",
  "is_persistent": true,
  "directory": {
    "endpoints": ["tcp://dir1:129", "tcp://dir2:129"],
    "disable_dynamic_subscriptions_for_outgoing": true,
    "ping_interval": "15s"
  },
  "transport": {
    "adapter": "zmq",
    "endpoint": "tcp://*:4242",
    "receive_timeout": "250ms",
    "receive_high_water_mark": 1000
  },
  "dispatch": {
    "default_batch_size": 50,
    "queues": {"orders": {"batch_size": 1}}
  },
  "nats": {"url": "nats://localhost:4222", "bucket": "peerbus-directory"}
}`

func TestParse_ValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	assert.Equal(t, "Abc.Service.0", cfg.PeerID.String())
	assert.Equal(t, "prod", cfg.Environment)
	assert.True(t, cfg.IsPersistent)
	assert.Equal(t, []string{"tcp://dir1:129", "tcp://dir2:129"}, cfg.Directory.Endpoints)
	assert.True(t, cfg.Directory.DisableDynamicSubscriptionsForOutgoingMessages)
	assert.Equal(t, 15*time.Second, cfg.Directory.PingInterval.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Transport.ReceiveTimeout.Std())
	assert.Equal(t, 1000, cfg.Transport.ReceiveHighWaterMark)
	assert.Equal(t, 50, cfg.Dispatch.DefaultBatchSize)
	assert.Equal(t, 1, cfg.Dispatch.Queues["orders"].BatchSize)
}

func TestParse_DefaultsApply(t *testing.T) {
	cfg, err := Parse([]byte(`{"peer_id": "Abc.Service.0"}`))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Environment)
	assert.Equal(t, "zmq", cfg.Transport.Adapter)
	assert.Equal(t, 100*time.Millisecond, cfg.Transport.ReceiveTimeout.Std())
	assert.Equal(t, 40000, cfg.Transport.ReceiveHighWaterMark)
	assert.Equal(t, 100, cfg.Dispatch.DefaultBatchSize)
}

func TestParse_MissingPeerIDFails(t *testing.T) {
	_, err := Parse([]byte(`{"environment": "prod"}`))
	require.Error(t, err)
	assert.True(t, buserrors.IsFatal(err))
}

func TestParse_SchemaRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`{"peer_id": "Abc.Service.0", "unknown_field": true}`))
	require.Error(t, err)
	assert.True(t, buserrors.IsFatal(err))
	assert.Contains(t, err.Error(), "unknown_field")
}

func TestParse_SchemaRejectsWrongTypes(t *testing.T) {
	_, err := Parse([]byte(`{"peer_id": "Abc.Service.0", "dispatch": {"default_batch_size": "many"}}`))
	assert.Error(t, err)
}

func TestValidate_BatchSizeBounds(t *testing.T) {
	_, err := Parse([]byte(`{"peer_id": "P.0", "dispatch": {"default_batch_size": 0}}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"peer_id": "P.0", "dispatch": {"queues": {"q": {"batch_size": 0}}}}`))
	assert.Error(t, err)
}

func TestValidate_UnknownAdapterFails(t *testing.T) {
	_, err := Parse([]byte(`{"peer_id": "P.0", "transport": {"adapter": "carrier-pigeon"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("PEERBUS_PEER_ID", "Env.Peer.9")
	t.Setenv("PEERBUS_ENVIRONMENT", "staging")
	t.Setenv("PEERBUS_RECEIVE_HWM", "123")

	cfg, err := Parse([]byte(`{"peer_id": "File.Peer.0"}`))
	require.NoError(t, err)
	assert.Equal(t, "Env.Peer.9", cfg.PeerID.String())
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 123, cfg.Transport.ReceiveHighWaterMark)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.json")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Abc.Service.0", cfg.PeerID.String())
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, buserrors.IsFatal(err))
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Std())

	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	require.NoError(t, d.UnmarshalJSON([]byte(`1000000`)))
	assert.Equal(t, time.Millisecond, d.Std())

	assert.Error(t, d.UnmarshalJSON([]byte(`"not-a-duration"`)))
}
