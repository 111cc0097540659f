// Package config loads and validates the bus configuration: peer
// identity, directory endpoints, transport tuning and dispatch queue
// sizing. Configuration is JSON with environment variable overrides;
// structural validation runs against a JSON schema before the typed
// checks.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c360/peerbus/errors"
	"github.com/c360/peerbus/routing"
)

// Config is the complete bus configuration.
type Config struct {
	PeerID       routing.PeerID  `json:"peer_id"`
	Environment  string          `json:"environment"`
	IsPersistent bool            `json:"is_persistent"`
	Directory    DirectoryConfig `json:"directory"`
	Transport    TransportConfig `json:"transport"`
	Dispatch     DispatchConfig  `json:"dispatch"`
	NATS         NATSConfig      `json:"nats,omitempty"`
}

// DirectoryConfig tunes the peer directory client and server.
type DirectoryConfig struct {
	Endpoints []string `json:"endpoints"`
	// DisableDynamicSubscriptionsForOutgoingMessages makes the
	// directory resolve outgoing messages on static subscriptions only.
	DisableDynamicSubscriptionsForOutgoingMessages bool `json:"disable_dynamic_subscriptions_for_outgoing,omitempty"`
	PingInterval                                   Duration `json:"ping_interval,omitempty"`
}

// TransportConfig tunes the transport adapter.
type TransportConfig struct {
	// Adapter selects the frame adapter: "zmq", "websocket" or
	// "channel".
	Adapter              string   `json:"adapter"`
	Endpoint             string   `json:"endpoint,omitempty"`
	ReceiveTimeout       Duration `json:"receive_timeout,omitempty"`
	ReceiveHighWaterMark int      `json:"receive_high_water_mark,omitempty"`
}

// QueueConfig tunes one named dispatch queue.
type QueueConfig struct {
	BatchSize int `json:"batch_size"`
}

// DispatchConfig tunes the dispatcher and its queues.
type DispatchConfig struct {
	DefaultBatchSize int                    `json:"default_batch_size,omitempty"`
	Queues           map[string]QueueConfig `json:"queues,omitempty"`
}

// NATSConfig locates the optional directory persistence bucket.
type NATSConfig struct {
	URL    string `json:"url,omitempty"`
	Bucket string `json:"bucket,omitempty"`
}

// Duration wraps time.Duration with "100ms"-style JSON encoding.
type Duration time.Duration

// MarshalJSON encodes the duration in time.Duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or integer nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", asString, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var asInt int64
	if err := json.Unmarshal(data, &asInt); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(asInt)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the standard configuration; callers fill in the peer
// identity.
func Default() *Config {
	return &Config{
		Environment: "dev",
		Directory: DirectoryConfig{
			PingInterval: Duration(30 * time.Second),
		},
		Transport: TransportConfig{
			Adapter:              "zmq",
			Endpoint:             "tcp://*:0",
			ReceiveTimeout:       Duration(100 * time.Millisecond),
			ReceiveHighWaterMark: 40000,
		},
		Dispatch: DispatchConfig{
			DefaultBatchSize: 100,
		},
	}
}

// Load reads, overrides and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Config", "Load", "read file")
	}
	return Parse(data)
}

// Parse decodes, overrides and validates raw JSON configuration.
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapFatal(err, "Config", "Parse", "decode json")
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override identity and
// endpoints without editing the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PEERBUS_PEER_ID"); v != "" {
		c.PeerID = routing.PeerID(v)
	}
	if v := os.Getenv("PEERBUS_ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("PEERBUS_TRANSPORT_ENDPOINT"); v != "" {
		c.Transport.Endpoint = v
	}
	if v := os.Getenv("PEERBUS_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("PEERBUS_RECEIVE_HWM"); v != "" {
		if hwm, err := strconv.Atoi(v); err == nil {
			c.Transport.ReceiveHighWaterMark = hwm
		}
	}
}

// Validate applies the typed configuration rules. Failures are fatal:
// configuration errors are startup-only and never reached by in-flight
// dispatch.
func (c *Config) Validate() error {
	if c.PeerID.IsEmpty() {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate", "check peer_id")
	}
	if c.Environment == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate", "check environment")
	}

	switch c.Transport.Adapter {
	case "zmq", "websocket", "channel":
	default:
		return errors.WrapFatal(
			fmt.Errorf("%w: unknown transport adapter %q", errors.ErrInvalidConfig, c.Transport.Adapter),
			"Config", "Validate", "check transport adapter")
	}

	if c.Dispatch.DefaultBatchSize < 1 {
		return errors.WrapFatal(
			fmt.Errorf("%w: default_batch_size must be >= 1", errors.ErrInvalidConfig),
			"Config", "Validate", "check dispatch batch size")
	}
	for name, queue := range c.Dispatch.Queues {
		if queue.BatchSize < 1 {
			return errors.WrapFatal(
				fmt.Errorf("%w: queue %q batch_size must be >= 1", errors.ErrInvalidConfig, name),
				"Config", "Validate", "check queue batch size")
		}
	}

	if c.Transport.ReceiveHighWaterMark < 0 {
		return errors.WrapFatal(
			fmt.Errorf("%w: receive_high_water_mark cannot be negative", errors.ErrInvalidConfig),
			"Config", "Validate", "check receive high water mark")
	}
	return nil
}
