package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/peerbus/errors"
)

// configSchema is the structural contract a configuration document
// must satisfy before typed decoding. Typed rules (batch size bounds,
// adapter names) live in Validate; the schema rejects shape errors
// with field-level diagnostics.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["peer_id"],
  "properties": {
    "peer_id": {"type": "string", "minLength": 1},
    "environment": {"type": "string"},
    "is_persistent": {"type": "boolean"},
    "directory": {
      "type": "object",
      "properties": {
        "endpoints": {"type": "array", "items": {"type": "string"}},
        "disable_dynamic_subscriptions_for_outgoing": {"type": "boolean"},
        "ping_interval": {"type": ["string", "integer"]}
      },
      "additionalProperties": false
    },
    "transport": {
      "type": "object",
      "properties": {
        "adapter": {"type": "string"},
        "endpoint": {"type": "string"},
        "receive_timeout": {"type": ["string", "integer"]},
        "receive_high_water_mark": {"type": "integer"}
      },
      "additionalProperties": false
    },
    "dispatch": {
      "type": "object",
      "properties": {
        "default_batch_size": {"type": "integer"},
        "queues": {
          "type": "object",
          "additionalProperties": {
            "type": "object",
            "required": ["batch_size"],
            "properties": {"batch_size": {"type": "integer"}},
            "additionalProperties": false
          }
        }
      },
      "additionalProperties": false
    },
    "nats": {
      "type": "object",
      "properties": {
        "url": {"type": "string"},
        "bucket": {"type": "string"}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

// validateSchema checks a raw document against the config schema.
func validateSchema(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return errors.WrapFatal(err, "Config", "validateSchema", "run schema validation")
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return errors.WrapFatal(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(details, "; ")),
		"Config", "validateSchema", "check document structure")
}
