package bus

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/c360/peerbus/errors"
	"github.com/c360/peerbus/routing"
)

// Message is implemented by payloads that name their own type id.
// Types registered with a New factory in the routing registry can skip
// the interface; the bus resolves their id by reflection.
type Message interface {
	MessageTypeID() routing.MessageTypeID
}

// typeIDCache maps Go types to their registered message type ids.
var typeIDCache sync.Map // reflect.Type -> routing.MessageTypeID

// TypeIDOf resolves the message type id of a payload value.
func TypeIDOf(msg any) (routing.MessageTypeID, error) {
	if typed, ok := msg.(Message); ok {
		return typed.MessageTypeID(), nil
	}

	rt := reflect.TypeOf(msg)
	if cached, ok := typeIDCache.Load(rt); ok {
		return cached.(routing.MessageTypeID), nil
	}

	for _, id := range routing.RegisteredTypeIDs() {
		desc, ok := routing.DescriptorOf(id)
		if !ok || desc.New == nil {
			continue
		}
		if reflect.TypeOf(desc.New()) == rt {
			typeIDCache.Store(rt, id)
			return id, nil
		}
	}

	return "", errors.WrapInvalid(
		fmt.Errorf("no registered message type for %T", msg),
		"Bus", "TypeIDOf", "resolve message type")
}

// EncodePayload serializes a message body for the wire.
func EncodePayload(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Bus", "EncodePayload", "marshal payload")
	}
	return data, nil
}

// DecodePayload rebuilds a message body from its wire form using the
// type's registered factory.
func DecodePayload(typeID routing.MessageTypeID, data []byte) (any, error) {
	desc, ok := routing.DescriptorOf(typeID)
	if !ok || desc.New == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrNoHandler, typeID),
			"Bus", "DecodePayload", "resolve message factory")
	}

	msg := desc.New()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, errors.WrapInvalid(err, "Bus", "DecodePayload", "unmarshal payload")
	}
	return msg, nil
}
