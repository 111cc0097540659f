package transport

import (
	"github.com/google/uuid"

	"github.com/c360/peerbus/routing"
)

// OriginatorInfo identifies where a message came from.
type OriginatorInfo struct {
	SenderID       routing.PeerID `json:"sender_id"`
	SenderEndpoint string         `json:"sender_endpoint"`
	SenderMachine  string         `json:"sender_machine"`
	InitiatorUser  string         `json:"initiator_user"`
}

// TransportMessage is the wire-level frame payload: an envelope around
// a serialized message body.
type TransportMessage struct {
	ID            uuid.UUID
	MessageTypeID routing.MessageTypeID
	Content       []byte
	Originator    OriginatorInfo
	Environment   string
	WasPersisted  bool
	// PersistentPeerIDs is carried out-of-band, appended after the
	// envelope so the persistence service can stamp targets without
	// re-encoding the message.
	PersistentPeerIDs []routing.PeerID
}

// NewTransportMessage builds an envelope with a fresh id.
func NewTransportMessage(typeID routing.MessageTypeID, content []byte, originator OriginatorInfo, environment string) *TransportMessage {
	return &TransportMessage{
		ID:            uuid.New(),
		MessageTypeID: typeID,
		Content:       content,
		Originator:    originator,
		Environment:   environment,
	}
}
