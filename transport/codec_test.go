package transport

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/peerbus/routing"
)

func sampleMessage() *TransportMessage {
	return &TransportMessage{
		ID:            uuid.MustParse("2d1a9b38-8c1e-4f2a-a631-9d5a3c2b1e0f"),
		MessageTypeID: "Abc.Orders.OrderPlaced",
		Content:       []byte(`{"order_id":10}`),
		Originator: OriginatorInfo{
			SenderID:       "Abc.Service.0",
			SenderEndpoint: "tcp://abc:42",
			SenderMachine:  "abc-host",
			InitiatorUser:  "u.name",
		},
		Environment:  "prod",
		WasPersisted: true,
		PersistentPeerIDs: []routing.PeerID{
			"Abc.Persistence.0",
			"Abc.Persistence.1",
		},
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	original := sampleMessage()

	decoded, ok := ReadMessage(WriteMessage(original))
	require.True(t, ok)
	assert.Empty(t, cmp.Diff(*original, decoded))
}

func TestCodec_RoundTripIsBitExact(t *testing.T) {
	original := sampleMessage()
	wire := WriteMessage(original)

	decoded, ok := ReadMessage(wire)
	require.True(t, ok)
	assert.Equal(t, wire, WriteMessage(&decoded))
}

func TestCodec_RoundTripMinimalMessage(t *testing.T) {
	original := &TransportMessage{ID: uuid.New(), MessageTypeID: "T"}

	decoded, ok := ReadMessage(WriteMessage(original))
	require.True(t, ok)
	assert.Empty(t, cmp.Diff(*original, decoded))
	assert.Nil(t, decoded.PersistentPeerIDs)
	assert.Nil(t, decoded.Content)
}

func TestCodec_PersistentPeerIDsAppendedOutOfBand(t *testing.T) {
	original := sampleMessage()
	original.PersistentPeerIDs = nil
	base := WriteMessage(original)

	original.PersistentPeerIDs = []routing.PeerID{"Late.Peer.0"}
	extended := WriteMessage(original)

	// The appended form is the base frame plus the extra peer id.
	assert.Equal(t, base, extended[:len(base)])

	decoded, ok := ReadMessage(extended)
	require.True(t, ok)
	assert.Equal(t, original.PersistentPeerIDs, decoded.PersistentPeerIDs)
}

func TestCodec_MalformedFramesYieldDefaultAndFalse(t *testing.T) {
	valid := WriteMessage(sampleMessage())

	cases := map[string][]byte{
		"empty":               {},
		"short id":            valid[:8],
		"truncated mid-field": valid[:20],
		"truncated content":   valid[:50],
		"truncated tail":      valid[:len(valid)-3],
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			msg, ok := ReadMessage(data)
			assert.False(t, ok)
			assert.Equal(t, TransportMessage{}, msg)
		})
	}
}

func TestCodec_OverflowingLengthIsRejected(t *testing.T) {
	valid := WriteMessage(sampleMessage())
	// Corrupt the type id length to claim more bytes than the frame
	// holds.
	corrupted := make([]byte, len(valid))
	copy(corrupted, valid)
	corrupted[16] = 0xFF
	corrupted[17] = 0xFF
	corrupted[18] = 0xFF
	corrupted[19] = 0xFF

	msg, ok := ReadMessage(corrupted)
	assert.False(t, ok)
	assert.Equal(t, TransportMessage{}, msg)
}
