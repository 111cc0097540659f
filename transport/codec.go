package transport

import (
	"encoding/binary"

	"github.com/c360/peerbus/routing"
)

// Wire layout, little-endian:
//
//	[16] message id (UUID bytes)
//	[str] message type id
//	[u32+bytes] content
//	[str] sender id, [str] sender endpoint, [str] sender machine,
//	[str] initiator user
//	[str] environment
//	[u8] was-persisted flag
//	[str]... persistent peer ids, appended until end of frame
//
// where [str] is a u32 byte length followed by UTF-8 bytes.

// WriteMessage encodes a transport message to its wire form.
func WriteMessage(msg *TransportMessage) []byte {
	size := 16 +
		stringSize(string(msg.MessageTypeID)) +
		4 + len(msg.Content) +
		stringSize(string(msg.Originator.SenderID)) +
		stringSize(msg.Originator.SenderEndpoint) +
		stringSize(msg.Originator.SenderMachine) +
		stringSize(msg.Originator.InitiatorUser) +
		stringSize(msg.Environment) +
		1
	for _, peerID := range msg.PersistentPeerIDs {
		size += stringSize(string(peerID))
	}

	buf := make([]byte, 0, size)
	buf = append(buf, msg.ID[:]...)
	buf = appendString(buf, string(msg.MessageTypeID))
	buf = appendBytes(buf, msg.Content)
	buf = appendString(buf, string(msg.Originator.SenderID))
	buf = appendString(buf, msg.Originator.SenderEndpoint)
	buf = appendString(buf, msg.Originator.SenderMachine)
	buf = appendString(buf, msg.Originator.InitiatorUser)
	buf = appendString(buf, msg.Environment)
	if msg.WasPersisted {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	for _, peerID := range msg.PersistentPeerIDs {
		buf = appendString(buf, string(peerID))
	}
	return buf
}

// ReadMessage decodes a wire frame. A frame that cannot be parsed
// yields a default-constructed message and false; the reader never
// returns an error or panics.
func ReadMessage(data []byte) (TransportMessage, bool) {
	var msg TransportMessage
	r := reader{data: data}

	idBytes, ok := r.take(16)
	if !ok {
		return TransportMessage{}, false
	}
	copy(msg.ID[:], idBytes)

	typeID, ok := r.readString()
	if !ok {
		return TransportMessage{}, false
	}
	msg.MessageTypeID = routing.MessageTypeID(typeID)

	content, ok := r.readBytes()
	if !ok {
		return TransportMessage{}, false
	}
	msg.Content = content

	fields := []*string{
		(*string)(&msg.Originator.SenderID),
		&msg.Originator.SenderEndpoint,
		&msg.Originator.SenderMachine,
		&msg.Originator.InitiatorUser,
		&msg.Environment,
	}
	for _, field := range fields {
		value, ok := r.readString()
		if !ok {
			return TransportMessage{}, false
		}
		*field = value
	}

	flag, ok := r.take(1)
	if !ok {
		return TransportMessage{}, false
	}
	msg.WasPersisted = flag[0] != 0

	// Persistent peer ids fill the remainder of the frame.
	for !r.exhausted() {
		peerID, ok := r.readString()
		if !ok {
			return TransportMessage{}, false
		}
		msg.PersistentPeerIDs = append(msg.PersistentPeerIDs, routing.PeerID(peerID))
	}

	return msg, true
}

func stringSize(s string) int {
	return 4 + len(s)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// reader is a bounds-checked cursor over a frame.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) exhausted() bool {
	return r.pos >= len(r.data)
}

func (r *reader) take(n int) ([]byte, bool) {
	if r.pos+n > len(r.data) {
		return nil, false
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, true
}

func (r *reader) readBytes() ([]byte, bool) {
	lenBytes, ok := r.take(4)
	if !ok {
		return nil, false
	}
	n := binary.LittleEndian.Uint32(lenBytes)
	if uint32(len(r.data)-r.pos) < n {
		return nil, false
	}
	if n == 0 {
		return nil, true
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, true
}

func (r *reader) readString() (string, bool) {
	b, ok := r.readBytes()
	if !ok {
		return "", false
	}
	return string(b), true
}
