package routing

import (
	"fmt"
	"sync"
)

// MessageTypeID is the fully-qualified name of a message type, with no
// assembly or version qualifier (e.g. "Abc.Orders.OrderPlaced").
type MessageTypeID string

// String returns the textual form of the type id.
func (id MessageTypeID) String() string {
	return string(id)
}

// IsEmpty reports whether the id is unset.
func (id MessageTypeID) IsEmpty() bool {
	return id == ""
}

// RoutingMember declares one routing field of a message type. Members
// are evaluated in declaration order when extracting routing content.
// Get receives the message instance and returns the raw member value;
// a nil value extracts as the empty string.
type RoutingMember struct {
	Name string
	Get  func(msg any) any
}

// MessageTypeDescriptor describes how a message type participates in
// routing: its identity and its routing members in declaration order.
type MessageTypeDescriptor struct {
	ID             MessageTypeID
	RoutingMembers []RoutingMember
	// New creates a zero instance for payload decoding; optional.
	New func() any
}

// IsRoutable reports whether the type declares routing members.
func (d *MessageTypeDescriptor) IsRoutable() bool {
	return d != nil && len(d.RoutingMembers) > 0
}

// The process-wide descriptor registry. Populated at init time by
// message packages and immutable afterwards; reads take the fast path
// through an RWMutex.
var typeRegistry = struct {
	mu   sync.RWMutex
	byID map[MessageTypeID]*MessageTypeDescriptor
}{byID: make(map[MessageTypeID]*MessageTypeDescriptor)}

// RegisterMessageType records a descriptor in the process-wide registry.
// Registering the same id twice panics: descriptors are declarations,
// not runtime state.
func RegisterMessageType(desc MessageTypeDescriptor) {
	if desc.ID.IsEmpty() {
		panic("routing: RegisterMessageType called with empty MessageTypeID")
	}
	typeRegistry.mu.Lock()
	defer typeRegistry.mu.Unlock()
	if _, exists := typeRegistry.byID[desc.ID]; exists {
		panic(fmt.Sprintf("routing: message type %q already registered", desc.ID))
	}
	copied := desc
	typeRegistry.byID[desc.ID] = &copied
}

// DescriptorOf returns the registered descriptor for a type id.
func DescriptorOf(id MessageTypeID) (*MessageTypeDescriptor, bool) {
	typeRegistry.mu.RLock()
	defer typeRegistry.mu.RUnlock()
	desc, ok := typeRegistry.byID[id]
	return desc, ok
}

// RegisteredTypeIDs returns all registered type ids. Test helper and
// diagnostics surface.
func RegisteredTypeIDs() []MessageTypeID {
	typeRegistry.mu.RLock()
	defer typeRegistry.mu.RUnlock()
	ids := make([]MessageTypeID, 0, len(typeRegistry.byID))
	for id := range typeRegistry.byID {
		ids = append(ids, id)
	}
	return ids
}
