package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePriority is an enum-like routing member rendered by name.
type fakePriority int

const (
	priorityLow fakePriority = iota
	priorityHigh
)

func (p fakePriority) String() string {
	if p == priorityHigh {
		return "High"
	}
	return "Low"
}

type fakeRoutableCommand struct {
	ID       int
	Name     string
	Urgent   bool
	Priority fakePriority
}

func fakeRoutableDescriptor() *MessageTypeDescriptor {
	return &MessageTypeDescriptor{
		ID: fakeRoutableCommandID,
		RoutingMembers: []RoutingMember{
			{Name: "ID", Get: func(msg any) any { return msg.(*fakeRoutableCommand).ID }},
			{Name: "Name", Get: func(msg any) any { return msg.(*fakeRoutableCommand).Name }},
		},
	}
}

func TestContentFromMessage_ExtractsInDeclarationOrder(t *testing.T) {
	cmd := &fakeRoutableCommand{ID: 10, Name: "u.name"}
	content := ContentFromMessage(cmd, fakeRoutableDescriptor())

	require.Equal(t, 2, content.PartCount())
	assert.Equal(t, "10", content.Part(0))
	assert.Equal(t, "u.name", content.Part(1))
}

func TestContentFromMessage_MatchesScenario(t *testing.T) {
	cmd := &fakeRoutableCommand{ID: 10, Name: "u.name"}
	content := ContentFromMessage(cmd, fakeRoutableDescriptor())

	matching := NewSubscription(fakeRoutableCommandID, NewBindingKey("10", "#"))
	assert.True(t, matching.Matches(fakeRoutableCommandID, content))

	nonMatching := NewSubscription(fakeRoutableCommandID, NewBindingKey("12", "#"))
	assert.False(t, nonMatching.Matches(fakeRoutableCommandID, content))
}

func TestContentFromMessage_ValueFormatting(t *testing.T) {
	desc := &MessageTypeDescriptor{
		ID: fakeRoutableCommandID,
		RoutingMembers: []RoutingMember{
			{Name: "Urgent", Get: func(msg any) any { return msg.(*fakeRoutableCommand).Urgent }},
			{Name: "Priority", Get: func(msg any) any { return msg.(*fakeRoutableCommand).Priority }},
			{Name: "Missing", Get: func(msg any) any { return nil }},
		},
	}

	content := ContentFromMessage(&fakeRoutableCommand{Urgent: true, Priority: priorityHigh}, desc)
	assert.Equal(t, []string{"True", "High", ""}, content.Parts())

	content = ContentFromMessage(&fakeRoutableCommand{Urgent: false, Priority: priorityLow}, desc)
	assert.Equal(t, []string{"False", "Low", ""}, content.Parts())
}

func TestContentFromMessage_NilDescriptor(t *testing.T) {
	content := ContentFromMessage(&fakeRoutableCommand{}, nil)
	assert.True(t, content.IsEmpty())
}

func TestRegisterMessageType(t *testing.T) {
	const id MessageTypeID = "Abc.Testing.RegistryProbe"
	RegisterMessageType(MessageTypeDescriptor{ID: id})

	desc, ok := DescriptorOf(id)
	require.True(t, ok)
	assert.Equal(t, id, desc.ID)
	assert.False(t, desc.IsRoutable())

	assert.Panics(t, func() { RegisterMessageType(MessageTypeDescriptor{ID: id}) })
	assert.Panics(t, func() { RegisterMessageType(MessageTypeDescriptor{}) })
}
