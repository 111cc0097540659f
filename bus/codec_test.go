package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/peerbus/routing"
)

const orderPlacedTypeID routing.MessageTypeID = "Abc.Testing.OrderPlaced"

// orderPlaced is a routable test event.
type orderPlaced struct {
	OrderID int    `json:"order_id"`
	Region  string `json:"region"`
}

func (orderPlaced) MessageTypeID() routing.MessageTypeID { return orderPlacedTypeID }

// inventoryChecked is registered with a factory but does not implement
// the Message interface; its id resolves by reflection.
type inventoryChecked struct {
	SKU string `json:"sku"`
}

const inventoryCheckedTypeID routing.MessageTypeID = "Abc.Testing.InventoryChecked"

func init() {
	routing.RegisterMessageType(routing.MessageTypeDescriptor{
		ID: orderPlacedTypeID,
		RoutingMembers: []routing.RoutingMember{
			{Name: "OrderID", Get: func(msg any) any { return msg.(*orderPlaced).OrderID }},
			{Name: "Region", Get: func(msg any) any { return msg.(*orderPlaced).Region }},
		},
		New: func() any { return &orderPlaced{} },
	})
	routing.RegisterMessageType(routing.MessageTypeDescriptor{
		ID:  inventoryCheckedTypeID,
		New: func() any { return &inventoryChecked{} },
	})
}

func TestTypeIDOf_MessageInterface(t *testing.T) {
	id, err := TypeIDOf(&orderPlaced{})
	require.NoError(t, err)
	assert.Equal(t, orderPlacedTypeID, id)
}

func TestTypeIDOf_ReflectionFallback(t *testing.T) {
	id, err := TypeIDOf(&inventoryChecked{})
	require.NoError(t, err)
	assert.Equal(t, inventoryCheckedTypeID, id)

	// Second resolution hits the cache.
	id, err = TypeIDOf(&inventoryChecked{})
	require.NoError(t, err)
	assert.Equal(t, inventoryCheckedTypeID, id)
}

func TestTypeIDOf_UnknownTypeFails(t *testing.T) {
	type stranger struct{}
	_, err := TypeIDOf(&stranger{})
	assert.Error(t, err)
}

func TestPayloadRoundTrip(t *testing.T) {
	original := &orderPlaced{OrderID: 10, Region: "eu"}

	data, err := EncodePayload(original)
	require.NoError(t, err)

	decoded, err := DecodePayload(orderPlacedTypeID, data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodePayload_UnknownType(t *testing.T) {
	_, err := DecodePayload("Abc.Testing.Nope", []byte(`{}`))
	assert.Error(t, err)
}

func TestDecodePayload_InvalidJSON(t *testing.T) {
	_, err := DecodePayload(orderPlacedTypeID, []byte(`{not json`))
	assert.Error(t, err)
}
