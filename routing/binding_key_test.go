package routing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBindingKey(t *testing.T) {
	bk := ParseBindingKey("orders.*.eu")
	assert.Equal(t, 3, bk.PartCount())
	assert.Equal(t, []string{"orders", "*", "eu"}, bk.Parts())

	empty := ParseBindingKey("")
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, 0, empty.PartCount())
}

func TestBindingKey_PartToken(t *testing.T) {
	bk := NewBindingKey("a", "b")

	token, ok := bk.PartToken(0)
	require.True(t, ok)
	assert.Equal(t, "a", token)

	token, ok = bk.PartToken(1)
	require.True(t, ok)
	assert.Equal(t, "b", token)

	_, ok = bk.PartToken(2)
	assert.False(t, ok)
	_, ok = bk.PartToken(-1)
	assert.False(t, ok)
}

func TestBindingKey_Validate(t *testing.T) {
	assert.NoError(t, NewBindingKey("a", "*", "#").Validate())
	assert.NoError(t, NewBindingKey("#").Validate())
	assert.NoError(t, EmptyBindingKey.Validate())
	assert.Error(t, NewBindingKey("#", "a").Validate())
	assert.Error(t, NewBindingKey("a", "#", "b").Validate())
}

func TestMustBindingKey_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { MustBindingKey("a.#.b") })
	assert.NotPanics(t, func() { MustBindingKey("a.#") })
}

func TestBindingKey_JSONRoundTripPreservesOrder(t *testing.T) {
	bk := NewBindingKey("z", "a", "m")
	data, err := json.Marshal(bk)
	require.NoError(t, err)
	assert.JSONEq(t, `["z","a","m"]`, string(data))

	var decoded BindingKey
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, bk.Equals(decoded))
	assert.Equal(t, []string{"z", "a", "m"}, decoded.Parts())
}

func TestBindingKey_Equals(t *testing.T) {
	assert.True(t, NewBindingKey("a", "b").Equals(NewBindingKey("a", "b")))
	assert.False(t, NewBindingKey("a", "b").Equals(NewBindingKey("b", "a")))
	assert.False(t, NewBindingKey("a").Equals(NewBindingKey("a", "b")))
	assert.True(t, EmptyBindingKey.Equals(NewBindingKey()))
}

func TestBindingKey_PartsIsACopy(t *testing.T) {
	bk := NewBindingKey("a", "b")
	parts := bk.Parts()
	parts[0] = "mutated"
	token, _ := bk.PartToken(0)
	assert.Equal(t, "a", token)
}
