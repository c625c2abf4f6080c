package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	err := bus.Emit(ctx, "retailer-connect", entity.Presence{ID: "u1"})
	assert.ErrorIs(t, err, entity.ErrNotConnected)

	connects := 0
	bus.OnConnect(func() { connects++ })
	bus.Connect()
	assert.True(t, bus.Connected())
	assert.Equal(t, 1, connects)

	require.NoError(t, bus.Emit(ctx, "retailer-connect", entity.Presence{ID: "u1"}))
	emitted := bus.Emitted()
	require.Len(t, emitted, 1)
	assert.Equal(t, "retailer-connect", emitted[0].Event)
	assert.JSONEq(t, `{"id":"u1"}`, string(emitted[0].Payload))

	var got json.RawMessage
	bus.On("new-order", func(p json.RawMessage) { got = p })
	n, err := bus.Publish("new-order", map[string]any{"order_id": "O1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.JSONEq(t, `{"order_id":"O1"}`, string(got))

	bus.Disconnect()
	assert.False(t, bus.Connected())
	bus.Connect()
	assert.Equal(t, 2, connects)
}
