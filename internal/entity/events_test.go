package entity

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	t.Run("new order is always pending", func(t *testing.T) {
		ev, err := DecodeEvent(EventNewOrder, []byte(`{
			"order_id": 100, "user_id": "u1", "status": "delivered",
			"order_items": {"name": "Rice", "price": 80, "quantity": 2},
			"address": {"city": "Pune"}, "created_at": "2024-05-01T10:00:00Z"}`))
		require.NoError(t, err)

		no, ok := ev.(NewOrder)
		require.True(t, ok)
		assert.Equal(t, ID("100"), no.Order.OrderID)
		assert.Equal(t, StatusPending, no.Order.Status)
		assert.Equal(t, "160", no.Order.Total().String())
		assert.Equal(t, EventNewOrder, ev.EventType())
	})

	t.Run("order-complete alias decodes as completed", func(t *testing.T) {
		ev, err := DecodeEvent(EventOrderComplete, []byte(`{"order_id":"O1"}`))
		require.NoError(t, err)
		assert.Equal(t, OrderCompleted{OrderID: "O1", Raw: json.RawMessage(`{"order_id":"O1"}`)}, ev)
	})

	t.Run("cancelled", func(t *testing.T) {
		ev, err := DecodeEvent(EventOrderCancelled, []byte(`{"order_id":"O2","reason":"x"}`))
		require.NoError(t, err)
		target, ok := TargetStatus(ev)
		assert.True(t, ok)
		assert.Equal(t, StatusCancelled, target)
	})

	t.Run("new retailer keeps raw payload", func(t *testing.T) {
		ev, err := DecodeEvent(EventNewRetailer, []byte(`{"retailer_id":7,"name":"Shop"}`))
		require.NoError(t, err)
		nr := ev.(NewRetailer)
		assert.Equal(t, ID("7"), nr.RetailerID)
		assert.JSONEq(t, `{"retailer_id":7,"name":"Shop"}`, string(ev.RawPayload()))
	})

	malformed := []struct {
		name    string
		event   string
		payload string
	}{
		{"invalid json", EventNewOrder, `{"order_id":`},
		{"missing order id", EventOrderCancelled, `{"status":"cancelled"}`},
		{"new order without id", EventNewOrder, `{"status":"pending"}`},
		{"wrong type", EventOrderCompleted, `{"order_id":{"a":1}}`},
		{"unknown event", "price-changed", `{}`},
	}
	for _, tt := range malformed {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent(tt.event, []byte(tt.payload))
			assert.True(t, errors.Is(err, ErrMalformedEvent), "got %v", err)
		})
	}
}

func TestOrderTransition(t *testing.T) {
	o := Order{OrderID: "O1", Status: StatusPending}
	require.NoError(t, o.Transition(StatusDelivered))
	assert.Equal(t, StatusDelivered, o.Status)

	err := o.Transition(StatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusDelivered, o.Status)

	p := Order{OrderID: "O2", Status: StatusPending}
	assert.ErrorIs(t, p.Transition(StatusPending), ErrInvalidTransition)
}

func TestPresenceEvent(t *testing.T) {
	assert.Equal(t, "wholesaler-connect", PresenceEvent(RoleWholesaler))
	assert.Equal(t, "retailer-connect", PresenceEvent(RoleRetailer))
}
