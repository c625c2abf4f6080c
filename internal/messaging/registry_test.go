package messaging

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()

	var got []string
	sub := r.On("new-order", func(p json.RawMessage) { got = append(got, string(p)) })
	r.On("order-cancelled", func(json.RawMessage) { t.Fatal("wrong handler") })

	assert.Equal(t, 1, r.Dispatch("new-order", json.RawMessage(`{"order_id":"1"}`)))
	assert.Equal(t, 0, r.Dispatch("unknown", nil))

	sub.Unsubscribe()
	sub.Unsubscribe() // second call is a no-op
	assert.Equal(t, 0, r.Dispatch("new-order", json.RawMessage(`{"order_id":"2"}`)))
	assert.Equal(t, []string{`{"order_id":"1"}`}, got)
	assert.Equal(t, 0, r.HandlerCount("new-order"))
	assert.Equal(t, 1, r.HandlerCount("order-cancelled"))
}

func TestRegistryHandlerMayUnsubscribeItself(t *testing.T) {
	r := NewRegistry()

	calls := 0
	var sub Subscription
	sub = r.On("e", func(json.RawMessage) {
		calls++
		sub.Unsubscribe()
	})

	r.Dispatch("e", nil)
	r.Dispatch("e", nil)
	assert.Equal(t, 1, calls)
}

func TestRegistryConnectHooks(t *testing.T) {
	r := NewRegistry()

	n := 0
	sub := r.OnConnect(func() { n++ })
	r.NotifyConnect()
	r.NotifyConnect()
	sub.Unsubscribe()
	r.NotifyConnect()
	assert.Equal(t, 2, n)
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope("retailer-connect", map[string]string{"id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "retailer-connect", env.Event)
	assert.JSONEq(t, `{"id":"u1"}`, string(env.Data))

	raw := json.RawMessage(`{"a":1}`)
	env, err = NewEnvelope("x", raw)
	require.NoError(t, err)
	assert.Equal(t, raw, env.Data)

	_, err = NewEnvelope("x", make(chan int))
	assert.Error(t, err)
}
