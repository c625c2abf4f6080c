package entity

import (
	"encoding/json"
	"fmt"
)

// Event names shared with the backend. They must not change.
const (
	EventNewOrder          = "new-order"
	EventOrderCancelled    = "order-cancelled"
	EventOrderCompleted    = "order-completed"
	EventOrderComplete     = "order-complete" // legacy alias of order-completed
	EventNewRetailer       = "new-retailer"
	EventWholesalerConnect = "wholesaler-connect"
	EventRetailerConnect   = "retailer-connect"
)

// InboundEvents lists every event name the client subscribes to.
var InboundEvents = []string{
	EventNewOrder,
	EventOrderCancelled,
	EventOrderCompleted,
	EventOrderComplete,
	EventNewRetailer,
}

// Event represents a push event received from the transport.
type Event interface {
	EventType() string
	RawPayload() json.RawMessage
}

// NewOrder is pushed to wholesalers when a retailer places an order.
type NewOrder struct {
	Order Order
	Raw   json.RawMessage
}

func (e NewOrder) EventType() string           { return EventNewOrder }
func (e NewOrder) RawPayload() json.RawMessage { return e.Raw }

// OrderCancelled is pushed when a retailer cancels a pending order.
type OrderCancelled struct {
	OrderID ID
	Raw     json.RawMessage
}

func (e OrderCancelled) EventType() string           { return EventOrderCancelled }
func (e OrderCancelled) RawPayload() json.RawMessage { return e.Raw }

// OrderCompleted is pushed when a wholesaler delivers an order.
type OrderCompleted struct {
	OrderID ID
	Raw     json.RawMessage
}

func (e OrderCompleted) EventType() string           { return EventOrderCompleted }
func (e OrderCompleted) RawPayload() json.RawMessage { return e.Raw }

// NewRetailer is pushed to a wholesaler when a retailer joins through an invite.
type NewRetailer struct {
	RetailerID ID              `json:"retailer_id"`
	Name       string          `json:"name"`
	Raw        json.RawMessage `json:"-"`
}

func (e NewRetailer) EventType() string           { return EventNewRetailer }
func (e NewRetailer) RawPayload() json.RawMessage { return e.Raw }

// Presence is the payload of the *-connect events the client emits.
type Presence struct {
	ID ID `json:"id"`
}

// PresenceEvent returns the event name a role announces itself with.
func PresenceEvent(role Role) string {
	if role == RoleWholesaler {
		return EventWholesalerConnect
	}
	return EventRetailerConnect
}

type orderRef struct {
	OrderID ID `json:"order_id"`
}

// DecodeEvent validates a transport payload and turns it into a typed event.
// Anything that does not fit the contract fails with ErrMalformedEvent.
func DecodeEvent(name string, payload []byte) (Event, error) {
	raw := json.RawMessage(append([]byte(nil), payload...))
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: %s: invalid json", ErrMalformedEvent, name)
	}

	switch name {
	case EventNewOrder:
		var o Order
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, name, err)
		}
		if o.OrderID == "" {
			return nil, fmt.Errorf("%w: %s: missing order_id", ErrMalformedEvent, name)
		}
		// Orders are always created pending, whatever the payload says.
		o.Status = StatusPending
		o.Sync = Confirmed()
		return NewOrder{Order: o, Raw: raw}, nil
	case EventOrderCancelled, EventOrderCompleted, EventOrderComplete:
		var ref orderRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, name, err)
		}
		if ref.OrderID == "" {
			return nil, fmt.Errorf("%w: %s: missing order_id", ErrMalformedEvent, name)
		}
		if name == EventOrderCancelled {
			return OrderCancelled{OrderID: ref.OrderID, Raw: raw}, nil
		}
		return OrderCompleted{OrderID: ref.OrderID, Raw: raw}, nil
	case EventNewRetailer:
		var e NewRetailer
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, name, err)
		}
		e.Raw = raw
		return e, nil
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrMalformedEvent, name)
	}
}
