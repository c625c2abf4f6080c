package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ID is an identifier issued by the backend. Some payloads carry numeric ids,
// so it accepts both JSON strings and numbers.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to decode id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("failed to decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Role selects the REST scope and the presence channel of a session.
type Role string

const (
	RoleWholesaler Role = "wholesaler"
	RoleRetailer   Role = "retailer"
)

func (r Role) Valid() bool { return r == RoleWholesaler || r == RoleRetailer }

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is accepted.
func (s Status) Terminal() bool { return s == StatusDelivered || s == StatusCancelled }

// Product is the catalogue entry a retailer adds to the cart.
type Product struct {
	ProductID    ID              `json:"product_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	WholesalerID ID              `json:"wholesaler_id"`
}

// CartLine is one product in the cart.
type CartLine struct {
	ProductID    ID              `json:"product_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	WholesalerID ID              `json:"wholesaler_id"`
	Sync         SyncState       `json:"-"`
}

// Subtotal returns price times quantity.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Address is a delivery address.
type Address struct {
	Street string `json:"street,omitempty"`
	City   string `json:"city,omitempty"`
	State  string `json:"state,omitempty"`
	Zip    string `json:"zip,omitempty"`
}

func (a Address) IsEmpty() bool {
	return strings.TrimSpace(a.Street+a.City+a.State+a.Zip) == ""
}

func (a Address) String() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Street, a.City, a.State, a.Zip} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// OrderItem is the line item of an order. The backend stores one item per order.
type OrderItem struct {
	ProductID    ID              `json:"product_id,omitempty"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	WholesalerID ID              `json:"wholesaler_id,omitempty"`
}

// Order represents a placed order.
type Order struct {
	OrderID   ID        `json:"order_id"`
	UserID    ID        `json:"user_id"`
	Status    Status    `json:"status"`
	Items     OrderItem `json:"order_items"`
	Address   Address   `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	Sync      SyncState `json:"-"`
}

// Total returns the order value.
func (o Order) Total() decimal.Decimal {
	return o.Items.Price.Mul(decimal.NewFromInt(int64(o.Items.Quantity)))
}

// User is the authenticated account as returned by the auth endpoint.
type User struct {
	UserID  ID      `json:"userId"`
	Role    Role    `json:"role"`
	Name    string  `json:"name,omitempty"`
	Address Address `json:"address"`
}

// Session is the authenticated client session.
type Session struct {
	Token  string
	Role   Role
	UserID ID
}

// NotificationType mirrors the push event that produced a notification.
type NotificationType string

const (
	NotificationNewOrder       NotificationType = EventNewOrder
	NotificationOrderCancelled NotificationType = EventOrderCancelled
	NotificationOrderCompleted NotificationType = EventOrderCompleted
	NotificationNewRetailer    NotificationType = EventNewRetailer
)

// Notification is one entry of the notification feed.
type Notification struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	Payload    json.RawMessage  `json:"data"`
	Read       bool             `json:"read"`
	Audience   Role             `json:"for"`
	ReceivedAt time.Time        `json:"received_at"`
}
