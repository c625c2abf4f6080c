package gateway

import (
	"context"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/entity"
)

// CartGateway is the retailer cart API.
type CartGateway interface {
	// GetCart returns raw cart lines; the same product may appear more than once.
	GetCart(ctx context.Context) ([]entity.CartLine, error)
	AddToCart(ctx context.Context, product entity.Product, quantity int) error
	UpdateCart(ctx context.Context, productID entity.ID, quantity int) error
	DeleteFromCart(ctx context.Context, productID entity.ID) error
	// PlaceOrder submits the cart and returns the created order id.
	PlaceOrder(ctx context.Context, cart []entity.CartLine, address entity.Address) (entity.ID, error)
}

// OrderGateway is the role-scoped order API.
type OrderGateway interface {
	GetOrders(ctx context.Context, role entity.Role) ([]entity.Order, error)
	CancelOrder(ctx context.Context, orderID entity.ID) error
	UpdateOrderStatus(ctx context.Context, orderID entity.ID, status entity.Status) error
}

// UserGateway resolves the account behind the current token.
type UserGateway interface {
	GetUser(ctx context.Context) (entity.User, error)
}

// Gateway is the full REST surface the client consumes.
type Gateway interface {
	CartGateway
	OrderGateway
	UserGateway
}
