package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/gateway"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/repository"
)

const (
	DefaultGatewayTimeout = 10 * time.Second
	DefaultRepeatInterval = 120 * time.Millisecond
)

// CartConfig tunes a CartService. Zero values select the defaults.
type CartConfig struct {
	Timeout        time.Duration
	RepeatInterval time.Duration
	Logger         *slog.Logger
}

// intent is the latest quantity the user asked for and has not been confirmed yet.
type intent struct {
	seq uint64
	qty int
}

// CartService keeps the canonical cart of a retailer in sync with the backend.
type CartService struct {
	gateway gateway.CartGateway
	store   repository.Store
	timeout time.Duration
	repeat  time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	epoch     uint64
	seq       uint64
	fetches   uint64 // last fetch issued
	installed uint64 // fetch whose result is shown
	mutations uint64 // server-side changes confirmed so far
	lines     []entity.CartLine
	confirmed map[entity.ID]int
	inflight  map[entity.ID]intent
}

// NewCartService creates a CartService. store may be nil, in which case the
// cart is not persisted locally.
func NewCartService(gw gateway.CartGateway, store repository.Store, cfg CartConfig) *CartService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGatewayTimeout
	}
	if cfg.RepeatInterval <= 0 {
		cfg.RepeatInterval = DefaultRepeatInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CartService{
		gateway:   gw,
		store:     store,
		timeout:   cfg.Timeout,
		repeat:    cfg.RepeatInterval,
		logger:    cfg.Logger.With("component", "cart"),
		confirmed: make(map[entity.ID]int),
		inflight:  make(map[entity.ID]intent),
	}
}

// LoadCart fetches the cart and replaces the canonical view with the merged
// result. On failure the last known cart is kept and returned with the error.
// A response is dropped when a later fetch has already been installed or a
// mutation was confirmed while it was in flight.
func (s *CartService) LoadCart(ctx context.Context) ([]entity.CartLine, error) {
	s.mu.Lock()
	epoch := s.epoch
	s.fetches++
	fetch := s.fetches
	since := s.mutations
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	raw, err := s.gateway.GetCart(cctx)
	cancel()
	if err != nil {
		s.logger.Warn("Failed to load cart, keeping last known state", "err", err)
		return s.Lines(), fmt.Errorf("failed to load cart: %w", err)
	}

	merged := entity.MergeCartLines(raw)

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		s.logger.Debug("Discarding cart response from a previous session")
		return nil, nil
	}
	if fetch < s.installed || since != s.mutations {
		snapshot := s.linesLocked()
		s.mu.Unlock()
		s.logger.Debug("Discarding stale cart response", "fetch", fetch)
		return snapshot, nil
	}
	s.installed = fetch
	s.confirmed = make(map[entity.ID]int, len(merged))
	for i := range merged {
		id := merged[i].ProductID
		s.confirmed[id] = merged[i].Quantity
		if in, ok := s.inflight[id]; ok {
			merged[i].Quantity = in.qty
			merged[i].Sync = entity.Pending()
		}
	}
	s.lines = merged
	snapshot := s.linesLocked()
	s.mu.Unlock()

	s.persist(ctx, snapshot)
	return snapshot, nil
}

// Restore loads the locally persisted cart, so a retailer sees their cart
// before the first fetch completes. A missing snapshot is not an error.
func (s *CartService) Restore(ctx context.Context) ([]entity.CartLine, error) {
	if s.store == nil {
		return s.Lines(), nil
	}
	var saved []entity.CartLine
	if err := repository.GetJSON(ctx, s.store, repository.KeyCart, &saved); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.Lines(), nil
		}
		return s.Lines(), fmt.Errorf("failed to restore cart: %w", err)
	}

	merged := entity.MergeCartLines(saved)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.installed > 0 {
		// A fetch already landed; the snapshot is older than what is shown.
		return s.linesLocked(), nil
	}
	s.lines = merged
	s.confirmed = make(map[entity.ID]int, len(merged))
	for _, l := range merged {
		s.confirmed[l.ProductID] = l.Quantity
	}
	return s.linesLocked(), nil
}

// AddItem adds quantity units of product and reloads the cart, since the
// server decides how the new line merges with existing ones.
func (s *CartService) AddItem(ctx context.Context, product entity.Product, quantity int) error {
	if product.ProductID == "" {
		return entity.NewValidationError("product_id", "is required", nil)
	}
	if quantity < 1 {
		return entity.NewValidationError("quantity", "must be at least 1", nil)
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.gateway.AddToCart(cctx, product, quantity)
	cancel()
	if err != nil {
		s.logger.Warn("Failed to add item to cart", "product_id", product.ProductID, "err", err)
		return fmt.Errorf("failed to add %s to cart: %w", product.ProductID, err)
	}
	s.noteMutation()

	s.logger.Info("Item added to cart", "product_id", product.ProductID, "quantity", quantity)
	_, err = s.LoadCart(ctx)
	return err
}

// SetQuantity sets the quantity of a line optimistically and confirms it with
// the server. Quantities below one are ignored. If the update fails the line
// returns to its last confirmed quantity and is marked rolled back.
func (s *CartService) SetQuantity(ctx context.Context, productID entity.ID, quantity int) error {
	if quantity < 1 {
		return nil
	}
	in, _, ok := s.markIntended(productID, func(int) int { return quantity }, true)
	if !ok {
		return entity.NewValidationError("product_id", fmt.Sprintf("%s is not in the cart", productID), entity.ErrNotInCart)
	}
	return s.pushQuantity(ctx, productID, in.seq, in.qty, true)
}

// RemoveItem deletes a line and reloads the cart whether or not the delete succeeded.
func (s *CartService) RemoveItem(ctx context.Context, productID entity.ID) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	delErr := s.gateway.DeleteFromCart(cctx, productID)
	cancel()
	if delErr != nil {
		s.logger.Warn("Failed to remove item from cart", "product_id", productID, "err", delErr)
	}

	s.mu.Lock()
	delete(s.inflight, productID)
	if delErr == nil {
		s.mutations++
	}
	s.mu.Unlock()

	_, loadErr := s.LoadCart(ctx)
	if delErr != nil {
		return fmt.Errorf("failed to remove %s from cart: %w", productID, delErr)
	}
	return loadErr
}

// Checkout places an order for the current cart. The cart is cleared only
// once the server has accepted the order.
func (s *CartService) Checkout(ctx context.Context, address entity.Address) (entity.ID, error) {
	if address.IsEmpty() {
		return "", entity.NewValidationError("address", "is required", entity.ErrAddressMissing)
	}
	lines := s.Lines()
	if len(lines) == 0 {
		return "", entity.NewValidationError("cart", "is empty", nil)
	}
	epoch := s.currentEpoch()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	orderID, err := s.gateway.PlaceOrder(cctx, lines, address)
	cancel()
	if err != nil {
		s.logger.Warn("Failed to place order", "err", err)
		return "", err
	}

	s.mu.Lock()
	if epoch == s.epoch {
		s.mutations++
		s.lines = nil
		s.confirmed = make(map[entity.ID]int)
		s.inflight = make(map[entity.ID]intent)
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Delete(ctx, repository.KeyCart); err != nil {
			s.logger.Warn("Failed to clear persisted cart", "err", err)
		}
	}
	s.logger.Info("Order placed", "order_id", orderID, "lines", len(lines))
	return orderID, nil
}

// Lines returns a copy of the canonical cart.
func (s *CartService) Lines() []entity.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linesLocked()
}

// Line returns the line for productID.
func (s *CartService) Line(productID entity.ID) (entity.CartLine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(productID); i >= 0 {
		return s.lines[i], true
	}
	return entity.CartLine{}, false
}

// Total returns the value of the cart as shown.
func (s *CartService) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return entity.CartTotal(s.lines)
}

// Reset empties the cart. Responses to requests started before Reset are discarded.
func (s *CartService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.installed = 0
	s.lines = nil
	s.confirmed = make(map[entity.ID]int)
	s.inflight = make(map[entity.ID]intent)
}

// markIntended records a new optimistic quantity for productID. next receives
// the quantity currently shown; its result is floored at one. Unless force is
// set, no intent is recorded when the quantity would not change. ok is false
// when productID is not in the cart.
func (s *CartService) markIntended(productID entity.ID, next func(current int) int, force bool) (in intent, changed, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(productID)
	if i < 0 {
		return intent{}, false, false
	}
	qty := max(next(s.lines[i].Quantity), 1)
	changed = qty != s.lines[i].Quantity
	if !changed && !force {
		return intent{}, false, true
	}
	s.seq++
	in = intent{seq: s.seq, qty: qty}
	s.inflight[productID] = in
	s.lines[i].Quantity = qty
	s.lines[i].Sync = entity.Pending()
	return in, changed, true
}

// latestIntent returns the unconfirmed intent for productID, if any.
func (s *CartService) latestIntent(productID entity.ID) (intent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.inflight[productID]
	return in, ok
}

// pushQuantity sends an intent to the server and reconciles the answer.
// An answer for an intent that has since been superseded is dropped.
func (s *CartService) pushQuantity(ctx context.Context, productID entity.ID, seq uint64, qty int, reload bool) error {
	epoch := s.currentEpoch()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.gateway.UpdateCart(cctx, productID, qty)
	cancel()

	s.mu.Lock()
	in, ok := s.inflight[productID]
	if epoch != s.epoch || !ok || in.seq != seq {
		s.mu.Unlock()
		return nil
	}
	delete(s.inflight, productID)

	i := s.indexLocked(productID)
	if err != nil {
		if i >= 0 {
			s.lines[i].Quantity = s.confirmed[productID]
			s.lines[i].Sync = entity.RolledBack(err)
		}
		s.mu.Unlock()
		s.logger.Warn("Cart quantity update failed, rolled back", "product_id", productID, "quantity", qty, "err", err)
		return fmt.Errorf("failed to update quantity of %s: %w", productID, err)
	}
	s.confirmed[productID] = qty
	s.mutations++
	if i >= 0 {
		s.lines[i].Quantity = qty
		s.lines[i].Sync = entity.Confirmed()
	}
	s.mu.Unlock()

	if !reload {
		return nil
	}
	_, err = s.LoadCart(ctx)
	return err
}

func (s *CartService) persist(ctx context.Context, lines []entity.CartLine) {
	if s.store == nil {
		return
	}
	if err := repository.SetJSON(ctx, s.store, repository.KeyCart, lines); err != nil {
		s.logger.Warn("Failed to persist cart", "err", err)
	}
}

func (s *CartService) noteMutation() {
	s.mu.Lock()
	s.mutations++
	s.mu.Unlock()
}

func (s *CartService) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func (s *CartService) indexLocked(productID entity.ID) int {
	for i := range s.lines {
		if s.lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (s *CartService) linesLocked() []entity.CartLine {
	return append([]entity.CartLine(nil), s.lines...)
}
