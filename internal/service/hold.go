package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/entity"
)

// Hold is a press-and-hold on a quantity stepper. While it runs, the shown
// quantity moves by step on every repeat interval and only the latest value
// is sent, with at most one request outstanding.
type Hold struct {
	svc       *CartService
	productID entity.ID
	step      int

	ticker *time.Ticker
	stop   chan struct{}
	ticked chan struct{} // closed when the ticking goroutine exits
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

// Hold starts rapid-repeat mode for productID. The first step is applied
// immediately. Call Stop on release.
func (s *CartService) Hold(ctx context.Context, productID entity.ID, step int) (*Hold, error) {
	if step == 0 {
		return nil, entity.NewValidationError("step", "must not be zero", nil)
	}
	_, changed, ok := s.markIntended(productID, func(cur int) int { return cur + step }, false)
	if !ok {
		return nil, entity.NewValidationError("product_id", fmt.Sprintf("%s is not in the cart", productID), entity.ErrNotInCart)
	}

	h := &Hold{
		svc:       s,
		productID: productID,
		step:      step,
		ticker:    time.NewTicker(s.repeat),
		stop:      make(chan struct{}),
		ticked:    make(chan struct{}),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if changed {
		h.signal()
	}

	go h.tick(ctx)
	go h.send(ctx)
	return h, nil
}

// Stop ends the hold, waits for the final quantity to be sent and reloads
// the cart. It returns the error of the last request, if any.
func (h *Hold) Stop(ctx context.Context) error {
	h.once.Do(func() {
		h.ticker.Stop()
		close(h.stop)
	})
	<-h.done

	h.mu.Lock()
	err := h.err
	h.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = h.svc.LoadCart(ctx)
	return err
}

func (h *Hold) tick(ctx context.Context) {
	defer close(h.ticked)
	for {
		select {
		case <-h.stop:
			return
		case <-ctx.Done():
			return
		case <-h.ticker.C:
			// At the floor the quantity stops moving and nothing is sent.
			if _, changed, _ := h.svc.markIntended(h.productID, func(cur int) int { return cur + h.step }, false); changed {
				h.signal()
			}
		}
	}
}

func (h *Hold) send(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-h.wake:
			h.flush(ctx)
		case <-h.ticked:
			select {
			case <-h.wake:
				h.flush(ctx)
			default:
			}
			return
		}
	}
}

func (h *Hold) flush(ctx context.Context) {
	in, ok := h.svc.latestIntent(h.productID)
	if !ok {
		return
	}
	err := h.svc.pushQuantity(ctx, h.productID, in.seq, in.qty, false)

	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

func (h *Hold) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}
