package entity

import "fmt"

// Transition moves an order to next. Only pending orders move, and only to a
// terminal status; anything else is ErrInvalidTransition.
func (o *Order) Transition(next Status) error {
	if o.Status.Terminal() {
		return fmt.Errorf("%w: order %s is already %s", ErrInvalidTransition, o.OrderID, o.Status)
	}
	if !next.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	return nil
}

// TargetStatus returns the status an event moves an order to, if any.
func TargetStatus(e Event) (Status, bool) {
	switch e.(type) {
	case OrderCancelled:
		return StatusCancelled, true
	case OrderCompleted:
		return StatusDelivered, true
	}
	return "", false
}

// FilterByStatus returns the orders whose status equals status.
func FilterByStatus(orders []Order, status Status) []Order {
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}
