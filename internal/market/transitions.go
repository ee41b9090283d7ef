package market

// OrderStatus values known to the client. Anything else is relayed unchanged.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// transitions is the advisory table of targets offered in the UI. The server
// may support more; it is the only authority.
var transitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderConfirmed, OrderCompleted, OrderCancelled},
}

// AllowedTransitions returns the targets offered for an order in status from.
func AllowedTransitions(from OrderStatus) []OrderStatus {
	next := transitions[from]
	if len(next) == 0 {
		return nil
	}
	out := make([]OrderStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether the table offers from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Known reports whether s is one of the four named statuses.
func (s OrderStatus) Known() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}
