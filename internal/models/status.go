package models

// OrderState is a position in the order lifecycle.
type OrderState string

const (
	OrderCreated   OrderState = "CREATED"
	OrderPending   OrderState = "PENDING"
	OrderApproved  OrderState = "APPROVED"
	OrderRejected  OrderState = "REJECTED"
	OrderCancelled OrderState = "CANCELLED"
	OrderExpired   OrderState = "EXPIRED"
	// OrderOversold is an approved payment whose stock could not be fully decremented.
	OrderOversold OrderState = "OVERSOLD"
)

var validNext = map[OrderState]map[OrderState]bool{
	OrderCreated: {
		OrderPending: true, OrderApproved: true, OrderRejected: true,
		OrderCancelled: true, OrderExpired: true, OrderOversold: true,
	},
	OrderPending: {
		OrderPending: true, OrderApproved: true, OrderRejected: true,
		OrderCancelled: true, OrderExpired: true, OrderOversold: true,
	},
	OrderApproved:  {},
	OrderRejected:  {},
	OrderCancelled: {},
	OrderExpired:   {},
	OrderOversold:  {},
}

// CanTransition reports whether an ordinary transition from -> to is allowed.
// Settling an approved payment is handled separately: it is gated by the
// order's stock_decremented flag, not by this table.
func CanTransition(from, to OrderState) bool {
	return validNext[from][to]
}

// IsTerminal reports whether s accepts no further ordinary transitions.
func (s OrderState) IsTerminal() bool {
	return len(validNext[s]) == 0
}

// Cancellable reports whether the shopper may cancel an order in state s.
func (s OrderState) Cancellable() bool {
	return s == OrderCreated || s == OrderPending
}

// Deletable reports whether an order in state s may be hard-deleted.
func (s OrderState) Deletable() bool {
	return s == OrderCreated || s == OrderExpired
}

// Payable reports whether the shopper may continue to the gateway from s.
func (s OrderState) Payable() bool {
	return s == OrderCreated || s == OrderPending
}
