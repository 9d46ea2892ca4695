package domain

// TradeAction represents the direction of a trade (BUY or SELL).
type TradeAction string

const (
	Buy  TradeAction = "BUY"
	Sell TradeAction = "SELL"
)

// Opposite returns the closing direction for the action.
func (a TradeAction) Opposite() TradeAction {
	if a == Buy {
		return Sell
	}
	return Buy
}

// TradeStatus represents the lifecycle state of a tracked trade.
type TradeStatus string

const (
	StatusPending   TradeStatus = "pending"
	StatusActive    TradeStatus = "active"
	StatusClosed    TradeStatus = "closed"
	StatusCancelled TradeStatus = "cancelled"
	StatusFailed    TradeStatus = "failed"
)

// IsTerminal reports whether no further transition may leave the status.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case StatusClosed, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status may move to next.
// PENDING may fill (ACTIVE), be cancelled, or be force-closed by
// reconciliation; ACTIVE may only close. Terminal states never move.
func (s TradeStatus) CanTransitionTo(next TradeStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusCancelled || next == StatusClosed || next == StatusFailed
	case StatusActive:
		return next == StatusClosed
	}
	return false
}

// PendingOrderType is the resting order variant placed at the venue.
type PendingOrderType string

const (
	BuyLimit  PendingOrderType = "BUY_LIMIT"
	BuyStop   PendingOrderType = "BUY_STOP"
	SellLimit PendingOrderType = "SELL_LIMIT"
	SellStop  PendingOrderType = "SELL_STOP"
)

// Action returns the trade direction a pending order opens.
func (p PendingOrderType) Action() TradeAction {
	if p == BuyLimit || p == BuyStop {
		return Buy
	}
	return Sell
}

// ExecutionType is how a new signal asks to be executed.
type ExecutionType string

const (
	ExecImmediate ExecutionType = "immediate"
	ExecPending   ExecutionType = "pending"
)
