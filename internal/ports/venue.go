package ports

import (
	"context"

	"signalPilot/internal/domain"
)

// SymbolInfo carries the live quote data for one instrument.
type SymbolInfo struct {
	Symbol string
	Bid    float64
	Ask    float64
	Point  float64 // smallest price increment
	Digits int
}

// PriceFor returns the execution-side price: ask for BUY, bid for SELL.
func (s SymbolInfo) PriceFor(action domain.TradeAction) float64 {
	if action == domain.Buy {
		return s.Ask
	}
	return s.Bid
}

// VenuePosition is an open position as reported by the venue.
type VenuePosition struct {
	Ticket       int64
	Symbol       string
	Action       domain.TradeAction
	Volume       float64
	OpenPrice    float64
	CurrentPrice float64
	StopLoss     float64
	TakeProfit   float64
	Profit       float64
}

// VenueOrder is a resting pending order as reported by the venue.
type VenueOrder struct {
	Ticket     int64
	Symbol     string
	Type       domain.PendingOrderType
	Volume     float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
}

// TicketLocation indicates where (if anywhere) a ticket lives at the venue.
type TicketLocation string

const (
	TicketPosition TicketLocation = "position"
	TicketPending  TicketLocation = "pending"
	TicketNone     TicketLocation = "none"
)

// VenueGateway defines the interface for the order-execution venue.
// All calls are blocking I/O; callers must not hold ledger locks across them.
type VenueGateway interface {
	// Ping checks connectivity to the venue.
	Ping(ctx context.Context) error

	// PlaceMarketOrder executes at the current market price and returns the
	// venue ticket. stopLoss/takeProfit of 0 leave the level unset.
	PlaceMarketOrder(ctx context.Context, symbol string, action domain.TradeAction, lots, stopLoss, takeProfit float64) (int64, error)

	// PlacePendingOrder rests a LIMIT/STOP order at price and returns the ticket.
	PlacePendingOrder(ctx context.Context, symbol string, orderType domain.PendingOrderType, lots, price, stopLoss, takeProfit float64) (int64, error)

	// ModifyOrder updates SL/TP on a position. A 0 value leaves the level unset.
	ModifyOrder(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error

	// CloseOrder closes volume lots of a position at market; volume 0 closes
	// it fully. Returns the venue-reported close price.
	CloseOrder(ctx context.Context, ticket int64, volume float64) (float64, error)

	// CancelPending deletes a resting pending order.
	CancelPending(ctx context.Context, ticket int64) error

	// GetOpenPositions returns the authoritative open-position snapshot.
	GetOpenPositions(ctx context.Context) ([]VenuePosition, error)

	// GetPendingOrders returns the authoritative pending-order snapshot.
	GetPendingOrders(ctx context.Context) ([]VenueOrder, error)

	// GetSymbolInfo returns the live quote for a symbol.
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)

	// TicketExists reports whether a ticket is live and where it lives.
	TicketExists(ctx context.Context, ticket int64) (bool, TicketLocation, error)
}
