package reconcile

import (
	"context"
	"fmt"

	"signalPilot/internal/domain"
	"signalPilot/internal/ledger"
	"signalPilot/internal/ports"
)

// Engine aligns the ledger with the venue's authoritative state. The venue
// wins every disagreement: positions the ledger does not know about are
// adopted, and ledger trades the venue no longer holds are closed out.
type Engine struct {
	ledger *ledger.Ledger
	venue  ports.VenueGateway
	logger ports.Logger
}

// New creates a reconciliation engine.
func New(led *ledger.Ledger, venue ports.VenueGateway, logger ports.Logger) (*Engine, error) {
	if led == nil || venue == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for reconcile engine")
	}
	return &Engine{ledger: led, venue: venue, logger: logger}, nil
}

// Sync performs one reconciliation pass and returns the number of
// discrepancies repaired. It is idempotent: a second pass against unchanged
// venue state repairs nothing.
func (e *Engine) Sync(ctx context.Context) (int, error) {
	positions, err := e.venue.GetOpenPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("position snapshot failed: %w", err)
	}
	pendings, err := e.venue.GetPendingOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("pending order snapshot failed: %w", err)
	}

	active, err := e.ledger.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	pendingTrades, err := e.ledger.ListPendingOpen(ctx)
	if err != nil {
		return 0, err
	}

	venueTickets := make(map[int64]bool, len(positions)+len(pendings))
	for _, p := range positions {
		venueTickets[p.Ticket] = true
	}
	for _, o := range pendings {
		venueTickets[o.Ticket] = true
	}

	ledgerTickets := make(map[int64]bool, len(active)+len(pendingTrades))
	for _, t := range active {
		if t.BrokerTicket != 0 {
			ledgerTickets[t.BrokerTicket] = true
		}
	}
	for _, t := range pendingTrades {
		if t.BrokerTicket != 0 {
			ledgerTickets[t.BrokerTicket] = true
		}
	}

	repaired := 0

	// Orphans: live at the venue, unknown to the ledger.
	for _, p := range positions {
		if ledgerTickets[p.Ticket] {
			continue
		}
		if err := e.adoptPosition(ctx, p); err != nil {
			e.logger.Error(ctx, err, "Failed to adopt venue position", map[string]interface{}{
				"ticket": p.Ticket,
				"symbol": p.Symbol,
			})
			continue
		}
		repaired++
	}
	for _, o := range pendings {
		if ledgerTickets[o.Ticket] {
			continue
		}
		if err := e.adoptPending(ctx, o); err != nil {
			e.logger.Error(ctx, err, "Failed to adopt venue pending order", map[string]interface{}{
				"ticket": o.Ticket,
				"symbol": o.Symbol,
			})
			continue
		}
		repaired++
	}

	// Ghosts: open in the ledger, gone from the venue. The exit price and
	// realized PnL are unknown, so both are recorded as zero.
	for _, t := range active {
		if t.BrokerTicket == 0 || venueTickets[t.BrokerTicket] {
			continue
		}
		e.logger.Warn(ctx, "Ledger trade no longer at venue, closing", map[string]interface{}{
			"tradeID": t.TradeID,
			"ticket":  t.BrokerTicket,
			"pair":    t.Pair,
		})
		if err := e.ledger.Close(ctx, t.TradeID, 0, 0); err != nil {
			e.logger.Error(ctx, err, "Failed to close ghost trade", map[string]interface{}{"tradeID": t.TradeID})
			continue
		}
		repaired++
	}
	for _, t := range pendingTrades {
		if t.BrokerTicket == 0 || venueTickets[t.BrokerTicket] {
			continue
		}
		e.logger.Warn(ctx, "Pending trade no longer at venue, cancelling", map[string]interface{}{
			"tradeID": t.TradeID,
			"ticket":  t.BrokerTicket,
		})
		if err := e.ledger.Cancel(ctx, t.TradeID); err != nil {
			e.logger.Error(ctx, err, "Failed to cancel ghost pending trade", map[string]interface{}{"tradeID": t.TradeID})
			continue
		}
		repaired++
	}

	// Pending trades whose ticket now lives as a position were filled while
	// we were not watching.
	for _, t := range pendingTrades {
		if t.BrokerTicket == 0 {
			continue
		}
		for _, p := range positions {
			if p.Ticket != t.BrokerTicket {
				continue
			}
			if _, err := e.ledger.Activate(ctx, t.TradeID, p.OpenPrice); err != nil {
				e.logger.Error(ctx, err, "Failed to activate filled pending trade", map[string]interface{}{"tradeID": t.TradeID})
				break
			}
			e.logger.Info(ctx, "Pending trade filled at venue, activated", map[string]interface{}{
				"tradeID":   t.TradeID,
				"ticket":    t.BrokerTicket,
				"fillPrice": p.OpenPrice,
			})
			repaired++
			break
		}
	}

	if repaired > 0 {
		e.logger.Info(ctx, "Reconciliation repaired discrepancies", map[string]interface{}{"count": repaired})
	}
	return repaired, nil
}

func (e *Engine) adoptPosition(ctx context.Context, p ports.VenuePosition) error {
	t := &domain.Trade{
		Pair:         p.Symbol,
		Action:       p.Action,
		EntryPrice:   p.OpenPrice,
		ActualEntry:  p.OpenPrice,
		StopLoss:     p.StopLoss,
		TakeProfit:   p.TakeProfit,
		LotSize:      p.Volume,
		BrokerTicket: p.Ticket,
		Status:       domain.StatusActive,
		SourceText:   fmt.Sprintf("[adopted from venue position %d]", p.Ticket),
	}
	_, err := e.ledger.Create(ctx, t)
	if err == nil {
		e.logger.Info(ctx, "Adopted venue position into ledger", map[string]interface{}{
			"tradeID": t.TradeID,
			"ticket":  p.Ticket,
			"symbol":  p.Symbol,
			"volume":  p.Volume,
		})
	}
	return err
}

func (e *Engine) adoptPending(ctx context.Context, o ports.VenueOrder) error {
	t := &domain.Trade{
		Pair:         o.Symbol,
		Action:       o.Type.Action(),
		EntryPrice:   o.EntryPrice,
		StopLoss:     o.StopLoss,
		TakeProfit:   o.TakeProfit,
		LotSize:      o.Volume,
		BrokerTicket: o.Ticket,
		Status:       domain.StatusPending,
		SourceText:   fmt.Sprintf("[adopted from venue pending order %d]", o.Ticket),
	}
	_, err := e.ledger.Create(ctx, t)
	if err == nil {
		e.logger.Info(ctx, "Adopted venue pending order into ledger", map[string]interface{}{
			"tradeID": t.TradeID,
			"ticket":  o.Ticket,
			"symbol":  o.Symbol,
		})
	}
	return err
}
