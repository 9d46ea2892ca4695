package planner

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"signalPilot/internal/domain"
	"signalPilot/internal/ledger"
	"signalPilot/internal/ports"
	"signalPilot/internal/risk"
)

// Config holds execution policy.
type Config struct {
	DefaultLotSize float64
	// AtMarketPoints is the tolerance, in points, within which a stated entry
	// counts as "at market" and executes immediately.
	AtMarketPoints float64
}

// Planner turns a resolved NEW signal into a concrete venue order and a
// ledger record. Immediate signals go straight to market; pending signals are
// resolved against the live quote and any price range in the instruction
// text. Any other execution request is logged and dropped.
type Planner struct {
	cfg    Config
	venue  ports.VenueGateway
	ledger *ledger.Ledger
	gate   *risk.Gate
	logger ports.Logger
}

// New creates a planner.
func New(cfg Config, venue ports.VenueGateway, led *ledger.Ledger, gate *risk.Gate, logger ports.Logger) (*Planner, error) {
	if venue == nil || led == nil || gate == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for planner")
	}
	if cfg.DefaultLotSize <= 0 {
		return nil, fmt.Errorf("default lot size must be positive: %w", ports.ErrConfigurationError)
	}
	if cfg.AtMarketPoints <= 0 {
		cfg.AtMarketPoints = 10
	}
	return &Planner{cfg: cfg, venue: venue, ledger: led, gate: gate, logger: logger}, nil
}

// Price range patterns, tried in order. "Range: 1.0900-1.0950",
// "zone 1.0900 to 1.0950", and a bare "1.0900-1.0950".
var rangePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)range[:\s]+(\d+\.?\d*)\s*(?:-|to)+\s*(\d+\.?\d*)`),
	regexp.MustCompile(`(?i)zone[:\s]+(\d+\.?\d*)\s*(?:-|to)+\s*(\d+\.?\d*)`),
	regexp.MustCompile(`(\d+\.?\d*)\s*-+\s*(\d+\.?\d*)`),
}

// ExtractRange pulls an entry zone [low, high] out of the instruction text.
func ExtractRange(text string) (low, high float64, ok bool) {
	for _, re := range rangePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		a, err1 := strconv.ParseFloat(m[1], 64)
		b, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if a > b {
			a, b = b, a
		}
		return a, b, true
	}
	return 0, 0, false
}

// pendingType picks the order type for an entry zone relative to the market.
// The nearest zone bound in the direction of travel becomes the order price.
func pendingType(action domain.TradeAction, market, low, high float64) (domain.PendingOrderType, float64) {
	if action == domain.Sell {
		if market > high {
			return domain.SellStop, high
		}
		return domain.SellLimit, low
	}
	if market < low {
		return domain.BuyStop, low
	}
	return domain.BuyLimit, high
}

// ExecuteNew places the order described by a resolved NEW signal and records
// the resulting trade. Returns the created trade, or nil, nil when the signal
// was dropped without venue action (risk rejection is returned as an error
// wrapping ErrRiskRejected).
func (p *Planner) ExecuteNew(ctx context.Context, sig domain.NewSignal, sourceText string, messageID int64) (*domain.Trade, error) {
	info, err := p.venue.GetSymbolInfo(ctx, sig.Pair)
	if err != nil {
		return nil, fmt.Errorf("quote lookup for %s failed: %w", sig.Pair, err)
	}
	market := info.PriceFor(sig.Action)

	lotSize := sig.LotSize
	if lotSize == 0 {
		lotSize = p.cfg.DefaultLotSize
	}

	venueTP := sig.TakeProfit
	if venueTP == 0 && len(sig.TPLevels) > 0 {
		venueTP = sig.TPLevels[len(sig.TPLevels)-1]
	}

	execType := sig.Execution
	if execType == "" {
		execType = domain.ExecImmediate
	}

	var (
		rest       bool
		orderType  domain.PendingOrderType
		orderPrice float64
		entry      = market
	)
	switch execType {
	case domain.ExecImmediate:
		// Straight to market, whatever the text says about levels.
	case domain.ExecPending:
		// An explicit zone in the text wins; outside it the order rests at
		// the nearer bound. A lone stated entry gets the at-market tolerance.
		if low, high, ok := ExtractRange(sourceText); ok {
			if market < low || market > high {
				rest = true
				orderType, orderPrice = pendingType(sig.Action, market, low, high)
			}
		} else if sig.EntryPrice != 0 {
			if math.Abs(market-sig.EntryPrice) >= p.cfg.AtMarketPoints*info.Point {
				rest = true
				orderType, orderPrice = pendingType(sig.Action, market, sig.EntryPrice, sig.EntryPrice)
			}
		} else {
			p.logger.Warn(ctx, "Pending execution requested without a level, executing at market", map[string]interface{}{
				"pair": sig.Pair,
			})
		}
		if rest {
			entry = orderPrice
		}
	default:
		p.logger.Warn(ctx, "Unsupported execution type, signal dropped", map[string]interface{}{
			"pair":      sig.Pair,
			"execution": sig.Execution,
		})
		return nil, nil
	}

	active, err := p.ledger.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.gate.Check(ctx, sig, entry, lotSize, len(active)); err != nil {
		return nil, err
	}

	t := &domain.Trade{
		Pair:            sig.Pair,
		Action:          sig.Action,
		EntryPrice:      entry,
		SignalEntry:     sig.EntryPrice,
		StopLoss:        sig.StopLoss,
		TakeProfit:      venueTP,
		TPLevels:        sig.TPLevels,
		LotSize:         lotSize,
		SourceText:      sourceText,
		SourceMessageID: messageID,
	}

	var ticket int64
	if rest {
		ticket, err = p.venue.PlacePendingOrder(ctx, sig.Pair, orderType, lotSize, orderPrice, sig.StopLoss, venueTP)
	} else {
		ticket, err = p.venue.PlaceMarketOrder(ctx, sig.Pair, sig.Action, lotSize, sig.StopLoss, venueTP)
	}
	if err != nil {
		t.Status = domain.StatusFailed
		if _, cerr := p.ledger.Create(ctx, t); cerr != nil {
			p.logger.Error(ctx, cerr, "Failed trade could not be recorded", map[string]interface{}{
				"pair": sig.Pair,
			})
		}
		return nil, fmt.Errorf("order placement for %s failed: %w", sig.Pair, err)
	}
	t.BrokerTicket = ticket

	if rest {
		t.Status = domain.StatusPending
	} else {
		t.Status = domain.StatusActive
		t.ActualEntry = market
	}

	if _, err := p.ledger.Create(ctx, t); err != nil {
		p.logger.Error(ctx, err, "Order placed but ledger create failed", map[string]interface{}{
			"pair":   sig.Pair,
			"ticket": ticket,
		})
		return nil, err
	}

	p.logger.Info(ctx, "Trade executed", map[string]interface{}{
		"tradeID":   t.TradeID,
		"pair":      t.Pair,
		"action":    t.Action,
		"execution": execType,
		"entry":     entry,
		"lots":      lotSize,
		"ticket":    ticket,
	})
	return t, nil
}

// Breakeven moves a trade's stop loss to its entry, but only when the market
// has actually moved past the chosen reference. The confirmed fill is
// preferred; the provider's stated entry is the fallback when the fill would
// lock in a loss. Returns the new stop loss and whether any change was made.
func (p *Planner) Breakeven(ctx context.Context, t *domain.Trade) (float64, bool, error) {
	info, err := p.venue.GetSymbolInfo(ctx, t.Pair)
	if err != nil {
		return 0, false, fmt.Errorf("quote lookup for %s failed: %w", t.Pair, err)
	}
	// Close-side price: bid for BUY positions, ask for SELL.
	current := info.PriceFor(t.Action.Opposite())

	var target float64
	switch {
	case t.ActualEntry != 0 && favorable(t.Action, current, t.ActualEntry):
		target = t.ActualEntry
	case t.SignalEntry != 0 && favorable(t.Action, current, t.SignalEntry):
		target = t.SignalEntry
	default:
		p.logger.Warn(ctx, "Breakeven skipped, price not past any entry reference", map[string]interface{}{
			"tradeID":     t.TradeID,
			"current":     current,
			"actualEntry": t.ActualEntry,
			"signalEntry": t.SignalEntry,
		})
		return 0, false, nil
	}

	if err := p.venue.ModifyOrder(ctx, t.BrokerTicket, target, t.TakeProfit); err != nil {
		return 0, false, fmt.Errorf("breakeven modify for ticket %d failed: %w", t.BrokerTicket, err)
	}
	if _, err := p.ledger.Update(ctx, t.TradeID, func(tr *domain.Trade) error {
		tr.StopLoss = target
		return nil
	}); err != nil {
		return 0, false, err
	}
	p.logger.Info(ctx, "Stop loss moved to breakeven", map[string]interface{}{
		"tradeID": t.TradeID,
		"newSL":   target,
	})
	return target, true, nil
}

// favorable reports whether current is on the profitable side of ref.
func favorable(action domain.TradeAction, current, ref float64) bool {
	if action == domain.Buy {
		return current > ref
	}
	return current < ref
}
