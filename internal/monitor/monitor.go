package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signalPilot/internal/domain"
	"signalPilot/internal/ledger"
	"signalPilot/internal/ports"
)

// Config holds monitor tuning.
type Config struct {
	Interval time.Duration
	// Schedule gives, per ladder step, the percentage of the CURRENT volume
	// to close when that take-profit level is reached. Steps beyond the
	// schedule reuse its last entry.
	Schedule []float64
	// ShutdownGrace bounds how long Stop waits for an in-flight sweep.
	ShutdownGrace time.Duration
}

// Monitor watches active ladder trades and takes partial closes as price
// reaches each take-profit level, ratcheting the stop loss behind them.
// Sweeps snapshot state, talk to the venue, then commit through the ledger
// with re-validation; the ledger lock is never held across venue calls.
type Monitor struct {
	cfg    Config
	ledger *ledger.Ledger
	venue  ports.VenueGateway
	logger ports.Logger

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New creates a monitor.
func New(cfg Config, led *ledger.Ledger, venue ports.VenueGateway, logger ports.Logger) (*Monitor, error) {
	if led == nil || venue == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for monitor")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = []float64{50, 50, 100}
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	return &Monitor{
		cfg:    cfg,
		ledger: led,
		venue:  venue,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the sweep loop.
func (m *Monitor) Start(ctx context.Context) {
	go m.loop(ctx)
	m.logger.Info(ctx, "Partial-close monitor started", map[string]interface{}{
		"interval": m.cfg.Interval.String(),
		"schedule": m.cfg.Schedule,
	})
}

// Stop signals the loop to exit and waits up to the shutdown grace for any
// in-flight sweep to finish.
func (m *Monitor) Stop(ctx context.Context) {
	m.once.Do(func() { close(m.stopCh) })
	select {
	case <-m.doneCh:
	case <-time.After(m.cfg.ShutdownGrace):
		m.logger.Warn(ctx, "Monitor did not stop within grace period", nil)
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.logger.Error(ctx, err, "Monitor sweep failed", nil)
			}
		}
	}
}

// Sweep runs one pass over all active ladder trades.
func (m *Monitor) Sweep(ctx context.Context) error {
	active, err := m.ledger.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	positions, err := m.venue.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("position snapshot failed: %w", err)
	}
	byTicket := make(map[int64]ports.VenuePosition, len(positions))
	for _, p := range positions {
		byTicket[p.Ticket] = p
	}

	for _, t := range active {
		level, ok := t.NextTPLevel()
		if !ok || t.BrokerTicket == 0 {
			continue
		}
		pos, found := byTicket[t.BrokerTicket]
		if !found {
			// Gone from the venue; reconciliation owns that repair.
			continue
		}
		if !levelReached(t.Action, pos.CurrentPrice, level) {
			continue
		}
		if err := m.takePartial(ctx, t, pos, level); err != nil {
			m.logger.Error(ctx, err, "Partial close failed", map[string]interface{}{
				"tradeID": t.TradeID,
				"level":   level,
			})
		}
	}
	return nil
}

// levelReached is direction-aware: BUY ladders are hit from below, SELL
// ladders from above.
func levelReached(action domain.TradeAction, price, level float64) bool {
	if action == domain.Buy {
		return price >= level
	}
	return price <= level
}

func (m *Monitor) takePartial(ctx context.Context, t *domain.Trade, pos ports.VenuePosition, level float64) error {
	pct := m.scheduledPercent(t.PartialsTaken)
	volume := roundLots(t.LotSize * pct / 100)

	if pct >= 100 || volume >= t.LotSize {
		closePrice, err := m.venue.CloseOrder(ctx, t.BrokerTicket, 0)
		if err != nil {
			return err
		}
		if err := m.ledger.Close(ctx, t.TradeID, closePrice, pos.Profit); err != nil {
			return err
		}
		m.logger.Info(ctx, "Final take-profit level reached, trade closed", map[string]interface{}{
			"tradeID": t.TradeID,
			"level":   level,
			"price":   closePrice,
		})
		return nil
	}

	closePrice, err := m.venue.CloseOrder(ctx, t.BrokerTicket, volume)
	if err != nil {
		return err
	}

	partialsBefore := t.PartialsTaken
	updated, err := m.ledger.Update(ctx, t.TradeID, func(tr *domain.Trade) error {
		if tr.Status != domain.StatusActive {
			return fmt.Errorf("trade %s no longer active: %w", tr.TradeID, ports.ErrInvalidTransition)
		}
		if tr.PartialsTaken != partialsBefore {
			return fmt.Errorf("trade %s changed during partial close: %w", tr.TradeID, ports.ErrUpdateFailed)
		}
		tr.RecordPartial(pct, closePrice, volume)
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info(ctx, "Partial close taken at take-profit level", map[string]interface{}{
		"tradeID":   t.TradeID,
		"level":     level,
		"percent":   pct,
		"volume":    volume,
		"price":     closePrice,
		"remaining": updated.LotSize,
	})

	m.ratchetStop(ctx, updated)
	return nil
}

// ratchetStop tightens the stop loss behind realized ladder levels: to the
// entry after the first partial, to the first level after the second.
func (m *Monitor) ratchetStop(ctx context.Context, t *domain.Trade) {
	var newSL float64
	switch t.PartialsTaken {
	case 1:
		newSL = t.EntryReference()
	case 2:
		if len(t.TPLevels) > 0 {
			newSL = t.TPLevels[0]
		}
	}
	if newSL == 0 || newSL == t.StopLoss {
		return
	}
	if err := m.venue.ModifyOrder(ctx, t.BrokerTicket, newSL, t.TakeProfit); err != nil {
		m.logger.Error(ctx, err, "Stop ratchet failed at venue", map[string]interface{}{
			"tradeID": t.TradeID,
			"newSL":   newSL,
		})
		return
	}
	if _, err := m.ledger.Update(ctx, t.TradeID, func(tr *domain.Trade) error {
		tr.StopLoss = newSL
		return nil
	}); err != nil {
		m.logger.Error(ctx, err, "Stop ratchet failed in ledger", map[string]interface{}{"tradeID": t.TradeID})
		return
	}
	m.logger.Info(ctx, "Stop loss ratcheted", map[string]interface{}{
		"tradeID": t.TradeID,
		"newSL":   newSL,
	})
}

func (m *Monitor) scheduledPercent(partialsTaken int) float64 {
	if partialsTaken >= len(m.cfg.Schedule) {
		return m.cfg.Schedule[len(m.cfg.Schedule)-1]
	}
	return m.cfg.Schedule[partialsTaken]
}

// roundLots rounds volume to the venue's 0.01-lot granularity.
func roundLots(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
