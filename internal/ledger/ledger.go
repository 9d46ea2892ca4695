package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalPilot/internal/domain"
	"signalPilot/internal/ports"
)

// Ledger is the sole owner of trade state. It serializes every
// read-decide-write span behind one mutex so the instruction path and the
// partial-close monitor never interleave mid-decision. Venue calls must never
// happen while the lock is held; callers snapshot state, talk to the venue,
// then commit through Update which re-reads under the lock.
type Ledger struct {
	mu     sync.Mutex
	repo   ports.TradeRepository
	logger ports.Logger
}

// New creates a ledger service over the given repository.
func New(repo ports.TradeRepository, logger ports.Logger) (*Ledger, error) {
	if repo == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for ledger")
	}
	return &Ledger{repo: repo, logger: logger}, nil
}

// Create registers a new trade, assigning its ID and timestamps. The broker
// ticket, when set, must not be held by another open trade.
func (l *Ledger) Create(ctx context.Context, t *domain.Trade) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t.Status == "" {
		t.Status = domain.StatusActive
	}
	// FAILED records placement rejections; it is terminal at birth.
	if t.Status != domain.StatusPending && t.Status != domain.StatusActive && t.Status != domain.StatusFailed {
		return "", fmt.Errorf("trade cannot be created in status %s: %w", t.Status, ports.ErrInvalidRequest)
	}
	if t.LotSize <= 0 {
		return "", fmt.Errorf("lot size must be positive: %w", ports.ErrInvalidRequest)
	}
	if t.BrokerTicket != 0 {
		existing, err := l.repo.GetByTicket(ctx, t.BrokerTicket)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return "", fmt.Errorf("ticket %d already held by trade %s: %w", t.BrokerTicket, existing.TradeID, ports.ErrDuplicateTicket)
		}
	}

	if t.TradeID == "" {
		t.TradeID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := l.repo.Create(ctx, t); err != nil {
		return "", err
	}
	l.logger.Info(ctx, "Trade created", map[string]interface{}{
		"tradeID": t.TradeID,
		"pair":    t.Pair,
		"action":  t.Action,
		"status":  t.Status,
		"ticket":  t.BrokerTicket,
	})
	return t.TradeID, nil
}

// Get retrieves a trade by ID. Returns nil, nil when absent.
func (l *Ledger) Get(ctx context.Context, tradeID string) (*domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.Get(ctx, tradeID)
}

// GetByTicket retrieves the open trade holding a broker ticket.
func (l *Ledger) GetByTicket(ctx context.Context, ticket int64) (*domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.GetByTicket(ctx, ticket)
}

// ListActive returns all ACTIVE trades.
func (l *Ledger) ListActive(ctx context.Context) ([]*domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.ListActive(ctx)
}

// ListByStatus returns all trades in the given status.
func (l *Ledger) ListByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.ListByStatus(ctx, status)
}

// ListByPair returns active trades for a pair.
func (l *Ledger) ListByPair(ctx context.Context, pair string) ([]*domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.ListByPair(ctx, pair)
}

// ListRecent returns the n most recently created trades.
func (l *Ledger) ListRecent(ctx context.Context, n int) ([]*domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.ListRecent(ctx, n)
}

// ListAll returns every trade, newest first.
func (l *Ledger) ListAll(ctx context.Context) ([]*domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.ListAll(ctx)
}

// ListPendingOpen returns all PENDING trades.
func (l *Ledger) ListPendingOpen(ctx context.Context) ([]*domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.ListByStatus(ctx, domain.StatusPending)
}

// Update applies mutate to the trade under the ledger lock and persists the
// result. When the mutation changes SL, TP or volume, exactly one audit entry
// is appended recording old and new values. Status transitions are validated
// against the state machine.
func (l *Ledger) Update(ctx context.Context, tradeID string, mutate func(*domain.Trade) error) (*domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.repo.Get(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("trade %s: %w", tradeID, ports.ErrNotFound)
	}
	if t.Status.IsTerminal() {
		return nil, fmt.Errorf("trade %s is terminal (%s): %w", tradeID, t.Status, ports.ErrInvalidTransition)
	}

	prevStatus := t.Status
	prevSL := t.StopLoss
	prevTP := t.TakeProfit
	prevLot := t.LotSize

	if err := mutate(t); err != nil {
		return nil, err
	}

	if t.Status != prevStatus && !prevStatus.CanTransitionTo(t.Status) {
		return nil, fmt.Errorf("trade %s cannot move %s -> %s: %w", tradeID, prevStatus, t.Status, ports.ErrInvalidTransition)
	}

	details := map[string]interface{}{}
	var kinds []string
	if t.StopLoss != prevSL {
		details["old_sl"] = prevSL
		details["new_sl"] = t.StopLoss
		kinds = append(kinds, domain.ModSLUpdate)
	}
	if t.TakeProfit != prevTP {
		details["old_tp"] = prevTP
		details["new_tp"] = t.TakeProfit
		kinds = append(kinds, domain.ModTPUpdate)
	}
	if t.LotSize != prevLot {
		details["old_lots"] = prevLot
		details["new_lots"] = t.LotSize
		kinds = append(kinds, domain.ModVolumeUpdate)
	}
	if len(kinds) == 1 {
		t.AddModification(kinds[0], details)
	} else if len(kinds) > 1 {
		t.AddModification(domain.ModMixed, details)
	}

	t.UpdatedAt = time.Now().UTC()
	if err := l.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrUpdateFailed, err)
	}
	return t, nil
}

// Activate marks a PENDING trade as filled at the given price.
func (l *Ledger) Activate(ctx context.Context, tradeID string, fillPrice float64) (*domain.Trade, error) {
	return l.Update(ctx, tradeID, func(t *domain.Trade) error {
		if t.Status != domain.StatusPending {
			return fmt.Errorf("trade %s is %s, not pending: %w", tradeID, t.Status, ports.ErrInvalidTransition)
		}
		t.Status = domain.StatusActive
		if fillPrice != 0 {
			t.ActualEntry = fillPrice
		}
		return nil
	})
}

// Close marks a trade CLOSED with the given exit price and realized PnL.
// A zero exit price records a close with no better information available.
func (l *Ledger) Close(ctx context.Context, tradeID string, exitPrice, pnl float64) error {
	_, err := l.Update(ctx, tradeID, func(t *domain.Trade) error {
		if t.Status.IsTerminal() {
			return fmt.Errorf("trade %s already terminal (%s): %w", tradeID, t.Status, ports.ErrInvalidTransition)
		}
		t.Status = domain.StatusClosed
		t.ExitPrice = exitPrice
		t.ProfitLoss = pnl
		t.ClosedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}
	l.logger.Info(ctx, "Trade closed", map[string]interface{}{
		"tradeID":   tradeID,
		"exitPrice": exitPrice,
		"pnl":       pnl,
	})
	return nil
}

// Cancel marks a PENDING trade CANCELLED.
func (l *Ledger) Cancel(ctx context.Context, tradeID string) error {
	_, err := l.Update(ctx, tradeID, func(t *domain.Trade) error {
		if t.Status != domain.StatusPending {
			return fmt.Errorf("trade %s is %s, not pending: %w", tradeID, t.Status, ports.ErrInvalidTransition)
		}
		t.Status = domain.StatusCancelled
		t.ClosedAt = time.Now().UTC()
		return nil
	})
	return err
}

// Statistics summarizes the ledger.
type Statistics struct {
	TotalTrades  int
	ActiveTrades int
	ClosedTrades int
	TotalPnL     float64
	Winning      int
	Losing       int
	WinRate      float64
}

// Stats computes aggregate trading statistics.
func (l *Ledger) Stats(ctx context.Context) (Statistics, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var stats Statistics
	all, err := l.repo.ListAll(ctx)
	if err != nil {
		return stats, err
	}
	stats.TotalTrades = len(all)
	for _, t := range all {
		switch t.Status {
		case domain.StatusActive:
			stats.ActiveTrades++
		case domain.StatusClosed:
			stats.ClosedTrades++
			stats.TotalPnL += t.ProfitLoss
			if t.ProfitLoss > 0 {
				stats.Winning++
			} else if t.ProfitLoss < 0 {
				stats.Losing++
			}
		}
	}
	if stats.ClosedTrades > 0 {
		stats.WinRate = float64(stats.Winning) / float64(stats.ClosedTrades) * 100
	}
	return stats, nil
}
