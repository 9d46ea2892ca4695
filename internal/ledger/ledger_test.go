package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalPilot/internal/domain"
	"signalPilot/internal/ports"
)

type mockLogger struct{}

func (mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// memRepo is an in-memory TradeRepository. It stores copies so callers only
// see committed state, like the real repository.
type memRepo struct {
	trades map[string]*domain.Trade
	order  []string
}

func newMemRepo() *memRepo {
	return &memRepo{trades: make(map[string]*domain.Trade)}
}

func clone(t *domain.Trade) *domain.Trade {
	cp := *t
	cp.TPLevels = append([]float64(nil), t.TPLevels...)
	cp.PartialHistory = append([]domain.PartialClose(nil), t.PartialHistory...)
	cp.Modifications = append([]domain.Modification(nil), t.Modifications...)
	return &cp
}

func (m *memRepo) Create(ctx context.Context, t *domain.Trade) error {
	m.trades[t.TradeID] = clone(t)
	m.order = append(m.order, t.TradeID)
	return nil
}

func (m *memRepo) Update(ctx context.Context, t *domain.Trade) error {
	if _, ok := m.trades[t.TradeID]; !ok {
		return ports.ErrNotFound
	}
	m.trades[t.TradeID] = clone(t)
	return nil
}

func (m *memRepo) Get(ctx context.Context, tradeID string) (*domain.Trade, error) {
	t, ok := m.trades[tradeID]
	if !ok {
		return nil, nil
	}
	return clone(t), nil
}

func (m *memRepo) GetByTicket(ctx context.Context, ticket int64) (*domain.Trade, error) {
	for _, id := range m.order {
		t := m.trades[id]
		if t.BrokerTicket == ticket && !t.Status.IsTerminal() {
			return clone(t), nil
		}
	}
	return nil, nil
}

func (m *memRepo) ListActive(ctx context.Context) ([]*domain.Trade, error) {
	return m.listByStatus(domain.StatusActive), nil
}

func (m *memRepo) ListByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error) {
	return m.listByStatus(status), nil
}

func (m *memRepo) listByStatus(status domain.TradeStatus) []*domain.Trade {
	var out []*domain.Trade
	for _, id := range m.order {
		if m.trades[id].Status == status {
			out = append(out, clone(m.trades[id]))
		}
	}
	return out
}

func (m *memRepo) ListByPair(ctx context.Context, pair string) ([]*domain.Trade, error) {
	var out []*domain.Trade
	for _, id := range m.order {
		t := m.trades[id]
		if t.Pair == pair && t.Status == domain.StatusActive {
			out = append(out, clone(t))
		}
	}
	return out, nil
}

func (m *memRepo) ListRecent(ctx context.Context, n int) ([]*domain.Trade, error) {
	var out []*domain.Trade
	for i := len(m.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, clone(m.trades[m.order[i]]))
	}
	return out, nil
}

func (m *memRepo) ListAll(ctx context.Context) ([]*domain.Trade, error) {
	var out []*domain.Trade
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, clone(m.trades[m.order[i]]))
	}
	return out, nil
}

func newTestLedger(t *testing.T) (*Ledger, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	led, err := New(repo, mockLogger{})
	require.NoError(t, err)
	return led, repo
}

func activeTrade() *domain.Trade {
	return &domain.Trade{
		Pair:         "XAUUSD",
		Action:       domain.Buy,
		EntryPrice:   2380,
		ActualEntry:  2380,
		StopLoss:     2370,
		TakeProfit:   2400,
		LotSize:      0.1,
		BrokerTicket: 1001,
		Status:       domain.StatusActive,
	}
}

func TestCreateAssignsIDAndTimestamps(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	id, err := led.Create(ctx, activeTrade())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := led.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, domain.StatusActive, got.Status)
}

func TestCreateRejectsDuplicateTicket(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := led.Create(ctx, activeTrade())
	require.NoError(t, err)

	_, err = led.Create(ctx, activeTrade())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrDuplicateTicket)
}

func TestCreateRejectsBadInput(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	tr := activeTrade()
	tr.LotSize = 0
	_, err := led.Create(ctx, tr)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	tr = activeTrade()
	tr.Status = domain.StatusClosed
	_, err = led.Create(ctx, tr)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestCreateFailedTradeIsTerminalAtBirth(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	tr := activeTrade()
	tr.Status = domain.StatusFailed
	tr.BrokerTicket = 0
	id, err := led.Create(ctx, tr)
	require.NoError(t, err)

	_, err = led.Update(ctx, id, func(tr *domain.Trade) error {
		tr.StopLoss = 1
		return nil
	})
	assert.ErrorIs(t, err, ports.ErrInvalidTransition)

	active, err := led.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := led.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.StatusFailed, all[0].Status)
}

func TestUpdateAppendsExactlyOneAuditEntry(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	id, err := led.Create(ctx, activeTrade())
	require.NoError(t, err)

	// Single-field change records its specific type.
	got, err := led.Update(ctx, id, func(tr *domain.Trade) error {
		tr.StopLoss = 2375
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got.Modifications, 1)
	assert.Equal(t, domain.ModSLUpdate, got.Modifications[0].Type)
	assert.Equal(t, 2370.0, got.Modifications[0].Details["old_sl"])
	assert.Equal(t, 2375.0, got.Modifications[0].Details["new_sl"])

	// Multi-field change still records exactly one entry.
	got, err = led.Update(ctx, id, func(tr *domain.Trade) error {
		tr.StopLoss = 2378
		tr.TakeProfit = 2410
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got.Modifications, 2)
	assert.Equal(t, domain.ModMixed, got.Modifications[1].Type)

	// No-op mutation records nothing.
	got, err = led.Update(ctx, id, func(tr *domain.Trade) error { return nil })
	require.NoError(t, err)
	assert.Len(t, got.Modifications, 2)
}

func TestUpdateRejectsInvalidTransition(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	id, err := led.Create(ctx, activeTrade())
	require.NoError(t, err)

	_, err = led.Update(ctx, id, func(tr *domain.Trade) error {
		tr.Status = domain.StatusCancelled
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInvalidTransition)
}

func TestUpdateMissingTrade(t *testing.T) {
	led, _ := newTestLedger(t)
	_, err := led.Update(context.Background(), "nope", func(tr *domain.Trade) error { return nil })
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestActivatePendingTrade(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	tr := activeTrade()
	tr.Status = domain.StatusPending
	tr.ActualEntry = 0
	id, err := led.Create(ctx, tr)
	require.NoError(t, err)

	got, err := led.Activate(ctx, id, 2381.2)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, 2381.2, got.ActualEntry)

	// Activating twice fails.
	_, err = led.Activate(ctx, id, 2381.2)
	assert.ErrorIs(t, err, ports.ErrInvalidTransition)
}

func TestCloseIsTerminal(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	id, err := led.Create(ctx, activeTrade())
	require.NoError(t, err)

	require.NoError(t, led.Close(ctx, id, 2405, 25.0))

	got, err := led.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, got.Status)
	assert.Equal(t, 2405.0, got.ExitPrice)
	assert.Equal(t, 25.0, got.ProfitLoss)
	assert.False(t, got.ClosedAt.IsZero())

	// Terminal trades never move again.
	err = led.Close(ctx, id, 2410, 30)
	assert.ErrorIs(t, err, ports.ErrInvalidTransition)
	_, err = led.Update(ctx, id, func(tr *domain.Trade) error {
		tr.StopLoss = 1
		return nil
	})
	assert.ErrorIs(t, err, ports.ErrInvalidTransition)
}

func TestCancelPendingOnly(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	tr := activeTrade()
	tr.Status = domain.StatusPending
	id, err := led.Create(ctx, tr)
	require.NoError(t, err)

	require.NoError(t, led.Cancel(ctx, id))
	got, err := led.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	id2, err := led.Create(ctx, func() *domain.Trade {
		tr := activeTrade()
		tr.BrokerTicket = 1002
		return tr
	}())
	require.NoError(t, err)
	assert.ErrorIs(t, led.Cancel(ctx, id2), ports.ErrInvalidTransition)
}

func TestStats(t *testing.T) {
	led, _ := newTestLedger(t)
	ctx := context.Background()

	winner := activeTrade()
	id1, err := led.Create(ctx, winner)
	require.NoError(t, err)
	require.NoError(t, led.Close(ctx, id1, 2400, 20))

	loser := activeTrade()
	loser.BrokerTicket = 1002
	id2, err := led.Create(ctx, loser)
	require.NoError(t, err)
	require.NoError(t, led.Close(ctx, id2, 2370, -10))

	open := activeTrade()
	open.BrokerTicket = 1003
	_, err = led.Create(ctx, open)
	require.NoError(t, err)

	stats, err := led.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalTrades)
	assert.Equal(t, 1, stats.ActiveTrades)
	assert.Equal(t, 2, stats.ClosedTrades)
	assert.InDelta(t, 10.0, stats.TotalPnL, 1e-9)
	assert.Equal(t, 1, stats.Winning)
	assert.Equal(t, 1, stats.Losing)
	assert.InDelta(t, 50.0, stats.WinRate, 1e-9)
}
