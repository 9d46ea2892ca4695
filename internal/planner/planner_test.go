package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalPilot/internal/domain"
	"signalPilot/internal/ledger"
	"signalPilot/internal/ports"
	"signalPilot/internal/risk"
)

type mockLogger struct{}

func (mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type memRepo struct {
	trades map[string]*domain.Trade
	order  []string
}

func newMemRepo() *memRepo { return &memRepo{trades: make(map[string]*domain.Trade)} }

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
	var out []*domain.Trade
	for _, id := range m.order {
		if m.trades[id].Status == domain.StatusActive {
			out = append(out, clone(m.trades[id]))
		}
	}
	return out, nil
}

func (m *memRepo) ListByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error) {
	var out []*domain.Trade
	for _, id := range m.order {
		if m.trades[id].Status == status {
			out = append(out, clone(m.trades[id]))
		}
	}
	return out, nil
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

type marketCall struct {
	symbol string
	action domain.TradeAction
	lots   float64
	sl, tp float64
}

type pendingCall struct {
	symbol    string
	orderType domain.PendingOrderType
	lots      float64
	price     float64
	sl, tp    float64
}

type modifyCall struct {
	ticket int64
	sl, tp float64
}

type mockVenue struct {
	info         *ports.SymbolInfo
	nextTicket   int64
	marketErr    error
	marketCalls  []marketCall
	pendingCalls []pendingCall
	modifyCalls  []modifyCall
}

func (m *mockVenue) Ping(ctx context.Context) error { return nil }

func (m *mockVenue) PlaceMarketOrder(ctx context.Context, symbol string, action domain.TradeAction, lots, sl, tp float64) (int64, error) {
	if m.marketErr != nil {
		return 0, m.marketErr
	}
	m.marketCalls = append(m.marketCalls, marketCall{symbol, action, lots, sl, tp})
	m.nextTicket++
	return m.nextTicket, nil
}

func (m *mockVenue) PlacePendingOrder(ctx context.Context, symbol string, orderType domain.PendingOrderType, lots, price, sl, tp float64) (int64, error) {
	m.pendingCalls = append(m.pendingCalls, pendingCall{symbol, orderType, lots, price, sl, tp})
	m.nextTicket++
	return m.nextTicket, nil
}

func (m *mockVenue) ModifyOrder(ctx context.Context, ticket int64, sl, tp float64) error {
	m.modifyCalls = append(m.modifyCalls, modifyCall{ticket, sl, tp})
	return nil
}

func (m *mockVenue) CloseOrder(ctx context.Context, ticket int64, volume float64) (float64, error) {
	return m.info.Bid, nil
}

func (m *mockVenue) CancelPending(ctx context.Context, ticket int64) error { return nil }

func (m *mockVenue) GetOpenPositions(ctx context.Context) ([]ports.VenuePosition, error) {
	return nil, nil
}

func (m *mockVenue) GetPendingOrders(ctx context.Context) ([]ports.VenueOrder, error) {
	return nil, nil
}

func (m *mockVenue) GetSymbolInfo(ctx context.Context, symbol string) (*ports.SymbolInfo, error) {
	return m.info, nil
}

func (m *mockVenue) TicketExists(ctx context.Context, ticket int64) (bool, ports.TicketLocation, error) {
	return true, ports.TicketPosition, nil
}

func newTestPlanner(t *testing.T, venue *mockVenue) (*Planner, *ledger.Ledger) {
	t.Helper()
	led, err := ledger.New(newMemRepo(), mockLogger{})
	require.NoError(t, err)
	gate, err := risk.New(risk.Config{
		MinRiskReward: 1.0,
		MinLotSize:    0.01,
		MaxLotSize:    5,
		MaxOpenTrades: 5,
	}, mockLogger{})
	require.NoError(t, err)
	p, err := New(Config{DefaultLotSize: 0.1, AtMarketPoints: 10}, venue, led, gate, mockLogger{})
	require.NoError(t, err)
	return p, led
}

func eurusdQuote(price float64) *ports.SymbolInfo {
	return &ports.SymbolInfo{Symbol: "EURUSD", Bid: price, Ask: price, Point: 0.0001, Digits: 5}
}

func TestExtractRange(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		low, high float64
		ok        bool
	}{
		{"range keyword", "SELL EURUSD Range: 1.0900-1.0950", 1.0900, 1.0950, true},
		{"range with to", "entry range 1.0900 to 1.0950", 1.0900, 1.0950, true},
		{"zone keyword", "buy zone 2380-2385", 2380, 2385, true},
		{"bare dash", "EURUSD 1.0900-1.0950 sl 1.0870", 1.0900, 1.0950, true},
		{"reversed bounds normalize", "range: 1.0950-1.0900", 1.0900, 1.0950, true},
		{"no range", "BUY XAUUSD now sl 2370", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			low, high, ok := ExtractRange(tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.low, low)
				assert.Equal(t, tt.high, high)
			}
		})
	}
}

func TestPendingTypeSelection(t *testing.T) {
	tests := []struct {
		name      string
		action    domain.TradeAction
		market    float64
		wantType  domain.PendingOrderType
		wantPrice float64
	}{
		{"sell above zone", domain.Sell, 1.0970, domain.SellStop, 1.0950},
		{"sell below zone", domain.Sell, 1.0860, domain.SellLimit, 1.0900},
		{"buy below zone", domain.Buy, 1.0860, domain.BuyStop, 1.0900},
		{"buy above zone", domain.Buy, 1.0970, domain.BuyLimit, 1.0950},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ot, price := pendingType(tt.action, tt.market, 1.0900, 1.0950)
			assert.Equal(t, tt.wantType, ot)
			assert.Equal(t, tt.wantPrice, price)
		})
	}
}

func TestExecuteNewMarketInsideZone(t *testing.T) {
	venue := &mockVenue{info: eurusdQuote(1.0920)}
	p, _ := newTestPlanner(t, venue)

	sig := domain.NewSignal{
		Pair: "EURUSD", Action: domain.Sell, Execution: domain.ExecPending,
		StopLoss: 1.1000, TakeProfit: 1.0800,
	}
	tr, err := p.ExecuteNew(context.Background(), sig, "SELL EURUSD range 1.0900-1.0950", 42)
	require.NoError(t, err)
	require.NotNil(t, tr)

	assert.Len(t, venue.marketCalls, 1)
	assert.Empty(t, venue.pendingCalls)
	assert.Equal(t, domain.StatusActive, tr.Status)
	assert.Equal(t, 1.0920, tr.ActualEntry)
	assert.Equal(t, int64(42), tr.SourceMessageID)
}

func TestExecuteNewSellStopAboveZone(t *testing.T) {
	venue := &mockVenue{info: eurusdQuote(1.0970)}
	p, _ := newTestPlanner(t, venue)

	sig := domain.NewSignal{
		Pair: "EURUSD", Action: domain.Sell, Execution: domain.ExecPending,
		StopLoss: 1.1000, TakeProfit: 1.0800,
	}
	tr, err := p.ExecuteNew(context.Background(), sig, "SELL EURUSD range 1.0900-1.0950", 1)
	require.NoError(t, err)
	require.NotNil(t, tr)

	require.Len(t, venue.pendingCalls, 1)
	assert.Equal(t, domain.SellStop, venue.pendingCalls[0].orderType)
	assert.Equal(t, 1.0950, venue.pendingCalls[0].price)
	assert.Equal(t, domain.StatusPending, tr.Status)
	assert.Equal(t, 1.0950, tr.EntryPrice)
	assert.Equal(t, 0.0, tr.ActualEntry)
}

func TestExecuteNewSellLimitBelowZone(t *testing.T) {
	venue := &mockVenue{info: eurusdQuote(1.0860)}
	p, _ := newTestPlanner(t, venue)

	sig := domain.NewSignal{
		Pair: "EURUSD", Action: domain.Sell, Execution: domain.ExecPending,
		StopLoss: 1.1000, TakeProfit: 1.0700,
	}
	tr, err := p.ExecuteNew(context.Background(), sig, "SELL EURUSD range 1.0900-1.0950", 1)
	require.NoError(t, err)
	require.NotNil(t, tr)

	require.Len(t, venue.pendingCalls, 1)
	assert.Equal(t, domain.SellLimit, venue.pendingCalls[0].orderType)
	assert.Equal(t, 1.0900, venue.pendingCalls[0].price)
}

func TestExecuteNewSingleEntryNearMarketExecutesImmediately(t *testing.T) {
	// Stated entry 5 points away, inside the 10-point tolerance.
	venue := &mockVenue{info: eurusdQuote(1.0905)}
	p, _ := newTestPlanner(t, venue)

	sig := domain.NewSignal{
		Pair: "EURUSD", Action: domain.Buy, Execution: domain.ExecPending, EntryPrice: 1.0900,
		StopLoss: 1.0850, TakeProfit: 1.0990,
	}
	tr, err := p.ExecuteNew(context.Background(), sig, "BUY EURUSD @ 1.0900", 1)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Len(t, venue.marketCalls, 1)
	assert.Empty(t, venue.pendingCalls)
}

func TestExecuteNewDefaultsLotSizeAndLadderTP(t *testing.T) {
	venue := &mockVenue{info: eurusdQuote(1.0900)}
	p, _ := newTestPlanner(t, venue)

	sig := domain.NewSignal{
		Pair: "EURUSD", Action: domain.Buy,
		StopLoss: 1.0850, TPLevels: []float64{1.0950, 1.1000, 1.1050},
	}
	tr, err := p.ExecuteNew(context.Background(), sig, "BUY EURUSD", 1)
	require.NoError(t, err)
	require.NotNil(t, tr)

	require.Len(t, venue.marketCalls, 1)
	assert.Equal(t, 0.1, venue.marketCalls[0].lots)
	// Venue TP is the final ladder level.
	assert.Equal(t, 1.1050, venue.marketCalls[0].tp)
	assert.Equal(t, []float64{1.0950, 1.1000, 1.1050}, tr.TPLevels)
}

func TestExecuteNewRiskRejectionPlacesNothing(t *testing.T) {
	venue := &mockVenue{info: eurusdQuote(1.0900)}
	p, led := newTestPlanner(t, venue)

	// risk 100 points, reward 10 points.
	sig := domain.NewSignal{
		Pair: "EURUSD", Action: domain.Buy,
		StopLoss: 1.0800, TakeProfit: 1.0910,
	}
	_, err := p.ExecuteNew(context.Background(), sig, "BUY EURUSD", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrRiskRejected)
	assert.Empty(t, venue.marketCalls)
	assert.Empty(t, venue.pendingCalls)

	active, err := led.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestExecuteNewImmediateIgnoresRangeText(t *testing.T) {
	// An immediate signal goes to market even when the text carries a zone.
	venue := &mockVenue{info: eurusdQuote(1.0970)}
	p, _ := newTestPlanner(t, venue)

	sig := domain.NewSignal{
		Pair: "EURUSD", Action: domain.Sell, Execution: domain.ExecImmediate,
		StopLoss: 1.1000, TakeProfit: 1.0800,
	}
	tr, err := p.ExecuteNew(context.Background(), sig, "SELL EURUSD support zone: 1.0900 to 1.0950", 1)
	require.NoError(t, err)
	require.NotNil(t, tr)

	assert.Len(t, venue.marketCalls, 1)
	assert.Empty(t, venue.pendingCalls)
	assert.Equal(t, domain.StatusActive, tr.Status)
}

func TestExecuteNewZoneHasNoTolerance(t *testing.T) {
	// 5 points above the zone still rests a SELL_STOP at the upper bound; the
	// at-market tolerance applies only to a lone stated entry.
	venue := &mockVenue{info: eurusdQuote(1.0955)}
	p, _ := newTestPlanner(t, venue)

	sig := domain.NewSignal{
		Pair: "EURUSD", Action: domain.Sell, Execution: domain.ExecPending,
		StopLoss: 1.1000, TakeProfit: 1.0800,
	}
	tr, err := p.ExecuteNew(context.Background(), sig, "SELL EURUSD zone 1.0900-1.0950", 1)
	require.NoError(t, err)
	require.NotNil(t, tr)

	assert.Empty(t, venue.marketCalls)
	require.Len(t, venue.pendingCalls, 1)
	assert.Equal(t, domain.SellStop, venue.pendingCalls[0].orderType)
	assert.Equal(t, 1.0950, venue.pendingCalls[0].price)
}

func TestExecuteNewUnsupportedExecutionDropped(t *testing.T) {
	venue := &mockVenue{info: eurusdQuote(1.0900)}
	p, led := newTestPlanner(t, venue)

	sig := domain.NewSignal{
		Pair: "EURUSD", Action: domain.Buy, Execution: "conditional",
		StopLoss: 1.0850, TakeProfit: 1.0990,
	}
	tr, err := p.ExecuteNew(context.Background(), sig, "BUY EURUSD when London opens", 1)
	require.NoError(t, err)
	assert.Nil(t, tr)
	assert.Empty(t, venue.marketCalls)
	assert.Empty(t, venue.pendingCalls)

	all, err := led.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestExecuteNewPlacementFailureRecordedAsFailed(t *testing.T) {
	venue := &mockVenue{info: eurusdQuote(1.0900), marketErr: errors.New("market closed")}
	p, led := newTestPlanner(t, venue)

	sig := domain.NewSignal{
		Pair: "EURUSD", Action: domain.Buy,
		StopLoss: 1.0850, TakeProfit: 1.0990,
	}
	_, err := p.ExecuteNew(context.Background(), sig, "BUY EURUSD", 1)
	require.Error(t, err)

	active, err := led.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)

	failed, err := led.ListByStatus(context.Background(), domain.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "EURUSD", failed[0].Pair)
	assert.Equal(t, int64(0), failed[0].BrokerTicket)
	assert.True(t, failed[0].Status.IsTerminal())
}

func TestBreakevenUsesActualEntryWhenFavorable(t *testing.T) {
	venue := &mockVenue{info: eurusdQuote(1.0950)}
	p, led := newTestPlanner(t, venue)

	tr := &domain.Trade{
		Pair: "EURUSD", Action: domain.Buy,
		EntryPrice: 1.0900, ActualEntry: 1.0905, SignalEntry: 1.0900,
		StopLoss: 1.0850, TakeProfit: 1.1000,
		LotSize: 0.1, BrokerTicket: 7, Status: domain.StatusActive,
	}
	id, err := led.Create(context.Background(), tr)
	require.NoError(t, err)
	tr.TradeID = id

	newSL, moved, err := p.Breakeven(context.Background(), tr)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, 1.0905, newSL)
	require.Len(t, venue.modifyCalls, 1)
	assert.Equal(t, 1.0905, venue.modifyCalls[0].sl)

	got, err := led.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1.0905, got.StopLoss)
}

func TestBreakevenFallsBackToSignalEntry(t *testing.T) {
	// Filled at 1.0960 (worse than stated), market at 1.0950: using the fill
	// would lock in a loss, the stated 1.0940 would not.
	venue := &mockVenue{info: eurusdQuote(1.0950)}
	p, led := newTestPlanner(t, venue)

	tr := &domain.Trade{
		Pair: "EURUSD", Action: domain.Buy,
		ActualEntry: 1.0960, SignalEntry: 1.0940,
		StopLoss: 1.0900, TakeProfit: 1.1000,
		LotSize: 0.1, BrokerTicket: 7, Status: domain.StatusActive,
	}
	id, err := led.Create(context.Background(), tr)
	require.NoError(t, err)
	tr.TradeID = id

	newSL, moved, err := p.Breakeven(context.Background(), tr)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, 1.0940, newSL)
}

func TestBreakevenSkipsWhenNotProfitable(t *testing.T) {
	venue := &mockVenue{info: eurusdQuote(1.0890)}
	p, led := newTestPlanner(t, venue)

	tr := &domain.Trade{
		Pair: "EURUSD", Action: domain.Buy,
		ActualEntry: 1.0905, SignalEntry: 1.0900,
		StopLoss: 1.0850, TakeProfit: 1.1000,
		LotSize: 0.1, BrokerTicket: 7, Status: domain.StatusActive,
	}
	id, err := led.Create(context.Background(), tr)
	require.NoError(t, err)
	tr.TradeID = id

	_, moved, err := p.Breakeven(context.Background(), tr)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Empty(t, venue.modifyCalls)
}
