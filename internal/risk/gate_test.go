package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalPilot/internal/domain"
	"signalPilot/internal/ports"
)

type mockLogger struct {
	warnMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestGate(t *testing.T, cfg Config) (*Gate, *mockLogger) {
	t.Helper()
	log := &mockLogger{}
	g, err := New(cfg, log)
	require.NoError(t, err)
	return g, log
}

func defaultConfig() Config {
	return Config{
		MinRiskReward: 1.0,
		MinLotSize:    0.01,
		MaxLotSize:    5.0,
		MaxOpenTrades: 5,
	}
}

func TestRewardRatio(t *testing.T) {
	// BUY at 100, SL 95, TP 110: risk 5, reward 10.
	assert.InDelta(t, 2.0, RewardRatio(100, 95, 110, domain.Buy), 1e-9)
	// SELL at 100, SL 105, TP 90: risk 5, reward 10.
	assert.InDelta(t, 2.0, RewardRatio(100, 105, 90, domain.Sell), 1e-9)
	// Zero risk yields zero, not a division panic.
	assert.Equal(t, 0.0, RewardRatio(100, 100, 110, domain.Buy))
}

func TestCheckAcceptsGoodTrade(t *testing.T) {
	g, _ := newTestGate(t, defaultConfig())
	sig := domain.NewSignal{Pair: "XAUUSD", Action: domain.Buy, StopLoss: 95, TakeProfit: 110}
	assert.NoError(t, g.Check(context.Background(), sig, 100, 0.1, 0))
}

func TestCheckRejectsLowRewardRatio(t *testing.T) {
	g, _ := newTestGate(t, Config{MinRiskReward: 2.0, MinLotSize: 0.01, MaxLotSize: 5, MaxOpenTrades: 5})
	// risk 10, reward 10 -> ratio 1.0 < 2.0.
	sig := domain.NewSignal{Pair: "XAUUSD", Action: domain.Buy, StopLoss: 90, TakeProfit: 110}
	err := g.Check(context.Background(), sig, 100, 0.1, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrRiskRejected)
}

func TestCheckLotSizeRange(t *testing.T) {
	g, _ := newTestGate(t, defaultConfig())
	sig := domain.NewSignal{Pair: "XAUUSD", Action: domain.Buy, StopLoss: 95, TakeProfit: 110}

	err := g.Check(context.Background(), sig, 100, 0.001, 0)
	assert.ErrorIs(t, err, ports.ErrRiskRejected)

	err = g.Check(context.Background(), sig, 100, 10, 0)
	assert.ErrorIs(t, err, ports.ErrRiskRejected)
}

func TestCheckMaxOpenTrades(t *testing.T) {
	g, _ := newTestGate(t, defaultConfig())
	sig := domain.NewSignal{Pair: "XAUUSD", Action: domain.Buy, StopLoss: 95, TakeProfit: 110}
	err := g.Check(context.Background(), sig, 100, 0.1, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrRiskRejected)
}

func TestCheckUnprotectedSkipsRatioWithWarning(t *testing.T) {
	g, log := newTestGate(t, Config{MinRiskReward: 3.0, MinLotSize: 0.01, MaxLotSize: 5, MaxOpenTrades: 5})
	sig := domain.NewSignal{Pair: "XAUUSD", Action: domain.Buy}
	assert.NoError(t, g.Check(context.Background(), sig, 100, 0.1, 0))
	assert.NotEmpty(t, log.warnMsgs)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{MinLotSize: 0, MaxLotSize: 1, MaxOpenTrades: 5}, &mockLogger{})
	assert.Error(t, err)

	_, err = New(Config{MinLotSize: 2, MaxLotSize: 1, MaxOpenTrades: 5}, &mockLogger{})
	assert.Error(t, err)

	_, err = New(Config{MinLotSize: 0.01, MaxLotSize: 1, MaxOpenTrades: 0}, &mockLogger{})
	assert.Error(t, err)

	_, err = New(defaultConfig(), nil)
	assert.Error(t, err)
}
