package risk

import (
	"context"
	"fmt"
	"math"

	"signalPilot/internal/domain"
	"signalPilot/internal/ports"
)

// Config holds configuration for the risk gate.
type Config struct {
	MinRiskReward float64 // minimum reward/risk ratio; 0 disables the check
	MinLotSize    float64
	MaxLotSize    float64
	MaxOpenTrades int
}

// Gate validates new-trade signals against the configured risk policy.
// By policy, unprotected trades (missing SL or TP) pass the reward-ratio
// check with a warning instead of a rejection: protection is expected to
// arrive in a follow-up instruction.
type Gate struct {
	cfg    Config
	logger ports.Logger
}

// New creates a risk gate.
func New(cfg Config, logger ports.Logger) (*Gate, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for risk gate")
	}
	if cfg.MinLotSize <= 0 || cfg.MaxLotSize < cfg.MinLotSize {
		return nil, fmt.Errorf("invalid lot size range [%v, %v]: %w", cfg.MinLotSize, cfg.MaxLotSize, ports.ErrConfigurationError)
	}
	if cfg.MaxOpenTrades <= 0 {
		return nil, fmt.Errorf("max open trades must be positive: %w", ports.ErrConfigurationError)
	}
	return &Gate{cfg: cfg, logger: logger}, nil
}

// RewardRatio computes |reward|/|risk| for the given levels and direction.
// Returns 0 when risk is zero.
func RewardRatio(entry, stopLoss, takeProfit float64, action domain.TradeAction) float64 {
	var risk, reward float64
	if action == domain.Buy {
		risk = math.Abs(entry - stopLoss)
		reward = math.Abs(takeProfit - entry)
	} else {
		risk = math.Abs(stopLoss - entry)
		reward = math.Abs(entry - takeProfit)
	}
	if risk == 0 {
		return 0
	}
	return reward / risk
}

// Check validates a resolved new-trade signal. entry is the price after
// market substitution, lotSize the size after defaulting, activeCount the
// number of currently active trades. A non-nil error wraps ErrRiskRejected.
func (g *Gate) Check(ctx context.Context, sig domain.NewSignal, entry, lotSize float64, activeCount int) error {
	if lotSize < g.cfg.MinLotSize {
		return fmt.Errorf("lot size %v below minimum %v: %w", lotSize, g.cfg.MinLotSize, ports.ErrRiskRejected)
	}
	if lotSize > g.cfg.MaxLotSize {
		return fmt.Errorf("lot size %v exceeds maximum %v: %w", lotSize, g.cfg.MaxLotSize, ports.ErrRiskRejected)
	}

	if activeCount >= g.cfg.MaxOpenTrades {
		return fmt.Errorf("maximum open trades reached (%d/%d): %w", activeCount, g.cfg.MaxOpenTrades, ports.ErrRiskRejected)
	}

	if sig.StopLoss == 0 || sig.TakeProfit == 0 {
		g.logger.Warn(ctx, "Trade without full protection, skipping reward-ratio check", map[string]interface{}{
			"pair":       sig.Pair,
			"stopLoss":   sig.StopLoss,
			"takeProfit": sig.TakeProfit,
		})
		return nil
	}

	ratio := RewardRatio(entry, sig.StopLoss, sig.TakeProfit, sig.Action)
	if ratio < g.cfg.MinRiskReward {
		return fmt.Errorf("reward ratio %.2f below minimum %.2f: %w", ratio, g.cfg.MinRiskReward, ports.ErrRiskRejected)
	}
	return nil
}
