package domain

import "time"

// Modification types recorded in a trade's audit log.
const (
	ModSLUpdate     = "sl_update"
	ModTPUpdate     = "tp_update"
	ModVolumeUpdate = "volume_update"
	ModMixed        = "modify"
)

// Modification is one entry in the append-only audit log of a trade.
type Modification struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details"`
}

// PartialClose is one entry in the append-only partial-close history.
type PartialClose struct {
	Percent   float64   `json:"percent"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Trade represents one brokerage position or pending order tracked by the bot.
// The ledger is the sole owner of Trade state; other components hold only the
// TradeID or BrokerTicket.
type Trade struct {
	TradeID string      // opaque, assigned at creation, immutable
	Pair    string      // symbol, e.g. "EURUSD"
	Action  TradeAction // BUY or SELL

	EntryPrice  float64 // requested entry
	ActualEntry float64 // confirmed fill price, 0 until filled
	SignalEntry float64 // provider's stated reference price, 0 if unknown
	StopLoss    float64 // 0 = unset
	TakeProfit  float64 // 0 = unset

	// Ordered take-profit ladder: ascending for BUY, descending for SELL.
	// Empty for single-TP trades.
	TPLevels []float64

	LotSize        float64
	PartialsTaken  int
	PartialHistory []PartialClose

	BrokerTicket int64 // 0 until the venue accepts the order

	Status    TradeStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  time.Time // zero until terminal

	SourceText      string
	SourceMessageID int64 // 0 for system-adopted trades

	ExitPrice  float64
	ProfitLoss float64

	Modifications []Modification
}

// IsProtected reports whether the trade carries a stop loss.
func (t *Trade) IsProtected() bool {
	return t.StopLoss != 0
}

// IsOpen reports whether the trade is in a non-terminal state.
func (t *Trade) IsOpen() bool {
	return !t.Status.IsTerminal()
}

// NextTPLevel returns the next untaken ladder level, if any.
func (t *Trade) NextTPLevel() (float64, bool) {
	if t.PartialsTaken >= len(t.TPLevels) {
		return 0, false
	}
	return t.TPLevels[t.PartialsTaken], true
}

// EntryReference returns the best-known entry price for profitability
// comparisons: the confirmed fill when present, the requested entry otherwise.
func (t *Trade) EntryReference() float64 {
	if t.ActualEntry != 0 {
		return t.ActualEntry
	}
	return t.EntryPrice
}

// InProfitAt reports whether the trade is profitable versus its entry
// reference at the given market price.
func (t *Trade) InProfitAt(price float64) bool {
	entry := t.EntryReference()
	if t.Action == Buy {
		return price > entry
	}
	return price < entry
}

// AddModification appends one audit entry and bumps UpdatedAt.
func (t *Trade) AddModification(modType string, details map[string]interface{}) {
	t.Modifications = append(t.Modifications, Modification{
		Type:      modType,
		Timestamp: time.Now().UTC(),
		Details:   details,
	})
	t.UpdatedAt = time.Now().UTC()
}

// RecordPartial appends one partial-close record, reduces the remaining
// volume and advances the ladder cursor. The ledger's audit diff covers the
// volume change; this history tracks the fills themselves.
func (t *Trade) RecordPartial(percent, price, volume float64) {
	t.PartialHistory = append(t.PartialHistory, PartialClose{
		Percent:   percent,
		Price:     price,
		Volume:    volume,
		Timestamp: time.Now().UTC(),
	})
	t.LotSize -= volume
	if t.LotSize < 0 {
		t.LotSize = 0
	}
	t.PartialsTaken++
}

// AgeSeconds returns the trade age in seconds.
func (t *Trade) AgeSeconds() float64 {
	return time.Since(t.CreatedAt).Seconds()
}
