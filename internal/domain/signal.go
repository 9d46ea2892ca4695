package domain

// SignalKind discriminates the closed set of classified instruction variants.
type SignalKind string

const (
	SignalNew         SignalKind = "new"
	SignalModify      SignalKind = "modify"
	SignalClose       SignalKind = "close"
	SignalMultiAction SignalKind = "multi_action"
	SignalNone        SignalKind = "none"
)

// Signal is the classified outcome of interpreting a free-text instruction.
// It is a closed union: the only implementations are NewSignal, ModifySignal,
// CloseSignal, MultiActionSignal and NoSignal, so dispatchers can match
// exhaustively on the concrete type.
type Signal interface {
	Kind() SignalKind
}

// NewSignal instructs the bot to open a position.
type NewSignal struct {
	Pair       string
	Action     TradeAction
	EntryPrice float64 // 0 = at current market
	StopLoss   float64 // 0 = unset
	TakeProfit float64 // 0 = unset
	TPLevels   []float64
	LotSize    float64 // 0 = use configured default
	Execution  ExecutionType
	Confidence float64
	Reasoning  string
}

func (NewSignal) Kind() SignalKind { return SignalNew }

// IsProtected reports whether the signal carries both SL and TP.
func (s NewSignal) IsProtected() bool {
	return s.StopLoss != 0 && s.TakeProfit != 0
}

// ModifySignal instructs the bot to adjust SL/TP on an existing trade.
type ModifySignal struct {
	ActionType     string // modify_sl, modify_tp, modify_both
	TradeReference string // free-text reference, empty if unspecified
	NewStopLoss    float64
	NewTakeProfit  float64
	Confidence     float64
	Reasoning      string
}

func (ModifySignal) Kind() SignalKind { return SignalModify }

// CloseSignal instructs the bot to close all or part of an existing trade.
type CloseSignal struct {
	ActionType     string // close or partial_close
	TradeReference string
	ClosePercent   float64 // 100 = full close
	Confidence     float64
	Reasoning      string
}

func (CloseSignal) Kind() SignalKind { return SignalClose }

// MultiActionSignal carries an ordered list of sub-actions to dispatch in
// sequence. Each element is a NewSignal, ModifySignal or CloseSignal sharing
// the parent's confidence and reasoning.
type MultiActionSignal struct {
	Actions    []Signal
	Confidence float64
	Reasoning  string
}

func (MultiActionSignal) Kind() SignalKind { return SignalMultiAction }

// NoSignal marks a message that is not a trading instruction.
type NoSignal struct {
	Confidence float64
	Reasoning  string
}

func (NoSignal) Kind() SignalKind { return SignalNone }
