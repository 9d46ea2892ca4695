package correlator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"signalPilot/internal/domain"
	"signalPilot/internal/ports"
)

// Session carries the conversational state the correlator needs across
// messages: a bounded window of recent messages for classifier context, the
// last executed pair, and the placement record used for completion
// correlation. It is mutated only from the serialized instruction path.
type Session struct {
	capacity       int
	recentMessages []ports.InboundMessage

	LastExecutedPair string

	// Placement record of the most recent NEW signal that actually placed.
	lastPlacedAt        time.Time
	lastPlacedPair      string
	lastPlacedAction    domain.TradeAction
	lastPlacedProtected bool
}

// NewSession creates a session context with the given recent-message capacity.
func NewSession(capacity int) *Session {
	if capacity <= 0 {
		capacity = 5
	}
	return &Session{capacity: capacity}
}

// Remember appends a message to the recent window, evicting the oldest.
func (s *Session) Remember(msg ports.InboundMessage) {
	s.recentMessages = append(s.recentMessages, msg)
	if len(s.recentMessages) > s.capacity {
		s.recentMessages = s.recentMessages[len(s.recentMessages)-s.capacity:]
	}
}

// RecentContext renders the window (excluding the newest message, which is
// the one being interpreted) for classifier consumption.
func (s *Session) RecentContext() []string {
	if len(s.recentMessages) <= 1 {
		return nil
	}
	out := make([]string, 0, len(s.recentMessages)-1)
	for _, m := range s.recentMessages[:len(s.recentMessages)-1] {
		out = append(out, fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("15:04:05"), m.SenderName, m.Text))
	}
	return out
}

// NotePlacement records a successful NEW placement for later correlation.
func (s *Session) NotePlacement(pair string, action domain.TradeAction, protected bool) {
	s.lastPlacedAt = time.Now()
	s.lastPlacedPair = pair
	s.lastPlacedAction = action
	s.lastPlacedProtected = protected
	s.LastExecutedPair = pair
}

// NoteCompletion records that the prior placement received its protection.
func (s *Session) NoteCompletion() {
	s.lastPlacedAt = time.Now()
	s.lastPlacedProtected = true
}

// Config holds correlator tuning.
type Config struct {
	// CompletionWindow is how soon after an unprotected placement a matching
	// NEW signal is treated as its completion.
	CompletionWindow time.Duration
	// DefaultPair substitutes for empty or bare-metal pair references.
	DefaultPair string
}

// Correlator maps classified instructions onto ledger trades.
type Correlator struct {
	cfg    Config
	logger ports.Logger
}

// New creates a correlator.
func New(cfg Config, logger ports.Logger) (*Correlator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for correlator")
	}
	if cfg.CompletionWindow <= 0 {
		cfg.CompletionWindow = 60 * time.Second
	}
	if cfg.DefaultPair == "" {
		cfg.DefaultPair = "XAUUSD"
	}
	return &Correlator{cfg: cfg, logger: logger}, nil
}

// NormalizePair fills in the default pair when the signal names none, or
// names a bare metal alias the venue will not recognize.
func (c *Correlator) NormalizePair(sig *domain.NewSignal) {
	p := strings.ToUpper(strings.TrimSpace(sig.Pair))
	switch p {
	case "", "GOLD", "XAU":
		sig.Pair = c.cfg.DefaultPair
	default:
		sig.Pair = p
	}
}

// ResolveReference maps a MODIFY/CLOSE instruction onto exactly one active
// trade. An explicit reference matches case-insensitively by substring
// against each trade's pair. With no reference, a single active trade is the
// default target; anything else is ambiguous and no action is taken.
func (c *Correlator) ResolveReference(ctx context.Context, reference string, active []*domain.Trade) (*domain.Trade, error) {
	if len(active) == 0 {
		return nil, ports.ErrNoActiveTrades
	}

	reference = strings.ToUpper(strings.TrimSpace(reference))
	if reference == "" {
		if len(active) == 1 {
			return active[0], nil
		}
		return nil, fmt.Errorf("no trade reference and %d active trades: %w", len(active), ports.ErrAmbiguousReference)
	}

	var matches []*domain.Trade
	for _, t := range active {
		pair := strings.ToUpper(t.Pair)
		if strings.Contains(reference, pair) || strings.Contains(pair, reference) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		if len(active) == 1 {
			// The reference did not match, but there is only one candidate.
			return active[0], nil
		}
		return nil, fmt.Errorf("reference %q matches no active trade: %w", reference, ports.ErrAmbiguousReference)
	default:
		return nil, fmt.Errorf("reference %q matches %d active trades: %w", reference, len(matches), ports.ErrAmbiguousReference)
	}
}

// MatchCompletion detects the provider pattern where a market order is
// announced first and its protection arrives in a follow-up. A NEW signal is
// a completion when it matches the pair and action of the most recent
// placement, that placement happened inside the window, and the placed trade
// still lacks a stop loss. Returns the trade to complete, or nil.
func (c *Correlator) MatchCompletion(ctx context.Context, sess *Session, sig domain.NewSignal, active []*domain.Trade) *domain.Trade {
	if sess.lastPlacedAt.IsZero() || sess.lastPlacedProtected {
		return nil
	}
	if time.Since(sess.lastPlacedAt) >= c.cfg.CompletionWindow {
		return nil
	}
	if sess.lastPlacedPair != sig.Pair || sess.lastPlacedAction != sig.Action {
		return nil
	}

	// Most recent matching unprotected trade wins.
	for i := len(active) - 1; i >= 0; i-- {
		t := active[i]
		if t.Pair == sig.Pair && t.Action == sig.Action && !t.IsProtected() {
			c.logger.Info(ctx, "Detected signal completion for unprotected trade", map[string]interface{}{
				"tradeID": t.TradeID,
				"pair":    t.Pair,
				"sinceS":  time.Since(sess.lastPlacedAt).Seconds(),
			})
			return t
		}
	}
	return nil
}

// closeAllPhrases short-circuit MULTI_ACTION dispatch into a full flatten.
var closeAllPhrases = []string{
	"no longer in this trade",
	"position closed",
	"trade closed",
	"close all",
	"exit all",
}

// IsCloseAll reports whether the instruction asks to flatten everything.
func (c *Correlator) IsCloseAll(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range closeAllPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
