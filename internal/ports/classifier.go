package ports

import (
	"context"

	"signalPilot/internal/domain"
)

// Classifier defines the external natural-language interpretation step.
// It consumes an instruction string plus ledger context and returns a typed
// signal. A nil signal with a nil error means the text could not be parsed.
type Classifier interface {
	Interpret(ctx context.Context, text string, activeTrades []*domain.Trade, recentMessages []string, lastTradedPair string) (domain.Signal, error)
}
