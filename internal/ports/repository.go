package ports

import (
	"context"

	"signalPilot/internal/domain"
)

// TradeRepository defines the persistence interface for the trade ledger.
// Implementations must be durable (state survives restart) and atomic per
// call: a crash mid-write must not corrupt previously committed state.
type TradeRepository interface {
	// Create persists a new trade. The caller assigns the trade ID.
	Create(ctx context.Context, t *domain.Trade) error
	// Update rewrites an existing trade record.
	Update(ctx context.Context, t *domain.Trade) error
	// Get retrieves a trade by its ID. Returns nil, nil if not found.
	Get(ctx context.Context, tradeID string) (*domain.Trade, error)
	// GetByTicket retrieves the non-terminal trade holding the broker ticket.
	// Returns nil, nil if not found.
	GetByTicket(ctx context.Context, ticket int64) (*domain.Trade, error)
	// ListActive retrieves all trades in ACTIVE status.
	ListActive(ctx context.Context) ([]*domain.Trade, error)
	// ListByStatus retrieves all trades with the given status.
	ListByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error)
	// ListByPair retrieves active trades for a pair (case-insensitive).
	ListByPair(ctx context.Context, pair string) ([]*domain.Trade, error)
	// ListRecent retrieves the n most recently created trades.
	ListRecent(ctx context.Context, n int) ([]*domain.Trade, error)
	// ListAll retrieves every trade, newest first.
	ListAll(ctx context.Context) ([]*domain.Trade, error)
}
