package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"signalPilot/internal/domain"
	"signalPilot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.TradeRepository interface using SQLite.
// Every call executes as a single implicit transaction, so a crash mid-write
// cannot corrupt previously committed trades.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trades.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the message loop and the monitor.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; limiting the pool avoids
	// SQLITE_BUSY churn from the Go driver.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Trade ledger database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates the trades table if it doesn't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		trade_id TEXT PRIMARY KEY,
		pair TEXT NOT NULL,
		action TEXT NOT NULL,
		entry_price REAL NOT NULL,
		actual_entry REAL NOT NULL DEFAULT 0,
		signal_entry REAL NOT NULL DEFAULT 0,
		stop_loss REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		tp_levels TEXT NOT NULL DEFAULT '[]',
		lot_size REAL NOT NULL,
		partials_taken INTEGER NOT NULL DEFAULT 0,
		partial_history TEXT NOT NULL DEFAULT '[]',
		broker_ticket INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL,
		source_text TEXT NOT NULL DEFAULT '',
		source_message_id INTEGER NOT NULL DEFAULT 0,
		exit_price REAL NOT NULL DEFAULT 0,
		profit_loss REAL NOT NULL DEFAULT 0,
		modifications TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades (status);
	CREATE INDEX IF NOT EXISTS idx_trades_pair_status ON trades (pair, status);
	CREATE INDEX IF NOT EXISTS idx_trades_ticket ON trades (broker_ticket);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing trade ledger database")
		return r.db.Close()
	}
	return nil
}

const tradeColumns = `trade_id, pair, action, entry_price, actual_entry, signal_entry,
	stop_loss, take_profit, tp_levels, lot_size, partials_taken, partial_history,
	broker_ticket, status, created_at, updated_at, closed_at, source_text,
	source_message_id, exit_price, profit_loss, modifications`

// Create persists a new trade record.
func (r *Repository) Create(ctx context.Context, t *domain.Trade) error {
	const query = `
	INSERT INTO trades (` + tradeColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	tpLevels, partials, mods, err := marshalCollections(t)
	if err != nil {
		return err
	}

	var closedAt sql.NullTime
	if !t.ClosedAt.IsZero() {
		closedAt = sql.NullTime{Time: t.ClosedAt, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, query,
		t.TradeID, t.Pair, t.Action, t.EntryPrice, t.ActualEntry, t.SignalEntry,
		t.StopLoss, t.TakeProfit, tpLevels, t.LotSize, t.PartialsTaken, partials,
		t.BrokerTicket, t.Status, t.CreatedAt, t.UpdatedAt, closedAt, t.SourceText,
		t.SourceMessageID, t.ExitPrice, t.ProfitLoss, mods)
	if err != nil {
		return fmt.Errorf("failed to insert trade %s for %s: %w", t.TradeID, t.Pair, err)
	}
	r.logger.Debug(ctx, "Trade persisted", map[string]interface{}{"tradeID": t.TradeID, "pair": t.Pair, "status": t.Status})
	return nil
}

// Update rewrites an existing trade record.
func (r *Repository) Update(ctx context.Context, t *domain.Trade) error {
	const query = `
	UPDATE trades
	SET pair = ?, action = ?, entry_price = ?, actual_entry = ?, signal_entry = ?,
	    stop_loss = ?, take_profit = ?, tp_levels = ?, lot_size = ?, partials_taken = ?,
	    partial_history = ?, broker_ticket = ?, status = ?, created_at = ?, updated_at = ?,
	    closed_at = ?, source_text = ?, source_message_id = ?, exit_price = ?,
	    profit_loss = ?, modifications = ?
	WHERE trade_id = ?`

	tpLevels, partials, mods, err := marshalCollections(t)
	if err != nil {
		return err
	}

	var closedAt sql.NullTime
	if !t.ClosedAt.IsZero() {
		closedAt = sql.NullTime{Time: t.ClosedAt, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		t.Pair, t.Action, t.EntryPrice, t.ActualEntry, t.SignalEntry,
		t.StopLoss, t.TakeProfit, tpLevels, t.LotSize, t.PartialsTaken,
		partials, t.BrokerTicket, t.Status, t.CreatedAt, t.UpdatedAt,
		closedAt, t.SourceText, t.SourceMessageID, t.ExitPrice,
		t.ProfitLoss, mods,
		t.TradeID)
	if err != nil {
		return fmt.Errorf("failed to update trade %s: %w", t.TradeID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for trade %s: %w", t.TradeID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade %s not found for update: %w", t.TradeID, ports.ErrNotFound)
	}
	return nil
}

// Get retrieves a trade by its ID. Returns nil, nil if not found.
func (r *Repository) Get(ctx context.Context, tradeID string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE trade_id = ?`
	row := r.db.QueryRowContext(ctx, query, tradeID)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade %s: %w", tradeID, err)
	}
	return t, nil
}

// GetByTicket retrieves the non-terminal trade holding the broker ticket.
func (r *Repository) GetByTicket(ctx context.Context, ticket int64) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
	WHERE broker_ticket = ? AND status IN (?, ?)`
	row := r.db.QueryRowContext(ctx, query, ticket, domain.StatusPending, domain.StatusActive)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade by ticket %d: %w", ticket, err)
	}
	return t, nil
}

// ListActive retrieves all trades in ACTIVE status, oldest first.
func (r *Repository) ListActive(ctx context.Context) ([]*domain.Trade, error) {
	return r.ListByStatus(ctx, domain.StatusActive)
}

// ListByStatus retrieves all trades with the given status, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = ? ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades by status %s: %w", status, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// ListByPair retrieves active trades for a pair (case-insensitive), oldest first.
func (r *Repository) ListByPair(ctx context.Context, pair string) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
	WHERE UPPER(pair) = ? AND status = ? ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, strings.ToUpper(pair), domain.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for pair %s: %w", pair, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// ListRecent retrieves the n most recently created trades.
func (r *Repository) ListRecent(ctx context.Context, n int) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// ListAll retrieves every trade, newest first.
func (r *Repository) ListAll(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query all trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// --- Helpers ---

func marshalCollections(t *domain.Trade) (tpLevels, partials, mods string, err error) {
	levels := t.TPLevels
	if levels == nil {
		levels = []float64{}
	}
	b, err := json.Marshal(levels)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal tp_levels for trade %s: %w", t.TradeID, err)
	}
	tpLevels = string(b)

	history := t.PartialHistory
	if history == nil {
		history = []domain.PartialClose{}
	}
	b, err = json.Marshal(history)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal partial_history for trade %s: %w", t.TradeID, err)
	}
	partials = string(b)

	modifications := t.Modifications
	if modifications == nil {
		modifications = []domain.Modification{}
	}
	b, err = json.Marshal(modifications)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal modifications for trade %s: %w", t.TradeID, err)
	}
	mods = string(b)
	return tpLevels, partials, mods, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var action, status, tpLevels, partials, mods string
	var closedAt sql.NullTime
	err := s.Scan(
		&t.TradeID, &t.Pair, &action, &t.EntryPrice, &t.ActualEntry, &t.SignalEntry,
		&t.StopLoss, &t.TakeProfit, &tpLevels, &t.LotSize, &t.PartialsTaken, &partials,
		&t.BrokerTicket, &status, &t.CreatedAt, &t.UpdatedAt, &closedAt, &t.SourceText,
		&t.SourceMessageID, &t.ExitPrice, &t.ProfitLoss, &mods)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Action = domain.TradeAction(action)
	t.Status = domain.TradeStatus(status)
	if closedAt.Valid {
		t.ClosedAt = closedAt.Time
	}
	if err := json.Unmarshal([]byte(tpLevels), &t.TPLevels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tp_levels for trade %s: %w", t.TradeID, err)
	}
	if err := json.Unmarshal([]byte(partials), &t.PartialHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal partial_history for trade %s: %w", t.TradeID, err)
	}
	if err := json.Unmarshal([]byte(mods), &t.Modifications); err != nil {
		return nil, fmt.Errorf("failed to unmarshal modifications for trade %s: %w", t.TradeID, err)
	}
	return t, nil
}

func collectTrades(rows *sql.Rows) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}
