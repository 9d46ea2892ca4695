package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Correlation Errors
	ErrAmbiguousReference = errors.New("cannot resolve instruction to a single trade")
	ErrNoActiveTrades     = errors.New("no active trades to act on")

	// Risk Policy Errors
	ErrRiskRejected = errors.New("trade rejected by risk policy")

	// Venue Specific Errors
	ErrVenueUnavailable     = errors.New("venue gateway is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the venue")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderModifyFailed    = errors.New("failed to modify order")
	ErrOrderCloseFailed     = errors.New("failed to close order")
	ErrOrderCancelFailed    = errors.New("failed to cancel pending order")
	ErrTicketNotFound       = errors.New("ticket not found at the venue")
	ErrSymbolNotFound       = errors.New("symbol not known to the venue")

	// Ledger Specific Errors
	ErrInvalidTransition = errors.New("trade status transition not allowed")
	ErrDuplicateTicket   = errors.New("broker ticket already tracked by an open trade")
	ErrQueryFailed       = errors.New("ledger query failed")
	ErrUpdateFailed      = errors.New("ledger update failed")
)
