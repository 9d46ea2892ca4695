package mt5bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"signalPilot/internal/domain"
	"signalPilot/internal/ports"
)

// Client talks to the MT5 bridge sidecar, a small HTTP shim running next to
// the terminal that exposes trading operations as JSON endpoints. It
// implements ports.VenueGateway.
type Client struct {
	baseURL string
	http    *http.Client
	logger  ports.Logger
}

// New creates a bridge client for the given base URL.
func New(baseURL string, logger ports.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("bridge base URL is required: %w", ports.ErrConfigurationError)
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for bridge client")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}, nil
}

type ticketResponse struct {
	Ticket int64 `json:"ticket"`
}

type closeResponse struct {
	ClosePrice float64 `json:"close_price"`
}

type symbolResponse struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Point  float64 `json:"point"`
	Digits int     `json:"digits"`
}

type positionResponse struct {
	Ticket       int64   `json:"ticket"`
	Symbol       string  `json:"symbol"`
	Type         string  `json:"type"`
	Volume       float64 `json:"volume"`
	OpenPrice    float64 `json:"open_price"`
	CurrentPrice float64 `json:"current_price"`
	StopLoss     float64 `json:"sl"`
	TakeProfit   float64 `json:"tp"`
	Profit       float64 `json:"profit"`
}

type orderResponse struct {
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol"`
	Type       string  `json:"type"`
	Volume     float64 `json:"volume"`
	EntryPrice float64 `json:"price"`
	StopLoss   float64 `json:"sl"`
	TakeProfit float64 `json:"tp"`
}

type ticketLookupResponse struct {
	Exists   bool   `json:"exists"`
	Location string `json:"location"`
}

// Ping checks bridge connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.get(ctx, "/ping", nil, nil); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrConnectionFailed, err)
	}
	return nil
}

// PlaceMarketOrder executes at market and returns the venue ticket.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, action domain.TradeAction, lots, stopLoss, takeProfit float64) (int64, error) {
	req := map[string]interface{}{
		"symbol": symbol,
		"action": string(action),
		"lots":   lots,
		"sl":     stopLoss,
		"tp":     takeProfit,
	}
	var resp ticketResponse
	if err := c.post(ctx, "/order/market", req, &resp); err != nil {
		return 0, fmt.Errorf("%w: %v", ports.ErrOrderPlacementFailed, err)
	}
	return resp.Ticket, nil
}

// PlacePendingOrder rests a LIMIT/STOP order and returns the ticket.
func (c *Client) PlacePendingOrder(ctx context.Context, symbol string, orderType domain.PendingOrderType, lots, price, stopLoss, takeProfit float64) (int64, error) {
	req := map[string]interface{}{
		"symbol": symbol,
		"type":   string(orderType),
		"lots":   lots,
		"price":  price,
		"sl":     stopLoss,
		"tp":     takeProfit,
	}
	var resp ticketResponse
	if err := c.post(ctx, "/order/pending", req, &resp); err != nil {
		return 0, fmt.Errorf("%w: %v", ports.ErrOrderPlacementFailed, err)
	}
	return resp.Ticket, nil
}

// ModifyOrder updates SL/TP on a live ticket.
func (c *Client) ModifyOrder(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error {
	req := map[string]interface{}{
		"ticket": ticket,
		"sl":     stopLoss,
		"tp":     takeProfit,
	}
	if err := c.post(ctx, "/order/modify", req, nil); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("ticket %d: %w", ticket, ports.ErrTicketNotFound)
		}
		return fmt.Errorf("%w: %v", ports.ErrOrderModifyFailed, err)
	}
	return nil
}

// CloseOrder closes volume lots at market (0 closes fully) and returns the
// venue-reported close price.
func (c *Client) CloseOrder(ctx context.Context, ticket int64, volume float64) (float64, error) {
	req := map[string]interface{}{
		"ticket": ticket,
		"volume": volume,
	}
	var resp closeResponse
	if err := c.post(ctx, "/order/close", req, &resp); err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("ticket %d: %w", ticket, ports.ErrTicketNotFound)
		}
		return 0, fmt.Errorf("%w: %v", ports.ErrOrderCloseFailed, err)
	}
	return resp.ClosePrice, nil
}

// CancelPending deletes a resting order.
func (c *Client) CancelPending(ctx context.Context, ticket int64) error {
	req := map[string]interface{}{"ticket": ticket}
	if err := c.post(ctx, "/order/cancel", req, nil); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("ticket %d: %w", ticket, ports.ErrTicketNotFound)
		}
		return fmt.Errorf("%w: %v", ports.ErrOrderCancelFailed, err)
	}
	return nil
}

// GetOpenPositions returns the venue's open-position snapshot.
func (c *Client) GetOpenPositions(ctx context.Context) ([]ports.VenuePosition, error) {
	var resp []positionResponse
	if err := c.get(ctx, "/positions", nil, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrVenueUnavailable, err)
	}
	out := make([]ports.VenuePosition, 0, len(resp))
	for _, p := range resp {
		out = append(out, ports.VenuePosition{
			Ticket:       p.Ticket,
			Symbol:       p.Symbol,
			Action:       domain.TradeAction(strings.ToUpper(p.Type)),
			Volume:       p.Volume,
			OpenPrice:    p.OpenPrice,
			CurrentPrice: p.CurrentPrice,
			StopLoss:     p.StopLoss,
			TakeProfit:   p.TakeProfit,
			Profit:       p.Profit,
		})
	}
	return out, nil
}

// GetPendingOrders returns the venue's pending-order snapshot.
func (c *Client) GetPendingOrders(ctx context.Context) ([]ports.VenueOrder, error) {
	var resp []orderResponse
	if err := c.get(ctx, "/orders", nil, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrVenueUnavailable, err)
	}
	out := make([]ports.VenueOrder, 0, len(resp))
	for _, o := range resp {
		out = append(out, ports.VenueOrder{
			Ticket:     o.Ticket,
			Symbol:     o.Symbol,
			Type:       domain.PendingOrderType(strings.ToUpper(o.Type)),
			Volume:     o.Volume,
			EntryPrice: o.EntryPrice,
			StopLoss:   o.StopLoss,
			TakeProfit: o.TakeProfit,
		})
	}
	return out, nil
}

// GetSymbolInfo returns the live quote for a symbol.
func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (*ports.SymbolInfo, error) {
	var resp symbolResponse
	params := url.Values{"symbol": {symbol}}
	if err := c.get(ctx, "/symbol", params, &resp); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("symbol %s: %w", symbol, ports.ErrSymbolNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ports.ErrVenueUnavailable, err)
	}
	return &ports.SymbolInfo{
		Symbol: resp.Symbol,
		Bid:    resp.Bid,
		Ask:    resp.Ask,
		Point:  resp.Point,
		Digits: resp.Digits,
	}, nil
}

// TicketExists reports whether a ticket is live and where.
func (c *Client) TicketExists(ctx context.Context, ticket int64) (bool, ports.TicketLocation, error) {
	var resp ticketLookupResponse
	params := url.Values{"ticket": {strconv.FormatInt(ticket, 10)}}
	if err := c.get(ctx, "/ticket", params, &resp); err != nil {
		return false, ports.TicketNone, fmt.Errorf("%w: %v", ports.ErrVenueUnavailable, err)
	}
	if !resp.Exists {
		return false, ports.TicketNone, nil
	}
	switch resp.Location {
	case "pending":
		return true, ports.TicketPending, nil
	default:
		return true, ports.TicketPosition, nil
	}
}

// httpError carries the bridge's status code through sentinel mapping.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("bridge returned %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	he, ok := err.(*httpError)
	return ok && he.status == http.StatusNotFound
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read bridge response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &httpError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode bridge response: %w", err)
	}
	return nil
}
