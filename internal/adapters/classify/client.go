package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"signalPilot/internal/domain"
	"signalPilot/internal/ports"
)

// Client calls the instruction-interpretation service, which wraps the
// language model and returns one structured signal per message. It implements
// ports.Classifier.
type Client struct {
	baseURL string
	http    *http.Client
	logger  ports.Logger
}

// New creates a classifier client for the given base URL.
func New(baseURL string, logger ports.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("classifier base URL is required: %w", ports.ErrConfigurationError)
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for classifier client")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}, nil
}

type interpretRequest struct {
	Message        string         `json:"message"`
	ActiveTrades   []tradeContext `json:"active_trades"`
	RecentMessages []string       `json:"recent_messages,omitempty"`
	LastTradedPair string         `json:"last_traded_pair,omitempty"`
}

type tradeContext struct {
	Pair       string  `json:"pair"`
	Action     string  `json:"action"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	LotSize    float64 `json:"lot_size"`
	AgeSeconds float64 `json:"age_seconds"`
}

// interpretResponse mirrors the service's signal document. Sub-actions of a
// multi_action reuse the same shape.
type interpretResponse struct {
	SignalType     string              `json:"signal_type"`
	Pair           string              `json:"pair"`
	Action         string              `json:"action"`
	EntryPrice     float64             `json:"entry_price"`
	StopLoss       float64             `json:"stop_loss"`
	TakeProfit     float64             `json:"take_profit"`
	TPLevels       []float64           `json:"tp_levels"`
	LotSize        float64             `json:"lot_size"`
	ExecutionType  string              `json:"execution_type"`
	ActionType     string              `json:"action_type"`
	TradeReference string              `json:"trade_reference"`
	ClosePercent   float64             `json:"close_percent"`
	Actions        []interpretResponse `json:"actions"`
	Confidence     float64             `json:"confidence"`
	Reasoning      string              `json:"reasoning"`
}

// Interpret sends the message plus ledger context for classification.
func (c *Client) Interpret(ctx context.Context, text string, activeTrades []*domain.Trade, recentMessages []string, lastTradedPair string) (domain.Signal, error) {
	req := interpretRequest{
		Message:        text,
		ActiveTrades:   make([]tradeContext, 0, len(activeTrades)),
		RecentMessages: recentMessages,
		LastTradedPair: lastTradedPair,
	}
	for _, t := range activeTrades {
		req.ActiveTrades = append(req.ActiveTrades, tradeContext{
			Pair:       t.Pair,
			Action:     string(t.Action),
			EntryPrice: t.EntryReference(),
			StopLoss:   t.StopLoss,
			TakeProfit: t.TakeProfit,
			LotSize:    t.LotSize,
			AgeSeconds: t.AgeSeconds(),
		})
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode interpret request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/interpret", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("classifier returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var doc interpretResponse
	if err := json.Unmarshal(data, &doc); err != nil {
		c.logger.Warn(ctx, "Classifier response was not valid JSON, treating as unparseable", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, nil
	}
	return toSignal(doc), nil
}

// toSignal maps a response document onto the closed signal union. Unknown
// signal types collapse to NoSignal so one odd response never stalls the
// pipeline.
func toSignal(doc interpretResponse) domain.Signal {
	switch doc.SignalType {
	case "new_trade":
		return domain.NewSignal{
			Pair:       strings.ToUpper(doc.Pair),
			Action:     domain.TradeAction(strings.ToUpper(doc.Action)),
			EntryPrice: doc.EntryPrice,
			StopLoss:   doc.StopLoss,
			TakeProfit: doc.TakeProfit,
			TPLevels:   doc.TPLevels,
			LotSize:    doc.LotSize,
			Execution:  executionType(doc.ExecutionType),
			Confidence: doc.Confidence,
			Reasoning:  doc.Reasoning,
		}
	case "modify":
		return domain.ModifySignal{
			ActionType:     doc.ActionType,
			TradeReference: doc.TradeReference,
			NewStopLoss:    doc.StopLoss,
			NewTakeProfit:  doc.TakeProfit,
			Confidence:     doc.Confidence,
			Reasoning:      doc.Reasoning,
		}
	case "close":
		pct := doc.ClosePercent
		if pct == 0 {
			pct = 100
		}
		actionType := doc.ActionType
		if actionType == "" {
			if pct < 100 {
				actionType = "partial_close"
			} else {
				actionType = "close"
			}
		}
		return domain.CloseSignal{
			ActionType:     actionType,
			TradeReference: doc.TradeReference,
			ClosePercent:   pct,
			Confidence:     doc.Confidence,
			Reasoning:      doc.Reasoning,
		}
	case "multi_action":
		multi := domain.MultiActionSignal{
			Confidence: doc.Confidence,
			Reasoning:  doc.Reasoning,
		}
		for _, sub := range doc.Actions {
			s := toSignal(sub)
			if _, isNone := s.(domain.NoSignal); isNone {
				continue
			}
			multi.Actions = append(multi.Actions, s)
		}
		return multi
	default:
		return domain.NoSignal{Confidence: doc.Confidence, Reasoning: doc.Reasoning}
	}
}

// executionType maps the classifier's execution_type string. An absent field
// means immediate; anything unrecognized is passed through verbatim so the
// planner can report and drop it.
func executionType(s string) domain.ExecutionType {
	switch s {
	case "", "immediate":
		return domain.ExecImmediate
	case "pending":
		return domain.ExecPending
	}
	return domain.ExecutionType(s)
}
