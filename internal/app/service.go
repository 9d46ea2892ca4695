package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"signalPilot/internal/correlator"
	"signalPilot/internal/domain"
	"signalPilot/internal/ledger"
	"signalPilot/internal/monitor"
	"signalPilot/internal/planner"
	"signalPilot/internal/ports"
	"signalPilot/internal/reconcile"
)

// Config holds orchestrator settings.
type Config struct {
	// ChannelID selects the source channel to monitor; 0 picks the first
	// channel the source reports.
	ChannelID int64
	// QueueSize bounds the inbound message buffer.
	QueueSize int
	// ShutdownGrace bounds how long Stop waits for the in-flight message.
	ShutdownGrace time.Duration
}

// Service wires the whole pipeline together: messages in, classified signals
// dispatched against the ledger and the venue. All instruction handling runs
// on a single worker goroutine, so signal processing is strictly serialized.
type Service struct {
	cfg        Config
	ledger     *ledger.Ledger
	venue      ports.VenueGateway
	classifier ports.Classifier
	source     ports.MessageSource
	corr       *correlator.Correlator
	sess       *correlator.Session
	planner    *planner.Planner
	reconciler *reconcile.Engine
	monitor    *monitor.Monitor
	logger     ports.Logger

	msgCh  chan ports.InboundMessage
	doneCh chan struct{}
}

// New creates the orchestrator service.
func New(
	cfg Config,
	led *ledger.Ledger,
	venue ports.VenueGateway,
	classifier ports.Classifier,
	source ports.MessageSource,
	corr *correlator.Correlator,
	sess *correlator.Session,
	pl *planner.Planner,
	rec *reconcile.Engine,
	mon *monitor.Monitor,
	logger ports.Logger,
) (*Service, error) {
	if led == nil || venue == nil || classifier == nil || source == nil ||
		corr == nil || sess == nil || pl == nil || rec == nil || mon == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for service")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	return &Service{
		cfg:        cfg,
		ledger:     led,
		venue:      venue,
		classifier: classifier,
		source:     source,
		corr:       corr,
		sess:       sess,
		planner:    pl,
		reconciler: rec,
		monitor:    mon,
		logger:     logger,
		msgCh:      make(chan ports.InboundMessage, cfg.QueueSize),
		doneCh:     make(chan struct{}),
	}, nil
}

// Run starts the pipeline and blocks until the context is cancelled, then
// shuts down in order: source, monitor, in-flight message.
func (s *Service) Run(ctx context.Context) error {
	if err := s.venue.Ping(ctx); err != nil {
		return fmt.Errorf("venue unreachable: %w", err)
	}
	s.logger.Info(ctx, "Venue connection verified", nil)

	if n, err := s.reconciler.Sync(ctx); err != nil {
		s.logger.Error(ctx, err, "Startup reconciliation failed", nil)
	} else {
		s.logger.Info(ctx, "Startup reconciliation complete", map[string]interface{}{"repaired": n})
	}

	if err := s.source.Connect(ctx); err != nil {
		return fmt.Errorf("message source unreachable: %w", err)
	}
	defer s.source.Disconnect()

	channelID, err := s.pickChannel(ctx)
	if err != nil {
		return err
	}

	s.monitor.Start(ctx)
	go s.worker(ctx)

	listenCtx, cancelListen := context.WithCancel(ctx)
	defer cancelListen()
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- s.source.Listen(listenCtx, channelID, func(msg ports.InboundMessage) {
			select {
			case s.msgCh <- msg:
			default:
				s.logger.Warn(ctx, "Message queue full, dropping message", map[string]interface{}{
					"messageID": msg.MessageID,
				})
			}
		})
	}()
	s.logger.Info(ctx, "Listening for instructions", map[string]interface{}{"channelID": channelID})

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error(ctx, err, "Message stream ended", nil)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	s.monitor.Stop(shutdownCtx)
	close(s.msgCh)
	select {
	case <-s.doneCh:
	case <-shutdownCtx.Done():
		s.logger.Warn(shutdownCtx, "Worker did not drain within grace period", nil)
	}
	s.logger.Info(shutdownCtx, "Service stopped", nil)
	return nil
}

func (s *Service) pickChannel(ctx context.Context) (int64, error) {
	if s.cfg.ChannelID != 0 {
		return s.cfg.ChannelID, nil
	}
	channels, err := s.source.Channels(ctx)
	if err != nil {
		return 0, fmt.Errorf("channel discovery failed: %w", err)
	}
	if len(channels) == 0 {
		return 0, fmt.Errorf("no channels available at message source: %w", ports.ErrConfigurationError)
	}
	s.logger.Info(ctx, "No channel configured, using first available", map[string]interface{}{
		"channelID": channels[0].ID,
		"title":     channels[0].Title,
	})
	return channels[0].ID, nil
}

func (s *Service) worker(ctx context.Context) {
	defer close(s.doneCh)
	for msg := range s.msgCh {
		s.HandleMessage(ctx, msg)
	}
}

// HandleMessage runs one instruction through classify, correlate, plan and
// execute. Errors are logged, never fatal; the pipeline always moves on to
// the next message.
func (s *Service) HandleMessage(ctx context.Context, msg ports.InboundMessage) {
	s.sess.Remember(msg)

	active, err := s.ledger.ListActive(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load active trades", nil)
		return
	}

	sig, err := s.classifier.Interpret(ctx, msg.Text, active, s.sess.RecentContext(), s.sess.LastExecutedPair)
	if err != nil {
		s.logger.Error(ctx, err, "Classification failed", map[string]interface{}{"messageID": msg.MessageID})
		return
	}
	if sig == nil {
		s.logger.Debug(ctx, "Message could not be parsed, skipping", map[string]interface{}{"messageID": msg.MessageID})
		return
	}

	s.Dispatch(ctx, sig, msg)
}

// Dispatch routes a classified signal to its handler. The signal union is
// closed, so the type switch is exhaustive.
func (s *Service) Dispatch(ctx context.Context, sig domain.Signal, msg ports.InboundMessage) {
	switch v := sig.(type) {
	case domain.NewSignal:
		s.handleNew(ctx, v, msg)
	case domain.ModifySignal:
		s.syncFirst(ctx)
		s.handleModify(ctx, v, msg)
	case domain.CloseSignal:
		s.syncFirst(ctx)
		s.handleClose(ctx, v, msg)
	case domain.MultiActionSignal:
		s.syncFirst(ctx)
		s.handleMulti(ctx, v, msg)
	case domain.NoSignal:
		s.logger.Debug(ctx, "Not a trading instruction", map[string]interface{}{
			"messageID": msg.MessageID,
			"reasoning": v.Reasoning,
		})
	default:
		s.logger.Warn(ctx, "Unknown signal kind, dropping", map[string]interface{}{"kind": sig.Kind()})
	}
}

// syncFirst reconciles before acting on existing trades so MODIFY/CLOSE
// decisions run against venue truth.
func (s *Service) syncFirst(ctx context.Context) {
	if _, err := s.reconciler.Sync(ctx); err != nil {
		s.logger.Error(ctx, err, "Pre-dispatch reconciliation failed", nil)
	}
}

func (s *Service) handleNew(ctx context.Context, sig domain.NewSignal, msg ports.InboundMessage) {
	s.corr.NormalizePair(&sig)

	active, err := s.ledger.ListActive(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load active trades", nil)
		return
	}

	if t := s.corr.MatchCompletion(ctx, s.sess, sig, active); t != nil {
		s.completeTrade(ctx, t, sig)
		return
	}

	t, err := s.planner.ExecuteNew(ctx, sig, msg.Text, msg.MessageID)
	if err != nil {
		if errors.Is(err, ports.ErrRiskRejected) {
			s.logger.Warn(ctx, "Trade rejected by risk gate", map[string]interface{}{
				"pair":  sig.Pair,
				"error": err.Error(),
			})
			return
		}
		s.logger.Error(ctx, err, "Trade execution failed", map[string]interface{}{"pair": sig.Pair})
		return
	}
	if t == nil {
		return
	}
	s.sess.NotePlacement(t.Pair, t.Action, t.IsProtected())
}

// completeTrade merges a follow-up signal's levels into the trade it
// completes instead of opening a duplicate position.
func (s *Service) completeTrade(ctx context.Context, t *domain.Trade, sig domain.NewSignal) {
	venueTP := sig.TakeProfit
	if venueTP == 0 && len(sig.TPLevels) > 0 {
		venueTP = sig.TPLevels[len(sig.TPLevels)-1]
	}
	if venueTP == 0 {
		venueTP = t.TakeProfit
	}

	if t.BrokerTicket != 0 && (sig.StopLoss != 0 || venueTP != 0) {
		if err := s.venue.ModifyOrder(ctx, t.BrokerTicket, sig.StopLoss, venueTP); err != nil {
			s.logger.Error(ctx, err, "Failed to apply completion levels at venue", map[string]interface{}{
				"tradeID": t.TradeID,
				"ticket":  t.BrokerTicket,
			})
			return
		}
	}

	if _, err := s.ledger.Update(ctx, t.TradeID, func(tr *domain.Trade) error {
		if sig.StopLoss != 0 {
			tr.StopLoss = sig.StopLoss
		}
		if venueTP != 0 {
			tr.TakeProfit = venueTP
		}
		if len(sig.TPLevels) > 0 {
			tr.TPLevels = sig.TPLevels
		}
		if sig.EntryPrice != 0 {
			tr.SignalEntry = sig.EntryPrice
		}
		return nil
	}); err != nil {
		s.logger.Error(ctx, err, "Failed to record completion levels", map[string]interface{}{"tradeID": t.TradeID})
		return
	}
	s.sess.NoteCompletion()
	s.logger.Info(ctx, "Merged completion signal into existing trade", map[string]interface{}{
		"tradeID": t.TradeID,
		"sl":      sig.StopLoss,
		"tp":      venueTP,
	})
}

// wantsBreakeven detects the provider shorthand for "move stop to entry".
func wantsBreakeven(sig domain.ModifySignal, text string) bool {
	if sig.ActionType == "breakeven" {
		return true
	}
	lower := " " + strings.ToLower(text) + " "
	return strings.Contains(lower, "breakeven") || strings.Contains(lower, "break even") ||
		strings.Contains(lower, " be ")
}

func (s *Service) handleModify(ctx context.Context, sig domain.ModifySignal, msg ports.InboundMessage) {
	t, err := s.resolveTarget(ctx, sig.TradeReference)
	if err != nil || t == nil {
		return
	}

	if wantsBreakeven(sig, msg.Text) && sig.NewStopLoss == 0 {
		if _, _, err := s.planner.Breakeven(ctx, t); err != nil {
			s.logger.Error(ctx, err, "Breakeven failed", map[string]interface{}{"tradeID": t.TradeID})
		}
		return
	}

	if !s.ensureTicketLive(ctx, t) {
		return
	}
	if t.Status == domain.StatusPending {
		s.logger.Warn(ctx, "Modify against a pending order, skipping", map[string]interface{}{
			"tradeID": t.TradeID,
			"ticket":  t.BrokerTicket,
		})
		return
	}

	newSL := sig.NewStopLoss
	if newSL == 0 {
		newSL = t.StopLoss
	}
	newTP := sig.NewTakeProfit
	if newTP == 0 {
		newTP = t.TakeProfit
	}

	if err := s.venue.ModifyOrder(ctx, t.BrokerTicket, newSL, newTP); err != nil {
		if errors.Is(err, ports.ErrTicketNotFound) {
			s.closeGone(ctx, t)
			return
		}
		s.logger.Error(ctx, err, "Modify failed at venue", map[string]interface{}{"tradeID": t.TradeID})
		return
	}

	wasUnprotected := !t.IsProtected()
	if _, err := s.ledger.Update(ctx, t.TradeID, func(tr *domain.Trade) error {
		tr.StopLoss = newSL
		tr.TakeProfit = newTP
		return nil
	}); err != nil {
		s.logger.Error(ctx, err, "Failed to record modification", map[string]interface{}{"tradeID": t.TradeID})
		return
	}
	if wasUnprotected && newSL != 0 {
		s.sess.NoteCompletion()
	}
	s.logger.Info(ctx, "Trade modified", map[string]interface{}{
		"tradeID": t.TradeID,
		"newSL":   newSL,
		"newTP":   newTP,
	})
}

func (s *Service) handleClose(ctx context.Context, sig domain.CloseSignal, msg ports.InboundMessage) {
	t, err := s.resolveTarget(ctx, sig.TradeReference)
	if err != nil || t == nil {
		return
	}

	pct := sig.ClosePercent
	if pct <= 0 {
		pct = 100
	}

	if t.Status == domain.StatusPending {
		s.cancelPending(ctx, t)
		return
	}
	if !s.ensureTicketLive(ctx, t) {
		return
	}

	if pct < 100 {
		s.partialClose(ctx, t, pct)
		return
	}
	s.fullClose(ctx, t)
}

func (s *Service) fullClose(ctx context.Context, t *domain.Trade) {
	pnl := s.venueProfit(ctx, t.BrokerTicket)
	closePrice, err := s.venue.CloseOrder(ctx, t.BrokerTicket, 0)
	if err != nil {
		if errors.Is(err, ports.ErrTicketNotFound) {
			s.closeGone(ctx, t)
			return
		}
		s.logger.Error(ctx, err, "Close failed at venue", map[string]interface{}{"tradeID": t.TradeID})
		return
	}
	if err := s.ledger.Close(ctx, t.TradeID, closePrice, pnl); err != nil {
		s.logger.Error(ctx, err, "Failed to record close", map[string]interface{}{"tradeID": t.TradeID})
	}
}

// partialClose honors a manual partial-close instruction, but only when the
// position is actually in profit versus its entry reference.
func (s *Service) partialClose(ctx context.Context, t *domain.Trade, pct float64) {
	info, err := s.venue.GetSymbolInfo(ctx, t.Pair)
	if err != nil {
		s.logger.Error(ctx, err, "Quote lookup failed for partial close", map[string]interface{}{"tradeID": t.TradeID})
		return
	}
	current := info.PriceFor(t.Action.Opposite())
	if !t.InProfitAt(current) {
		s.logger.Warn(ctx, "Partial close skipped, position not in profit", map[string]interface{}{
			"tradeID": t.TradeID,
			"current": current,
			"entry":   t.EntryReference(),
		})
		return
	}

	volume := float64(int64(t.LotSize*pct+0.5)) / 100
	if volume <= 0 || volume >= t.LotSize {
		s.fullClose(ctx, t)
		return
	}

	closePrice, err := s.venue.CloseOrder(ctx, t.BrokerTicket, volume)
	if err != nil {
		if errors.Is(err, ports.ErrTicketNotFound) {
			s.closeGone(ctx, t)
			return
		}
		s.logger.Error(ctx, err, "Partial close failed at venue", map[string]interface{}{"tradeID": t.TradeID})
		return
	}
	if _, err := s.ledger.Update(ctx, t.TradeID, func(tr *domain.Trade) error {
		if tr.Status != domain.StatusActive {
			return fmt.Errorf("trade %s no longer active: %w", tr.TradeID, ports.ErrInvalidTransition)
		}
		tr.RecordPartial(pct, closePrice, volume)
		return nil
	}); err != nil {
		s.logger.Error(ctx, err, "Failed to record partial close", map[string]interface{}{"tradeID": t.TradeID})
		return
	}
	s.logger.Info(ctx, "Manual partial close taken", map[string]interface{}{
		"tradeID": t.TradeID,
		"percent": pct,
		"volume":  volume,
		"price":   closePrice,
	})
}

func (s *Service) handleMulti(ctx context.Context, sig domain.MultiActionSignal, msg ports.InboundMessage) {
	if s.corr.IsCloseAll(msg.Text) {
		s.closeEverything(ctx)
		return
	}
	for _, action := range sig.Actions {
		s.Dispatch(ctx, action, msg)
	}
}

// closeEverything flattens the book: every active trade is closed and every
// pending order cancelled.
func (s *Service) closeEverything(ctx context.Context) {
	active, err := s.ledger.ListActive(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load active trades", nil)
		return
	}
	for _, t := range active {
		s.fullClose(ctx, t)
	}
	pending, err := s.ledger.ListPendingOpen(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load pending trades", nil)
		return
	}
	for _, t := range pending {
		s.cancelPending(ctx, t)
	}
	s.logger.Info(ctx, "Closed everything", map[string]interface{}{
		"closed":    len(active),
		"cancelled": len(pending),
	})
}

func (s *Service) cancelPending(ctx context.Context, t *domain.Trade) {
	if t.BrokerTicket != 0 {
		if err := s.venue.CancelPending(ctx, t.BrokerTicket); err != nil && !errors.Is(err, ports.ErrTicketNotFound) {
			s.logger.Error(ctx, err, "Cancel failed at venue", map[string]interface{}{"tradeID": t.TradeID})
			return
		}
	}
	if err := s.ledger.Cancel(ctx, t.TradeID); err != nil {
		s.logger.Error(ctx, err, "Failed to record cancellation", map[string]interface{}{"tradeID": t.TradeID})
	}
}

// resolveTarget maps a reference onto one active trade, logging why when it
// cannot.
func (s *Service) resolveTarget(ctx context.Context, reference string) (*domain.Trade, error) {
	active, err := s.ledger.ListActive(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load active trades", nil)
		return nil, err
	}
	pending, err := s.ledger.ListPendingOpen(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load pending trades", nil)
		return nil, err
	}
	open := append(append([]*domain.Trade{}, active...), pending...)

	t, err := s.corr.ResolveReference(ctx, reference, open)
	if err != nil {
		if errors.Is(err, ports.ErrNoActiveTrades) {
			s.logger.Warn(ctx, "Instruction targets a trade but none are open", nil)
		} else if errors.Is(err, ports.ErrAmbiguousReference) {
			s.logger.Warn(ctx, "Ambiguous trade reference, taking no action", map[string]interface{}{
				"reference": reference,
				"open":      len(open),
			})
		} else {
			s.logger.Error(ctx, err, "Reference resolution failed", nil)
		}
		return nil, err
	}
	return t, nil
}

// ensureTicketLive verifies the trade's ticket still exists at the venue.
// A vanished ticket closes the trade out and stops the operation.
func (s *Service) ensureTicketLive(ctx context.Context, t *domain.Trade) bool {
	if t.BrokerTicket == 0 {
		return true
	}
	exists, _, err := s.venue.TicketExists(ctx, t.BrokerTicket)
	if err != nil {
		s.logger.Error(ctx, err, "Ticket lookup failed", map[string]interface{}{"tradeID": t.TradeID})
		return false
	}
	if !exists {
		s.closeGone(ctx, t)
		return false
	}
	return true
}

// closeGone records that the venue no longer holds the trade.
func (s *Service) closeGone(ctx context.Context, t *domain.Trade) {
	s.logger.Warn(ctx, "Ticket gone from venue, closing trade in ledger", map[string]interface{}{
		"tradeID": t.TradeID,
		"ticket":  t.BrokerTicket,
	})
	if err := s.ledger.Close(ctx, t.TradeID, 0, 0); err != nil {
		s.logger.Error(ctx, err, "Failed to close vanished trade", map[string]interface{}{"tradeID": t.TradeID})
	}
}

// venueProfit returns the venue-reported floating profit for a ticket, or 0
// when unavailable.
func (s *Service) venueProfit(ctx context.Context, ticket int64) float64 {
	if ticket == 0 {
		return 0
	}
	positions, err := s.venue.GetOpenPositions(ctx)
	if err != nil {
		return 0
	}
	for _, p := range positions {
		if p.Ticket == ticket {
			return p.Profit
		}
	}
	return 0
}
