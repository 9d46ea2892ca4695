package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"signalPilot/config"
	"signalPilot/internal/adapters/classify"
	"signalPilot/internal/adapters/logger"
	"signalPilot/internal/adapters/msgsource"
	"signalPilot/internal/adapters/mt5bridge"
	"signalPilot/internal/adapters/sqlite"
	"signalPilot/internal/app"
	"signalPilot/internal/correlator"
	"signalPilot/internal/ledger"
	"signalPilot/internal/monitor"
	"signalPilot/internal/planner"
	"signalPilot/internal/reconcile"
	"signalPilot/internal/risk"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewStdLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info(ctx, "Starting signalPilot", map[string]interface{}{
		"db":          cfg.DBPath,
		"defaultPair": cfg.DefaultPair,
	})

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: log})
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	led, err := ledger.New(repo, log)
	if err != nil {
		return err
	}

	venue, err := mt5bridge.New(cfg.BridgeURL, log)
	if err != nil {
		return err
	}
	classifier, err := classify.New(cfg.ClassifierURL, log)
	if err != nil {
		return err
	}
	source, err := msgsource.New(cfg.SourceURL, log)
	if err != nil {
		return err
	}

	gate, err := risk.New(risk.Config{
		MinRiskReward: cfg.MinRiskReward,
		MinLotSize:    cfg.MinLotSize,
		MaxLotSize:    cfg.MaxLotSize,
		MaxOpenTrades: cfg.MaxOpenTrades,
	}, log)
	if err != nil {
		return err
	}

	corr, err := correlator.New(correlator.Config{
		CompletionWindow: cfg.CorrelationWindow,
		DefaultPair:      cfg.DefaultPair,
	}, log)
	if err != nil {
		return err
	}
	sess := correlator.NewSession(cfg.RecentMessageCap)

	pl, err := planner.New(planner.Config{
		DefaultLotSize: cfg.DefaultLotSize,
		AtMarketPoints: cfg.AtMarketPoints,
	}, venue, led, gate, log)
	if err != nil {
		return err
	}

	rec, err := reconcile.New(led, venue, log)
	if err != nil {
		return err
	}

	mon, err := monitor.New(monitor.Config{
		Interval:      cfg.MonitorInterval,
		Schedule:      cfg.PartialSchedule,
		ShutdownGrace: cfg.ShutdownGrace,
	}, led, venue, log)
	if err != nil {
		return err
	}

	svc, err := app.New(app.Config{
		ChannelID:     cfg.ChannelID,
		ShutdownGrace: cfg.ShutdownGrace,
	}, led, venue, classifier, source, corr, sess, pl, rec, mon, log)
	if err != nil {
		return err
	}

	return svc.Run(ctx)
}
