package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"signalPilot/config"
	"signalPilot/internal/adapters/logger"
	"signalPilot/internal/adapters/sqlite"
	"signalPilot/internal/ledger"
	"signalPilot/internal/utils"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Open the trade ledger
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to open trade database")
		log.Fatalf("FATAL: Failed to open trade database: %v", err)
	}
	defer repo.Close()

	book, err := ledger.New(repo, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ledger: %v", err)
	}

	trades, err := book.ListAll(context.Background())
	if err != nil {
		appLogger.Error(context.Background(), err, "Error listing trades")
		log.Fatalf("Error listing trades: %v", err)
	}
	appLogger.Info(context.Background(), "Loaded trades", map[string]interface{}{"count": len(trades)})

	filename := fmt.Sprintf("data/trades_%s.csv", time.Now().Format("20060102_150405"))
	err = utils.WriteTradesToCSV(trades, filename)
	if err != nil {
		appLogger.Error(context.Background(), err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(context.Background(), "Saved to", map[string]interface{}{"filename": filename})
}
