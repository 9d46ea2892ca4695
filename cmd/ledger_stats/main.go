package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"signalPilot/config"
	"signalPilot/internal/adapters/logger"
	"signalPilot/internal/adapters/sqlite"
	"signalPilot/internal/domain"
	"signalPilot/internal/ledger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to open trade database: %v", err)
	}
	defer repo.Close()

	book, err := ledger.New(repo, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ledger: %v", err)
	}
	ctx := context.Background()

	stats, err := book.Stats(ctx)
	if err != nil {
		log.Fatalf("Error computing statistics: %v", err)
	}

	fmt.Println("## Ledger Summary")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Total\tActive\tClosed\tWins\tLosses\tWinRate\tTotalPnL\t")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%.2f%%\t%.2f\t\n",
		stats.TotalTrades,
		stats.ActiveTrades,
		stats.ClosedTrades,
		stats.Winning,
		stats.Losing,
		stats.WinRate,
		stats.TotalPnL,
	)
	w.Flush()

	active, err := book.ListActive(ctx)
	if err != nil {
		log.Fatalf("Error listing active trades: %v", err)
	}
	if len(active) == 0 {
		return
	}

	fmt.Println("\n## Open Positions")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Ticket\tPair\tAction\tLots\tEntry\tSL\tTP\tPartials\t")
	for _, t := range active {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%.5f\t%.5f\t%.5f\t%d/%d\t\n",
			t.BrokerTicket,
			t.Pair,
			t.Action,
			t.LotSize,
			t.EntryReference(),
			t.StopLoss,
			t.TakeProfit,
			t.PartialsTaken,
			len(t.TPLevels),
		)
	}
	w.Flush()

	pending, err := book.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		log.Fatalf("Error listing pending trades: %v", err)
	}
	if len(pending) > 0 {
		fmt.Printf("\n%d pending order(s) awaiting fill\n", len(pending))
	}
}
