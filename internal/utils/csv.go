package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"signalPilot/internal/domain"
)

// WriteTradesToCSV dumps the given trades to a CSV file, one row per trade.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{
		"trade_id", "pair", "action", "status", "ticket",
		"entry", "actual_entry", "sl", "tp", "lots",
		"exit", "pnl", "partials_taken", "created_at", "closed_at",
	})

	for _, t := range trades {
		closedAt := ""
		if !t.ClosedAt.IsZero() {
			closedAt = t.ClosedAt.Format(time.RFC3339)
		}
		writer.Write([]string{
			t.TradeID,
			t.Pair,
			string(t.Action),
			string(t.Status),
			strconv.FormatInt(t.BrokerTicket, 10),
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ActualEntry, 'f', -1, 64),
			strconv.FormatFloat(t.StopLoss, 'f', -1, 64),
			strconv.FormatFloat(t.TakeProfit, 'f', -1, 64),
			strconv.FormatFloat(t.LotSize, 'f', -1, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ProfitLoss, 'f', -1, 64),
			strconv.Itoa(t.PartialsTaken),
			t.CreatedAt.Format(time.RFC3339),
			closedAt,
		})
	}
	return writer.Error()
}
