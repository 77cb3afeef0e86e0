// Command backtest replays persisted candle history through the live
// detection and execution pipeline.
//
// Usage:
//
//	backtest --start 2024-01-01 --end 2024-12-31
//	backtest --days 90
//	backtest --balance 10000
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"confluence-trading-bot/config"
	"confluence-trading-bot/internal/backtest"
	"confluence-trading-bot/internal/database"
	"confluence-trading-bot/internal/logging"
	"confluence-trading-bot/internal/market"
)

func main() {
	startFlag := flag.String("start", "", "start date (YYYY-MM-DD), default earliest data")
	endFlag := flag.String("end", "", "end date (YYYY-MM-DD), default latest data")
	daysFlag := flag.Int("days", 0, "replay the last N days (overrides --start/--end)")
	balanceFlag := flag.Float64("balance", 0, "starting balance (default from config)")
	flag.Parse()

	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LoggingConfig)

	start, end, err := resolveRange(*startFlag, *endFlag, *daysFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	balance := cfg.TradingConfig.StartingBalance
	if *balanceFlag > 0 {
		balance = *balanceFlag
	}

	ctx := context.Background()

	db, err := database.NewDB(cfg.DatabaseConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	repo := database.NewRepository(db)

	coarse, err := repo.GetCandleRange(ctx, market.Timeframe4H, start, end)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading coarse candles failed")
	}
	fine, err := repo.GetCandleRange(ctx, market.Timeframe5M, start, end)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading fine candles failed")
	}
	if len(coarse) == 0 || len(fine) == 0 {
		logger.Fatal().
			Int("coarse", len(coarse)).
			Int("fine", len(fine)).
			Msg("not enough candle history for the requested range")
	}

	logger.Info().
		Time("start", coarse[0].Timestamp).
		Time("end", coarse[len(coarse)-1].Timestamp).
		Int("coarse_candles", len(coarse)).
		Int("fine_candles", len(fine)).
		Float64("balance", balance).
		Msg("starting replay")

	result, err := backtest.New(*cfg, logger).Run(coarse, fine, balance)
	if err != nil {
		logger.Fatal().Err(err).Msg("replay failed")
	}

	printResult(result)
}

// resolveRange turns the CLI flags into an absolute time range. With no
// flags the range is open on both ends.
func resolveRange(startStr, endStr string, days int) (time.Time, time.Time, error) {
	if days > 0 {
		end := time.Now().UTC()
		return end.AddDate(0, 0, -days), end, nil
	}

	start := time.Time{}
	end := time.Now().UTC()

	if startStr != "" {
		t, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start %q: %w", startStr, err)
		}
		start = t
	}
	if endStr != "" {
		t, err := time.Parse("2006-01-02", endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end %q: %w", endStr, err)
		}
		end = t.Add(24*time.Hour - time.Second)
	}
	if !start.IsZero() && end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--end is before --start")
	}
	return start, end, nil
}

func printResult(r *backtest.Result) {
	fmt.Println("\n[ACCOUNT]")
	fmt.Printf("  Starting Balance:  $%.2f\n", r.StartingBalance)
	fmt.Printf("  Final Balance:     $%.2f\n", r.FinalBalance)
	fmt.Printf("  Total P&L:         $%.2f\n", r.TotalPnL)
	fmt.Printf("  Total Return:      %.2f%%\n", r.TotalReturnPct)

	fmt.Println("\n[TRADES]")
	fmt.Printf("  Total Trades:      %d\n", r.TotalTrades)
	fmt.Printf("  Wins:              %d (%.2f%%)\n", r.Wins, r.WinRate)
	fmt.Printf("  Losses:            %d\n", r.Losses)
	fmt.Printf("  Breakevens:        %d\n", r.Breakevens)
	fmt.Printf("  Rejected Signals:  %d\n", r.Rejected)

	fmt.Println("\n[P&L STATS]")
	fmt.Printf("  Avg Win:           $%.2f\n", r.AverageWin)
	fmt.Printf("  Avg Loss:          $%.2f\n", r.AverageLoss)
	fmt.Printf("  Best Trade:        $%.2f\n", r.BestTrade)
	fmt.Printf("  Worst Trade:       $%.2f\n", r.WorstTrade)

	for _, t := range r.Trades {
		fmt.Printf("  %s %-5s entry %.2f exit %.2f pnl %+.2f (%s, %s)\n",
			t.EntryTime.Format("2006-01-02 15:04"), t.Direction,
			t.EntryPrice, t.ExitPrice, t.PnL, t.Outcome, t.ExitReason)
	}
}
