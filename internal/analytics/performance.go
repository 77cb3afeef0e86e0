// Package analytics aggregates closed-trade statistics for the
// reporting loop and the monitoring API.
package analytics

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"confluence-trading-bot/internal/cache"
	"confluence-trading-bot/internal/database"
)

// ReportSource is the slice of the repository the reporter reads from.
type ReportSource interface {
	GetPerformanceReport(ctx context.Context) (*database.PerformanceReport, error)
	GetClosedTrades(ctx context.Context, limit int) ([]*database.PaperTrade, error)
}

// Summary extends the base report with win/loss distribution stats.
type Summary struct {
	database.PerformanceReport
	AverageWin   float64 `json:"average_win"`
	AverageLoss  float64 `json:"average_loss"`
	BestTrade    float64 `json:"best_trade"`
	WorstTrade   float64 `json:"worst_trade"`
	ProfitFactor float64 `json:"profit_factor"`
}

// Reporter builds and publishes performance summaries. The cache is
// optional; when present the latest summary snapshot is stored for the
// monitoring API to read without a database round trip.
type Reporter struct {
	src    ReportSource
	cache  *cache.CacheService
	logger zerolog.Logger
}

func NewReporter(src ReportSource, cs *cache.CacheService, logger zerolog.Logger) *Reporter {
	return &Reporter{
		src:    src,
		cache:  cs,
		logger: logger.With().Str("component", "analytics").Logger(),
	}
}

// Report aggregates the current statistics and logs the summary.
func (r *Reporter) Report(ctx context.Context) (*Summary, error) {
	base, err := r.src.GetPerformanceReport(ctx)
	if err != nil {
		return nil, err
	}

	closed, err := r.src.GetClosedTrades(ctx, 1000)
	if err != nil {
		return nil, err
	}

	summary := Distribution(closed)
	summary.PerformanceReport = *base

	r.logger.Info().
		Int("total_trades", summary.TotalTrades).
		Int("open_trades", summary.OpenTrades).
		Float64("win_rate", summary.WinRate).
		Float64("total_pnl", summary.TotalPnL).
		Float64("best_trade", summary.BestTrade).
		Float64("worst_trade", summary.WorstTrade).
		Float64("balance", summary.AccountBalance).
		Msg("performance report")

	if r.cache != nil {
		if err := r.cache.Set(ctx, cache.PrefixReport, summary, 5*time.Minute); err != nil {
			r.logger.Debug().Err(err).Msg("report snapshot not cached")
		}
	}

	return summary, nil
}

// Distribution computes win/loss distribution stats from closed trades.
// Trades without a realized PnL are skipped.
func Distribution(trades []*database.PaperTrade) *Summary {
	s := &Summary{}

	var winSum, lossSum float64
	var wins, losses int
	first := true

	for _, t := range trades {
		if t.PnL == nil {
			continue
		}
		pnl := *t.PnL

		if first {
			s.BestTrade = pnl
			s.WorstTrade = pnl
			first = false
		} else {
			if pnl > s.BestTrade {
				s.BestTrade = pnl
			}
			if pnl < s.WorstTrade {
				s.WorstTrade = pnl
			}
		}

		switch {
		case pnl > 0:
			winSum += pnl
			wins++
		case pnl < 0:
			lossSum += pnl
			losses++
		}
	}

	if wins > 0 {
		s.AverageWin = winSum / float64(wins)
	}
	if losses > 0 {
		s.AverageLoss = lossSum / float64(losses)
	}
	if lossSum != 0 {
		s.ProfitFactor = winSum / math.Abs(lossSum)
	}

	return s
}
