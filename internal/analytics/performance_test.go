package analytics

import (
	"testing"

	"confluence-trading-bot/internal/database"
)

func closedTrade(pnl float64) *database.PaperTrade {
	return &database.PaperTrade{Status: database.StatusClosed, PnL: &pnl}
}

func TestDistribution(t *testing.T) {
	trades := []*database.PaperTrade{
		closedTrade(200),
		closedTrade(100),
		closedTrade(-50),
		closedTrade(-150),
		closedTrade(0), // breakeven, neither win nor loss
	}

	s := Distribution(trades)

	if s.AverageWin != 150 {
		t.Errorf("Expected average win 150, got %f", s.AverageWin)
	}
	if s.AverageLoss != -100 {
		t.Errorf("Expected average loss -100, got %f", s.AverageLoss)
	}
	if s.BestTrade != 200 {
		t.Errorf("Expected best trade 200, got %f", s.BestTrade)
	}
	if s.WorstTrade != -150 {
		t.Errorf("Expected worst trade -150, got %f", s.WorstTrade)
	}
	if s.ProfitFactor != 1.5 {
		t.Errorf("Expected profit factor 1.5, got %f", s.ProfitFactor)
	}
}

func TestDistributionSkipsUnrealized(t *testing.T) {
	trades := []*database.PaperTrade{
		{Status: database.StatusOpen}, // no PnL yet
		closedTrade(75),
	}

	s := Distribution(trades)
	if s.BestTrade != 75 || s.WorstTrade != 75 {
		t.Errorf("Expected single-trade extremes 75/75, got %f/%f", s.BestTrade, s.WorstTrade)
	}
}

func TestDistributionEmpty(t *testing.T) {
	s := Distribution(nil)
	if s.BestTrade != 0 || s.AverageWin != 0 || s.ProfitFactor != 0 {
		t.Errorf("Expected zero summary, got %+v", s)
	}
}
