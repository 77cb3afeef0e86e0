package database

import (
	"time"

	"confluence-trading-bot/internal/confluence"
	"confluence-trading-bot/internal/risk"
	"confluence-trading-bot/internal/sweep"
)

// Trade status values
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Close reasons
const (
	ReasonStopLoss     = "STOP_LOSS"
	ReasonTakeProfit   = "TAKE_PROFIT"
	ReasonTrailingStop = "TRAILING_STOP"
	ReasonTimeLimit    = "TIME_LIMIT"
)

// Outcome labels for closed trades
const (
	OutcomeWin       = "WIN"
	OutcomeLoss      = "LOSS"
	OutcomeBreakeven = "BREAKEVEN"
)

// SweepRecord is a persisted confirmed liquidity sweep.
type SweepRecord struct {
	ID         int64
	Timestamp  time.Time
	Bias       sweep.Bias
	LevelKind  string
	LevelPrice float64
	LevelTime  time.Time
	ClosePrice float64
	RSI        float64
	CreatedAt  time.Time
}

// ConfluenceRecord is the persisted progress of one confirmation run.
// Exactly one row exists per sweep.
type ConfluenceRecord struct {
	ID           int64
	SweepID      int64
	Bias         sweep.Bias
	State        confluence.State
	CHoCHPrice   *float64
	FVGLow       *float64
	FVGHigh      *float64
	FVGFillPrice *float64
	BOSPrice     *float64
	CandlesSeen  int
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// SweepTime is the sweep candle's open time. Populated only by
	// GetActiveConfluences, which joins the sweep row.
	SweepTime time.Time
}

// PaperTrade is the aggregate trade record: sized entry, protective
// levels, and eventual exit effects. Created OPEN by the executor and
// mutated only by the position manager.
type PaperTrade struct {
	ID                int64
	SignalID          *int64
	SessionID         string
	Direction         risk.Direction
	EntryPrice        float64
	EntryTime         time.Time
	Quantity          float64
	Notional          float64
	RiskAmount        float64
	StopLoss          float64
	StopSource        risk.StopSource
	StopSwingPrice    float64
	TakeProfit        float64
	RiskReward        float64
	EntryFee          float64
	Status            string
	TrailingActivated bool
	TrailingStopPrice *float64
	ExitPrice         *float64
	ExitTime          *time.Time
	ExitFee           *float64
	CloseReason       *string
	PnL               *float64
	Outcome           *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EffectiveStop is the level the position manager compares price
// against: the trailing stop once activated, the original stop before.
func (t *PaperTrade) EffectiveStop() float64 {
	if t.TrailingActivated && t.TrailingStopPrice != nil {
		return *t.TrailingStopPrice
	}
	return t.StopLoss
}

// PerformanceReport aggregates closed-trade statistics for the
// reporting loop and the monitoring API.
type PerformanceReport struct {
	TotalTrades    int     `json:"total_trades"`
	OpenTrades     int     `json:"open_trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	Breakevens     int     `json:"breakevens"`
	WinRate        float64 `json:"win_rate"`
	TotalPnL       float64 `json:"total_pnl"`
	AveragePnL     float64 `json:"average_pnl"`
	AccountBalance float64 `json:"account_balance"`
}
