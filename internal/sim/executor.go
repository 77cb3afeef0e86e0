package sim

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"confluence-trading-bot/config"
	"confluence-trading-bot/internal/database"
	"confluence-trading-bot/internal/risk"
)

// breakevenBand is the PnL band, in account currency, inside which a
// closed trade counts as BREAKEVEN rather than WIN or LOSS.
const breakevenBand = 0.01

// Executor turns confirmed signals into simulated fills: fixed
// always-adverse slippage on both sides, taker fee on notional at entry
// and exit. Exactly one trade record per accepted signal; rejected
// signals produce nothing.
type Executor struct {
	cfg    config.TradingConfig
	calc   *risk.Calculator
	logger zerolog.Logger
}

func NewExecutor(cfg config.TradingConfig, calc *risk.Calculator, logger zerolog.Logger) *Executor {
	return &Executor{
		cfg:    cfg,
		calc:   calc,
		logger: logger.With().Str("component", "executor").Logger(),
	}
}

// FillPrice applies the fixed slippage model. Fills are always worse
// than quote: LONG buys fill higher and sell lower, SHORT mirrors.
func (e *Executor) FillPrice(quote float64, dir risk.Direction, entry bool) float64 {
	slip := e.cfg.SlippagePercent
	adverseUp := (dir == risk.Long) == entry
	if adverseUp {
		return quote * (1 + slip)
	}
	return quote * (1 - slip)
}

// Fee returns the taker fee on a notional amount.
func (e *Executor) Fee(notional float64) float64 {
	return notional * e.cfg.TakerFeePercent
}

// OpenTrade simulates the entry fill for a confirmed signal: slipped
// entry, swing-anchored stop, fixed fractional size, target at the
// configured risk multiple. Rejections (no valid stop, R:R under the
// floor) come back as sentinel errors; the caller persists the trade.
func (e *Executor) OpenTrade(ctx context.Context, dir risk.Direction, quote, balance float64, at time.Time) (*database.PaperTrade, error) {
	if quote <= 0 {
		return nil, fmt.Errorf("%w: non-positive quote %v", risk.ErrInvariant, quote)
	}

	entry := e.FillPrice(quote, dir, true)

	stop, err := e.calc.ComputeStop(ctx, entry, dir)
	if err != nil {
		return nil, err
	}

	size, err := e.calc.SizePosition(balance, entry, stop.Price)
	if err != nil {
		return nil, err
	}

	stopDistance := math.Abs(entry - stop.Price)
	var takeProfit float64
	if dir == risk.Long {
		takeProfit = entry + stopDistance*e.cfg.TargetRiskReward
	} else {
		takeProfit = entry - stopDistance*e.cfg.TargetRiskReward
	}

	rr := math.Abs(takeProfit-entry) / stopDistance
	if rr < e.cfg.MinRiskReward {
		e.logger.Info().
			Float64("risk_reward", rr).
			Float64("floor", e.cfg.MinRiskReward).
			Str("stop_source", string(stop.Source)).
			Msg("trade rejected under risk reward floor")
		return nil, fmt.Errorf("%w: %.2f below %.2f", risk.ErrBelowMinRR, rr, e.cfg.MinRiskReward)
	}

	trade := &database.PaperTrade{
		Direction:      dir,
		EntryPrice:     entry,
		EntryTime:      at,
		Quantity:       size.Quantity,
		Notional:       size.Notional,
		RiskAmount:     size.RiskAmount,
		StopLoss:       stop.Price,
		StopSource:     stop.Source,
		StopSwingPrice: stop.SwingPrice,
		TakeProfit:     takeProfit,
		RiskReward:     rr,
		EntryFee:       e.Fee(size.Notional),
		Status:         database.StatusOpen,
	}

	e.logger.Info().
		Str("direction", string(dir)).
		Float64("entry", entry).
		Float64("stop", stop.Price).
		Str("stop_source", string(stop.Source)).
		Float64("take_profit", takeProfit).
		Float64("quantity", size.Quantity).
		Float64("risk_amount", size.RiskAmount).
		Msg("paper trade opened")

	return trade, nil
}

// CloseFill is the simulated exit for an open trade.
type CloseFill struct {
	ExitPrice float64
	ExitFee   float64
	PnL       float64
	Outcome   string
}

// CloseTrade simulates the exit fill at the current quote and settles
// net PnL after both fees.
func (e *Executor) CloseTrade(t *database.PaperTrade, quote float64) CloseFill {
	exit := e.FillPrice(quote, t.Direction, false)
	exitFee := e.Fee(t.Quantity * exit)

	gross := (exit - t.EntryPrice) * t.Quantity
	if t.Direction == risk.Short {
		gross = -gross
	}
	pnl := gross - t.EntryFee - exitFee

	outcome := database.OutcomeBreakeven
	if pnl > breakevenBand {
		outcome = database.OutcomeWin
	} else if pnl < -breakevenBand {
		outcome = database.OutcomeLoss
	}

	return CloseFill{
		ExitPrice: exit,
		ExitFee:   exitFee,
		PnL:       pnl,
		Outcome:   outcome,
	}
}
