// Package backtest replays persisted candle history through the same
// sweep detector, confirmation machine, risk engine, and execution
// simulator the live loops use. No live I/O happens here; two candle
// series in always produce the same result out.
package backtest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"confluence-trading-bot/config"
	"confluence-trading-bot/internal/confluence"
	"confluence-trading-bot/internal/database"
	"confluence-trading-bot/internal/market"
	"confluence-trading-bot/internal/risk"
	"confluence-trading-bot/internal/sim"
	"confluence-trading-bot/internal/sweep"
)

// Trade is one completed simulated trade.
type Trade struct {
	EntryTime  time.Time
	ExitTime   time.Time
	Direction  risk.Direction
	EntryPrice float64
	ExitPrice  float64
	StopLoss   float64
	TakeProfit float64
	Quantity   float64
	Notional   float64
	RiskReward float64
	StopSource risk.StopSource
	PnL        float64
	Outcome    string
	ExitReason string
}

// Result is the aggregate outcome of a replay.
type Result struct {
	StartTime       time.Time
	EndTime         time.Time
	StartingBalance float64
	FinalBalance    float64
	TotalPnL        float64
	TotalReturnPct  float64
	TotalTrades     int
	Wins            int
	Losses          int
	Breakevens      int
	WinRate         float64
	AverageWin      float64
	AverageLoss     float64
	BestTrade       float64
	WorstTrade      float64
	Rejected        int
	Trades          []Trade
}

// replaySwings serves the risk engine's swing lookups from the
// in-memory series, windowed to what was visible at the simulated
// moment. It advances with the replay clock.
type replaySwings struct {
	cfg       config.SweepConfig
	bosRadius int
	coarse    []market.Candle
	fine      []market.Candle
	coarseEnd int
	fineEnd   int
}

func (r *replaySwings) ActiveSwing(_ context.Context, tf market.Timeframe, kind market.SwingKind) (float64, bool, error) {
	var candles []market.Candle
	var radius int
	switch tf {
	case market.Timeframe5M:
		candles, radius = r.fine[:r.fineEnd], r.bosRadius
	case market.Timeframe4H:
		candles, radius = r.coarse[:r.coarseEnd], r.cfg.SwingRadius
	default:
		return 0, false, nil
	}

	start := len(candles) - r.cfg.Lookback - 2*radius
	if start < 0 {
		start = 0
	}
	s, ok := market.LatestSwing(market.LocateSwings(candles[start:], radius), kind)
	if !ok {
		return 0, false, nil
	}
	return s.Price, true, nil
}

// Engine replays a candle history.
type Engine struct {
	cfg    config.Config
	logger zerolog.Logger
}

func New(cfg config.Config, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", "backtest").Logger(),
	}
}

// Run replays the series and returns the aggregate result. Both series
// must be sorted oldest first. At most one position is open at a time;
// sweeps that complete confirmation while a trade is open are skipped.
func (e *Engine) Run(coarse, fine []market.Candle, startingBalance float64) (*Result, error) {
	swings := &replaySwings{
		cfg:       e.cfg.SweepConfig,
		bosRadius: e.cfg.ConfluenceConfig.BOSSwingRadius,
		coarse:    coarse,
		fine:      fine,
	}
	calc := risk.NewCalculator(e.cfg.TradingConfig, swings, e.logger)
	exec := sim.NewExecutor(e.cfg.TradingConfig, calc, e.logger)
	detector := sweep.NewDetector(e.cfg.SweepConfig, e.logger)

	result := &Result{StartingBalance: startingBalance, FinalBalance: startingBalance}
	if len(coarse) > 0 {
		result.StartTime = coarse[0].Timestamp
		result.EndTime = coarse[len(coarse)-1].Timestamp
	}

	balance := startingBalance
	var busyUntil time.Time

	for _, sig := range detector.Detect(coarse) {
		if !sig.Timestamp.After(busyUntil) {
			continue
		}

		entryIdx, ok := e.confirm(sig, fine)
		if !ok {
			continue
		}
		if !fine[entryIdx].Timestamp.After(busyUntil) {
			continue
		}

		swings.fineEnd = entryIdx + 1
		swings.coarseEnd = coarseIndexAt(coarse, fine[entryIdx].Timestamp) + 1

		dir := risk.Long
		if sig.Bias == sweep.BiasBearish {
			dir = risk.Short
		}

		open, err := exec.OpenTrade(context.Background(), dir, fine[entryIdx].Close, balance, fine[entryIdx].Timestamp)
		if err != nil {
			if risk.IsRejection(err) {
				result.Rejected++
				continue
			}
			return nil, err
		}

		trade := e.monitor(exec, open, fine, entryIdx)
		balance += trade.PnL
		busyUntil = trade.ExitTime

		result.Trades = append(result.Trades, trade)
	}

	e.tally(result, balance)
	return result, nil
}

// confirm runs a confirmation machine over the fine series following
// the sweep and returns the index of the completing candle.
func (e *Engine) confirm(sig sweep.Signal, fine []market.Candle) (int, bool) {
	start := fineIndexAfter(fine, sig.Timestamp)
	if start < 0 {
		return 0, false
	}

	seedStart := start - e.cfg.ConfluenceConfig.SeedCandles
	if seedStart < 0 {
		seedStart = 0
	}
	m := confluence.NewMachine(sig.Bias, fine[seedStart:start], e.cfg.ConfluenceConfig)

	for i := start; i < len(fine); i++ {
		state, err := m.Offer(fine[i])
		if err != nil {
			return 0, false
		}
		if state == confluence.StateComplete {
			return i, true
		}
		if state.Terminal() {
			return 0, false
		}
	}
	return 0, false
}

// monitor walks the fine series after entry applying the live exit
// rules: trailing activation on close progress, stop and target on the
// candle's extremes, time limit as the final backstop.
func (e *Engine) monitor(exec *sim.Executor, t *database.PaperTrade, fine []market.Candle, entryIdx int) Trade {
	maxCandles := int(e.cfg.TradingConfig.MaxTradeDuration / market.Timeframe5M.Duration())
	ratio := e.cfg.TradingConfig.TrailingActivationRatio
	targetDist := t.TakeProfit - t.EntryPrice
	if targetDist < 0 {
		targetDist = -targetDist
	}

	end := entryIdx + maxCandles
	if end > len(fine)-1 {
		end = len(fine) - 1
	}

	for i := entryIdx + 1; i <= end; i++ {
		c := fine[i]

		if !t.TrailingActivated && targetDist > 0 {
			progress := c.Close - t.EntryPrice
			if t.Direction == risk.Short {
				progress = -progress
			}
			if progress/targetDist >= ratio {
				t.TrailingActivated = true
				entry := t.EntryPrice
				t.TrailingStopPrice = &entry
			}
		}

		stop := t.EffectiveStop()
		stopHit := c.Low <= stop
		targetHit := c.High >= t.TakeProfit
		if t.Direction == risk.Short {
			stopHit = c.High >= stop
			targetHit = c.Low <= t.TakeProfit
		}

		if stopHit {
			reason := database.ReasonStopLoss
			if t.TrailingActivated {
				reason = database.ReasonTrailingStop
			}
			return e.closeAt(exec, t, stop, c.Timestamp, reason)
		}
		if targetHit {
			return e.closeAt(exec, t, t.TakeProfit, c.Timestamp, database.ReasonTakeProfit)
		}
	}

	final := fine[end]
	return e.closeAt(exec, t, final.Close, final.Timestamp, database.ReasonTimeLimit)
}

func (e *Engine) closeAt(exec *sim.Executor, t *database.PaperTrade, price float64, at time.Time, reason string) Trade {
	fill := exec.CloseTrade(t, price)

	return Trade{
		EntryTime:  t.EntryTime,
		ExitTime:   at,
		Direction:  t.Direction,
		EntryPrice: t.EntryPrice,
		ExitPrice:  fill.ExitPrice,
		StopLoss:   t.StopLoss,
		TakeProfit: t.TakeProfit,
		Quantity:   t.Quantity,
		Notional:   t.Notional,
		RiskReward: t.RiskReward,
		StopSource: t.StopSource,
		PnL:        fill.PnL,
		Outcome:    fill.Outcome,
		ExitReason: reason,
	}
}

func (e *Engine) tally(result *Result, balance float64) {
	result.FinalBalance = balance
	result.TotalTrades = len(result.Trades)

	var winSum, lossSum float64
	for i, t := range result.Trades {
		result.TotalPnL += t.PnL
		if i == 0 || t.PnL > result.BestTrade {
			result.BestTrade = t.PnL
		}
		if i == 0 || t.PnL < result.WorstTrade {
			result.WorstTrade = t.PnL
		}

		switch t.Outcome {
		case database.OutcomeWin:
			result.Wins++
			winSum += t.PnL
		case database.OutcomeLoss:
			result.Losses++
			lossSum += t.PnL
		default:
			result.Breakevens++
		}
	}

	if result.TotalTrades > 0 {
		result.WinRate = float64(result.Wins) / float64(result.TotalTrades) * 100
	}
	if result.Wins > 0 {
		result.AverageWin = winSum / float64(result.Wins)
	}
	if result.Losses > 0 {
		result.AverageLoss = lossSum / float64(result.Losses)
	}
	if result.StartingBalance > 0 {
		result.TotalReturnPct = result.TotalPnL / result.StartingBalance * 100
	}
}

// fineIndexAfter returns the index of the first fine candle strictly
// after ts, or -1.
func fineIndexAfter(fine []market.Candle, ts time.Time) int {
	for i, c := range fine {
		if c.Timestamp.After(ts) {
			return i
		}
	}
	return -1
}

// coarseIndexAt returns the index of the last coarse candle at or
// before ts.
func coarseIndexAt(coarse []market.Candle, ts time.Time) int {
	idx := 0
	for i, c := range coarse {
		if c.Timestamp.After(ts) {
			break
		}
		idx = i
	}
	return idx
}
