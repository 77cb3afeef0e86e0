// Package bot runs the three polling loops: the signal loop that turns
// coarse candles into sweeps and drives the confirmation machines, the
// position loop that manages open trades, and the reporting loop.
package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"confluence-trading-bot/config"
	"confluence-trading-bot/internal/analytics"
	"confluence-trading-bot/internal/cache"
	"confluence-trading-bot/internal/confluence"
	"confluence-trading-bot/internal/database"
	"confluence-trading-bot/internal/market"
	"confluence-trading-bot/internal/position"
	"confluence-trading-bot/internal/risk"
	"confluence-trading-bot/internal/sim"
	"confluence-trading-bot/internal/sweep"
)

// ErrPositionLimit means a completed signal was skipped because the
// book already holds the maximum number of open positions.
var ErrPositionLimit = errors.New("position limit reached")

// Store is the slice of the repository the signal pipeline reads and
// writes through.
type Store interface {
	UpsertCandle(ctx context.Context, tf market.Timeframe, c market.Candle) error
	GetRecentCandles(ctx context.Context, tf market.Timeframe, limit int) ([]market.Candle, error)
	GetCandleRange(ctx context.Context, tf market.Timeframe, from, to time.Time) ([]market.Candle, error)
	GetCandlesAfter(ctx context.Context, tf market.Timeframe, after time.Time, limit int) ([]market.Candle, error)
	UpsertSwingLevel(ctx context.Context, tf market.Timeframe, s market.Swing) error
	DeactivateSwingLevel(ctx context.Context, tf market.Timeframe, kind market.SwingKind, ts time.Time) error
	InsertSweep(ctx context.Context, s sweep.Signal) (int64, bool, error)
	CreateConfluence(ctx context.Context, sweepID int64, bias sweep.Bias) (int64, error)
	UpdateConfluence(ctx context.Context, id int64, snap confluence.Snapshot) error
	GetActiveConfluences(ctx context.Context) ([]*database.ConfluenceRecord, error)
	GetUntradedCompletions(ctx context.Context) ([]*database.ConfluenceRecord, error)
	CountOpenTrades(ctx context.Context) (int, error)
	GetAccountBalance(ctx context.Context) (float64, error)
	CreateTrade(ctx context.Context, trade *database.PaperTrade) error
}

// PriceFeed is the market-data surface the engine consumes.
type PriceFeed interface {
	CurrentPrice(ctx context.Context) (float64, error)
	Candles(ctx context.Context, tf market.Timeframe, start, end time.Time) ([]market.Candle, error)
}

// machineRun pairs an in-flight machine with its audit row.
type machineRun struct {
	id      int64
	machine *confluence.Machine
	lastTS  time.Time
}

// Engine wires the detectors, the simulator, and the stores into the
// three loops. All trade opening happens on the signal loop; the
// arbiter mutex makes the count-then-insert check atomic against the
// monitoring API or any future second writer.
type Engine struct {
	cfg       config.Config
	repo      Store
	feed      PriceFeed
	detector  *sweep.Detector
	exec      *sim.Executor
	positions *position.Manager
	reporter  *analytics.Reporter
	cache     *cache.CacheService
	logger    zerolog.Logger
	sessionID string

	stopChan chan struct{}
	wg       sync.WaitGroup

	arbiterMu sync.Mutex

	machines map[int64]*machineRun
	rejected map[int64]bool
}

func NewEngine(
	cfg config.Config,
	repo Store,
	feed PriceFeed,
	detector *sweep.Detector,
	exec *sim.Executor,
	positions *position.Manager,
	reporter *analytics.Reporter,
	cs *cache.CacheService,
	sessionID string,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		repo:      repo,
		feed:      feed,
		detector:  detector,
		exec:      exec,
		positions: positions,
		reporter:  reporter,
		cache:     cs,
		logger:    logger.With().Str("component", "engine").Logger(),
		sessionID: sessionID,
		stopChan:  make(chan struct{}),
		machines:  make(map[int64]*machineRun),
		rejected:  make(map[int64]bool),
	}
}

// Start launches the three loops.
func (e *Engine) Start() {
	e.wg.Add(3)
	go e.runLoop("signal", e.cfg.BotConfig.SignalInterval, e.signalTick)
	go e.runLoop("position", e.cfg.BotConfig.PositionInterval, e.positionTick)
	go e.runLoop("report", e.cfg.BotConfig.ReportInterval, e.reportTick)
	e.logger.Info().Str("session_id", e.sessionID).Msg("engine started")
}

// Stop shuts the loops down and waits for in-flight ticks to finish.
func (e *Engine) Stop() {
	close(e.stopChan)
	e.wg.Wait()
	e.logger.Info().Msg("engine stopped")
}

func (e *Engine) runLoop(name string, interval time.Duration, tick func(context.Context) error) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval*4)
		defer cancel()
		if err := tick(ctx); err != nil {
			e.logger.Error().Err(err).Str("loop", name).Msg("tick failed")
		}
	}

	run()
	for {
		select {
		case <-ticker.C:
			run()
		case <-e.stopChan:
			return
		}
	}
}

func (e *Engine) positionTick(ctx context.Context) error {
	return e.positions.Tick(ctx)
}

func (e *Engine) reportTick(ctx context.Context) error {
	_, err := e.reporter.Report(ctx)
	return err
}

// signalTick is one pass of the signal pipeline: ingest candles, refresh
// swing levels, detect sweeps, advance confirmation machines, and open
// trades for completed signals. Each stage logs and degrades on
// transient I/O errors rather than aborting the tick.
func (e *Engine) signalTick(ctx context.Context) error {
	e.ingestCandles(ctx)

	coarse, err := e.repo.GetRecentCandles(ctx, market.Timeframe4H, e.cfg.BotConfig.CoarseHistory)
	if err != nil {
		return err
	}
	fine, err := e.repo.GetRecentCandles(ctx, market.Timeframe5M, e.cfg.BotConfig.FineHistory)
	if err != nil {
		return err
	}

	e.refreshSwingLevels(ctx, market.Timeframe4H, coarse, e.cfg.SweepConfig.SwingRadius)
	e.refreshSwingLevels(ctx, market.Timeframe5M, fine, e.cfg.ConfluenceConfig.BOSSwingRadius)

	e.detectSweeps(ctx, coarse, fine)
	e.restoreMachines(ctx)
	e.advanceMachines(ctx)
	e.openCompletedSignals(ctx)

	return nil
}

// ingestCandles pulls the recent history for both timeframes from the
// feed and upserts it. A feed outage leaves the persisted history in
// place, so detection keeps working on what is already stored.
func (e *Engine) ingestCandles(ctx context.Context) {
	now := time.Now().UTC()

	windows := []struct {
		tf    market.Timeframe
		count int
	}{
		{market.Timeframe4H, e.cfg.BotConfig.CoarseHistory},
		{market.Timeframe5M, e.cfg.BotConfig.FineHistory},
	}

	for _, w := range windows {
		start := now.Add(-time.Duration(w.count) * w.tf.Duration())
		candles, err := e.feed.Candles(ctx, w.tf, start, now)
		if err != nil {
			e.logger.Warn().Err(err).Str("timeframe", string(w.tf)).Msg("candle fetch failed, using stored history")
			continue
		}

		for _, c := range candles {
			// The newest bar is still forming; only closed bars are stored.
			if c.Timestamp.Add(w.tf.Duration()).After(now) {
				continue
			}
			if err := e.repo.UpsertCandle(ctx, w.tf, c); err != nil {
				e.logger.Warn().Err(err).Str("timeframe", string(w.tf)).Msg("candle upsert failed")
				break
			}
		}
	}
}

// refreshSwingLevels persists the confirmed swings of a series so the
// risk engine can read them when sizing a stop.
func (e *Engine) refreshSwingLevels(ctx context.Context, tf market.Timeframe, candles []market.Candle, radius int) {
	for _, s := range market.LocateSwings(candles, radius) {
		if err := e.repo.UpsertSwingLevel(ctx, tf, s); err != nil {
			e.logger.Warn().Err(err).Str("timeframe", string(tf)).Msg("swing upsert failed")
			return
		}
	}
}

// detectSweeps runs the sweep detector over the coarse series and opens
// a confirmation run for every newly persisted sweep.
func (e *Engine) detectSweeps(ctx context.Context, coarse, fine []market.Candle) {
	for _, sig := range e.detector.Detect(coarse) {
		sweepID, inserted, err := e.repo.InsertSweep(ctx, sig)
		if err != nil {
			e.logger.Warn().Err(err).Time("sweep", sig.Timestamp).Msg("sweep insert failed")
			continue
		}
		if !inserted {
			continue
		}

		// The swept level is consumed; the risk engine must not anchor
		// a stop on it again.
		if err := e.repo.DeactivateSwingLevel(ctx, market.Timeframe4H, sig.LevelKind, sig.LevelTime); err != nil {
			e.logger.Warn().Err(err).Time("level", sig.LevelTime).Msg("swing level deactivate failed")
		}

		confID, err := e.repo.CreateConfluence(ctx, sweepID, sig.Bias)
		if err != nil {
			e.logger.Warn().Err(err).Int64("sweep_id", sweepID).Msg("confluence row create failed")
			continue
		}

		seed, lastTS := seedBefore(fine, sig.Timestamp, e.cfg.ConfluenceConfig.SeedCandles)
		e.machines[confID] = &machineRun{
			id:      confID,
			machine: confluence.NewMachine(sig.Bias, seed, e.cfg.ConfluenceConfig),
			lastTS:  lastTS,
		}

		e.logger.Info().
			Int64("signal_id", confID).
			Str("bias", string(sig.Bias)).
			Float64("level", sig.LevelPrice).
			Float64("close", sig.ClosePrice).
			Float64("rsi", sig.RSI).
			Time("sweep", sig.Timestamp).
			Msg("liquidity sweep confirmed, confirmation started")
	}
}

// seedBefore returns up to n fine candles at or before cutoff. Replay
// resumes with the first candle after cutoff.
func seedBefore(fine []market.Candle, cutoff time.Time, n int) ([]market.Candle, time.Time) {
	end := len(fine)
	for end > 0 && fine[end-1].Timestamp.After(cutoff) {
		end--
	}
	start := end - n
	if start < 0 {
		start = 0
	}
	return fine[start:end], cutoff
}

// restoreMachines rebuilds in-memory machines for confirmation runs
// that survived a restart, replaying the persisted fine candles since
// each sweep.
func (e *Engine) restoreMachines(ctx context.Context) {
	records, err := e.repo.GetActiveConfluences(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("active confluence lookup failed")
		return
	}

	for _, rec := range records {
		if _, ok := e.machines[rec.ID]; ok {
			continue
		}

		seedStart := rec.SweepTime.Add(-time.Duration(e.cfg.ConfluenceConfig.SeedCandles) * market.Timeframe5M.Duration())
		history, err := e.repo.GetCandleRange(ctx, market.Timeframe5M, seedStart, time.Now().UTC())
		if err != nil {
			e.logger.Warn().Err(err).Int64("signal_id", rec.ID).Msg("machine restore failed")
			continue
		}

		seed, lastTS := seedBefore(history, rec.SweepTime, e.cfg.ConfluenceConfig.SeedCandles)
		e.machines[rec.ID] = &machineRun{
			id:      rec.ID,
			machine: confluence.NewMachine(rec.Bias, seed, e.cfg.ConfluenceConfig),
			lastTS:  lastTS,
		}
		e.logger.Info().Int64("signal_id", rec.ID).Str("state", string(rec.State)).Msg("confirmation machine restored")
	}
}

// advanceMachines offers every newly closed fine candle to each
// in-flight machine and persists progress.
func (e *Engine) advanceMachines(ctx context.Context) {
	for id, run := range e.machines {
		candles, err := e.repo.GetCandlesAfter(ctx, market.Timeframe5M, run.lastTS, e.cfg.ConfluenceConfig.WindowCandles)
		if err != nil {
			e.logger.Warn().Err(err).Int64("signal_id", id).Msg("fine candle load failed")
			continue
		}
		if len(candles) == 0 {
			continue
		}

		before := run.machine.State()
		for _, c := range candles {
			state, err := run.machine.Offer(c)
			if err != nil {
				e.logger.Error().Err(err).Int64("signal_id", id).Msg("candle rejected by machine")
				break
			}
			run.lastTS = c.Timestamp
			if state.Terminal() {
				break
			}
		}

		after := run.machine.State()
		if err := e.repo.UpdateConfluence(ctx, id, run.machine.Snapshot()); err != nil {
			e.logger.Warn().Err(err).Int64("signal_id", id).Msg("confluence update failed")
			continue
		}

		if after != before {
			e.logger.Info().
				Int64("signal_id", id).
				Str("from", string(before)).
				Str("to", string(after)).
				Msg("confirmation advanced")
		}
		if after.Terminal() {
			delete(e.machines, id)
		}
	}
}

// openCompletedSignals turns fully confirmed signals into simulated
// trades, one at most while a position is open. The arbiter mutex keeps
// the open-count check and the insert atomic.
func (e *Engine) openCompletedSignals(ctx context.Context) {
	records, err := e.repo.GetUntradedCompletions(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("untraded completion lookup failed")
		return
	}

	for _, rec := range records {
		if e.alreadyHandled(ctx, rec.ID) {
			continue
		}
		if err := e.openTrade(ctx, rec); err != nil {
			if errors.Is(err, ErrPositionLimit) {
				e.logger.Info().Int64("signal_id", rec.ID).Msg("signal skipped, position limit reached")
				return
			}
			if risk.IsRejection(err) {
				e.markHandled(ctx, rec.ID)
				e.logger.Warn().Err(err).Int64("signal_id", rec.ID).Msg("signal rejected by risk engine")
				continue
			}
			e.logger.Error().Err(err).Int64("signal_id", rec.ID).Msg("trade open failed")
			continue
		}
	}
}

func (e *Engine) openTrade(ctx context.Context, rec *database.ConfluenceRecord) error {
	e.arbiterMu.Lock()
	defer e.arbiterMu.Unlock()

	open, err := e.repo.CountOpenTrades(ctx)
	if err != nil {
		return err
	}
	if open >= e.cfg.TradingConfig.MaxOpenPositions {
		return ErrPositionLimit
	}

	balance, err := e.repo.GetAccountBalance(ctx)
	if err != nil {
		return err
	}
	quote, err := e.feed.CurrentPrice(ctx)
	if err != nil {
		return err
	}

	dir := risk.Long
	if rec.Bias == sweep.BiasBearish {
		dir = risk.Short
	}

	trade, err := e.exec.OpenTrade(ctx, dir, quote, balance, time.Now().UTC())
	if err != nil {
		return err
	}

	trade.SignalID = &rec.ID
	trade.SessionID = e.sessionID
	if err := e.repo.CreateTrade(ctx, trade); err != nil {
		return err
	}

	e.logger.Info().
		Int64("trade_id", trade.ID).
		Int64("signal_id", rec.ID).
		Str("direction", string(dir)).
		Float64("entry", trade.EntryPrice).
		Float64("stop", trade.StopLoss).
		Float64("target", trade.TakeProfit).
		Float64("quantity", trade.Quantity).
		Msg("trade opened")
	return nil
}

// alreadyHandled checks the session-local and Redis dedup marks for a
// signal the risk engine already rejected.
func (e *Engine) alreadyHandled(ctx context.Context, id int64) bool {
	if e.rejected[id] {
		return true
	}
	if e.cache != nil {
		if _, err := e.cache.Get(ctx, cache.SignalSeenKey(id)); err == nil {
			return true
		}
	}
	return false
}

func (e *Engine) markHandled(ctx context.Context, id int64) {
	e.rejected[id] = true
	if e.cache != nil {
		if _, err := e.cache.SetNX(ctx, cache.SignalSeenKey(id), "rejected", cache.SignalSeenTTL); err != nil {
			e.logger.Debug().Err(err).Int64("signal_id", id).Msg("dedup mark not cached")
		}
	}
}
