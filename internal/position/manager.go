package position

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"confluence-trading-bot/config"
	"confluence-trading-bot/internal/database"
	"confluence-trading-bot/internal/risk"
	"confluence-trading-bot/internal/sim"
)

// Store is the slice of the trade repository the manager writes
// through. CloseTrade settles the realized PnL against the account
// balance as part of the close.
type Store interface {
	GetOpenTrades(ctx context.Context) ([]*database.PaperTrade, error)
	ActivateTrailing(ctx context.Context, id int64, stopPrice float64) error
	CloseTrade(ctx context.Context, id int64, exitPrice, exitFee, pnl float64, exitTime time.Time, reason, outcome string) error
}

// QuoteSource supplies the current spot price.
type QuoteSource interface {
	CurrentPrice(ctx context.Context) (float64, error)
}

// Manager walks every open position once per tick and applies the exit
// checks in fixed priority: time limit, stop, target, then trailing
// activation. Exactly one of the first three can close a position per
// tick; activation only tightens future risk.
type Manager struct {
	cfg    config.TradingConfig
	store  Store
	quotes QuoteSource
	exec   *sim.Executor
	logger zerolog.Logger
	now    func() time.Time
}

func NewManager(cfg config.TradingConfig, store Store, quotes QuoteSource, exec *sim.Executor, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  store,
		quotes: quotes,
		exec:   exec,
		logger: logger.With().Str("component", "position").Logger(),
		now:    time.Now,
	}
}

// Tick evaluates all open positions against the current quote.
func (m *Manager) Tick(ctx context.Context) error {
	trades, err := m.store.GetOpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("fetching open trades: %w", err)
	}
	if len(trades) == 0 {
		return nil
	}

	price, err := m.quotes.CurrentPrice(ctx)
	if err != nil {
		return fmt.Errorf("fetching quote: %w", err)
	}

	for _, t := range trades {
		if err := m.evaluate(ctx, t, price); err != nil {
			return err
		}
	}
	return nil
}

// evaluate applies the exit checks to one position.
func (m *Manager) evaluate(ctx context.Context, t *database.PaperTrade, price float64) error {
	now := m.now()

	if now.Sub(t.EntryTime) >= m.cfg.MaxTradeDuration {
		return m.close(ctx, t, price, database.ReasonTimeLimit, now)
	}

	if stopHit(price, t.EffectiveStop(), t.Direction) {
		reason := database.ReasonStopLoss
		if t.TrailingActivated {
			reason = database.ReasonTrailingStop
		}
		return m.close(ctx, t, price, reason, now)
	}

	if targetHit(price, t.TakeProfit, t.Direction) {
		return m.close(ctx, t, price, database.ReasonTakeProfit, now)
	}

	if !t.TrailingActivated && m.shouldActivateTrailing(t, price) {
		if err := m.store.ActivateTrailing(ctx, t.ID, t.EntryPrice); err != nil {
			return fmt.Errorf("activating trailing stop: %w", err)
		}
		t.TrailingActivated = true
		t.TrailingStopPrice = &t.EntryPrice
		m.logger.Info().
			Int64("trade_id", t.ID).
			Float64("price", price).
			Float64("stop", t.EntryPrice).
			Msg("trailing stop activated at breakeven")
	}
	return nil
}

// shouldActivateTrailing fires once progress toward the target reaches
// the activation fraction of the target distance.
func (m *Manager) shouldActivateTrailing(t *database.PaperTrade, price float64) bool {
	targetDistance := math.Abs(t.TakeProfit - t.EntryPrice)
	if targetDistance == 0 {
		return false
	}
	progress := price - t.EntryPrice
	if t.Direction == risk.Short {
		progress = t.EntryPrice - price
	}
	return progress/targetDistance >= m.cfg.TrailingActivationRatio
}

func (m *Manager) close(ctx context.Context, t *database.PaperTrade, price float64, reason string, now time.Time) error {
	fill := m.exec.CloseTrade(t, price)

	if err := m.store.CloseTrade(ctx, t.ID, fill.ExitPrice, fill.ExitFee, fill.PnL, now, reason, fill.Outcome); err != nil {
		return fmt.Errorf("closing trade %d: %w", t.ID, err)
	}

	m.logger.Info().
		Int64("trade_id", t.ID).
		Str("direction", string(t.Direction)).
		Str("reason", reason).
		Float64("entry", t.EntryPrice).
		Float64("exit", fill.ExitPrice).
		Float64("pnl", fill.PnL).
		Str("outcome", fill.Outcome).
		Msg("position closed")
	return nil
}

func stopHit(price, stop float64, dir risk.Direction) bool {
	if dir == risk.Long {
		return price <= stop
	}
	return price >= stop
}

func targetHit(price, target float64, dir risk.Direction) bool {
	if dir == risk.Long {
		return price >= target
	}
	return price <= target
}
