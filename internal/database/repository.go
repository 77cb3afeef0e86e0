package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"confluence-trading-bot/internal/confluence"
	"confluence-trading-bot/internal/market"
	"confluence-trading-bot/internal/risk"
	"confluence-trading-bot/internal/sweep"
)

// ErrTradeNotFound marks an update against a nonexistent trade id.
// This is an invariant violation, not a transient condition.
var ErrTradeNotFound = errors.New("trade not found")

// ErrCloseReasonConflict is returned when a CLOSED trade is closed
// again with a different reason. Re-closing with the same reason is a
// no-op.
var ErrCloseReasonConflict = errors.New("trade already closed with a different reason")

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// CANDLES
// ============================================================================

func candleTable(tf market.Timeframe) string {
	if tf == market.Timeframe4H {
		return "candles_4h"
	}
	return "candles_5m"
}

// UpsertCandle inserts or replaces one candle.
func (r *Repository) UpsertCandle(ctx context.Context, tf market.Timeframe, c market.Candle) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (timestamp, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (timestamp) DO UPDATE
		SET open = $2, high = $3, low = $4, close = $5, volume = $6
	`, candleTable(tf))
	_, err := r.db.Pool.Exec(ctx, query, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
	return err
}

// GetRecentCandles returns the latest `limit` candles in ascending
// timestamp order.
func (r *Repository) GetRecentCandles(ctx context.Context, tf market.Timeframe, limit int) ([]market.Candle, error) {
	query := fmt.Sprintf(`
		SELECT timestamp, open, high, low, close, volume
		FROM (
			SELECT timestamp, open, high, low, close, volume
			FROM %s
			ORDER BY timestamp DESC
			LIMIT $1
		) recent
		ORDER BY timestamp ASC
	`, candleTable(tf))
	return r.queryCandles(ctx, query, limit)
}

// GetCandleRange returns candles in [from, to] ascending.
func (r *Repository) GetCandleRange(ctx context.Context, tf market.Timeframe, from, to time.Time) ([]market.Candle, error) {
	query := fmt.Sprintf(`
		SELECT timestamp, open, high, low, close, volume
		FROM %s
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp ASC
	`, candleTable(tf))
	return r.queryCandles(ctx, query, from, to)
}

// GetCandlesAfter returns candles strictly after `after`, ascending,
// capped at limit.
func (r *Repository) GetCandlesAfter(ctx context.Context, tf market.Timeframe, after time.Time, limit int) ([]market.Candle, error) {
	query := fmt.Sprintf(`
		SELECT timestamp, open, high, low, close, volume
		FROM %s
		WHERE timestamp > $1
		ORDER BY timestamp ASC
		LIMIT $2
	`, candleTable(tf))
	return r.queryCandles(ctx, query, after, limit)
}

func (r *Repository) queryCandles(ctx context.Context, query string, args ...interface{}) ([]market.Candle, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ============================================================================
// SWING LEVELS
// ============================================================================

// UpsertSwingLevel records a confirmed pivot. Replays of the same
// window are absorbed by the uniqueness constraint.
func (r *Repository) UpsertSwingLevel(ctx context.Context, tf market.Timeframe, s market.Swing) error {
	query := `
		INSERT INTO swing_levels (timestamp, timeframe, kind, price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (timestamp, timeframe, kind) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query, s.Timestamp, string(tf), string(s.Kind), s.Price)
	return err
}

// DeactivateSwingLevel marks a level consumed by a sweep.
func (r *Repository) DeactivateSwingLevel(ctx context.Context, tf market.Timeframe, kind market.SwingKind, ts time.Time) error {
	query := `
		UPDATE swing_levels SET active = FALSE
		WHERE timeframe = $1 AND kind = $2 AND timestamp = $3
	`
	_, err := r.db.Pool.Exec(ctx, query, string(tf), string(kind), ts)
	return err
}

// ActiveSwing returns the most recent active swing level of a kind on
// a timeframe. Satisfies the risk engine's SwingSource.
func (r *Repository) ActiveSwing(ctx context.Context, tf market.Timeframe, kind market.SwingKind) (float64, bool, error) {
	query := `
		SELECT price FROM swing_levels
		WHERE timeframe = $1 AND kind = $2 AND active = TRUE
		ORDER BY timestamp DESC
		LIMIT 1
	`
	var price float64
	err := r.db.Pool.QueryRow(ctx, query, string(tf), string(kind)).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return price, true, nil
}

// ============================================================================
// LIQUIDITY SWEEPS
// ============================================================================

// InsertSweep persists a confirmed sweep. Returns the row id and
// whether the row was newly inserted; a sweep already recorded for the
// same candle is not duplicated.
func (r *Repository) InsertSweep(ctx context.Context, s sweep.Signal) (int64, bool, error) {
	query := `
		INSERT INTO liquidity_sweeps (timestamp, bias, level_kind, level_price, level_timestamp, close_price, rsi)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (timestamp) DO NOTHING
		RETURNING id
	`
	var id int64
	err := r.db.Pool.QueryRow(ctx, query,
		s.Timestamp, string(s.Bias), string(s.LevelKind), s.LevelPrice, s.LevelTime, s.ClosePrice, s.RSI,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// ============================================================================
// CONFLUENCE SIGNALS
// ============================================================================

// CreateConfluence opens the audit row for a new confirmation run.
func (r *Repository) CreateConfluence(ctx context.Context, sweepID int64, bias sweep.Bias) (int64, error) {
	query := `
		INSERT INTO confluence_signals (sweep_id, bias, state)
		VALUES ($1, $2, $3)
		ON CONFLICT (sweep_id) DO NOTHING
		RETURNING id
	`
	var id int64
	err := r.db.Pool.QueryRow(ctx, query, sweepID, string(bias), string(confluence.StateWaitingCHoCH)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// A run for this sweep already exists; reuse it.
		err = r.db.Pool.QueryRow(ctx,
			`SELECT id FROM confluence_signals WHERE sweep_id = $1`, sweepID).Scan(&id)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateConfluence persists the machine's progress after a transition.
func (r *Repository) UpdateConfluence(ctx context.Context, id int64, snap confluence.Snapshot) error {
	var fvgLow, fvgHigh *float64
	if snap.FVGZone != nil {
		fvgLow = &snap.FVGZone.Low
		fvgHigh = &snap.FVGZone.High
	}
	var completedAt *time.Time
	if !snap.CompletedAt.IsZero() {
		completedAt = &snap.CompletedAt
	}

	query := `
		UPDATE confluence_signals
		SET state = $2,
		    choch_price = NULLIF($3, 0),
		    fvg_low = $4,
		    fvg_high = $5,
		    fvg_fill_price = NULLIF($6, 0),
		    bos_price = NULLIF($7, 0),
		    candles_seen = $8,
		    completed_at = $9,
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query,
		id, string(snap.State), snap.CHoCHPrice, fvgLow, fvgHigh,
		snap.FVGFillPrice, snap.BOSPrice, snap.CandlesSeen, completedAt,
	)
	return err
}

// GetUntradedCompletions returns COMPLETE confirmation runs that have
// not yet produced a trade.
func (r *Repository) GetUntradedCompletions(ctx context.Context) ([]*ConfluenceRecord, error) {
	query := `
		SELECT id, sweep_id, bias, state, choch_price, fvg_low, fvg_high,
		       fvg_fill_price, bos_price, candles_seen, completed_at, created_at, updated_at
		FROM confluence_signals
		WHERE state = 'COMPLETE'
		  AND id NOT IN (SELECT signal_id FROM paper_trades WHERE signal_id IS NOT NULL)
		ORDER BY completed_at ASC
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ConfluenceRecord
	for rows.Next() {
		rec := &ConfluenceRecord{}
		var bias, state string
		if err := rows.Scan(
			&rec.ID, &rec.SweepID, &bias, &state, &rec.CHoCHPrice, &rec.FVGLow, &rec.FVGHigh,
			&rec.FVGFillPrice, &rec.BOSPrice, &rec.CandlesSeen, &rec.CompletedAt,
			&rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rec.Bias = sweep.Bias(bias)
		rec.State = confluence.State(state)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetActiveConfluences returns confirmation runs still in flight,
// joined with the sweep candle time so in-memory machines can be
// rebuilt after a restart.
func (r *Repository) GetActiveConfluences(ctx context.Context) ([]*ConfluenceRecord, error) {
	query := `
		SELECT cs.id, cs.sweep_id, cs.bias, cs.state, cs.choch_price, cs.fvg_low, cs.fvg_high,
		       cs.fvg_fill_price, cs.bos_price, cs.candles_seen, cs.completed_at,
		       cs.created_at, cs.updated_at, ls.timestamp
		FROM confluence_signals cs
		JOIN liquidity_sweeps ls ON ls.id = cs.sweep_id
		WHERE cs.state NOT IN ('COMPLETE', 'ABANDONED')
		ORDER BY cs.id ASC
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ConfluenceRecord
	for rows.Next() {
		rec := &ConfluenceRecord{}
		var bias, state string
		if err := rows.Scan(
			&rec.ID, &rec.SweepID, &bias, &state, &rec.CHoCHPrice, &rec.FVGLow, &rec.FVGHigh,
			&rec.FVGFillPrice, &rec.BOSPrice, &rec.CandlesSeen, &rec.CompletedAt,
			&rec.CreatedAt, &rec.UpdatedAt, &rec.SweepTime,
		); err != nil {
			return nil, err
		}
		rec.Bias = sweep.Bias(bias)
		rec.State = confluence.State(state)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ============================================================================
// PAPER TRADES
// ============================================================================

// CreateTrade inserts a new OPEN trade
func (r *Repository) CreateTrade(ctx context.Context, trade *PaperTrade) error {
	query := `
		INSERT INTO paper_trades (
			signal_id, session_id, direction, entry_price, entry_time,
			quantity, notional, risk_amount, stop_loss, stop_source,
			stop_swing_price, take_profit, risk_reward, entry_fee, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		trade.SignalID, trade.SessionID, string(trade.Direction), trade.EntryPrice, trade.EntryTime,
		trade.Quantity, trade.Notional, trade.RiskAmount, trade.StopLoss, string(trade.StopSource),
		trade.StopSwingPrice, trade.TakeProfit, trade.RiskReward, trade.EntryFee, trade.Status,
	).Scan(&trade.ID, &trade.CreatedAt, &trade.UpdatedAt)
}

// CountOpenTrades returns the number of OPEN trades. Checked
// immediately before every insert to hold the single-position rule.
func (r *Repository) CountOpenTrades(ctx context.Context) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM paper_trades WHERE status = 'OPEN'`).Scan(&count)
	return count, err
}

// GetOpenTrades retrieves all open trades
func (r *Repository) GetOpenTrades(ctx context.Context) ([]*PaperTrade, error) {
	query := selectTrade + `
		WHERE status = 'OPEN'
		ORDER BY entry_time ASC
	`
	return r.queryTrades(ctx, query)
}

// GetTradeByID retrieves a trade by ID
func (r *Repository) GetTradeByID(ctx context.Context, id int64) (*PaperTrade, error) {
	trades, err := r.queryTrades(ctx, selectTrade+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, fmt.Errorf("%w: id %d", ErrTradeNotFound, id)
	}
	return trades[0], nil
}

// GetClosedTrades retrieves closed trades, most recent first
func (r *Repository) GetClosedTrades(ctx context.Context, limit int) ([]*PaperTrade, error) {
	query := selectTrade + `
		WHERE status = 'CLOSED'
		ORDER BY exit_time DESC
		LIMIT $1
	`
	return r.queryTrades(ctx, query, limit)
}

// ActivateTrailing moves the stop to the trailing price and marks the
// trade trailing. One-way: a second call leaves the first price alone.
func (r *Repository) ActivateTrailing(ctx context.Context, id int64, stopPrice float64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE paper_trades
		SET trailing_activated = TRUE, trailing_stop_price = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'OPEN' AND trailing_activated = FALSE
	`, id, stopPrice)
	return err
}

// CloseTrade transitions a trade to CLOSED and settles the realized
// PnL against the account balance in the same transaction, so a crash
// never records one without the other. The update only touches an OPEN
// row; re-closing with the same reason is a no-op and does not settle
// again, a different reason is an error, and a missing id is an
// invariant violation.
func (r *Repository) CloseTrade(ctx context.Context, id int64, exitPrice, exitFee, pnl float64, exitTime time.Time, reason, outcome string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE paper_trades
		SET status = 'CLOSED', exit_price = $2, exit_fee = $3, pnl = $4,
		    exit_time = $5, close_reason = $6, outcome = $7, updated_at = NOW()
		WHERE id = $1 AND status = 'OPEN'
	`, id, exitPrice, exitFee, pnl, exitTime, reason, outcome)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		_, err = tx.Exec(ctx, `
			UPDATE paper_config
			SET account_balance = account_balance + $1, updated_at = NOW()
			WHERE id = (SELECT id FROM paper_config ORDER BY id LIMIT 1)
		`, pnl)
		if err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	var existingReason *string
	err = r.db.Pool.QueryRow(ctx,
		`SELECT close_reason FROM paper_trades WHERE id = $1`, id).Scan(&existingReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: id %d", ErrTradeNotFound, id)
	}
	if err != nil {
		return err
	}
	return recloseOutcome(id, existingReason, reason)
}

// recloseOutcome decides the idempotence result for a close that found
// no OPEN row: the same reason again is a no-op, a different reason is
// a conflict.
func recloseOutcome(id int64, existingReason *string, reason string) error {
	if existingReason != nil && *existingReason == reason {
		return nil
	}
	return fmt.Errorf("%w: id %d, have %v, got %s", ErrCloseReasonConflict, id, existingReason, reason)
}

const selectTrade = `
	SELECT id, signal_id, session_id, direction, entry_price, entry_time,
	       quantity, notional, risk_amount, stop_loss, stop_source,
	       stop_swing_price, take_profit, risk_reward, entry_fee, status,
	       trailing_activated, trailing_stop_price, exit_price, exit_time,
	       exit_fee, close_reason, pnl, outcome, created_at, updated_at
	FROM paper_trades
`

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*PaperTrade, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*PaperTrade
	for rows.Next() {
		trade := &PaperTrade{}
		var direction, stopSource string
		err := rows.Scan(
			&trade.ID, &trade.SignalID, &trade.SessionID, &direction, &trade.EntryPrice, &trade.EntryTime,
			&trade.Quantity, &trade.Notional, &trade.RiskAmount, &trade.StopLoss, &stopSource,
			&trade.StopSwingPrice, &trade.TakeProfit, &trade.RiskReward, &trade.EntryFee, &trade.Status,
			&trade.TrailingActivated, &trade.TrailingStopPrice, &trade.ExitPrice, &trade.ExitTime,
			&trade.ExitFee, &trade.CloseReason, &trade.PnL, &trade.Outcome, &trade.CreatedAt, &trade.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		trade.Direction = risk.Direction(direction)
		trade.StopSource = risk.StopSource(stopSource)
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

// ============================================================================
// PAPER CONFIG
// ============================================================================

// EnsurePaperConfig creates the balance row on first run.
func (r *Repository) EnsurePaperConfig(ctx context.Context, startingBalance float64) error {
	var count int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM paper_config`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO paper_config (account_balance) VALUES ($1)`, startingBalance)
	return err
}

// GetAccountBalance returns the paper account balance.
func (r *Repository) GetAccountBalance(ctx context.Context) (float64, error) {
	var balance float64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT account_balance FROM paper_config ORDER BY id LIMIT 1`).Scan(&balance)
	return balance, err
}

// ============================================================================
// PERFORMANCE
// ============================================================================

// GetPerformanceReport aggregates closed-trade statistics.
func (r *Repository) GetPerformanceReport(ctx context.Context) (*PerformanceReport, error) {
	report := &PerformanceReport{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'CLOSED'),
			COUNT(*) FILTER (WHERE status = 'OPEN'),
			COUNT(*) FILTER (WHERE outcome = 'WIN'),
			COUNT(*) FILTER (WHERE outcome = 'LOSS'),
			COUNT(*) FILTER (WHERE outcome = 'BREAKEVEN'),
			COALESCE(SUM(pnl) FILTER (WHERE status = 'CLOSED'), 0)
		FROM paper_trades
	`).Scan(&report.TotalTrades, &report.OpenTrades, &report.Wins,
		&report.Losses, &report.Breakevens, &report.TotalPnL)
	if err != nil {
		return nil, err
	}

	if report.TotalTrades > 0 {
		report.WinRate = float64(report.Wins) / float64(report.TotalTrades) * 100
		report.AveragePnL = report.TotalPnL / float64(report.TotalTrades)
	}

	balance, err := r.GetAccountBalance(ctx)
	if err != nil {
		return nil, err
	}
	report.AccountBalance = balance

	return report, nil
}
