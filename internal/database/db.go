package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"confluence-trading-bot/config"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB creates a new database connection
func NewDB(cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "database").Logger()
	log.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS candles_4h (
			timestamp TIMESTAMPTZ PRIMARY KEY,
			open DECIMAL(20, 8) NOT NULL,
			high DECIMAL(20, 8) NOT NULL,
			low DECIMAL(20, 8) NOT NULL,
			close DECIMAL(20, 8) NOT NULL,
			volume DECIMAL(20, 8) NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS candles_5m (
			timestamp TIMESTAMPTZ PRIMARY KEY,
			open DECIMAL(20, 8) NOT NULL,
			high DECIMAL(20, 8) NOT NULL,
			low DECIMAL(20, 8) NOT NULL,
			close DECIMAL(20, 8) NOT NULL,
			volume DECIMAL(20, 8) NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS swing_levels (
			id SERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			timeframe VARCHAR(4) NOT NULL,
			kind VARCHAR(4) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (timestamp, timeframe, kind)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_swing_levels_lookup
			ON swing_levels (timeframe, kind, active, timestamp DESC)`,

		`CREATE TABLE IF NOT EXISTS liquidity_sweeps (
			id SERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL UNIQUE,
			bias VARCHAR(8) NOT NULL,
			level_kind VARCHAR(4) NOT NULL,
			level_price DECIMAL(20, 8) NOT NULL,
			level_timestamp TIMESTAMPTZ NOT NULL,
			close_price DECIMAL(20, 8) NOT NULL,
			rsi DECIMAL(8, 4) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS confluence_signals (
			id SERIAL PRIMARY KEY,
			sweep_id INTEGER NOT NULL REFERENCES liquidity_sweeps(id),
			bias VARCHAR(8) NOT NULL,
			state VARCHAR(20) NOT NULL,
			choch_price DECIMAL(20, 8),
			fvg_low DECIMAL(20, 8),
			fvg_high DECIMAL(20, 8),
			fvg_fill_price DECIMAL(20, 8),
			bos_price DECIMAL(20, 8),
			candles_seen INTEGER NOT NULL DEFAULT 0,
			completed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (sweep_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_confluence_signals_state
			ON confluence_signals (state)`,

		`CREATE TABLE IF NOT EXISTS paper_trades (
			id SERIAL PRIMARY KEY,
			signal_id INTEGER REFERENCES confluence_signals(id),
			session_id VARCHAR(36),
			direction VARCHAR(5) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			notional DECIMAL(20, 8) NOT NULL,
			risk_amount DECIMAL(20, 8) NOT NULL,
			stop_loss DECIMAL(20, 8) NOT NULL,
			stop_source VARCHAR(12) NOT NULL,
			stop_swing_price DECIMAL(20, 8) NOT NULL,
			take_profit DECIMAL(20, 8) NOT NULL,
			risk_reward DECIMAL(8, 4) NOT NULL,
			entry_fee DECIMAL(20, 8) NOT NULL,
			status VARCHAR(6) NOT NULL DEFAULT 'OPEN',
			trailing_activated BOOLEAN NOT NULL DEFAULT FALSE,
			trailing_stop_price DECIMAL(20, 8),
			exit_price DECIMAL(20, 8),
			exit_time TIMESTAMPTZ,
			exit_fee DECIMAL(20, 8),
			close_reason VARCHAR(16),
			pnl DECIMAL(20, 8),
			outcome VARCHAR(10),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_paper_trades_status
			ON paper_trades (status)`,

		`CREATE TABLE IF NOT EXISTS paper_config (
			id SERIAL PRIMARY KEY,
			account_balance DECIMAL(20, 8) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Int("count", len(migrations)).Msg("migrations complete")
	return nil
}
