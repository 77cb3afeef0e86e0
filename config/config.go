package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the top-level configuration for the paper trading engine.
// Values are loaded from an optional config.json and overridden by
// environment variables.
type Config struct {
	DatabaseConfig   DatabaseConfig   `json:"database"`
	RedisConfig      RedisConfig      `json:"redis"`
	PriceFeedConfig  PriceFeedConfig  `json:"price_feed"`
	TradingConfig    TradingConfig    `json:"trading"`
	SweepConfig      SweepConfig      `json:"sweep"`
	ConfluenceConfig ConfluenceConfig `json:"confluence"`
	BotConfig        BotConfig        `json:"bot"`
	ServerConfig     ServerConfig     `json:"server"`
	LoggingConfig    LoggingConfig    `json:"logging"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslmode"`
	MaxConns int32  `json:"max_conns"`
}

// RedisConfig holds Redis settings for the quote cache.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// PriceFeedConfig holds the spot quote client settings.
type PriceFeedConfig struct {
	BaseURL     string        `json:"base_url"`
	Product     string        `json:"product"`
	CacheTTL    time.Duration `json:"cache_ttl"`
	HTTPTimeout time.Duration `json:"http_timeout"`
}

// TradingConfig holds the risk and execution-simulation parameters.
// These came out of the reference parameter studies; change them only
// with a re-validated backtest.
type TradingConfig struct {
	Symbol                  string        `json:"symbol"`
	RiskFraction            float64       `json:"risk_fraction"`             // fraction of balance risked per trade (0.01 = 1%)
	MinRiskReward           float64       `json:"min_risk_reward"`           // acceptance floor, trades below are rejected
	TargetRiskReward        float64       `json:"target_risk_reward"`        // take profit distance as a multiple of stop distance
	BufferBelowLow          float64       `json:"buffer_below_low"`          // stop buffer beyond a swing low (LONG)
	BufferAboveHigh         float64       `json:"buffer_above_high"`         // stop buffer beyond a swing high (SHORT)
	SlippagePercent         float64       `json:"slippage_percent"`          // fixed slippage fraction, always adverse
	TakerFeePercent         float64       `json:"taker_fee_percent"`         // fee fraction on notional, entry and exit
	MaxTradeDuration        time.Duration `json:"max_trade_duration"`        // hard time limit on an open position
	TrailingActivationRatio float64       `json:"trailing_activation_ratio"` // progress toward target that moves stop to breakeven
	MaxOpenPositions        int           `json:"max_open_positions"`
	StartingBalance         float64       `json:"starting_balance"`
}

// SweepConfig holds the coarse-timeframe liquidity sweep detector settings.
type SweepConfig struct {
	SwingRadius int     `json:"swing_radius"`  // symmetric pivot window for coarse swings
	Lookback    int     `json:"lookback"`      // candles a swing level stays sweepable
	MinSwingAge int     `json:"min_swing_age"` // candles before a new swing becomes sweepable
	RSIPeriod   int     `json:"rsi_period"`
	RSIBullMax  float64 `json:"rsi_bull_max"` // bullish sweep requires RSI at or below this
	RSIBearMin  float64 `json:"rsi_bear_min"` // bearish sweep requires RSI at or above this
}

// ConfluenceConfig holds the fine-timeframe confirmation gate settings.
type ConfluenceConfig struct {
	CHoCHLookback  int     `json:"choch_lookback"`   // candles of structure a CHoCH close must break
	CHoCHBreakPct  float64 `json:"choch_break_pct"`  // minimum break beyond structure, as a fraction
	FVGMinGapPct   float64 `json:"fvg_min_gap_pct"`  // minimum 3-candle gap size, as a fraction of price
	BOSSwingRadius int     `json:"bos_swing_radius"` // pivot window for fine swings in the BOS gate
	BOSLookback    int     `json:"bos_lookback"`     // candles searched for the swing a BOS must break
	WindowCandles  int     `json:"window_candles"`   // fine candles before an unfinished signal is abandoned
	SeedCandles    int     `json:"seed_candles"`     // fine candles of context preloaded into a new machine
}

// BotConfig holds the polling cadences for the three loops.
type BotConfig struct {
	SignalInterval   time.Duration `json:"signal_interval"`
	PositionInterval time.Duration `json:"position_interval"`
	ReportInterval   time.Duration `json:"report_interval"`
	CoarseHistory    int           `json:"coarse_history"` // coarse candles loaded per signal tick
	FineHistory      int           `json:"fine_history"`   // fine candles loaded per signal tick
}

// ServerConfig holds the monitoring API settings.
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	AllowedOrigins  string `json:"allowed_origins"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level   string `json:"level"`   // debug, info, warn, error
	Console bool   `json:"console"` // human-readable output instead of JSON
}

// Load reads config.json if present and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would violate the engine's core
// invariants before anything starts polling.
func (c *Config) Validate() error {
	if c.TradingConfig.RiskFraction <= 0 || c.TradingConfig.RiskFraction >= 1 {
		return fmt.Errorf("risk_fraction must be in (0, 1), got %v", c.TradingConfig.RiskFraction)
	}
	if c.TradingConfig.TargetRiskReward < c.TradingConfig.MinRiskReward {
		return fmt.Errorf("target_risk_reward %v is below the acceptance floor %v",
			c.TradingConfig.TargetRiskReward, c.TradingConfig.MinRiskReward)
	}
	if c.TradingConfig.MaxOpenPositions != 1 {
		return fmt.Errorf("max_open_positions must be 1, got %d", c.TradingConfig.MaxOpenPositions)
	}
	if c.SweepConfig.MinSwingAge < c.SweepConfig.SwingRadius {
		return fmt.Errorf("min_swing_age %d cannot be below swing_radius %d (swings confirm with a lag)",
			c.SweepConfig.MinSwingAge, c.SweepConfig.SwingRadius)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.DatabaseConfig.Host == "" {
		cfg.DatabaseConfig.Host = "localhost"
	}
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}
	if cfg.DatabaseConfig.User == "" {
		cfg.DatabaseConfig.User = "trading_bot"
	}
	if cfg.DatabaseConfig.Database == "" {
		cfg.DatabaseConfig.Database = "trading_bot"
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}
	if cfg.DatabaseConfig.MaxConns == 0 {
		cfg.DatabaseConfig.MaxConns = 10
	}

	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
	if cfg.RedisConfig.PoolSize == 0 {
		cfg.RedisConfig.PoolSize = 5
	}

	if cfg.PriceFeedConfig.BaseURL == "" {
		cfg.PriceFeedConfig.BaseURL = "https://api.coinbase.com"
	}
	if cfg.PriceFeedConfig.Product == "" {
		cfg.PriceFeedConfig.Product = "BTC-USD"
	}
	if cfg.PriceFeedConfig.CacheTTL == 0 {
		cfg.PriceFeedConfig.CacheTTL = time.Second
	}
	if cfg.PriceFeedConfig.HTTPTimeout == 0 {
		cfg.PriceFeedConfig.HTTPTimeout = 5 * time.Second
	}

	t := &cfg.TradingConfig
	if t.Symbol == "" {
		t.Symbol = "BTC-USD"
	}
	if t.RiskFraction == 0 {
		t.RiskFraction = 0.01
	}
	if t.MinRiskReward == 0 {
		t.MinRiskReward = 2.0
	}
	if t.TargetRiskReward == 0 {
		t.TargetRiskReward = 2.0
	}
	if t.BufferBelowLow == 0 {
		t.BufferBelowLow = 0.002
	}
	if t.BufferAboveHigh == 0 {
		t.BufferAboveHigh = 0.003
	}
	if t.SlippagePercent == 0 {
		t.SlippagePercent = 0.0005
	}
	if t.TakerFeePercent == 0 {
		t.TakerFeePercent = 0.006
	}
	if t.MaxTradeDuration == 0 {
		t.MaxTradeDuration = 72 * time.Hour
	}
	if t.TrailingActivationRatio == 0 {
		t.TrailingActivationRatio = 0.80
	}
	if t.MaxOpenPositions == 0 {
		t.MaxOpenPositions = 1
	}
	if t.StartingBalance == 0 {
		t.StartingBalance = 10000
	}

	s := &cfg.SweepConfig
	if s.SwingRadius == 0 {
		s.SwingRadius = 2
	}
	if s.Lookback == 0 {
		s.Lookback = 20
	}
	if s.MinSwingAge == 0 {
		s.MinSwingAge = 3
	}
	if s.RSIPeriod == 0 {
		s.RSIPeriod = 14
	}
	if s.RSIBullMax == 0 {
		s.RSIBullMax = 30
	}
	if s.RSIBearMin == 0 {
		s.RSIBearMin = 70
	}

	cc := &cfg.ConfluenceConfig
	if cc.CHoCHLookback == 0 {
		cc.CHoCHLookback = 5
	}
	if cc.CHoCHBreakPct == 0 {
		cc.CHoCHBreakPct = 0.001
	}
	if cc.FVGMinGapPct == 0 {
		cc.FVGMinGapPct = 0.001
	}
	if cc.BOSSwingRadius == 0 {
		cc.BOSSwingRadius = 2
	}
	if cc.BOSLookback == 0 {
		cc.BOSLookback = 20
	}
	if cc.WindowCandles == 0 {
		cc.WindowCandles = 144 // 12 hours of 5-minute candles
	}
	if cc.SeedCandles == 0 {
		cc.SeedCandles = 20
	}

	b := &cfg.BotConfig
	if b.SignalInterval == 0 {
		b.SignalInterval = 5 * time.Second
	}
	if b.PositionInterval == 0 {
		b.PositionInterval = time.Second
	}
	if b.ReportInterval == 0 {
		b.ReportInterval = 60 * time.Second
	}
	if b.CoarseHistory == 0 {
		b.CoarseHistory = 60
	}
	if b.FineHistory == 0 {
		b.FineHistory = 300
	}

	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8088
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}

	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "info"
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.RedisConfig.Enabled = v == "true"
	}
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	cfg.PriceFeedConfig.BaseURL = getEnvOrDefault("PRICE_FEED_URL", cfg.PriceFeedConfig.BaseURL)
	cfg.PriceFeedConfig.Product = getEnvOrDefault("PRICE_FEED_PRODUCT", cfg.PriceFeedConfig.Product)

	cfg.TradingConfig.StartingBalance = getEnvFloatOrDefault("STARTING_BALANCE", cfg.TradingConfig.StartingBalance)
	cfg.TradingConfig.RiskFraction = getEnvFloatOrDefault("RISK_FRACTION", cfg.TradingConfig.RiskFraction)

	if v := os.Getenv("SERVER_ENABLED"); v != "" {
		cfg.ServerConfig.Enabled = v == "true"
	}
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	if v := os.Getenv("LOG_CONSOLE"); v != "" {
		cfg.LoggingConfig.Console = v == "true"
	}
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
