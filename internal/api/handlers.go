package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"confluence-trading-bot/internal/database"
)

// tradeView is the wire shape of a paper trade.
type tradeView struct {
	ID                int64      `json:"id"`
	SignalID          *int64     `json:"signal_id,omitempty"`
	SessionID         string     `json:"session_id"`
	Direction         string     `json:"direction"`
	EntryPrice        float64    `json:"entry_price"`
	EntryTime         time.Time  `json:"entry_time"`
	Quantity          float64    `json:"quantity"`
	Notional          float64    `json:"notional"`
	RiskAmount        float64    `json:"risk_amount"`
	StopLoss          float64    `json:"stop_loss"`
	StopSource        string     `json:"stop_source"`
	TakeProfit        float64    `json:"take_profit"`
	RiskReward        float64    `json:"risk_reward"`
	Status            string     `json:"status"`
	TrailingActivated bool       `json:"trailing_activated"`
	TrailingStopPrice *float64   `json:"trailing_stop_price,omitempty"`
	ExitPrice         *float64   `json:"exit_price,omitempty"`
	ExitTime          *time.Time `json:"exit_time,omitempty"`
	CloseReason       *string    `json:"close_reason,omitempty"`
	PnL               *float64   `json:"pnl,omitempty"`
	Outcome           *string    `json:"outcome,omitempty"`
}

func viewOf(t *database.PaperTrade) tradeView {
	return tradeView{
		ID:                t.ID,
		SignalID:          t.SignalID,
		SessionID:         t.SessionID,
		Direction:         string(t.Direction),
		EntryPrice:        t.EntryPrice,
		EntryTime:         t.EntryTime,
		Quantity:          t.Quantity,
		Notional:          t.Notional,
		RiskAmount:        t.RiskAmount,
		StopLoss:          t.StopLoss,
		StopSource:        string(t.StopSource),
		TakeProfit:        t.TakeProfit,
		RiskReward:        t.RiskReward,
		Status:            t.Status,
		TrailingActivated: t.TrailingActivated,
		TrailingStopPrice: t.TrailingStopPrice,
		ExitPrice:         t.ExitPrice,
		ExitTime:          t.ExitTime,
		CloseReason:       t.CloseReason,
		PnL:               t.PnL,
		Outcome:           t.Outcome,
	}
}

func viewsOf(trades []*database.PaperTrade) []tradeView {
	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, viewOf(t))
	}
	return views
}

// handleHealth reports process and database health.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.repo.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unhealthy",
		})
		return
	}

	redisStatus := "disabled"
	if s.cache != nil {
		redisStatus = "unhealthy"
		if s.cache.IsHealthy() {
			redisStatus = "healthy"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "healthy",
		"redis":    redisStatus,
		"uptime":   time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleStatus returns the session id and the safe config snapshot.
func (s *Server) handleStatus(c *gin.Context) {
	successResponse(c, gin.H{
		"session_id": s.sessionID,
		"started_at": s.startedAt,
		"symbol":     s.cfg.TradingConfig.Symbol,
		"trading": gin.H{
			"risk_fraction":      s.cfg.TradingConfig.RiskFraction,
			"target_risk_reward": s.cfg.TradingConfig.TargetRiskReward,
			"max_open_positions": s.cfg.TradingConfig.MaxOpenPositions,
			"max_trade_duration": s.cfg.TradingConfig.MaxTradeDuration.String(),
		},
		"intervals": gin.H{
			"signal":   s.cfg.BotConfig.SignalInterval.String(),
			"position": s.cfg.BotConfig.PositionInterval.String(),
			"report":   s.cfg.BotConfig.ReportInterval.String(),
		},
	})
}

// handlePositions returns the currently open trades.
func (s *Server) handlePositions(c *gin.Context) {
	trades, err := s.repo.GetOpenTrades(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load open positions")
		return
	}
	successResponse(c, viewsOf(trades))
}

// handleTrades returns the closed trade history, newest first.
func (s *Server) handleTrades(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	trades, err := s.repo.GetClosedTrades(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load trade history")
		return
	}
	successResponse(c, viewsOf(trades))
}

// handlePerformance returns the aggregated performance summary.
func (s *Server) handlePerformance(c *gin.Context) {
	summary, err := s.reporter.Report(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to build performance report")
		return
	}
	successResponse(c, summary)
}

// handleSignals returns confirmation runs still in flight.
func (s *Server) handleSignals(c *gin.Context) {
	records, err := s.repo.GetActiveConfluences(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load active signals")
		return
	}

	type signalView struct {
		ID          int64      `json:"id"`
		Bias        string     `json:"bias"`
		State       string     `json:"state"`
		CandlesSeen int        `json:"candles_seen"`
		SweepTime   time.Time  `json:"sweep_time"`
		CHoCHPrice  *float64   `json:"choch_price,omitempty"`
		FVGLow      *float64   `json:"fvg_low,omitempty"`
		FVGHigh     *float64   `json:"fvg_high,omitempty"`
		BOSPrice    *float64   `json:"bos_price,omitempty"`
		CompletedAt *time.Time `json:"completed_at,omitempty"`
	}

	views := make([]signalView, 0, len(records))
	for _, rec := range records {
		views = append(views, signalView{
			ID:          rec.ID,
			Bias:        string(rec.Bias),
			State:       string(rec.State),
			CandlesSeen: rec.CandlesSeen,
			SweepTime:   rec.SweepTime,
			CHoCHPrice:  rec.CHoCHPrice,
			FVGLow:      rec.FVGLow,
			FVGHigh:     rec.FVGHigh,
			BOSPrice:    rec.BOSPrice,
			CompletedAt: rec.CompletedAt,
		})
	}
	successResponse(c, views)
}
