package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"confluence-trading-bot/config"
	"confluence-trading-bot/internal/database"
	"confluence-trading-bot/internal/risk"
)

func testServer() *Server {
	cfg := config.Config{}
	cfg.TradingConfig.Symbol = "BTC-USD"
	cfg.TradingConfig.RiskFraction = 0.01
	cfg.TradingConfig.TargetRiskReward = 2.0
	cfg.TradingConfig.MaxOpenPositions = 1
	cfg.TradingConfig.MaxTradeDuration = 72 * time.Hour
	cfg.BotConfig.SignalInterval = 5 * time.Second
	cfg.BotConfig.PositionInterval = time.Second
	cfg.BotConfig.ReportInterval = time.Minute
	cfg.ServerConfig.AllowedOrigins = "*"
	return NewServer(cfg, nil, nil, nil, "test-session", zerolog.Nop())
}

func TestStatusEndpoint(t *testing.T) {
	srv := testServer()

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Success bool `json:"success"`
		Data    struct {
			SessionID string `json:"session_id"`
			Symbol    string `json:"symbol"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if !response.Success {
		t.Error("Expected success=true")
	}
	if response.Data.SessionID != "test-session" {
		t.Errorf("Expected session id 'test-session', got %q", response.Data.SessionID)
	}
	if response.Data.Symbol != "BTC-USD" {
		t.Errorf("Expected symbol BTC-USD, got %q", response.Data.Symbol)
	}
}

func TestTradeView(t *testing.T) {
	pnl := 150.5
	reason := database.ReasonTakeProfit
	trade := &database.PaperTrade{
		ID:          42,
		SessionID:   "s",
		Direction:   risk.Long,
		EntryPrice:  90045,
		Quantity:    0.0371,
		StopLoss:    87305.04,
		TakeProfit:  95524.92,
		Status:      database.StatusClosed,
		CloseReason: &reason,
		PnL:         &pnl,
	}

	v := viewOf(trade)
	if v.ID != 42 || v.Direction != "LONG" || v.EntryPrice != 90045 {
		t.Errorf("Bad view mapping: %+v", v)
	}
	if v.PnL == nil || *v.PnL != 150.5 {
		t.Error("PnL not carried into view")
	}
	if v.CloseReason == nil || *v.CloseReason != database.ReasonTakeProfit {
		t.Error("Close reason not carried into view")
	}
	if v.ExitPrice != nil {
		t.Error("Expected nil exit price to stay nil")
	}
}
