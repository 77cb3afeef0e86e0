package position

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"confluence-trading-bot/config"
	"confluence-trading-bot/internal/database"
	"confluence-trading-bot/internal/market"
	"confluence-trading-bot/internal/risk"
	"confluence-trading-bot/internal/sim"
)

type closeCall struct {
	id     int64
	reason string
	pnl    float64
}

type fakeStore struct {
	open     []*database.PaperTrade
	trailing map[int64]float64
	closes   []closeCall
	settled  float64
}

func (f *fakeStore) GetOpenTrades(context.Context) ([]*database.PaperTrade, error) {
	return f.open, nil
}

func (f *fakeStore) ActivateTrailing(_ context.Context, id int64, stop float64) error {
	if f.trailing == nil {
		f.trailing = make(map[int64]float64)
	}
	f.trailing[id] = stop
	return nil
}

func (f *fakeStore) CloseTrade(_ context.Context, id int64, _, _, pnl float64, _ time.Time, reason, _ string) error {
	f.closes = append(f.closes, closeCall{id: id, reason: reason, pnl: pnl})
	f.settled += pnl
	for i, t := range f.open {
		if t.ID == id {
			f.open = append(f.open[:i], f.open[i+1:]...)
			break
		}
	}
	return nil
}

type fakeQuotes struct {
	price float64
	calls int
}

func (f *fakeQuotes) CurrentPrice(context.Context) (float64, error) {
	f.calls++
	return f.price, nil
}

type noSwings struct{}

func (noSwings) ActiveSwing(context.Context, market.Timeframe, market.SwingKind) (float64, bool, error) {
	return 0, false, nil
}

func testConfig() config.TradingConfig {
	return config.TradingConfig{
		RiskFraction:            0.01,
		MinRiskReward:           2.0,
		TargetRiskReward:        2.0,
		SlippagePercent:         0.0005,
		TakerFeePercent:         0.006,
		MaxTradeDuration:        72 * time.Hour,
		TrailingActivationRatio: 0.80,
	}
}

func newTestManager(store *fakeStore, quotes *fakeQuotes) *Manager {
	cfg := testConfig()
	calc := risk.NewCalculator(cfg, noSwings{}, zerolog.Nop())
	exec := sim.NewExecutor(cfg, calc, zerolog.Nop())
	m := NewManager(cfg, store, quotes, exec, zerolog.Nop())
	m.now = func() time.Time { return time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) }
	return m
}

func openLong(id int64, entry, stop, target float64, entered time.Time) *database.PaperTrade {
	return &database.PaperTrade{
		ID:         id,
		Direction:  risk.Long,
		EntryPrice: entry,
		EntryTime:  entered,
		Quantity:   0.037,
		StopLoss:   stop,
		TakeProfit: target,
		Status:     database.StatusOpen,
	}
}

// TestTrailingStopScenario tests the reference lifecycle: progress to
// 80% of the target distance moves the stop to breakeven, and the
// later retrace closes as TRAILING_STOP, not STOP_LOSS
func TestTrailingStopScenario(t *testing.T) {
	entered := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{open: []*database.PaperTrade{openLong(1, 90000, 87300, 95000, entered)}}
	quotes := &fakeQuotes{price: 94000}
	m := newTestManager(store, quotes)

	// 94000 is 80% of the way to 95000: trailing activates, no close.
	if err := m.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.closes) != 0 {
		t.Fatalf("Trailing activation must not close, got %d closes", len(store.closes))
	}
	if stop, ok := store.trailing[1]; !ok || stop != 90000 {
		t.Fatalf("Expected trailing stop at breakeven 90000, got %v", store.trailing)
	}

	// Retrace below entry closes against the trailing stop.
	quotes.price = 89900
	if err := m.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.closes) != 1 {
		t.Fatalf("Expected 1 close, got %d", len(store.closes))
	}
	if store.closes[0].reason != database.ReasonTrailingStop {
		t.Errorf("Expected TRAILING_STOP, got %s", store.closes[0].reason)
	}
}

// TestStopLossBeforeTrailing tests the plain stop when trailing never
// activated
func TestStopLossBeforeTrailing(t *testing.T) {
	entered := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{open: []*database.PaperTrade{openLong(1, 90000, 87300, 95000, entered)}}
	m := newTestManager(store, &fakeQuotes{price: 87200})

	if err := m.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.closes) != 1 || store.closes[0].reason != database.ReasonStopLoss {
		t.Fatalf("Expected one STOP_LOSS close, got %+v", store.closes)
	}
}

// TestTimeLimitBeatsEverything tests that the time limit closes first
// even when the stop would also fire on the same tick
func TestTimeLimitBeatsEverything(t *testing.T) {
	entered := time.Date(2025, 5, 29, 12, 0, 0, 0, time.UTC) // 96 hours before now
	store := &fakeStore{open: []*database.PaperTrade{openLong(1, 90000, 87300, 95000, entered)}}
	m := newTestManager(store, &fakeQuotes{price: 86000})

	if err := m.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.closes) != 1 {
		t.Fatalf("Expected exactly one close, got %d", len(store.closes))
	}
	if store.closes[0].reason != database.ReasonTimeLimit {
		t.Errorf("Expected TIME_LIMIT, got %s", store.closes[0].reason)
	}
}

// TestTakeProfitClose tests the target exit and balance settlement
func TestTakeProfitClose(t *testing.T) {
	entered := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{open: []*database.PaperTrade{openLong(1, 90000, 87300, 95000, entered)}}
	m := newTestManager(store, &fakeQuotes{price: 95100})

	if err := m.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.closes) != 1 || store.closes[0].reason != database.ReasonTakeProfit {
		t.Fatalf("Expected one TAKE_PROFIT close, got %+v", store.closes)
	}
	if store.settled != store.closes[0].pnl {
		t.Errorf("Balance settlement %f does not match realized PnL %f", store.settled, store.closes[0].pnl)
	}
}

// TestShortStop tests the mirrored stop comparison for SHORT
func TestShortStop(t *testing.T) {
	entered := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	trade := &database.PaperTrade{
		ID:         7,
		Direction:  risk.Short,
		EntryPrice: 90000,
		EntryTime:  entered,
		Quantity:   0.037,
		StopLoss:   92276,
		TakeProfit: 85448,
		Status:     database.StatusOpen,
	}
	store := &fakeStore{open: []*database.PaperTrade{trade}}
	m := newTestManager(store, &fakeQuotes{price: 92300})

	if err := m.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.closes) != 1 || store.closes[0].reason != database.ReasonStopLoss {
		t.Fatalf("Expected one STOP_LOSS close, got %+v", store.closes)
	}
}

// TestNoQuoteWithoutPositions tests that an idle tick never hits the
// price feed
func TestNoQuoteWithoutPositions(t *testing.T) {
	store := &fakeStore{}
	quotes := &fakeQuotes{price: 90000}
	m := newTestManager(store, quotes)

	if err := m.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if quotes.calls != 0 {
		t.Errorf("Expected no quote fetches on an idle tick, got %d", quotes.calls)
	}
}

// TestTrailingBelowThresholdDoesNothing tests that progress under the
// activation fraction leaves the position untouched
func TestTrailingBelowThresholdDoesNothing(t *testing.T) {
	entered := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{open: []*database.PaperTrade{openLong(1, 90000, 87300, 95000, entered)}}
	m := newTestManager(store, &fakeQuotes{price: 93800}) // 76% progress

	if err := m.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.closes) != 0 || len(store.trailing) != 0 {
		t.Fatalf("Expected no action at 76%% progress, got closes=%d trailing=%v",
			len(store.closes), store.trailing)
	}
}
