package risk

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"confluence-trading-bot/config"
	"confluence-trading-bot/internal/market"
)

type fakeSwings struct {
	vals map[string]float64
	err  error
}

func (f *fakeSwings) ActiveSwing(_ context.Context, tf market.Timeframe, kind market.SwingKind) (float64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	v, ok := f.vals[string(tf)+"/"+string(kind)]
	return v, ok, nil
}

func testCalculator(swings SwingSource) *Calculator {
	cfg := config.TradingConfig{
		RiskFraction:    0.01,
		BufferBelowLow:  0.002,
		BufferAboveHigh: 0.003,
	}
	return NewCalculator(cfg, swings, zerolog.Nop())
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// TestComputeStopFineSwingLong tests the reference LONG scenario: a
// fine swing low at 87480 anchors the stop 0.2% below it
func TestComputeStopFineSwingLong(t *testing.T) {
	c := testCalculator(&fakeSwings{vals: map[string]float64{
		"5M/LOW": 87480,
		"4H/LOW": 85000,
	}})

	result, err := c.ComputeStop(context.Background(), 90000, Long)
	if err != nil {
		t.Fatal(err)
	}

	if !approx(result.Price, 87480*0.998) {
		t.Errorf("Expected stop 87305.04, got %f", result.Price)
	}
	if result.Source != FineSwing {
		t.Errorf("Expected FINE_SWING source, got %s", result.Source)
	}
	if result.SwingPrice != 87480 {
		t.Errorf("Expected swing 87480, got %f", result.SwingPrice)
	}
	if !approx(result.MinimumTakeProfit, 90000+(90000-87480*0.998)) {
		t.Errorf("Expected 1:1 minimum target, got %f", result.MinimumTakeProfit)
	}
	if !approx(result.DistancePercent, (90000-87480*0.998)/90000*100) {
		t.Errorf("Unexpected distance percent %f", result.DistancePercent)
	}
}

// TestComputeStopCoarseFallback tests the fallback when no fine swing
// exists: coarse low 85000 gives stop 84830
func TestComputeStopCoarseFallback(t *testing.T) {
	c := testCalculator(&fakeSwings{vals: map[string]float64{
		"4H/LOW": 85000,
	}})

	result, err := c.ComputeStop(context.Background(), 90000, Long)
	if err != nil {
		t.Fatal(err)
	}

	if !approx(result.Price, 84830) {
		t.Errorf("Expected stop 84830, got %f", result.Price)
	}
	if result.Source != CoarseSwing {
		t.Errorf("Expected COARSE_SWING source, got %s", result.Source)
	}
}

// TestComputeStopWrongSideFallsBack tests that a fine swing above a
// LONG entry is skipped in favor of the coarse swing
func TestComputeStopWrongSideFallsBack(t *testing.T) {
	c := testCalculator(&fakeSwings{vals: map[string]float64{
		"5M/LOW": 91000, // buffered stop would sit above entry
		"4H/LOW": 85000,
	}})

	result, err := c.ComputeStop(context.Background(), 90000, Long)
	if err != nil {
		t.Fatal(err)
	}
	if result.Source != CoarseSwing {
		t.Errorf("Expected fallback to COARSE_SWING, got %s", result.Source)
	}
}

// TestComputeStopShort tests the wider short-side buffer above a swing
// high
func TestComputeStopShort(t *testing.T) {
	c := testCalculator(&fakeSwings{vals: map[string]float64{
		"5M/HIGH": 92000,
	}})

	result, err := c.ComputeStop(context.Background(), 90000, Short)
	if err != nil {
		t.Fatal(err)
	}

	if !approx(result.Price, 92000*1.003) {
		t.Errorf("Expected stop 92276, got %f", result.Price)
	}
	if !approx(result.MinimumTakeProfit, 90000-(92000*1.003-90000)) {
		t.Errorf("Unexpected minimum target %f", result.MinimumTakeProfit)
	}
}

// TestComputeStopFailsClosed tests outright rejection when neither
// timeframe yields a correctly sided stop
func TestComputeStopFailsClosed(t *testing.T) {
	c := testCalculator(&fakeSwings{vals: map[string]float64{
		"5M/LOW": 91000,
		"4H/LOW": 95000,
	}})

	_, err := c.ComputeStop(context.Background(), 90000, Long)
	if !errors.Is(err, ErrNoValidStop) {
		t.Fatalf("Expected ErrNoValidStop, got %v", err)
	}
	if !IsRejection(err) {
		t.Error("ErrNoValidStop must classify as a rejection")
	}
}

// TestComputeStopNoSwingsAtAll tests rejection with empty swing tables
func TestComputeStopNoSwingsAtAll(t *testing.T) {
	c := testCalculator(&fakeSwings{vals: map[string]float64{}})

	if _, err := c.ComputeStop(context.Background(), 90000, Long); !errors.Is(err, ErrNoValidStop) {
		t.Fatalf("Expected ErrNoValidStop, got %v", err)
	}
}

// TestComputeStopPropagatesIOErrors tests that datastore failures are
// not swallowed into a rejection
func TestComputeStopPropagatesIOErrors(t *testing.T) {
	ioErr := errors.New("connection refused")
	c := testCalculator(&fakeSwings{err: ioErr})

	_, err := c.ComputeStop(context.Background(), 90000, Long)
	if !errors.Is(err, ioErr) {
		t.Fatalf("Expected the I/O error to propagate, got %v", err)
	}
	if IsRejection(err) {
		t.Error("An I/O failure must not classify as a rejection")
	}
}

func TestComputeStopInvariantEntry(t *testing.T) {
	c := testCalculator(&fakeSwings{})
	if _, err := c.ComputeStop(context.Background(), 0, Long); !errors.Is(err, ErrInvariant) {
		t.Fatalf("Expected ErrInvariant for a zero entry, got %v", err)
	}
}

// TestSizePositionReferenceScenario tests the fixed fractional-risk
// rule: balance 10000, 1% risk, entry 90000, stop 87305.04
func TestSizePositionReferenceScenario(t *testing.T) {
	c := testCalculator(&fakeSwings{})

	stop := 87480 * 0.998
	size, err := c.SizePosition(10000, 90000, stop)
	if err != nil {
		t.Fatal(err)
	}

	if size.RiskAmount != 100 {
		t.Errorf("Risk amount must be exactly 100, got %f", size.RiskAmount)
	}
	if !approx(size.StopDistance, 90000-stop) {
		t.Errorf("Unexpected stop distance %f", size.StopDistance)
	}
	if !approx(size.Quantity, 100/(90000-stop)) {
		t.Errorf("Unexpected quantity %f", size.Quantity)
	}
	if math.Abs(size.Quantity-0.0371) > 0.0002 {
		t.Errorf("Expected roughly 0.0371 units, got %f", size.Quantity)
	}
	if !approx(size.Notional, size.Quantity*90000) {
		t.Errorf("Unexpected notional %f", size.Notional)
	}
}

// TestSizePositionInvariants tests that bad inputs are hard errors,
// not rejections
func TestSizePositionInvariants(t *testing.T) {
	c := testCalculator(&fakeSwings{})

	cases := []struct {
		name                 string
		balance, entry, stop float64
	}{
		{"zero balance", 0, 90000, 87000},
		{"negative balance", -10, 90000, 87000},
		{"zero entry", 10000, 0, 87000},
		{"zero stop", 10000, 90000, 0},
		{"entry equals stop", 10000, 90000, 90000},
	}
	for _, tc := range cases {
		if _, err := c.SizePosition(tc.balance, tc.entry, tc.stop); !errors.Is(err, ErrInvariant) {
			t.Errorf("%s: expected ErrInvariant, got %v", tc.name, err)
		}
	}
}
