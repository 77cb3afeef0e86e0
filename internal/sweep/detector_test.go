package sweep

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"confluence-trading-bot/config"
	"confluence-trading-bot/internal/market"
)

func testConfig() config.SweepConfig {
	return config.SweepConfig{
		SwingRadius: 1,
		Lookback:    20,
		MinSwingAge: 3,
		RSIPeriod:   3,
		RSIBullMax:  30,
		RSIBearMin:  70,
	}
}

func seriesFromHLC(rows [][3]float64) []market.Candle {
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, len(rows))
	for i, r := range rows {
		candles[i] = market.Candle{
			Timestamp: ts.Add(time.Duration(i) * 4 * time.Hour),
			Open:      r[2],
			High:      r[0],
			Low:       r[1],
			Close:     r[2],
		}
	}
	return candles
}

// TestDetectBearishSweep tests a high sweep with overbought momentum and
// a lower next close
func TestDetectBearishSweep(t *testing.T) {
	d := NewDetector(testConfig(), zerolog.Nop())

	candles := seriesFromHLC([][3]float64{
		{100, 98, 99},
		{105, 99, 101}, // swing high at 105, sweepable from index 4
		{102, 98, 99},
		{101, 97, 100},
		{103, 99, 102},
		{106, 100, 104}, // wick above 105, close back below
		{105, 101, 103}, // continuation lower
	})

	signals := d.Detect(candles)

	if len(signals) != 1 {
		t.Fatalf("Expected 1 signal, got %d", len(signals))
	}

	sig := signals[0]
	if sig.Bias != BiasBearish {
		t.Errorf("Expected BEARISH bias, got %s", sig.Bias)
	}
	if sig.CandleIndex != 5 {
		t.Errorf("Expected sweep at index 5, got %d", sig.CandleIndex)
	}
	if sig.LevelPrice != 105 {
		t.Errorf("Expected swept level 105, got %f", sig.LevelPrice)
	}
	if sig.LevelKind != market.SwingHigh {
		t.Errorf("Expected a HIGH level, got %s", sig.LevelKind)
	}
	if sig.ClosePrice != 104 {
		t.Errorf("Expected sweep close 104, got %f", sig.ClosePrice)
	}
}

// TestDetectBullishSweep tests a low sweep with oversold momentum and a
// higher next close
func TestDetectBullishSweep(t *testing.T) {
	d := NewDetector(testConfig(), zerolog.Nop())

	candles := seriesFromHLC([][3]float64{
		{104, 99, 103},
		{103, 95, 101}, // swing low at 95
		{103, 96, 102},
		{102, 97, 100},
		{101, 96, 98},
		{99, 94, 96}, // wick below 95, close back above
		{99, 95, 97}, // continuation higher
	})

	signals := d.Detect(candles)

	if len(signals) != 1 {
		t.Fatalf("Expected 1 signal, got %d", len(signals))
	}

	sig := signals[0]
	if sig.Bias != BiasBullish {
		t.Errorf("Expected BULLISH bias, got %s", sig.Bias)
	}
	if sig.LevelPrice != 95 {
		t.Errorf("Expected swept level 95, got %f", sig.LevelPrice)
	}
}

// TestMomentumGateBlocksSweep tests that correct geometry without the
// momentum condition produces no signal
func TestMomentumGateBlocksSweep(t *testing.T) {
	d := NewDetector(testConfig(), zerolog.Nop())

	// Same high-sweep geometry but closes fall into the sweep, so RSI is
	// far below the bearish threshold.
	candles := seriesFromHLC([][3]float64{
		{100, 98, 99},
		{110, 99, 105},
		{104, 98, 103},
		{102, 97, 101},
		{101, 96, 99},
		{111, 95, 98}, // sweeps 110 but RSI is depressed
		{99, 94, 96},
	})

	if signals := d.Detect(candles); len(signals) != 0 {
		t.Fatalf("Expected no signals with a failed momentum gate, got %d", len(signals))
	}
}

// TestNextCandleMustContinue tests that the candle after the sweep must
// close in the bias direction
func TestNextCandleMustContinue(t *testing.T) {
	d := NewDetector(testConfig(), zerolog.Nop())

	// Bearish geometry and momentum, but the next candle closes higher.
	candles := seriesFromHLC([][3]float64{
		{100, 98, 99},
		{105, 99, 101},
		{102, 98, 99},
		{101, 97, 100},
		{103, 99, 102},
		{106, 100, 104},
		{107, 103, 106}, // continuation fails
	})

	if signals := d.Detect(candles); len(signals) != 0 {
		t.Fatalf("Expected no signals without next-candle continuation, got %d", len(signals))
	}
}

// TestLevelSweptAtMostOnce tests that a geometric sweep consumes the
// level even when the confirmation gates fail
func TestLevelSweptAtMostOnce(t *testing.T) {
	d := NewDetector(testConfig(), zerolog.Nop())

	candles := seriesFromHLC([][3]float64{
		{101, 98, 100},
		{110, 100, 105}, // the only swing high
		{104, 99, 103},
		{102, 98, 101},
		{111, 100, 104}, // first sweep, momentum gate fails, level consumed
		{111, 102, 106},
		{110, 104, 108},
		{112, 105, 109}, // second pierce of 110 with strong momentum
		{109, 103, 107},
	})

	if signals := d.Detect(candles); len(signals) != 0 {
		t.Fatalf("Expected no signals, the level was consumed by the first sweep, got %d", len(signals))
	}
}

// TestYoungSwingNotSweepable tests the minimum age before a level
// becomes sweepable
func TestYoungSwingNotSweepable(t *testing.T) {
	d := NewDetector(testConfig(), zerolog.Nop())

	// Swing high at index 1, pierced at index 3 (age 2 < 3).
	candles := seriesFromHLC([][3]float64{
		{100, 98, 99},
		{105, 99, 101},
		{102, 98, 100},
		{106, 100, 104}, // pierces 105 but the level is too young
		{104, 99, 102},
	})

	if signals := d.Detect(candles); len(signals) != 0 {
		t.Fatalf("Expected no signals for a sweep of an immature level, got %d", len(signals))
	}
}
