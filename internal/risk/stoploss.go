package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"confluence-trading-bot/config"
	"confluence-trading-bot/internal/market"
)

// Direction is the side of a trade.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// StopSource records which timeframe's swing anchored the stop.
type StopSource string

const (
	FineSwing   StopSource = "FINE_SWING"
	CoarseSwing StopSource = "COARSE_SWING"
)

// StopLossResult is a freshly computed protective stop. It is embedded
// into the trade record rather than persisted on its own.
type StopLossResult struct {
	Price             float64
	Source            StopSource
	SwingPrice        float64
	DistancePercent   float64
	MinimumTakeProfit float64
}

// SwingSource supplies the most recent active swing level of a kind on
// a timeframe. Backed by the swing_levels table in live operation.
type SwingSource interface {
	ActiveSwing(ctx context.Context, tf market.Timeframe, kind market.SwingKind) (price float64, ok bool, err error)
}

// Calculator computes stops and position sizes under the fixed
// fractional-risk rule.
type Calculator struct {
	cfg    config.TradingConfig
	swings SwingSource
	logger zerolog.Logger
}

func NewCalculator(cfg config.TradingConfig, swings SwingSource, logger zerolog.Logger) *Calculator {
	return &Calculator{
		cfg:    cfg,
		swings: swings,
		logger: logger.With().Str("component", "risk").Logger(),
	}
}

// ComputeStop anchors a protective stop on the latest active swing.
// The fine timeframe is tried first; if its swing is missing or lands
// on the wrong side of entry, the coarse swing is tried with the same
// buffer rule. With no correctly-sided stop from either source the
// trade is rejected with ErrNoValidStop.
func (c *Calculator) ComputeStop(ctx context.Context, entry float64, dir Direction) (*StopLossResult, error) {
	if entry <= 0 {
		return nil, fmt.Errorf("%w: non-positive entry price %v", ErrInvariant, entry)
	}

	kind := market.SwingLow
	if dir == Short {
		kind = market.SwingHigh
	}

	for _, tf := range []market.Timeframe{market.Timeframe5M, market.Timeframe4H} {
		swing, ok, err := c.swings.ActiveSwing(ctx, tf, kind)
		if err != nil {
			return nil, fmt.Errorf("fetching %s swing: %w", tf, err)
		}
		if !ok {
			continue
		}

		stop := c.bufferedStop(swing, dir)
		if !stopSideValid(entry, stop, dir) {
			c.logger.Debug().
				Str("timeframe", string(tf)).
				Float64("swing", swing).
				Float64("stop", stop).
				Float64("entry", entry).
				Msg("swing stop on wrong side of entry")
			continue
		}

		source := FineSwing
		if tf == market.Timeframe4H {
			source = CoarseSwing
		}
		dist := math.Abs(entry - stop)
		result := &StopLossResult{
			Price:           stop,
			Source:          source,
			SwingPrice:      swing,
			DistancePercent: dist / entry * 100,
		}
		if dir == Long {
			result.MinimumTakeProfit = entry + dist
		} else {
			result.MinimumTakeProfit = entry - dist
		}
		return result, nil
	}

	c.logger.Info().
		Float64("entry", entry).
		Str("direction", string(dir)).
		Msg("stop rejected, no validly sided swing on either timeframe")
	return nil, ErrNoValidStop
}

// bufferedStop places the stop beyond the swing. Shorts get a wider
// buffer because upside wicks run further.
func (c *Calculator) bufferedStop(swing float64, dir Direction) float64 {
	if dir == Long {
		return swing * (1 - c.cfg.BufferBelowLow)
	}
	return swing * (1 + c.cfg.BufferAboveHigh)
}

func stopSideValid(entry, stop float64, dir Direction) bool {
	if dir == Long {
		return stop < entry
	}
	return stop > entry
}
