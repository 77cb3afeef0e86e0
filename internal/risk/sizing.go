package risk

import (
	"fmt"
	"math"
)

// PositionSize is the sized exposure for one trade. RiskAmount is
// always exactly balance times the configured risk fraction; quantity
// and notional are derived from it, never the other way around.
type PositionSize struct {
	Quantity     float64
	Notional     float64
	RiskAmount   float64
	StopDistance float64
}

// SizePosition derives quantity from the fixed fractional-risk rule:
// risk_amount = balance * risk_fraction, quantity = risk_amount / stop
// distance. Non-positive inputs and entry == stop are invariant
// violations, not rejections.
func (c *Calculator) SizePosition(balance, entry, stop float64) (*PositionSize, error) {
	if balance <= 0 {
		return nil, fmt.Errorf("%w: non-positive balance %v", ErrInvariant, balance)
	}
	if entry <= 0 {
		return nil, fmt.Errorf("%w: non-positive entry %v", ErrInvariant, entry)
	}
	if stop <= 0 {
		return nil, fmt.Errorf("%w: non-positive stop %v", ErrInvariant, stop)
	}
	if entry == stop {
		return nil, fmt.Errorf("%w: entry equals stop at %v", ErrInvariant, entry)
	}

	riskAmount := balance * c.cfg.RiskFraction
	stopDistance := math.Abs(entry - stop)
	quantity := riskAmount / stopDistance

	return &PositionSize{
		Quantity:     quantity,
		Notional:     quantity * entry,
		RiskAmount:   riskAmount,
		StopDistance: stopDistance,
	}, nil
}
