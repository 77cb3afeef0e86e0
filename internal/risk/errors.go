package risk

import "errors"

// Rejection outcomes are expected control flow: the trade is skipped
// and the loop carries on. Invariant violations are programming errors
// and must stop the engine.
var (
	// ErrNoValidStop means neither the fine nor the coarse swing gave
	// a correctly-sided stop. The trade is rejected outright; there is
	// no default stop.
	ErrNoValidStop = errors.New("no validly-sided stop available")

	// ErrBelowMinRR means the simulated fill's risk:reward fell under
	// the acceptance floor. Trades are rejected, never resized.
	ErrBelowMinRR = errors.New("risk reward below minimum floor")

	// ErrInvariant marks inputs that the fail-closed checks upstream
	// should have made impossible.
	ErrInvariant = errors.New("invariant violation")
)

// IsRejection reports whether err is an expected no-trade outcome
// rather than a fault.
func IsRejection(err error) bool {
	return errors.Is(err, ErrNoValidStop) || errors.Is(err, ErrBelowMinRR)
}
