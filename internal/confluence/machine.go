package confluence

import (
	"errors"
	"fmt"
	"time"

	"confluence-trading-bot/config"
	"confluence-trading-bot/internal/market"
	"confluence-trading-bot/internal/sweep"
)

// State is the machine's position in the four-gate confirmation
// sequence. States advance strictly forward; there is no skipping and
// no backward transition.
type State string

const (
	StateWaitingCHoCH   State = "WAITING_CHOCH"
	StateWaitingFVG     State = "WAITING_FVG"
	StateWaitingFVGFill State = "WAITING_FVG_FILL"
	StateWaitingBOS     State = "WAITING_BOS"
	StateComplete       State = "COMPLETE"
	StateAbandoned      State = "ABANDONED"
)

// Terminal reports whether the machine will never advance again.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateAbandoned
}

// ErrOutOfOrder is returned when an offered candle does not strictly
// follow the previous one. The stream must be monotonic; anything else
// indicates a corrupted feed and is rejected rather than absorbed.
var ErrOutOfOrder = errors.New("candle out of order")

// Zone is a fair value gap's price range.
type Zone struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Snapshot is the machine's externally visible progress, persisted on
// every transition for audit and replay.
type Snapshot struct {
	Bias         sweep.Bias
	State        State
	CHoCHPrice   float64
	FVGZone      *Zone
	FVGFillPrice float64
	BOSPrice     float64
	CompletedAt  time.Time
	CandlesSeen  int
}

// Machine confirms a directional bias against the fine-timeframe
// stream. Each offered candle is evaluated by the current state's
// detector only, so a machine advances at most one state per candle.
// If WindowCandles close before COMPLETE, the signal is abandoned for
// good.
type Machine struct {
	cfg  config.ConfluenceConfig
	bias sweep.Bias

	state   State
	candles []market.Candle
	lastTS  time.Time
	offered int

	chochPrice   float64
	fvgZone      *Zone
	fvgFillPrice float64
	bosPrice     float64
	completedAt  time.Time
}

// NewMachine starts a confirmation run for a bias. seed provides the
// fine-timeframe context preceding the sweep so the first CHoCH check
// has structure to break; it is not counted against the window.
func NewMachine(bias sweep.Bias, seed []market.Candle, cfg config.ConfluenceConfig) *Machine {
	m := &Machine{
		cfg:     cfg,
		bias:    bias,
		state:   StateWaitingCHoCH,
		candles: append([]market.Candle(nil), seed...),
	}
	if len(seed) > 0 {
		m.lastTS = seed[len(seed)-1].Timestamp
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Bias returns the directional hypothesis under confirmation.
func (m *Machine) Bias() sweep.Bias {
	return m.bias
}

// BOSPrice returns the structure-break close that completed the run.
// Only meaningful in COMPLETE.
func (m *Machine) BOSPrice() float64 {
	return m.bosPrice
}

// Snapshot returns the current progress for persistence.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		Bias:         m.bias,
		State:        m.state,
		CHoCHPrice:   m.chochPrice,
		FVGZone:      m.fvgZone,
		FVGFillPrice: m.fvgFillPrice,
		BOSPrice:     m.bosPrice,
		CompletedAt:  m.completedAt,
		CandlesSeen:  m.offered,
	}
}

// Offer feeds the next closed fine candle to the machine and returns
// the state after evaluation. Candles must arrive in strictly
// increasing timestamp order. Offering to a terminal machine is a
// no-op.
func (m *Machine) Offer(c market.Candle) (State, error) {
	if m.state.Terminal() {
		return m.state, nil
	}
	if !m.lastTS.IsZero() && !c.Timestamp.After(m.lastTS) {
		return m.state, fmt.Errorf("%w: %s does not follow %s",
			ErrOutOfOrder, c.Timestamp.Format(time.RFC3339), m.lastTS.Format(time.RFC3339))
	}

	m.candles = append(m.candles, c)
	m.lastTS = c.Timestamp
	m.offered++

	switch m.state {
	case StateWaitingCHoCH:
		m.checkCHoCH(c)
	case StateWaitingFVG:
		m.checkFVG(c)
	case StateWaitingFVGFill:
		m.checkFVGFill(c)
	case StateWaitingBOS:
		m.checkBOS(c)
	}

	if m.state != StateComplete && m.offered >= m.cfg.WindowCandles {
		m.state = StateAbandoned
	}
	return m.state, nil
}

// checkCHoCH fires when the close breaks the extreme of the preceding
// lookback by more than the break threshold.
func (m *Machine) checkCHoCH(c market.Candle) {
	n := len(m.candles) - 1 // exclude the candle under evaluation
	if n < m.cfg.CHoCHLookback {
		return
	}
	window := m.candles[n-m.cfg.CHoCHLookback : n]

	switch m.bias {
	case sweep.BiasBullish:
		maxHigh := window[0].High
		for _, w := range window[1:] {
			if w.High > maxHigh {
				maxHigh = w.High
			}
		}
		if c.Close > maxHigh*(1+m.cfg.CHoCHBreakPct) {
			m.chochPrice = c.Close
			m.state = StateWaitingFVG
		}
	case sweep.BiasBearish:
		minLow := window[0].Low
		for _, w := range window[1:] {
			if w.Low < minLow {
				minLow = w.Low
			}
		}
		if c.Close < minLow*(1-m.cfg.CHoCHBreakPct) {
			m.chochPrice = c.Close
			m.state = StateWaitingFVG
		}
	}
}

// checkFVG fires when the 3-candle window ending at c holds a gap in
// the bias direction of at least the minimum size.
func (m *Machine) checkFVG(c market.Candle) {
	n := len(m.candles)
	if n < 3 {
		return
	}
	c1 := m.candles[n-3]

	switch m.bias {
	case sweep.BiasBullish:
		if c.Low > c1.High && (c.Low-c1.High)/c1.High >= m.cfg.FVGMinGapPct {
			m.fvgZone = &Zone{Low: c1.High, High: c.Low}
			m.state = StateWaitingFVGFill
		}
	case sweep.BiasBearish:
		if c1.Low > c.High && (c1.Low-c.High)/c.High >= m.cfg.FVGMinGapPct {
			m.fvgZone = &Zone{Low: c.High, High: c1.Low}
			m.state = StateWaitingFVGFill
		}
	}
}

// checkFVGFill fires on the first candle whose range re-enters the
// recorded gap zone.
func (m *Machine) checkFVGFill(c market.Candle) {
	switch m.bias {
	case sweep.BiasBullish:
		if c.Low <= m.fvgZone.High {
			m.fvgFillPrice = c.Low
			m.state = StateWaitingBOS
		}
	case sweep.BiasBearish:
		if c.High >= m.fvgZone.Low {
			m.fvgFillPrice = c.High
			m.state = StateWaitingBOS
		}
	}
}

// checkBOS fires when the close breaks the most recent fine swing in
// the continuation direction, completing the run.
func (m *Machine) checkBOS(c market.Candle) {
	n := len(m.candles) - 1 // swings form from candles before this one
	start := n - m.cfg.BOSLookback
	if start < 0 {
		start = 0
	}
	swings := market.LocateSwings(m.candles[start:n], m.cfg.BOSSwingRadius)

	switch m.bias {
	case sweep.BiasBullish:
		if s, ok := market.LatestSwing(swings, market.SwingHigh); ok && c.Close > s.Price {
			m.complete(c)
		}
	case sweep.BiasBearish:
		if s, ok := market.LatestSwing(swings, market.SwingLow); ok && c.Close < s.Price {
			m.complete(c)
		}
	}
}

func (m *Machine) complete(c market.Candle) {
	m.bosPrice = c.Close
	m.completedAt = c.Timestamp
	m.state = StateComplete
}
