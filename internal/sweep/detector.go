package sweep

import (
	"time"

	"github.com/rs/zerolog"

	"confluence-trading-bot/config"
	"confluence-trading-bot/internal/market"
)

// Bias is the directional read produced by a confirmed liquidity sweep.
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
)

// Signal is a fully confirmed sweep: geometry, momentum gate, and
// next-candle continuation all passed. Timestamp is the sweep candle's
// open time; the signal only becomes knowable once the following candle
// closes.
type Signal struct {
	Timestamp   time.Time
	CandleIndex int
	Bias        Bias
	LevelKind   market.SwingKind
	LevelPrice  float64
	LevelTime   time.Time
	ClosePrice  float64
	RSI         float64
}

// Detector scans a coarse candle series for liquidity sweeps of
// confirmed swing levels. Detection is pure: the same closed series
// always yields the same signals.
type Detector struct {
	cfg    config.SweepConfig
	logger zerolog.Logger
}

func NewDetector(cfg config.SweepConfig, logger zerolog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		logger: logger.With().Str("component", "sweep").Logger(),
	}
}

// level is a sweepable swing while it is live.
type level struct {
	kind  market.SwingKind
	index int
	price float64
	ts    time.Time
}

// Detect replays the series and returns every confirmed sweep signal.
//
// A swing becomes sweepable MinSwingAge candles after it forms and stays
// sweepable for Lookback candles. A high sweep needs the candle's high
// above the level with the close back below it; a low sweep mirrors
// that. Any geometric sweep consumes the level, but a Signal is only
// emitted when the momentum gate holds (RSI at or above RSIBearMin for
// bearish, at or below RSIBullMax for bullish) and the next candle's
// close continues in the bias direction. At most one signal is emitted
// per candle, oldest swept level first.
func (d *Detector) Detect(candles []market.Candle) []Signal {
	swings := market.LocateSwings(candles, d.cfg.SwingRadius)
	if len(swings) == 0 {
		return nil
	}

	var signals []Signal
	var active []level
	next := 0

	for i := 0; i < len(candles)-1; i++ {
		for next < len(swings) && swings[next].Index+d.cfg.MinSwingAge <= i {
			s := swings[next]
			active = append(active, level{kind: s.Kind, index: s.Index, price: s.Price, ts: s.Timestamp})
			next++
		}

		live := active[:0]
		for _, lv := range active {
			if i-lv.index <= d.cfg.Lookback {
				live = append(live, lv)
			}
		}
		active = live

		c := candles[i]
		rsi := market.RSI(candles[:i+1], d.cfg.RSIPeriod)
		emitted := false

		remaining := active[:0]
		for _, lv := range active {
			swept := false
			switch lv.kind {
			case market.SwingHigh:
				swept = c.High > lv.price && c.Close < lv.price
			case market.SwingLow:
				swept = c.Low < lv.price && c.Close > lv.price
			}
			if !swept {
				remaining = append(remaining, lv)
				continue
			}

			// Level is consumed whether or not the gates pass.
			if emitted {
				continue
			}

			bias, ok := d.confirm(lv.kind, candles, i, rsi)
			if !ok {
				continue
			}

			signals = append(signals, Signal{
				Timestamp:   c.Timestamp,
				CandleIndex: i,
				Bias:        bias,
				LevelKind:   lv.kind,
				LevelPrice:  lv.price,
				LevelTime:   lv.ts,
				ClosePrice:  c.Close,
				RSI:         rsi,
			})
			emitted = true
		}
		active = remaining
	}

	return signals
}

// confirm applies the momentum gate and the next-candle continuation
// check for a sweep at index i.
func (d *Detector) confirm(kind market.SwingKind, candles []market.Candle, i int, rsi float64) (Bias, bool) {
	next := candles[i+1]
	cur := candles[i]

	switch kind {
	case market.SwingHigh:
		if rsi < d.cfg.RSIBearMin {
			return "", false
		}
		if next.Close >= cur.Close {
			return "", false
		}
		return BiasBearish, true
	case market.SwingLow:
		if rsi > d.cfg.RSIBullMax {
			return "", false
		}
		if next.Close <= cur.Close {
			return "", false
		}
		return BiasBullish, true
	}
	return "", false
}
