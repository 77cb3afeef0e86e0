package market

import "time"

// Timeframe identifies a candle series granularity.
type Timeframe string

const (
	Timeframe4H Timeframe = "4H"
	Timeframe5M Timeframe = "5M"
)

// Duration returns the wall-clock span of one candle.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe4H:
		return 4 * time.Hour
	case Timeframe5M:
		return 5 * time.Minute
	}
	return 0
}

// Candle is a single OHLCV bar. Timestamp is the bar's open time in UTC.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// IsBullish reports whether the candle closed above its open.
func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

// IsBearish reports whether the candle closed below its open.
func (c Candle) IsBearish() bool {
	return c.Close < c.Open
}

// UpperWick returns the distance from the body top to the high.
func (c Candle) UpperWick() float64 {
	body := c.Open
	if c.Close > c.Open {
		body = c.Close
	}
	return c.High - body
}

// LowerWick returns the distance from the body bottom to the low.
func (c Candle) LowerWick() float64 {
	body := c.Open
	if c.Close < c.Open {
		body = c.Close
	}
	return body - c.Low
}
