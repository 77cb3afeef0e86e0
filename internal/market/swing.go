package market

import "time"

// SwingKind distinguishes pivot highs from pivot lows.
type SwingKind string

const (
	SwingHigh SwingKind = "HIGH"
	SwingLow  SwingKind = "LOW"
)

// Swing is a confirmed pivot in a candle series. A pivot at index i only
// becomes knowable once `radius` candles have closed after it, so
// ConfirmIndex always trails Index by the locator radius.
type Swing struct {
	Kind         SwingKind
	Price        float64
	Index        int
	Timestamp    time.Time
	ConfirmIndex int
}

// LocateSwings finds every pivot high and low in candles using a
// symmetric window of `radius` candles on each side. A pivot high has a
// high strictly above all 2*radius neighbors; a pivot low has a low
// strictly below them. The first and last `radius` candles can never be
// pivots because their window is incomplete.
func LocateSwings(candles []Candle, radius int) []Swing {
	if radius < 1 || len(candles) < 2*radius+1 {
		return nil
	}

	var swings []Swing
	for i := radius; i < len(candles)-radius; i++ {
		isHigh := true
		isLow := true
		for j := i - radius; j <= i+radius; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isHigh = false
			}
			if candles[j].Low <= candles[i].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}
		if isHigh {
			swings = append(swings, Swing{
				Kind:         SwingHigh,
				Price:        candles[i].High,
				Index:        i,
				Timestamp:    candles[i].Timestamp,
				ConfirmIndex: i + radius,
			})
		}
		if isLow {
			swings = append(swings, Swing{
				Kind:         SwingLow,
				Price:        candles[i].Low,
				Index:        i,
				Timestamp:    candles[i].Timestamp,
				ConfirmIndex: i + radius,
			})
		}
	}
	return swings
}

// LatestSwing returns the most recent swing of the given kind, or false
// when the series holds none.
func LatestSwing(swings []Swing, kind SwingKind) (Swing, bool) {
	for i := len(swings) - 1; i >= 0; i-- {
		if swings[i].Kind == kind {
			return swings[i], true
		}
	}
	return Swing{}, false
}
