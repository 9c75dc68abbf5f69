package feed

import "math"

// atmStrike maps a spot price to the nearest strike, rounding half up so the
// mapping is reproducible given the same inputs: 23525 -> 23550, 23524 ->
// 23500 at step 50.
func atmStrike(spot, step float64) float64 {
	if step <= 0 {
		return spot
	}
	return math.Floor(spot/step+0.5) * step
}

// liveStrikes generates the strict ±window strike list around atm.
func liveStrikes(atm, step float64, window int) []float64 {
	strikes := make([]float64, 0, 2*window+1)
	for i := -window; i <= window; i++ {
		strikes = append(strikes, atm+float64(i)*step)
	}
	return strikes
}
