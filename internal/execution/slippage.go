package execution

import (
	"math"
	"math/rand"
)

// Volatility/size/impact slippage model for aggressive fills. The model
// intentionally never walks the book: quoted depth is treated as unlimited
// and size is priced through the impact term instead.
const (
	// tickBoundary splits the two exchange tick sizes.
	tickBoundary  = 100.0
	tickSizeSmall = 0.05
	tickSizeLarge = 0.10
	latencyMinMS  = 80.0
	latencyMaxMS  = 250.0
	adverseProb   = 0.70
	defaultIVPct  = 15.0
	// ivToDaily approximates daily volatility from annualized IV (sqrt of
	// ~256 trading days).
	ivToDaily = 16.0

	stockLiquidityMod = 1.5
	indexLiquidityMod = 1.0
	stockImpactScaler = 2.0
	indexImpactScaler = 0.5
	defaultTopQty     = 100000.0

	// Clamp bounds as multiples of the spread: every aggressive fill pays at
	// least half the spread and never more than three times it.
	minSpreadMult = 0.5
	maxSpreadMult = 3.0
)

// SlippageInputs describes one aggressive fill attempt.
type SlippageInputs struct {
	// Price is the reference price the slippage applies to: ask for a BUY,
	// bid for a SELL.
	Price  float64
	Spread float64
	// AnnualIVPct is the annualized implied volatility in percent; 0 falls
	// back to the default.
	AnnualIVPct  float64
	OrderQty     int64
	TopOfBookQty int64
	IsStock      bool
}

// SlippageModel computes slippage for aggressive fills. The result is always
// adverse-positive: a favorable latency draw can only pull the total down to
// the half-spread floor, never into price improvement.
type SlippageModel struct {
	rng *rand.Rand
}

// NewSlippageModel creates a model using the given random source.
func NewSlippageModel(rng *rand.Rand) *SlippageModel {
	return &SlippageModel{rng: rng}
}

// TickSize returns the exchange tick size for a price level.
func TickSize(price float64) float64 {
	if price < tickBoundary {
		return tickSizeSmall
	}
	return tickSizeLarge
}

// Compute returns the slippage for an aggressive fill, rounded to the
// instrument's tick size. The caller applies it as ask+slippage for a BUY and
// bid-slippage for a SELL.
func (m *SlippageModel) Compute(in SlippageInputs) float64 {
	tick := TickSize(in.Price)

	iv := in.AnnualIVPct
	if iv <= 0 {
		iv = defaultIVPct
	}
	topQty := float64(in.TopOfBookQty)
	if topQty <= 0 {
		topQty = defaultTopQty
	}
	liqMod, impactScaler := indexLiquidityMod, indexImpactScaler
	if in.IsStock {
		liqMod, impactScaler = stockLiquidityMod, stockImpactScaler
	}

	// Latency component: price drift over a simulated 80-250ms delay,
	// adverse with probability 0.70.
	latencyMS := latencyMinMS + m.rng.Float64()*(latencyMaxMS-latencyMinMS)
	direction := 1.0
	if m.rng.Float64() >= adverseProb {
		direction = -1.0
	}
	dailyVol := iv / ivToDaily / 100.0
	latency := in.Price * dailyVol * (latencyMS / 1000.0) * direction * liqMod

	// Impact component: penalizes size, always adverse.
	impact := math.Ceil(math.Sqrt(float64(in.OrderQty)/topQty)*impactScaler) * tick

	total := latency + impact

	// Clamp to [0.5, 3.0] spreads. A favorable latency draw below the floor
	// is pulled up to it, so lucky fills never beat half the spread.
	minSlip := minSpreadMult * in.Spread
	maxSlip := maxSpreadMult * in.Spread
	if total < minSlip {
		total = minSlip
	}
	if total > maxSlip {
		total = maxSlip
	}

	return roundToTick(total, tick)
}

// roundToTick rounds a price delta to the nearest tick, half away from zero.
func roundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	rounded := math.Round(x/tick) * tick
	// Kill float dust so 0.30000000000000004 prints as 0.3.
	return math.Round(rounded*100) / 100
}
