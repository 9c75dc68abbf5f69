// Package greeks computes option sensitivities with the Black-Scholes model.
// It backfills ticks whose upstream feed omitted greeks: implied volatility
// is solved from the option's last traded price, then the sensitivities
// follow from it.
package greeks

import (
	"math"

	"optionsim/internal/domain"
)

const (
	// ivInitialGuess seeds the Newton-Raphson solve at 30% volatility.
	ivInitialGuess  = 0.30
	ivMaxIterations = 100
	ivTolerance     = 1e-5
	// ivCap rejects solutions above 500% volatility as noise.
	ivCap = 5.0
	// vegaFloor stops the solve before a division blows up.
	vegaFloor = 1e-10
	// minDays keeps expiry-day math finite (~15 minutes).
	minDays     = 0.01
	daysPerYear = 365.0
)

// Calculator computes Black-Scholes greeks with a fixed risk-free rate.
type Calculator struct {
	riskFreeRate float64
}

// NewCalculator creates a calculator. rate is the annual risk-free rate,
// e.g. 0.06.
func NewCalculator(rate float64) *Calculator {
	return &Calculator{riskFreeRate: rate}
}

// Calculate returns the greeks for an option given the underlying spot, the
// strike, days to expiry and the option's market price. Unusable inputs
// (non-positive prices, negative time, IV outside (0, 5]) yield all zeros
// rather than an error; a zero greek set simply means "don't display".
func (c *Calculator) Calculate(spot, strike, daysToExpiry, optionLTP float64, optionType domain.OptionType) domain.Greeks {
	if spot <= 0 || strike <= 0 || optionLTP <= 0 || daysToExpiry < 0 {
		return domain.Greeks{}
	}

	days := math.Max(daysToExpiry, minDays)
	t := days / daysPerYear

	iv := c.impliedVolatility(spot, strike, t, optionLTP, optionType)
	if iv == 0 || iv > ivCap {
		return domain.Greeks{}
	}

	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (c.riskFreeRate+0.5*iv*iv)*t) / (iv * sqrtT)
	d2 := d1 - iv*sqrtT
	discount := math.Exp(-c.riskFreeRate * t)

	var delta, theta float64
	if optionType == domain.Call {
		delta = normCDF(d1)
		theta = (-(spot*normPDF(d1)*iv)/(2*sqrtT) - c.riskFreeRate*strike*discount*normCDF(d2)) / daysPerYear
	} else {
		delta = normCDF(d1) - 1
		theta = (-(spot*normPDF(d1)*iv)/(2*sqrtT) + c.riskFreeRate*strike*discount*normCDF(-d2)) / daysPerYear
	}

	gamma := normPDF(d1) / (spot * iv * sqrtT)
	vega := spot * normPDF(d1) * sqrtT / 100 // per 1% volatility move

	return domain.Greeks{
		IV:    sanitize(iv, 4),
		Delta: sanitize(delta, 4),
		Theta: sanitize(theta, 4),
		Gamma: sanitize(gamma, 6), // gamma needs the extra precision
		Vega:  sanitize(vega, 4),
	}
}

// impliedVolatility solves for IV by Newton-Raphson against the market price.
func (c *Calculator) impliedVolatility(spot, strike, t, marketPrice float64, optionType domain.OptionType) float64 {
	sigma := ivInitialGuess

	for i := 0; i < ivMaxIterations; i++ {
		price := c.price(spot, strike, t, sigma, optionType)
		vega := c.vega(spot, strike, t, sigma)

		diff := price - marketPrice
		if math.Abs(diff) < ivTolerance {
			return sigma
		}
		if vega < vegaFloor {
			break
		}

		sigma -= diff / vega
		if sigma <= 0 {
			return 0
		}
		if sigma > ivCap {
			return ivCap
		}
	}

	if sigma > 0 && sigma < ivCap {
		return sigma
	}
	return 0
}

// price is the Black-Scholes theoretical price.
func (c *Calculator) price(spot, strike, t, sigma float64, optionType domain.OptionType) float64 {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (c.riskFreeRate+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	discount := math.Exp(-c.riskFreeRate * t)

	if optionType == domain.Call {
		return spot*normCDF(d1) - strike*discount*normCDF(d2)
	}
	return strike*discount*normCDF(-d2) - spot*normCDF(-d1)
}

// vega is dPrice/dSigma (not scaled per 1%).
func (c *Calculator) vega(spot, strike, t, sigma float64) float64 {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (c.riskFreeRate+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	return spot * normPDF(d1) * sqrtT
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

// sanitize rounds to the given decimals and maps NaN/Inf to zero so the
// value is always JSON-safe.
func sanitize(x float64, decimals int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	pow := math.Pow(10, float64(decimals))
	return math.Round(x*pow) / pow
}
