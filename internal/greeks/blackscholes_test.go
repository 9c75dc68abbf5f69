package greeks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsim/internal/domain"
)

func TestCalculate_UnusableInputsYieldZeros(t *testing.T) {
	calc := NewCalculator(0.06)

	tests := []struct {
		name                    string
		spot, strike, days, ltp float64
	}{
		{"zero spot", 0, 24300, 10, 150},
		{"zero strike", 24300, 0, 10, 150},
		{"zero option price", 24300, 24300, 10, 0},
		{"negative days", 24300, 24300, -1, 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := calc.Calculate(tt.spot, tt.strike, tt.days, tt.ltp, domain.Call)
			assert.Equal(t, domain.Greeks{}, g)
		})
	}
}

func TestCalculate_RecoversKnownVolatility(t *testing.T) {
	calc := NewCalculator(0.06)

	// Price an ATM call at 20% vol, then ask the calculator to invert it.
	spot, strike := 24300.0, 24300.0
	days := 30.0
	tYears := days / 365.0
	fairPrice := calc.price(spot, strike, tYears, 0.20, domain.Call)

	g := calc.Calculate(spot, strike, days, fairPrice, domain.Call)
	assert.InDelta(t, 0.20, g.IV, 0.001)
	// ATM call delta sits a touch above 0.5 with positive drift.
	assert.InDelta(t, 0.53, g.Delta, 0.03)
	assert.Greater(t, g.Gamma, 0.0)
	assert.Greater(t, g.Vega, 0.0)
	assert.Less(t, g.Theta, 0.0)
}

func TestCalculate_PutCallDeltaParity(t *testing.T) {
	calc := NewCalculator(0.06)
	spot, strike, days := 24300.0, 24300.0, 20.0
	tYears := days / 365.0

	callPrice := calc.price(spot, strike, tYears, 0.18, domain.Call)
	putPrice := calc.price(spot, strike, tYears, 0.18, domain.Put)

	call := calc.Calculate(spot, strike, days, callPrice, domain.Call)
	put := calc.Calculate(spot, strike, days, putPrice, domain.Put)

	require.NotZero(t, call.IV)
	require.NotZero(t, put.IV)
	assert.Greater(t, call.Delta, 0.0)
	assert.Less(t, put.Delta, 0.0)
	assert.InDelta(t, 1.0, call.Delta-put.Delta, 0.01)
	// Gamma and vega are side-independent.
	assert.InDelta(t, call.Gamma, put.Gamma, 1e-4)
	assert.InDelta(t, call.Vega, put.Vega, 0.05)
}

func TestCalculate_ExpiryDayUsesMinimumTime(t *testing.T) {
	calc := NewCalculator(0.06)
	// Deep ITM on expiry day: IV solve still has to stay finite.
	g := calc.Calculate(24500, 24300, 0, 205, domain.Call)
	assert.False(t, isNaNGreeks(g), "expiry-day greeks must be finite: %+v", g)
}

func TestCalculate_ImpossiblyCheapPriceYieldsZeros(t *testing.T) {
	calc := NewCalculator(0.06)
	// An ATM option priced at a fraction of a paisa drives the IV solve
	// negative, which reports as all zeros.
	g := calc.Calculate(100, 100, 10, 0.0001, domain.Call)
	assert.Equal(t, domain.Greeks{}, g)
}

func TestCalculate_Rounding(t *testing.T) {
	calc := NewCalculator(0.06)
	tYears := 15.0 / 365.0
	price := calc.price(24300, 24350, tYears, 0.22, domain.Put)

	g := calc.Calculate(24300, 24350, 15, price, domain.Put)
	require.NotZero(t, g.IV)
	// 4 decimals everywhere, 6 for gamma.
	assert.Equal(t, roundTo(g.IV, 4), g.IV)
	assert.Equal(t, roundTo(g.Delta, 4), g.Delta)
	assert.Equal(t, roundTo(g.Theta, 4), g.Theta)
	assert.Equal(t, roundTo(g.Vega, 4), g.Vega)
	assert.Equal(t, roundTo(g.Gamma, 6), g.Gamma)
}

func isNaNGreeks(g domain.Greeks) bool {
	for _, v := range []float64{g.IV, g.Delta, g.Theta, g.Gamma, g.Vega} {
		if v != v {
			return true
		}
	}
	return false
}

func roundTo(x float64, decimals int) float64 {
	return sanitize(x, decimals)
}

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func TestPool_ComputesAndDelivers(t *testing.T) {
	calc := NewCalculator(0.06)
	pool := NewPool(2, calc, nopLogger{})
	defer pool.Close()

	tYears := 20.0 / 365.0
	price := calc.price(24300, 24300, tYears, 0.20, domain.Call)

	ok := pool.Submit(context.Background(), Request{
		InstrumentKey: "NSE_FO|45510",
		Spot:          24300,
		Strike:        24300,
		DaysToExpiry:  20,
		OptionLTP:     price,
		OptionType:    domain.Call,
	})
	require.True(t, ok)

	select {
	case res := <-pool.Results():
		assert.Equal(t, "NSE_FO|45510", res.InstrumentKey)
		assert.InDelta(t, 0.20, res.Greeks.IV, 0.001)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for greeks result")
	}
}

func TestPool_CloseDrainsResults(t *testing.T) {
	pool := NewPool(1, NewCalculator(0.06), nopLogger{})
	pool.Submit(context.Background(), Request{InstrumentKey: "k", Spot: 100, Strike: 100, DaysToExpiry: 10, OptionLTP: 5, OptionType: domain.Call})
	pool.Close()

	// Channel eventually closes after the pending work drains.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-pool.Results():
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("results channel never closed")
		}
	}
}
