package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a user's instruction to buy or sell a quantity of one instrument.
// Orders are created on submission and mutated only by the execution engine
// while it holds the per-(user,instrument) lock. They are never deleted; a
// terminal order remains as the audit trail of the fill.
type Order struct {
	ID            int64
	UserID        int64
	InstrumentKey string
	Side          OrderSide
	Type          OrderType
	Qty           int64           // requested quantity, > 0
	FilledQty     int64           // invariant: 0 <= FilledQty <= Qty
	AvgFillPrice  decimal.Decimal // running VWAP of fills
	LimitPrice    decimal.Decimal // only meaningful for LIMIT orders
	ExpectedPrice decimal.Decimal // touch price observed when the fill was priced
	Slippage      decimal.Decimal // signed, adverse-positive
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RemainingQty returns the quantity still open for matching.
func (o *Order) RemainingQty() int64 {
	return o.Qty - o.FilledQty
}

// ApplyFill folds a fill into the order, updating the VWAP and status.
// The caller guarantees fillQty <= RemainingQty().
func (o *Order) ApplyFill(fillPrice decimal.Decimal, fillQty int64, now time.Time) {
	prevNotional := o.AvgFillPrice.Mul(decimal.NewFromInt(o.FilledQty))
	fillNotional := fillPrice.Mul(decimal.NewFromInt(fillQty))

	o.FilledQty += fillQty
	o.AvgFillPrice = prevNotional.Add(fillNotional).Div(decimal.NewFromInt(o.FilledQty))
	if o.FilledQty >= o.Qty {
		o.Status = OrderFilled
	} else {
		o.Status = OrderPartial
	}
	o.UpdatedAt = now
}
