package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a netted, possibly partially-closed position derived from filled
// orders. An OPEN trade's Qty is the remaining open quantity; a CLOSED trade's
// Qty is the quantity of the closed lot. Opposite-side fills close trades
// oldest-first (FIFO); a partial close splits off an immediately-CLOSED record
// so each closed lot keeps its own realized PnL. CLOSED trades are immutable.
type Trade struct {
	ID            int64
	UserID        int64
	OrderID       int64 // originating (entry) order
	InstrumentKey string
	Side          OrderSide
	Qty           int64
	EntryPrice    decimal.Decimal
	ExitPrice     decimal.Decimal
	ExitOrderID   int64
	Status        TradeStatus
	RealizedPnL   decimal.Decimal
	CreatedAt     time.Time
	ClosedAt      time.Time
}

// IsOpen reports whether the trade still carries exposure.
func (t *Trade) IsOpen() bool {
	return t.Status == TradeOpen
}

// RealizePnL computes the realized PnL of closing qty units of this trade at
// exitPrice: longs gain when the exit is above entry, shorts the reverse.
func (t *Trade) RealizePnL(exitPrice decimal.Decimal, qty int64) decimal.Decimal {
	q := decimal.NewFromInt(qty)
	if t.Side == Buy {
		return exitPrice.Sub(t.EntryPrice).Mul(q)
	}
	return t.EntryPrice.Sub(exitPrice).Mul(q)
}
