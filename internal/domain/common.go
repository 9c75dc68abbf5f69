package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the netting counterpart of a side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents how an order wants to be priced.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
	// Instant behaves exactly like MARKET; it exists so clients can
	// distinguish one-click exits from deliberate market orders.
	Instant OrderType = "INSTANT"
)

// OrderStatus represents the lifecycle state of an order.
// Transitions are monotonic: OPEN -> PARTIAL -> FILLED. CANCELLED is terminal.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Matchable reports whether the execution engine may still act on the order.
func (s OrderStatus) Matchable() bool {
	return s == OrderOpen || s == OrderPartial
}

// TradeStatus represents the state of a netted position record.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// OptionType distinguishes calls from puts using exchange nomenclature.
type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)
