package domain

// Greeks are the option sensitivities attached to a tick, either passed
// through from the upstream feed or computed locally.
type Greeks struct {
	IV    float64
	Delta float64
	Theta float64
	Gamma float64
	Vega  float64
}

// Tick is one decoded, per-instrument market update from the upstream feed.
// Keys are raw at this stage; the feed bridge normalizes them. Bid/Ask are
// already best-of-book (highest bid, lowest ask across the depth levels).
type Tick struct {
	InstrumentKey string
	LTP           float64
	Volume        int64
	OpenInterest  int64
	Bid           float64
	Ask           float64
	BidQty        int64
	AskQty        int64
	Greeks        *Greeks // nil when the feed did not supply them
	BrokerTS      int64   // unix millis, 0 if the feed omitted it
}

// HasGreeks reports whether the upstream feed supplied usable Greeks.
func (t *Tick) HasGreeks() bool {
	return t.Greeks != nil && t.Greeks.IV > 0
}
