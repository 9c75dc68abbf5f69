package domain

import "time"

// Quote is the latest known market state for one instrument, held in the
// quote store under a short TTL so a dead feed cannot leave stale data
// trusted indefinitely.
//
// If either side of the book was synthesized (one-sided depth or a tick with
// no depth at all), both simulated flags are set so the execution engine can
// fall back to LTP-only pricing instead of trading a one-sided book.
// BidTS/AskTS are refreshed only when genuine depth arrives; a simulated side
// keeps its previous timestamp so staleness checks stay honest.
type Quote struct {
	LTP          float64
	Bid          float64
	Ask          float64
	BidQty       int64
	AskQty       int64
	BidTS        int64 // unix millis of last genuine bid depth
	AskTS        int64 // unix millis of last genuine ask depth
	BidSimulated bool
	AskSimulated bool
	Spread       float64
	SpreadPct    float64
	IV           float64 // annualized implied volatility in percent, 0 if unknown
	Seq          uint64 // per-instrument monotonic sequence
	RecvTS       int64  // unix millis at receipt
	BrokerTS     int64  // upstream exchange timestamp, 0 if absent
}

// Crossed reports a bid above ask. This must never happen with genuine data
// and signals upstream corruption; consumers abort rather than trade through.
func (q *Quote) Crossed() bool {
	return q.Bid > 0 && q.Ask > 0 && q.Bid > q.Ask
}

// HasDepth reports whether both sides of the book are present.
func (q *Quote) HasDepth() bool {
	return q.Bid > 0 && q.Ask > 0
}

// MixedBook reports one genuine and one synthesized side.
func (q *Quote) MixedBook() bool {
	return q.BidSimulated != q.AskSimulated
}

// SideAge returns the age of the given book side relative to now.
// A side that never saw genuine depth reports a very large age.
func (q *Quote) SideAge(side OrderSide, now time.Time) time.Duration {
	ts := q.BidTS
	if side == Buy {
		ts = q.AskTS // a buyer lifts the ask
	}
	if ts <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(now.UnixMilli()-ts) * time.Millisecond
}
