package feed

import (
	"context"
	"math"
	"time"

	"optionsim/internal/catalog"
	"optionsim/internal/domain"
	"optionsim/internal/greeks"
)

// processTick normalizes one decoded tick: key canonicalization, sequence
// numbering, spot/ATM tracking, greeks enrichment, buffer and quote-store
// writes. Returns true when the tick moved the ATM far enough that the
// session must reset.
func (b *Bridge) processTick(ctx context.Context, tick *domain.Tick) bool {
	if tick == nil || tick.LTP == 0 {
		// Zero-LTP ticks are noise, not valid updates.
		return false
	}
	key := catalog.NormalizeKey(tick.InstrumentKey)
	now := b.now()
	recvTS := now.UnixMilli()

	b.seq[key]++
	seq := b.seq[key]

	b.recordTickMetrics(tick, recvTS, now)

	b.mu.Lock()
	underlying := b.underlyingKey
	b.mu.Unlock()

	resetNeeded := false
	if key == underlying {
		resetNeeded = b.trackSpot(ctx, tick.LTP, seq, now)
	}

	update := &InstrumentUpdate{
		LTP:          tick.LTP,
		Volume:       tick.Volume,
		OpenInterest: tick.OpenInterest,
		Bid:          tick.Bid,
		Ask:          tick.Ask,
		BidQty:       tick.BidQty,
		AskQty:       tick.AskQty,
		Seq:          seq,
		RecvTS:       recvTS,
	}
	if tick.HasGreeks() {
		// Upstream greeks win over local computation. IV arrives in percent.
		g := tick.Greeks
		update.setGreeks(g.IV, g.Delta, g.Theta, g.Gamma, g.Vega)
	} else if key != underlying {
		b.maybeComputeGreeks(ctx, key, tick.LTP, now)
	}

	b.bufMu.Lock()
	b.buffer[key] = update
	b.bufMu.Unlock()

	b.maybeWriteQuote(ctx, key, tick, seq, recvTS, now)
	return resetNeeded
}

func (b *Bridge) recordTickMetrics(tick *domain.Tick, recvTS int64, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.Sub(b.metricsResetAt) >= time.Second {
		b.ticksLastSecond = b.ticksInWindow
		b.ticksInWindow = 0
		b.metricsResetAt = now
	}
	b.ticksInWindow++
	if tick.BrokerTS > 0 {
		b.lastBrokerTS = tick.BrokerTS
		if gap := recvTS - tick.BrokerTS; gap > b.maxGapMS {
			b.maxGapMS = gap
		}
	}
}

// trackSpot updates the spot anchor and decides whether the ATM moved enough
// to require a reset. Hysteresis (half a strike step) keeps price noise from
// causing reset storms; the cooldown bounds reset frequency even for real
// moves. The first spot tick only expands the window when the session
// connected spot-only.
func (b *Bridge) trackSpot(ctx context.Context, ltp float64, seq uint64, now time.Time) bool {
	b.mu.Lock()
	b.spotLTP = ltp
	b.spotSeq = seq
	b.spotAt = now

	step := b.strikeStep
	newATM := atmStrike(ltp, step)
	reason := ""
	switch {
	case b.resetInProgress:
		// A reset already owns the subscription set.
	case b.currentATM == 0:
		b.currentATM = newATM
		if len(b.subs) <= 2 {
			reason = "ATM_INIT"
		}
	case newATM != b.currentATM && math.Abs(newATM-b.currentATM) >= hysteresisThreshold(step):
		if now.Sub(b.lastResetAt) >= b.cooldown {
			reason = "ATM_SHIFT"
		}
	}
	b.mu.Unlock()

	if reason == "" {
		return false
	}
	b.beginReset(ctx, newATM, reason)
	return true
}

// maybeComputeGreeks offloads a Black-Scholes computation for an option tick
// the feed delivered without greeks, at most once per second per instrument.
// Submission never blocks; a saturated pool just drops the request.
func (b *Bridge) maybeComputeGreeks(ctx context.Context, key string, ltp float64, now time.Time) {
	if last, ok := b.lastGreeksAt[key]; ok && now.Sub(last) < greeksInterval {
		return
	}
	b.mu.Lock()
	spot := b.spotLTP
	b.mu.Unlock()
	if spot <= 0 {
		return
	}
	details, err := b.catalog.Details(key)
	if err != nil || details == nil || details.Strike <= 0 || details.Expiry == "" {
		return
	}
	b.lastGreeksAt[key] = now
	b.pool.Submit(ctx, greeks.Request{
		InstrumentKey: key,
		Spot:          spot,
		Strike:        details.Strike,
		DaysToExpiry:  b.daysToExpiry(details.Expiry, now),
		OptionLTP:     ltp,
		OptionType:    details.OptionType,
	})
}

// daysToExpiry measures fractional days until the 15:30 close on expiry day.
func (b *Bridge) daysToExpiry(expiry string, now time.Time) float64 {
	loc := b.hours.Location
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation("2006-01-02", expiry, loc)
	if err != nil {
		return 0
	}
	closeAt := time.Date(day.Year(), day.Month(), day.Day(), 15, 30, 0, 0, loc)
	return closeAt.Sub(now).Hours() / 24
}

// maybeWriteQuote persists the normalized quote at most once per 250ms per
// instrument. Missing depth is simulated as bid=ask=ltp with both flags set;
// side timestamps only refresh on genuine depth so staleness checks stay
// honest across LTP-only updates.
func (b *Bridge) maybeWriteQuote(ctx context.Context, key string, tick *domain.Tick, seq uint64, recvTS int64, now time.Time) {
	if last, ok := b.lastQuoteWrite[key]; ok && now.Sub(last) < quoteWriteInterval {
		return
	}

	prev := b.shadow[key]
	q := &domain.Quote{
		LTP:      tick.LTP,
		Bid:      tick.Bid,
		Ask:      tick.Ask,
		BidQty:   tick.BidQty,
		AskQty:   tick.AskQty,
		Seq:      seq,
		RecvTS:   recvTS,
		BrokerTS: tick.BrokerTS,
	}
	if q.Bid == 0 {
		q.Bid = tick.LTP
		q.BidSimulated = true
	}
	if q.Ask == 0 {
		q.Ask = tick.LTP
		q.AskSimulated = true
	}
	if q.BidQty == 0 {
		q.BidQty = defaultDepthQty
	}
	if q.AskQty == 0 {
		q.AskQty = defaultDepthQty
	}
	if !q.BidSimulated && !q.AskSimulated {
		q.BidTS = recvTS
		q.AskTS = recvTS
	} else if prev != nil {
		q.BidTS = prev.BidTS
		q.AskTS = prev.AskTS
	}
	if q.Bid > 0 && q.Ask > 0 {
		q.Spread = q.Ask - q.Bid
		q.SpreadPct = q.Spread / q.Bid * 100
	}
	if tick.HasGreeks() {
		q.IV = tick.Greeks.IV
	} else if prev != nil {
		q.IV = prev.IV
	}

	b.shadow[key] = q
	if err := b.quotes.Set(ctx, key, q, b.quoteTTL); err != nil {
		b.logger.Error(ctx, err, "Quote store write failed", map[string]interface{}{"feedID": b.id, "instrument": key})
		return
	}
	b.lastQuoteWrite[key] = now
}
