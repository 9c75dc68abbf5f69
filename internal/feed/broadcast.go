package feed

import (
	"context"
	"time"

	"optionsim/internal/domain"
	"optionsim/internal/ports"
)

// heartbeatEvery is in broadcast cycles: 20 x 50ms = 1 Hz.
const heartbeatEvery = 20

// broadcastLoop drains the update buffer on a fixed cadence, independent of
// tick arrival rate, and sends one batched MARKET_UPDATE per cycle. A dead
// client session discards the cycle's updates rather than accumulating a
// backlog.
func (b *Bridge) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	cycle := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cycle++
		if cycle%heartbeatEvery == 0 {
			b.sendHealth(ctx)
		}

		batch := b.drainBuffer()
		b.anchorSpot(batch)
		if len(batch) == 0 {
			continue
		}
		if !b.session.IsOpen() {
			b.logger.Warn(ctx, "Client session closed, discarding buffered updates", map[string]interface{}{
				"feedID": b.id, "count": len(batch)})
			continue
		}
		if err := b.session.Send(ctx, ports.Event{Type: EventMarketUpdate, Payload: batch}); err != nil {
			b.logger.Warn(ctx, "Batched market update send failed", map[string]interface{}{
				"feedID": b.id, "count": len(batch), "error": err.Error()})
		}
	}
}

func (b *Bridge) drainBuffer() map[string]*InstrumentUpdate {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	if len(b.buffer) == 0 {
		return make(map[string]*InstrumentUpdate)
	}
	batch := b.buffer
	b.buffer = make(map[string]*InstrumentUpdate)
	return batch
}

// anchorSpot guarantees every batch carries a spot price for the underlying:
// the genuine last-known spot when fresh, otherwise a put-call parity
// estimate derived from any same-strike option pair in the batch. A derived
// value is marked synthetic and never promoted to a genuine tick.
func (b *Bridge) anchorSpot(batch map[string]*InstrumentUpdate) {
	b.mu.Lock()
	underlying := b.underlyingKey
	spot := b.spotLTP
	spotSeq := b.spotSeq
	spotAt := b.spotAt
	b.mu.Unlock()
	if underlying == "" {
		return
	}
	if _, present := batch[underlying]; present {
		return
	}

	now := b.now()
	if spot > 0 && now.Sub(spotAt) <= spotStaleAfter {
		batch[underlying] = &InstrumentUpdate{LTP: spot, Seq: spotSeq, RecvTS: now.UnixMilli()}
		return
	}
	if synthetic, ok := b.syntheticSpot(batch); ok {
		batch[underlying] = &InstrumentUpdate{LTP: synthetic, RecvTS: now.UnixMilli(), Synthetic: true}
		b.logger.Info(context.Background(), "Synthetic spot derived", map[string]interface{}{
			"feedID": b.id, "spot": synthetic})
		return
	}
	if spot > 0 {
		// Stale but genuine beats nothing at all.
		batch[underlying] = &InstrumentUpdate{LTP: spot, Seq: spotSeq, RecvTS: now.UnixMilli()}
	}
}

// syntheticSpot estimates spot = call - put + strike from the first
// same-strike pair with live prices in the batch.
func (b *Bridge) syntheticSpot(batch map[string]*InstrumentUpdate) (float64, bool) {
	type pair struct {
		call float64
		put  float64
	}
	pairs := make(map[float64]*pair)
	for key, u := range batch {
		if u.LTP <= 0 {
			continue
		}
		details, err := b.catalog.Details(key)
		if err != nil || details == nil || details.Strike <= 0 {
			continue
		}
		p := pairs[details.Strike]
		if p == nil {
			p = &pair{}
			pairs[details.Strike] = p
		}
		switch details.OptionType {
		case domain.Call:
			p.call = u.LTP
		case domain.Put:
			p.put = u.LTP
		}
	}
	for strike, p := range pairs {
		if p.call > 0 && p.put > 0 {
			return p.call - p.put + strike, true
		}
	}
	return 0, false
}

// sendHealth emits the 1 Hz FEED_HEALTH heartbeat. During a reset the key
// count reads zero so the client shows the transitional state honestly.
func (b *Bridge) sendHealth(ctx context.Context) {
	b.mu.Lock()
	resetLocked := b.resetInProgress
	activeKeys := len(b.subs)
	b.mu.Unlock()
	if resetLocked {
		activeKeys = 0
	}
	b.bufMu.Lock()
	bufferSize := len(b.buffer)
	b.bufMu.Unlock()

	phase := PhaseLive
	if resetLocked {
		phase = PhaseResetting
	}
	b.sendEvent(ctx, EventFeedHealth, HealthPayload{
		State:       phase,
		ActiveKeys:  activeKeys,
		BufferSize:  bufferSize,
		ResetLocked: resetLocked,
		Timestamp:   b.now().UnixMilli(),
	})
}

// greeksLoop merges pool results into the broadcast buffer. Locally solved
// IV is a fraction; the outbound payload reports percent to match the
// upstream feed's units.
func (b *Bridge) greeksLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-b.pool.Results():
			if !ok {
				return
			}
			g := res.Greeks
			if g.IV == 0 {
				continue
			}
			b.bufMu.Lock()
			u := b.buffer[res.InstrumentKey]
			if u == nil {
				// The entry was flushed already; a partial greeks-only update
				// is still useful, clients merge by key.
				u = &InstrumentUpdate{}
				b.buffer[res.InstrumentKey] = u
			}
			u.setGreeks(g.IV*100, g.Delta, g.Theta, g.Gamma, g.Vega)
			b.bufMu.Unlock()
		}
	}
}
