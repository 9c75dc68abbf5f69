package feedwire

import (
	"encoding/json"
	"fmt"

	"optionsim/internal/domain"
)

// Mode selects the subscription payload format. Full mode carries depth,
// greeks and OI; LTPC mode is last-price only.
type Mode string

const (
	ModeFull Mode = "full"
	ModeLTPC Mode = "ltpc"
)

// Frame is one inbound feed message. The broker multiplexes many instruments
// into a single frame keyed by instrument key.
type Frame struct {
	Type      string               `json:"type"`
	Feeds     map[string]feedEntry `json:"feeds"`
	CurrentTS int64                `json:"currentTs"`
}

type feedEntry struct {
	LTPC     *ltpcBlock `json:"ltpc"`
	FullFeed *fullFeed  `json:"fullFeed"`
}

type fullFeed struct {
	MarketFF *marketFF `json:"marketFF"`
	IndexFF  *indexFF  `json:"indexFF"`
}

type marketFF struct {
	LTPC         *ltpcBlock   `json:"ltpc"`
	MarketLevel  *marketLevel `json:"marketLevel"`
	OptionGreeks *wireGreeks  `json:"optionGreeks"`
	OI           float64      `json:"oi"`
	IV           float64      `json:"iv"`
	VTT          int64        `json:"vtt,string"`
}

type indexFF struct {
	LTPC *ltpcBlock `json:"ltpc"`
}

type ltpcBlock struct {
	LTP float64 `json:"ltp"`
	LTT int64   `json:"ltt,string"`
	LTQ int64   `json:"ltq,string"`
	CP  float64 `json:"cp"`
}

type marketLevel struct {
	BidAskQuote []depthLevel `json:"bidAskQuote"`
}

type depthLevel struct {
	BidQ int64   `json:"bidQ,string"`
	BidP float64 `json:"bidP"`
	AskQ int64   `json:"askQ,string"`
	AskP float64 `json:"askP"`
}

type wireGreeks struct {
	Delta float64 `json:"delta"`
	Theta float64 `json:"theta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
}

// decodeFrame parses a raw frame payload into per-instrument ticks. Unknown
// frame types yield no ticks rather than an error; the broker interleaves
// housekeeping messages on the same socket.
func decodeFrame(raw []byte) ([]*domain.Tick, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("failed to decode feed frame: %w", err)
	}
	if len(frame.Feeds) == 0 {
		return nil, nil
	}

	ticks := make([]*domain.Tick, 0, len(frame.Feeds))
	for key, entry := range frame.Feeds {
		tick := entryToTick(key, entry)
		if tick != nil {
			if tick.BrokerTS == 0 {
				tick.BrokerTS = frame.CurrentTS
			}
			ticks = append(ticks, tick)
		}
	}
	return ticks, nil
}

func entryToTick(key string, entry feedEntry) *domain.Tick {
	switch {
	case entry.FullFeed != nil && entry.FullFeed.MarketFF != nil:
		return marketToTick(key, entry.FullFeed.MarketFF)
	case entry.FullFeed != nil && entry.FullFeed.IndexFF != nil:
		// Index feeds carry no depth; only the spot matters.
		tick := &domain.Tick{InstrumentKey: key}
		if l := entry.FullFeed.IndexFF.LTPC; l != nil {
			tick.LTP = l.LTP
			tick.BrokerTS = l.LTT
		}
		return tick
	case entry.LTPC != nil:
		return &domain.Tick{InstrumentKey: key, LTP: entry.LTPC.LTP, BrokerTS: entry.LTPC.LTT}
	default:
		return nil
	}
}

func marketToTick(key string, m *marketFF) *domain.Tick {
	tick := &domain.Tick{
		InstrumentKey: key,
		Volume:        m.VTT,
		OpenInterest:  int64(m.OI),
	}
	if m.LTPC != nil {
		tick.LTP = m.LTPC.LTP
		tick.BrokerTS = m.LTPC.LTT
	}
	if m.OptionGreeks != nil && m.IV > 0 {
		tick.Greeks = &domain.Greeks{
			IV:    m.IV,
			Delta: m.OptionGreeks.Delta,
			Theta: m.OptionGreeks.Theta,
			Gamma: m.OptionGreeks.Gamma,
			Vega:  m.OptionGreeks.Vega,
		}
	}
	if m.MarketLevel != nil {
		tick.Bid, tick.BidQty, tick.Ask, tick.AskQty = bestOfBook(m.MarketLevel.BidAskQuote)
	}
	return tick
}

// bestOfBook picks the highest non-zero bid and lowest non-zero ask across
// the depth levels. Depth is not guaranteed to arrive sorted.
func bestOfBook(levels []depthLevel) (bid float64, bidQty int64, ask float64, askQty int64) {
	for _, lvl := range levels {
		if lvl.BidP > 0 && lvl.BidP > bid {
			bid, bidQty = lvl.BidP, lvl.BidQ
		}
		if lvl.AskP > 0 && (ask == 0 || lvl.AskP < ask) {
			ask, askQty = lvl.AskP, lvl.AskQ
		}
	}
	return bid, bidQty, ask, askQty
}
