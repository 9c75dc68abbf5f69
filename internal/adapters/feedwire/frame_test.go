package feedwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_FullFeed(t *testing.T) {
	raw := []byte(`{
		"type": "live_feed",
		"currentTs": 1700000000000,
		"feeds": {
			"NSE_FO|45510": {
				"fullFeed": {
					"marketFF": {
						"ltpc": {"ltp": 101.5, "ltt": "1700000000123", "ltq": "75", "cp": 99.0},
						"marketLevel": {
							"bidAskQuote": [
								{"bidQ": "150", "bidP": 101.0, "askQ": "75", "askP": 102.2},
								{"bidQ": "300", "bidP": 101.3, "askQ": "150", "askP": 102.0},
								{"bidQ": "75", "bidP": 100.8, "askQ": "225", "askP": 102.5}
							]
						},
						"optionGreeks": {"delta": 0.52, "theta": -4.1, "gamma": 0.0008, "vega": 6.2},
						"oi": 1250000,
						"iv": 0.18,
						"vtt": "987654"
					}
				}
			}
		}
	}`)

	ticks, err := decodeFrame(raw)
	require.NoError(t, err)
	require.Len(t, ticks, 1)

	tick := ticks[0]
	assert.Equal(t, "NSE_FO|45510", tick.InstrumentKey)
	assert.Equal(t, 101.5, tick.LTP)
	assert.Equal(t, int64(1700000000123), tick.BrokerTS)
	assert.Equal(t, int64(987654), tick.Volume)
	assert.Equal(t, int64(1250000), tick.OpenInterest)

	// Depth arrives unsorted: best bid is the max, best ask the min.
	assert.Equal(t, 101.3, tick.Bid)
	assert.Equal(t, int64(300), tick.BidQty)
	assert.Equal(t, 102.0, tick.Ask)
	assert.Equal(t, int64(150), tick.AskQty)

	require.NotNil(t, tick.Greeks)
	assert.Equal(t, 0.18, tick.Greeks.IV)
	assert.Equal(t, 0.52, tick.Greeks.Delta)
}

func TestDecodeFrame_ZeroIVDropsGreeks(t *testing.T) {
	raw := []byte(`{
		"type": "live_feed",
		"feeds": {
			"NSE_FO|45510": {
				"fullFeed": {
					"marketFF": {
						"ltpc": {"ltp": 101.5},
						"optionGreeks": {"delta": 0.52},
						"iv": 0
					}
				}
			}
		}
	}`)

	ticks, err := decodeFrame(raw)
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Nil(t, ticks[0].Greeks)
	assert.False(t, ticks[0].HasGreeks())
}

func TestDecodeFrame_IndexFeed(t *testing.T) {
	raw := []byte(`{
		"type": "live_feed",
		"feeds": {
			"NSE_INDEX|Nifty 50": {
				"fullFeed": {
					"indexFF": {
						"ltpc": {"ltp": 24350.25, "ltt": "1700000000456"}
					}
				}
			}
		}
	}`)

	ticks, err := decodeFrame(raw)
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, 24350.25, ticks[0].LTP)
	assert.Equal(t, int64(1700000000456), ticks[0].BrokerTS)
	assert.Zero(t, ticks[0].Bid)
	assert.Zero(t, ticks[0].Ask)
}

func TestDecodeFrame_LTPCMode(t *testing.T) {
	raw := []byte(`{
		"type": "live_feed",
		"currentTs": 1700000000999,
		"feeds": {
			"NSE_FO|45510": {"ltpc": {"ltp": 55.3}}
		}
	}`)

	ticks, err := decodeFrame(raw)
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, 55.3, ticks[0].LTP)
	// Frame timestamp backfills when the ltpc block has none.
	assert.Equal(t, int64(1700000000999), ticks[0].BrokerTS)
}

func TestDecodeFrame_MarketInfoYieldsNoTicks(t *testing.T) {
	ticks, err := decodeFrame([]byte(`{"type": "market_info", "marketInfo": {"segmentStatus": {"NSE_FO": "NORMAL_OPEN"}}}`))
	require.NoError(t, err)
	assert.Empty(t, ticks)
}

func TestDecodeFrame_Malformed(t *testing.T) {
	_, err := decodeFrame([]byte(`{not json`))
	assert.Error(t, err)
}

func TestBestOfBook_IgnoresZeroLevels(t *testing.T) {
	levels := []depthLevel{
		{BidP: 0, BidQ: 100, AskP: 0, AskQ: 100},
		{BidP: 99.5, BidQ: 75, AskP: 100.5, AskQ: 150},
		{BidP: 0, BidQ: 0, AskP: 101.0, AskQ: 75},
	}
	bid, bidQty, ask, askQty := bestOfBook(levels)
	assert.Equal(t, 99.5, bid)
	assert.Equal(t, int64(75), bidQty)
	assert.Equal(t, 100.5, ask)
	assert.Equal(t, int64(150), askQty)
}

func TestBestOfBook_EmptyBook(t *testing.T) {
	bid, bidQty, ask, askQty := bestOfBook(nil)
	assert.Zero(t, bid)
	assert.Zero(t, bidQty)
	assert.Zero(t, ask)
	assert.Zero(t, askQty)
}
