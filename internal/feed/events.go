package feed

// Outbound event types on the client channel.
const (
	EventWSConnected     = "WS_CONNECTED"
	EventMarketStatus    = "MARKET_STATUS"
	EventFeedConnected   = "FEED_CONNECTED"
	EventFeedUnavailable = "FEED_UNAVAILABLE"
	EventTokenExpired    = "TOKEN_EXPIRED"
	EventMarketUpdate    = "MARKET_UPDATE"
	EventFeedState       = "FEED_STATE"
	EventFeedHealth      = "FEED_HEALTH"
)

// FEED_STATE status values. These describe the data phase the client should
// render, not the transport connection state.
const (
	PhaseLive      = "LIVE"
	PhaseResetting = "RESETTING"
	PhaseClosed    = "CLOSED"
)

// StatePayload is the FEED_STATE body. Version is monotonically increasing
// per session so clients can discard out-of-order state messages.
type StatePayload struct {
	Version     uint64    `json:"version"`
	Status      string    `json:"status"`
	CurrentATM  float64   `json:"current_atm"`
	LiveStrikes []float64 `json:"live_strikes"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   int64     `json:"timestamp"`
}

// HealthPayload is the FEED_HEALTH heartbeat body, sent at 1 Hz.
type HealthPayload struct {
	State       string `json:"state"`
	ActiveKeys  int    `json:"active_keys"`
	BufferSize  int    `json:"buffer_size"`
	ResetLocked bool   `json:"reset_locked"`
	Timestamp   int64  `json:"timestamp"`
}

// MarketClosedPayload is the MARKET_STATUS body sent when the bridge refuses
// to connect outside trading hours.
type MarketClosedPayload struct {
	Status     string `json:"status"`
	Msg        string `json:"msg"`
	WSDisabled bool   `json:"ws_disabled"`
}

// InstrumentUpdate is one instrument's entry in a batched MARKET_UPDATE.
type InstrumentUpdate struct {
	LTP          float64 `json:"ltp"`
	Volume       int64   `json:"volume"`
	OpenInterest int64   `json:"oi,omitempty"`
	Bid          float64 `json:"bid,omitempty"`
	Ask          float64 `json:"ask,omitempty"`
	BidQty       int64   `json:"bid_qty,omitempty"`
	AskQty       int64   `json:"ask_qty,omitempty"`
	IV           float64 `json:"iv,omitempty"`
	Delta        float64 `json:"delta,omitempty"`
	Theta        float64 `json:"theta,omitempty"`
	Gamma        float64 `json:"gamma,omitempty"`
	Vega         float64 `json:"vega,omitempty"`
	Seq          uint64  `json:"seq"`
	RecvTS       int64   `json:"recv_ts"`
	Synthetic    bool    `json:"synthetic,omitempty"`
}

func (u *InstrumentUpdate) setGreeks(iv, delta, theta, gamma, vega float64) {
	u.IV = iv
	u.Delta = delta
	u.Theta = theta
	u.Gamma = gamma
	u.Vega = vega
}
