package domain

// InstrumentDetails describes one tradable option contract.
type InstrumentDetails struct {
	InstrumentKey string
	Underlying    string // canonical underlying key
	Expiry        string // YYYY-MM-DD
	Strike        float64
	OptionType    OptionType
	LotSize       int64
	IsStock       bool // single-stock option (vs index option)
}

// OptionChainRow is one strike of an option chain: the call and put
// instrument keys at that strike for a given underlying and expiry.
type OptionChainRow struct {
	Strike  float64
	CallKey string
	PutKey  string
}
