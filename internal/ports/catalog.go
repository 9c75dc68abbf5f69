package ports

import "optionsim/internal/domain"

// InstrumentCatalog is the read-only instrument oracle: aliases, strike
// steps, expiries and option-chain rows. Implementations are built once at
// load time and frozen; lookups are safe for concurrent use.
type InstrumentCatalog interface {
	// ResolveKey maps an alias or key ("NIFTY", "NSE_INDEX:Nifty 50") to the
	// canonical instrument key.
	ResolveKey(aliasOrKey string) (string, error)
	// StrikeStep returns the strike spacing for an underlying.
	StrikeStep(underlyingKey string) (float64, error)
	// Expiries returns the ordered expiry dates for an underlying.
	Expiries(underlyingKey string) ([]string, error)
	// OptionChainWindow returns the chain rows for ±count strikes around
	// centerStrike, sorted ascending by strike.
	OptionChainWindow(underlyingKey, expiry string, centerStrike float64, count int) ([]domain.OptionChainRow, error)
	// Details returns strike/type/expiry for an option instrument key.
	// Returns nil, nil if the key is unknown.
	Details(instrumentKey string) (*domain.InstrumentDetails, error)
}
