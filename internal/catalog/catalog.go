// Package catalog loads the exchange instrument master and answers
// alias, strike-step, expiry and option-chain lookups. The catalog is built
// once at startup and frozen; all lookups are read-only and safe for
// concurrent use.
package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"optionsim/internal/domain"
	"optionsim/internal/ports"
)

// staticAliases force the common indices to their option-symbol
// counterparts. The instrument master names indices "Nifty 50" etc. while
// option rows use "NIFTY"; both spellings must resolve.
var staticAliases = map[string]string{
	"Nifty 50": "NSE_INDEX|Nifty 50",
	"NIFTY 50": "NSE_INDEX|Nifty 50",
	"NIFTY":    "NSE_INDEX|Nifty 50",

	"Nifty Bank": "NSE_INDEX|Nifty Bank",
	"NIFTY BANK": "NSE_INDEX|Nifty Bank",
	"BANKNIFTY":  "NSE_INDEX|Nifty Bank",

	"Nifty Fin Service": "NSE_INDEX|Nifty Fin Service",
	"NIFTY FIN SERVICE": "NSE_INDEX|Nifty Fin Service",
	"FINNIFTY":          "NSE_INDEX|Nifty Fin Service",

	"Nifty Midcap Select": "NSE_INDEX|Nifty Midcap Select",
	"MIDCPNIFTY":          "NSE_INDEX|Nifty Midcap Select",
}

// indexFriendlyNames maps the instrument-master index names to their option
// symbols.
var indexFriendlyNames = map[string]string{
	"Nifty 50":          "NIFTY",
	"Nifty Bank":        "BANKNIFTY",
	"Nifty Fin Service": "FINNIFTY",
}

type chainEntry struct {
	strike  float64
	callKey string
	putKey  string
}

// Catalog implements ports.InstrumentCatalog over flat, frozen maps.
type Catalog struct {
	// symbol -> underlying instrument key ("NIFTY" -> "NSE_INDEX|Nifty 50")
	underlying map[string]string
	// underlying instrument key -> symbol
	reverseUnderlying map[string]string
	// option instrument key -> details
	details map[string]*domain.InstrumentDetails
	// "SYMBOL\x00EXPIRY" -> chain entries sorted by strike
	chains map[string][]chainEntry
	// symbol -> expiry dates, sorted
	expiries map[string][]string
	// symbol -> inferred strike spacing
	steps map[string]float64
}

// Load reads the instrument master CSV from disk and builds the catalog.
func Load(path string, logger ports.Logger) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open instrument master '%s': %w", path, err)
	}
	defer f.Close()

	cat, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse instrument master '%s': %w", path, err)
	}
	logger.Info(context.Background(), "Instrument master loaded", map[string]interface{}{
		"path":        path,
		"underlyings": len(cat.underlying),
		"options":     len(cat.details),
	})
	return cat, nil
}

// Parse builds a catalog from instrument master CSV content. Two passes over
// the rows: underlyings first so option rows can resolve their symbol, then
// the options themselves.
func Parse(r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"exchange", "instrument_key", "name"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("instrument master missing required column %q", required)
		}
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		rows = append(rows, record)
	}

	field := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	cat := &Catalog{
		underlying:        make(map[string]string),
		reverseUnderlying: make(map[string]string),
		details:           make(map[string]*domain.InstrumentDetails),
		chains:            make(map[string][]chainEntry),
		expiries:          make(map[string][]string),
		steps:             make(map[string]float64),
	}

	// Pass 1: indices and equities establish the symbol <-> key mapping.
	nameToSymbol := make(map[string]string)
	for _, row := range rows {
		exchange := field(row, "exchange")
		name := field(row, "name")
		key := field(row, "instrument_key")
		if name == "" || key == "" {
			continue
		}
		switch exchange {
		case "NSE_INDEX":
			symbol := name
			if friendly, ok := indexFriendlyNames[name]; ok {
				symbol = friendly
			}
			cat.underlying[symbol] = key
			cat.reverseUnderlying[key] = symbol
			nameToSymbol[name] = symbol
			nameToSymbol[symbol] = symbol
		case "NSE_EQ":
			tradingSymbol := field(row, "tradingsymbol")
			if tradingSymbol == "" {
				continue
			}
			cat.underlying[tradingSymbol] = key
			cat.reverseUnderlying[key] = tradingSymbol
			nameToSymbol[name] = tradingSymbol
		}
	}

	// Pass 2: option rows.
	type rawChain map[string]map[float64]*chainEntry // symbol\x00expiry -> strike -> entry
	chains := rawChain{}
	strikeSets := make(map[string]map[float64]struct{})
	expirySets := make(map[string]map[string]struct{})

	for _, row := range rows {
		if field(row, "exchange") != "NSE_FO" {
			continue
		}
		instrumentType := field(row, "instrument_type")
		if instrumentType != "OPTIDX" && instrumentType != "OPTSTK" {
			continue
		}
		name := field(row, "name")
		symbol, ok := nameToSymbol[name]
		if !ok {
			if instrumentType != "OPTIDX" {
				continue
			}
			symbol = name
		}

		expiry := field(row, "expiry")
		strikeStr := field(row, "strike")
		optionType := field(row, "option_type")
		key := field(row, "instrument_key")
		if expiry == "" || strikeStr == "" || key == "" {
			continue
		}
		strike, err := strconv.ParseFloat(strikeStr, 64)
		if err != nil {
			continue
		}
		lotSize := 0
		if raw := field(row, "lot_size"); raw != "" {
			if lot, err := strconv.ParseFloat(raw, 64); err == nil {
				lotSize = int(lot)
			}
		}

		cat.details[key] = &domain.InstrumentDetails{
			InstrumentKey: key,
			Underlying:    symbol,
			Expiry:        expiry,
			Strike:        strike,
			OptionType:    domain.OptionType(optionType),
			LotSize:       int64(lotSize),
			IsStock:       instrumentType == "OPTSTK",
		}

		ck := chainKey(symbol, expiry)
		if chains[ck] == nil {
			chains[ck] = make(map[float64]*chainEntry)
		}
		entry := chains[ck][strike]
		if entry == nil {
			entry = &chainEntry{strike: strike}
			chains[ck][strike] = entry
		}
		switch domain.OptionType(optionType) {
		case domain.Call:
			entry.callKey = key
		case domain.Put:
			entry.putKey = key
		}

		if strikeSets[symbol] == nil {
			strikeSets[symbol] = make(map[float64]struct{})
		}
		strikeSets[symbol][strike] = struct{}{}
		if expirySets[symbol] == nil {
			expirySets[symbol] = make(map[string]struct{})
		}
		expirySets[symbol][expiry] = struct{}{}
	}

	// Freeze: sorted slices replace the build-time maps.
	for ck, strikeMap := range chains {
		entries := make([]chainEntry, 0, len(strikeMap))
		for _, entry := range strikeMap {
			entries = append(entries, *entry)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].strike < entries[j].strike })
		cat.chains[ck] = entries
	}
	for symbol, set := range expirySets {
		dates := make([]string, 0, len(set))
		for d := range set {
			dates = append(dates, d)
		}
		sort.Slice(dates, func(i, j int) bool {
			ti, errI := time.Parse("2006-01-02", dates[i])
			tj, errJ := time.Parse("2006-01-02", dates[j])
			if errI != nil || errJ != nil {
				return dates[i] < dates[j]
			}
			return ti.Before(tj)
		})
		cat.expiries[symbol] = dates
	}
	for symbol, set := range strikeSets {
		if step := minStrikeDiff(set); step > 0 {
			cat.steps[symbol] = step
		}
	}

	return cat, nil
}

func chainKey(symbol, expiry string) string {
	return symbol + "\x00" + expiry
}

// minStrikeDiff infers the strike spacing as the smallest positive gap
// between adjacent strikes.
func minStrikeDiff(strikes map[float64]struct{}) float64 {
	if len(strikes) < 2 {
		return 0
	}
	sorted := make([]float64, 0, len(strikes))
	for s := range strikes {
		sorted = append(sorted, s)
	}
	sort.Float64s(sorted)
	minDiff := math.Inf(1)
	for i := 1; i < len(sorted); i++ {
		if diff := sorted[i] - sorted[i-1]; diff > 0 && diff < minDiff {
			minDiff = diff
		}
	}
	if math.IsInf(minDiff, 1) {
		return 0
	}
	return minDiff
}

// NormalizeKey canonicalizes an instrument key arriving over the wire:
// URL-encoded spaces are decoded, ':' separators become '|', and each part
// is trimmed. "NSE_INDEX:Nifty%2050" -> "NSE_INDEX|Nifty 50".
func NormalizeKey(key string) string {
	key = strings.ReplaceAll(key, "%20", " ")
	key = strings.ReplaceAll(key, ":", "|")
	parts := strings.Split(key, "|")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return strings.Join(parts, "|")
}

// ResolveKey maps an alias or key to the canonical instrument key. Anything
// already containing a '|' passes through untouched; unknown aliases fall
// back to the input so upstream lookups produce the authoritative failure.
func (c *Catalog) ResolveKey(aliasOrKey string) (string, error) {
	aliasOrKey = strings.TrimSpace(aliasOrKey)
	if aliasOrKey == "" {
		return "", fmt.Errorf("empty instrument alias: %w", ports.ErrInvalidRequest)
	}
	if strings.Contains(aliasOrKey, "|") {
		return aliasOrKey, nil
	}
	if key, ok := staticAliases[aliasOrKey]; ok {
		return key, nil
	}
	if key, ok := c.underlying[aliasOrKey]; ok {
		return key, nil
	}

	upper := strings.ToUpper(aliasOrKey)
	for alias, key := range staticAliases {
		if strings.ToUpper(alias) == upper {
			return key, nil
		}
	}
	for symbol, key := range c.underlying {
		if strings.ToUpper(symbol) == upper {
			return key, nil
		}
	}
	return aliasOrKey, nil
}

// StrikeStep returns the strike spacing for an underlying. Falls back to 50
// (100 for Sensex) when the master had too few strikes to infer from.
func (c *Catalog) StrikeStep(underlyingKey string) (float64, error) {
	symbol := c.toSymbol(underlyingKey)
	if step, ok := c.steps[symbol]; ok {
		return step, nil
	}
	if strings.Contains(underlyingKey, "Sensex") {
		return 100.0, nil
	}
	return 50.0, nil
}

// Expiries returns the ordered expiry dates for an underlying.
func (c *Catalog) Expiries(underlyingKey string) ([]string, error) {
	symbol := c.toSymbol(underlyingKey)
	dates, ok := c.expiries[symbol]
	if !ok {
		return nil, fmt.Errorf("no expiries for underlying %q: %w", underlyingKey, ports.ErrNotFound)
	}
	out := make([]string, len(dates))
	copy(out, dates)
	return out, nil
}

// OptionChainWindow returns the chain rows around centerStrike: the nearest
// strike plus count strikes each side, sorted ascending.
func (c *Catalog) OptionChainWindow(underlyingKey, expiry string, centerStrike float64, count int) ([]domain.OptionChainRow, error) {
	symbol := c.toSymbol(underlyingKey)
	entries, ok := c.chains[chainKey(symbol, expiry)]
	if !ok || len(entries) == 0 {
		return nil, fmt.Errorf("no option chain for %q expiry %q: %w", underlyingKey, expiry, ports.ErrNotFound)
	}

	nearest := 0
	bestDist := math.Inf(1)
	for i, entry := range entries {
		if d := math.Abs(entry.strike - centerStrike); d < bestDist {
			bestDist = d
			nearest = i
		}
	}
	start := nearest - count
	if start < 0 {
		start = 0
	}
	end := nearest + count + 1
	if end > len(entries) {
		end = len(entries)
	}

	rows := make([]domain.OptionChainRow, 0, end-start)
	for _, entry := range entries[start:end] {
		rows = append(rows, domain.OptionChainRow{
			Strike:  entry.strike,
			CallKey: entry.callKey,
			PutKey:  entry.putKey,
		})
	}
	return rows, nil
}

// Details returns strike/type/expiry for an option instrument key, or
// nil, nil if the key is unknown.
func (c *Catalog) Details(instrumentKey string) (*domain.InstrumentDetails, error) {
	details, ok := c.details[instrumentKey]
	if !ok {
		return nil, nil
	}
	copied := *details
	return &copied, nil
}

// toSymbol converts an underlying instrument key to its option symbol,
// accepting symbols as-is.
func (c *Catalog) toSymbol(keyOrSymbol string) string {
	if symbol, ok := c.reverseUnderlying[keyOrSymbol]; ok {
		return symbol
	}
	for alias, key := range staticAliases {
		if key == keyOrSymbol {
			if symbol, ok := nameToOptionSymbol(alias); ok {
				return symbol
			}
		}
		if strings.Contains(key, "|") && strings.SplitN(key, "|", 2)[1] == keyOrSymbol {
			return alias
		}
	}
	return keyOrSymbol
}

func nameToOptionSymbol(alias string) (string, bool) {
	if symbol, ok := indexFriendlyNames[alias]; ok {
		return symbol, true
	}
	// Aliases that are already option symbols map to themselves.
	upper := strings.ToUpper(alias)
	if alias == upper && !strings.Contains(alias, " ") {
		return alias, true
	}
	return "", false
}
