package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsim/internal/domain"
	"optionsim/internal/ports"
)

const masterCSV = `instrument_key,exchange,tradingsymbol,name,instrument_type,expiry,strike,option_type,lot_size
NSE_INDEX|Nifty 50,NSE_INDEX,,Nifty 50,INDEX,,,,
NSE_INDEX|Nifty Bank,NSE_INDEX,,Nifty Bank,INDEX,,,,
NSE_EQ|INE002A01018,NSE_EQ,RELIANCE,RELIANCE INDUSTRIES LTD,EQ,,,,
NSE_FO|45510,NSE_FO,NIFTY24SEP24300CE,NIFTY,OPTIDX,2026-09-25,24300,CE,75
NSE_FO|45511,NSE_FO,NIFTY24SEP24300PE,NIFTY,OPTIDX,2026-09-25,24300,PE,75
NSE_FO|45512,NSE_FO,NIFTY24SEP24350CE,NIFTY,OPTIDX,2026-09-25,24350,CE,75
NSE_FO|45513,NSE_FO,NIFTY24SEP24350PE,NIFTY,OPTIDX,2026-09-25,24350,PE,75
NSE_FO|45514,NSE_FO,NIFTY24SEP24400CE,NIFTY,OPTIDX,2026-09-25,24400,CE,75
NSE_FO|45515,NSE_FO,NIFTY24SEP24400PE,NIFTY,OPTIDX,2026-09-25,24400,PE,75
NSE_FO|45520,NSE_FO,NIFTY24OCT24300CE,NIFTY,OPTIDX,2026-10-30,24300,CE,75
NSE_FO|88001,NSE_FO,RELIANCE24SEP3000CE,RELIANCE INDUSTRIES LTD,OPTSTK,2026-09-25,3000,CE,250
NSE_FO|88002,NSE_FO,RELIANCE24SEP3050CE,RELIANCE INDUSTRIES LTD,OPTSTK,2026-09-25,3050,CE,250
`

func loadTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := Parse(strings.NewReader(masterCSV))
	require.NoError(t, err)
	return cat
}

func TestParse_MissingColumns(t *testing.T) {
	_, err := Parse(strings.NewReader("a,b,c\n1,2,3\n"))
	assert.Error(t, err)
}

func TestResolveKey(t *testing.T) {
	cat := loadTestCatalog(t)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already a key", "NSE_INDEX|Nifty 50", "NSE_INDEX|Nifty 50"},
		{"static alias", "NIFTY", "NSE_INDEX|Nifty 50"},
		{"static alias friendly", "Nifty Bank", "NSE_INDEX|Nifty Bank"},
		{"loaded equity symbol", "RELIANCE", "NSE_EQ|INE002A01018"},
		{"case insensitive alias", "banknifty", "NSE_INDEX|Nifty Bank"},
		{"case insensitive equity", "reliance", "NSE_EQ|INE002A01018"},
		{"unknown falls through", "WHATEVER", "WHATEVER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cat.ResolveKey(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := cat.ResolveKey("  ")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestStrikeStep(t *testing.T) {
	cat := loadTestCatalog(t)

	step, err := cat.StrikeStep("NSE_INDEX|Nifty 50")
	require.NoError(t, err)
	assert.Equal(t, 50.0, step)

	step, err = cat.StrikeStep("NSE_EQ|INE002A01018")
	require.NoError(t, err)
	assert.Equal(t, 50.0, step)

	// Unknown underlyings get the defaults.
	step, err = cat.StrikeStep("BSE_INDEX|Sensex")
	require.NoError(t, err)
	assert.Equal(t, 100.0, step)

	step, err = cat.StrikeStep("NSE_INDEX|Something")
	require.NoError(t, err)
	assert.Equal(t, 50.0, step)
}

func TestExpiries(t *testing.T) {
	cat := loadTestCatalog(t)

	dates, err := cat.Expiries("NSE_INDEX|Nifty 50")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-09-25", "2026-10-30"}, dates)

	_, err = cat.Expiries("NSE_INDEX|Nifty Bank")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestOptionChainWindow(t *testing.T) {
	cat := loadTestCatalog(t)

	rows, err := cat.OptionChainWindow("NSE_INDEX|Nifty 50", "2026-09-25", 24350, 1)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 24300.0, rows[0].Strike)
	assert.Equal(t, 24350.0, rows[1].Strike)
	assert.Equal(t, 24400.0, rows[2].Strike)
	assert.Equal(t, "NSE_FO|45512", rows[1].CallKey)
	assert.Equal(t, "NSE_FO|45513", rows[1].PutKey)
}

func TestOptionChainWindow_ClampsAtEdges(t *testing.T) {
	cat := loadTestCatalog(t)

	// Center far below the chain: nearest strike is the lowest, window clamps.
	rows, err := cat.OptionChainWindow("NIFTY", "2026-09-25", 20000, 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 24300.0, rows[0].Strike)
	assert.Equal(t, 24350.0, rows[1].Strike)
}

func TestOptionChainWindow_UnknownExpiry(t *testing.T) {
	cat := loadTestCatalog(t)
	_, err := cat.OptionChainWindow("NIFTY", "2099-01-01", 24300, 8)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestDetails(t *testing.T) {
	cat := loadTestCatalog(t)

	details, err := cat.Details("NSE_FO|45511")
	require.NoError(t, err)
	require.NotNil(t, details)
	assert.Equal(t, "NIFTY", details.Underlying)
	assert.Equal(t, 24300.0, details.Strike)
	assert.Equal(t, domain.Put, details.OptionType)
	assert.Equal(t, "2026-09-25", details.Expiry)
	assert.Equal(t, int64(75), details.LotSize)
	assert.False(t, details.IsStock)

	stock, err := cat.Details("NSE_FO|88001")
	require.NoError(t, err)
	require.NotNil(t, stock)
	assert.True(t, stock.IsStock)
	assert.Equal(t, "RELIANCE", stock.Underlying)

	missing, err := cat.Details("NSE_FO|00000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"NSE_INDEX:Nifty%2050", "NSE_INDEX|Nifty 50"},
		{"NSE_FO|45510", "NSE_FO|45510"},
		{" NSE_INDEX | Nifty 50 ", "NSE_INDEX|Nifty 50"},
		{"NSE_INDEX:Nifty Bank", "NSE_INDEX|Nifty Bank"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeKey(tt.input), "input %q", tt.input)
	}
}
