package factory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/savings-engine/generic"
	"github.com/warp/savings-engine/kyc"
)

const productJSON = `{
  "currency": "NGN",
  "flexible": [
    {"from": "50000", "rate": "6"},
    {"from": "0", "to": "50000", "rate": "12.5"}
  ],
  "fixed": [
    {"min_days": 7, "max_days": 90, "rate": "9"},
    {"min_days": 90, "max_days": 366, "rate": "14"}
  ],
  "tiers": {
    "tier_1": {"daily_limit": "20000", "max_balance": "100000"},
    "tier_3": {"daily_limit": "1000000"}
  }
}`

func TestParse_FullDocument(t *testing.T) {
	// GIVEN: A document overriding every section, bands out of order
	f := NewRateTableFactory()

	// WHEN: Parsing
	tables, err := f.Parse([]byte(productJSON))
	require.NoError(t, err)

	// THEN: Bands are sorted and converted to minor units
	require.Len(t, tables.Flexible.Bands, 2)
	assert.Equal(t, int64(0), tables.Flexible.Bands[0].Lower)
	assert.Equal(t, int64(5_000_000), *tables.Flexible.Bands[0].Upper)
	assert.True(t, tables.Flexible.Bands[0].AnnualRatePercent.Equal(decimal.RequireFromString("12.5")))
	assert.Nil(t, tables.Flexible.Bands[1].Upper)

	rate, err := tables.Fixed.RateFor(120)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(14)))

	// AND: Overridden tiers replace defaults, others are kept
	assert.Equal(t, generic.FromMajor(20_000, generic.NGN), *tables.Tiers[kyc.Tier1].DailyTransactionLimit)
	assert.Nil(t, tables.Tiers[kyc.Tier3].MaxBalanceLimit)
	assert.Equal(t, kyc.DefaultTiers(generic.NGN)[kyc.Tier2], tables.Tiers[kyc.Tier2])
}

func TestParse_EmptyDocumentIsDefaults(t *testing.T) {
	tables, err := NewRateTableFactory().Parse([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, Defaults(generic.NGN), tables)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", `{`},
		{"currency", `{"currency": "ABC"}`},
		{"gap", `{"flexible": [{"from": "0", "to": "100", "rate": "5"}, {"from": "200", "rate": "4"}]}`},
		{"bounded last band", `{"flexible": [{"from": "0", "to": "100", "rate": "5"}]}`},
		{"sub-kobo amount", `{"flexible": [{"from": "0.001", "rate": "5"}]}`},
		{"bad rate", `{"fixed": [{"min_days": 7, "max_days": 30, "rate": "ten"}]}`},
		{"negative rate", `{"fixed": [{"min_days": 7, "max_days": 30, "rate": "-1"}]}`},
		{"unknown tier", `{"tiers": {"tier_9": {}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRateTableFactory().Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := NewRateTableFactory()
	original, err := f.Parse([]byte(productJSON))
	require.NoError(t, err)

	raw, err := json.Marshal(f.ToJSON(original))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "rates.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	again, err := f.ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, len(original.Flexible.Bands), len(again.Flexible.Bands))
	for i := range original.Flexible.Bands {
		assert.Equal(t, original.Flexible.Bands[i].Lower, again.Flexible.Bands[i].Lower)
		assert.True(t, original.Flexible.Bands[i].AnnualRatePercent.Equal(again.Flexible.Bands[i].AnnualRatePercent))
	}
	assert.Equal(t, original.Tiers, again.Tiers)
}
