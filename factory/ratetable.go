/*
Package factory provides JSON to Go product configuration conversion.

PURPOSE:
  Converts JSON rate and tier definitions into generic.RateTable and
  kyc.Tier values. This enables rate changes without code changes: treasury
  can publish a new table as JSON, and the factory creates the Go structs.

JSON SCHEMA:
  {
    "currency": "NGN",
    "flexible": [
      {"from": "0",      "to": "10000",  "rate": "20"},
      {"from": "10000",  "to": "100000", "rate": "16"},
      {"from": "100000",                 "rate": "8"}
    ],
    "fixed": [
      {"min_days": 7,  "max_days": 30, "rate": "10"},
      {"min_days": 30, "max_days": 60, "rate": "10"}
    ],
    "tiers": {
      "tier_1": {"daily_limit": "50000", "max_balance": "300000"},
      "tier_3": {"daily_limit": "5000000"}
    }
  }

  Amounts are major units as decimal strings. "to" and "max_days" are
  exclusive; omit them for an unbounded last band. Rates are annual percent.

KEY FEATURES:
  - Missing sections fall back to the built-in defaults
  - Tables are validated before they are returned
  - ToJSON round-trips a configuration for admin display

USAGE:
  tables, err := factory.NewRateTableFactory().ParseFile("rates.json")
  cfg := savings.DefaultConfig(tables.Currency)
  cfg.FlexibleRates, cfg.FixedRates = tables.Flexible, tables.Fixed

SEE ALSO:
  - generic/ratetable.go: RateTable type definition
  - kyc/tier.go: Tier limits
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/savings-engine/generic"
	"github.com/warp/savings-engine/kyc"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type ProductJSON struct {
	Currency string              `json:"currency"`
	Flexible []FlexibleBandJSON  `json:"flexible,omitempty"`
	Fixed    []DurationBandJSON  `json:"fixed,omitempty"`
	Tiers    map[string]TierJSON `json:"tiers,omitempty"`
}

// FlexibleBandJSON is a balance band in major units.
type FlexibleBandJSON struct {
	From string  `json:"from"`
	To   *string `json:"to,omitempty"`
	Rate string  `json:"rate"`
}

// DurationBandJSON is a term-length band in days.
type DurationBandJSON struct {
	MinDays int    `json:"min_days"`
	MaxDays *int   `json:"max_days,omitempty"`
	Rate    string `json:"rate"`
}

// TierJSON holds limits in major units. A missing limit is unlimited.
type TierJSON struct {
	DailyLimit *string `json:"daily_limit,omitempty"`
	MaxBalance *string `json:"max_balance,omitempty"`
}

// ProductTables is the parsed configuration.
type ProductTables struct {
	Currency generic.Currency
	Flexible generic.RateTable
	Fixed    generic.RateTable
	Tiers    map[kyc.Level]kyc.Tier
}

// Defaults returns the built-in tables for currency c.
func Defaults(c generic.Currency) ProductTables {
	return ProductTables{
		Currency: c,
		Flexible: generic.DefaultFlexibleRates(c),
		Fixed:    generic.DefaultFixedDurationRates(),
		Tiers:    kyc.DefaultTiers(c),
	}
}

// =============================================================================
// RATE TABLE FACTORY
// =============================================================================

type RateTableFactory struct{}

func NewRateTableFactory() *RateTableFactory {
	return &RateTableFactory{}
}

// ParseFile reads and parses a JSON file.
func (f *RateTableFactory) ParseFile(path string) (ProductTables, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ProductTables{}, fmt.Errorf("failed to read rate tables: %w", err)
	}
	return f.Parse(raw)
}

func (f *RateTableFactory) Parse(raw []byte) (ProductTables, error) {
	var pj ProductJSON
	if err := json.Unmarshal(raw, &pj); err != nil {
		return ProductTables{}, fmt.Errorf("failed to parse rate tables JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts and validates. Missing sections keep their defaults.
func (f *RateTableFactory) FromJSON(pj ProductJSON) (ProductTables, error) {
	c := generic.NGN
	if pj.Currency != "" {
		var err error
		if c, err = generic.ParseCurrency(pj.Currency); err != nil {
			return ProductTables{}, err
		}
	}
	out := Defaults(c)

	if len(pj.Flexible) > 0 {
		t, err := parseFlexible(pj.Flexible, c)
		if err != nil {
			return ProductTables{}, err
		}
		out.Flexible = t
	}
	if err := out.Flexible.ValidateProgressive(); err != nil {
		return ProductTables{}, err
	}

	if len(pj.Fixed) > 0 {
		t, err := parseDurations(pj.Fixed)
		if err != nil {
			return ProductTables{}, err
		}
		out.Fixed = t
	}
	if err := out.Fixed.Validate(); err != nil {
		return ProductTables{}, err
	}

	for name, tj := range pj.Tiers {
		level, err := kyc.ParseLevel(name)
		if err != nil {
			return ProductTables{}, err
		}
		tier, err := parseTier(level, tj, c)
		if err != nil {
			return ProductTables{}, err
		}
		out.Tiers[level] = tier
	}
	return out, nil
}

// ToJSON converts tables back to their JSON form.
func (f *RateTableFactory) ToJSON(t ProductTables) ProductJSON {
	pj := ProductJSON{Currency: string(t.Currency), Tiers: make(map[string]TierJSON)}

	for _, b := range t.Flexible.Bands {
		bj := FlexibleBandJSON{
			From: generic.NewMoney(b.Lower, t.Currency).Decimal().String(),
			Rate: b.AnnualRatePercent.String(),
		}
		if b.Upper != nil {
			to := generic.NewMoney(*b.Upper, t.Currency).Decimal().String()
			bj.To = &to
		}
		pj.Flexible = append(pj.Flexible, bj)
	}

	for _, b := range t.Fixed.Bands {
		bj := DurationBandJSON{MinDays: int(b.Lower), Rate: b.AnnualRatePercent.String()}
		if b.Upper != nil {
			maxDays := int(*b.Upper)
			bj.MaxDays = &maxDays
		}
		pj.Fixed = append(pj.Fixed, bj)
	}

	for level, tier := range t.Tiers {
		tj := TierJSON{}
		if tier.DailyTransactionLimit != nil {
			s := tier.DailyTransactionLimit.Decimal().String()
			tj.DailyLimit = &s
		}
		if tier.MaxBalanceLimit != nil {
			s := tier.MaxBalanceLimit.Decimal().String()
			tj.MaxBalance = &s
		}
		pj.Tiers[string(level)] = tj
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseRate(s string) (decimal.Decimal, error) {
	r, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, generic.Invalid("rate", "invalid rate %q", s)
	}
	return r, nil
}

func parseFlexible(bands []FlexibleBandJSON, c generic.Currency) (generic.RateTable, error) {
	t := generic.RateTable{Name: "flexible"}
	for i, bj := range bands {
		from, err := generic.ParseMoney(bj.From, c)
		if err != nil {
			return t, fmt.Errorf("flexible band %d: %w", i, err)
		}
		rate, err := parseRate(bj.Rate)
		if err != nil {
			return t, fmt.Errorf("flexible band %d: %w", i, err)
		}
		band := generic.RateBand{Lower: from.Minor, AnnualRatePercent: rate}
		if bj.To != nil {
			to, err := generic.ParseMoney(*bj.To, c)
			if err != nil {
				return t, fmt.Errorf("flexible band %d: %w", i, err)
			}
			band.Upper = &to.Minor
		}
		t.Bands = append(t.Bands, band)
	}
	sortBands(t.Bands)
	return t, nil
}

func parseDurations(bands []DurationBandJSON) (generic.RateTable, error) {
	t := generic.RateTable{Name: "fixed_duration"}
	for i, bj := range bands {
		rate, err := parseRate(bj.Rate)
		if err != nil {
			return t, fmt.Errorf("fixed band %d: %w", i, err)
		}
		band := generic.RateBand{Lower: int64(bj.MinDays), AnnualRatePercent: rate}
		if bj.MaxDays != nil {
			upper := int64(*bj.MaxDays)
			band.Upper = &upper
		}
		t.Bands = append(t.Bands, band)
	}
	sortBands(t.Bands)
	return t, nil
}

func sortBands(bands []generic.RateBand) {
	sort.SliceStable(bands, func(i, j int) bool { return bands[i].Lower < bands[j].Lower })
}

func parseTier(level kyc.Level, tj TierJSON, c generic.Currency) (kyc.Tier, error) {
	tier := kyc.Tier{Level: level}
	if tj.DailyLimit != nil {
		m, err := generic.ParseMoney(*tj.DailyLimit, c)
		if err != nil {
			return tier, fmt.Errorf("%s daily_limit: %w", level, err)
		}
		tier.DailyTransactionLimit = &m
	}
	if tj.MaxBalance != nil {
		m, err := generic.ParseMoney(*tj.MaxBalance, c)
		if err != nil {
			return tier, fmt.Errorf("%s max_balance: %w", level, err)
		}
		tier.MaxBalanceLimit = &m
	}
	return tier, nil
}
