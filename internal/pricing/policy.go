// Package pricing implements the gateway's method-based pricing policy:
// a pure, deterministic mapping from (method, params) to a decimal price in
// the billing token, expressed as a string with 6 fractional digits.
// ToBaseUnits converts that string into integer base units.
package pricing

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// baseUnitScale converts the gateway's 6-fractional-digit decimal price
// convention into integer base units, matching the billing mint's assumed
// 6 decimals (e.g. USDC).
const baseUnitScale = 1_000_000

const (
	deepHistoricalMultiplier = 1.5
	bulkQueryMultiplier      = 1.3
	realTimeMultiplier       = 0.8

	deepHistoricalSlotCeiling = 100_000
	bulkQueryLimitFloor       = 10
)

// defaultBasePrices seeds the table for methods with no explicit override.
// All other methods fall back to the configured default price.
var defaultBasePrices = map[string]float64{
	"getBlock":                0.001,
	"getTransaction":          0.001,
	"getSignaturesForAddress": 0.001,
	"getSlot":                 0.0005,
	"getBlockHeight":          0.0005,
	"getAccountInfo":          0.0005,
	"getBalance":              0.0002,
}

// Policy prices inbound JSON-RPC calls. It holds no mutable state after
// construction and is safe for concurrent use.
type Policy struct {
	basePrices   map[string]float64
	defaultPrice float64
}

// New builds a Policy from a default price and a set of per-method
// overrides (config keys `price_<METHOD>`). Overrides take precedence over
// the built-in table, which in turn takes precedence over defaultPrice.
func New(defaultPrice float64, overrides map[string]float64) *Policy {
	table := make(map[string]float64, len(defaultBasePrices)+len(overrides))
	for method, price := range defaultBasePrices {
		table[method] = price
	}
	for method, price := range overrides {
		table[method] = price
	}
	return &Policy{basePrices: table, defaultPrice: defaultPrice}
}

// Price computes the price for method given its raw JSON-RPC params,
// rounded to 6 decimal places and rendered with exactly 6 fractional digits.
func (p *Policy) Price(method string, params json.RawMessage) string {
	base, ok := p.basePrices[method]
	if !ok {
		base = p.defaultPrice
	}

	multiplier := 1.0
	switch {
	case isDeepHistorical(method, params):
		multiplier = deepHistoricalMultiplier
	case isBulkQuery(method, params):
		multiplier = bulkQueryMultiplier
	case isRealTime(method):
		multiplier = realTimeMultiplier
	}

	amount := math.Round(base*multiplier*1e6) / 1e6
	return strconv.FormatFloat(amount, 'f', 6, 64)
}

func isDeepHistorical(method string, params json.RawMessage) bool {
	if method != "getBlock" && method != "getTransaction" {
		return false
	}
	slot, ok := firstPositionalInt(params)
	return ok && slot < deepHistoricalSlotCeiling
}

func isBulkQuery(method string, params json.RawMessage) bool {
	if method != "getSignaturesForAddress" {
		return false
	}
	limit, ok := limitOption(params)
	return ok && limit > bulkQueryLimitFloor
}

func isRealTime(method string) bool {
	return method == "getSlot" || method == "getBlockHeight"
}

// firstPositionalInt extracts params[0] as an integer, for array-form params
// whose first element is a numeric slot/block height.
func firstPositionalInt(params json.RawMessage) (int64, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(params, &arr); err != nil || len(arr) == 0 {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(arr[0], &n); err != nil {
		return 0, false
	}
	return int64(n), true
}

// ToBaseUnits converts a decimal price string (as returned by Price) into
// an integer count of the billing mint's base units, for comparison
// against on-chain balance deltas.
func ToBaseUnits(decimal string) (int64, error) {
	amount, err := strconv.ParseFloat(decimal, 64)
	if err != nil {
		return 0, fmt.Errorf("pricing: parse amount %q: %w", decimal, err)
	}
	return int64(math.Round(amount * baseUnitScale)), nil
}

// limitOption extracts a `limit` field from either an options object that is
// the second positional parameter, or an object-form params map.
func limitOption(params json.RawMessage) (int64, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(params, &arr); err == nil {
		for _, raw := range arr {
			var opts map[string]json.RawMessage
			if err := json.Unmarshal(raw, &opts); err != nil {
				continue
			}
			if limitRaw, ok := opts["limit"]; ok {
				var limit float64
				if json.Unmarshal(limitRaw, &limit) == nil {
					return int64(limit), true
				}
			}
		}
		return 0, false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(params, &obj); err == nil {
		if limitRaw, ok := obj["limit"]; ok {
			var limit float64
			if json.Unmarshal(limitRaw, &limit) == nil {
				return int64(limit), true
			}
		}
	}
	return 0, false
}
