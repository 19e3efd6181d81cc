// Package pricing maps a JSON-RPC request to its price in the billing token.
package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Multipliers. Exactly one applies per request.
var (
	deepHistorical = decimal.RequireFromString("1.5")
	bulkQuery      = decimal.RequireFromString("1.3")
	realTime       = decimal.RequireFromString("0.8")
)

// deepHistoricalCutoff is the slot below which getBlock/getTransaction
// queries hit the deep archive tier.
const deepHistoricalCutoff = 100_000

// bulkQueryLimit is the largest getSignaturesForAddress limit that still
// counts as a normal query.
const bulkQueryLimit = 10

// displayPlaces is the number of fractional digits carried on every quoted
// price.
const displayPlaces = 6

var defaultTable = map[string]string{
	"getBlock":                "0.001",
	"getTransaction":          "0.001",
	"getSignaturesForAddress": "0.002",
	"getSlot":                 "0.0002",
	"getBlockHeight":          "0.0002",
	"getBalance":              "0.0005",
	"getAccountInfo":          "0.0005",
}

// Policy prices (method, params) pairs. It is immutable after construction
// and safe for concurrent use.
type Policy struct {
	table         map[string]decimal.Decimal
	defaultPrice  decimal.Decimal
	tokenDecimals int32
}

// NewPolicy builds a policy from the default table, the fallback price for
// unknown methods, and optional per-method base-price overrides.
func NewPolicy(defaultPrice string, overrides map[string]string, tokenDecimals int) (*Policy, error) {
	def, err := decimal.NewFromString(defaultPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid default price %q: %w", defaultPrice, err)
	}
	table := make(map[string]decimal.Decimal, len(defaultTable))
	for m, p := range defaultTable {
		table[m] = decimal.RequireFromString(p)
	}
	for m, p := range overrides {
		d, err := decimal.NewFromString(p)
		if err != nil {
			return nil, fmt.Errorf("invalid price override for %s: %w", m, err)
		}
		table[m] = d
	}
	return &Policy{table: table, defaultPrice: def, tokenDecimals: int32(tokenDecimals)}, nil
}

// Price returns the quoted amount for the request, rounded to six decimal
// places. Deterministic: same inputs, same price.
func (p *Policy) Price(method string, params json.RawMessage) decimal.Decimal {
	base, ok := p.table[method]
	if !ok {
		base = p.defaultPrice
	}
	return base.Mul(multiplier(method, params)).Round(displayPlaces)
}

// Display renders an amount with the fixed six fractional digits used on the
// wire ("0.001" → "0.001000").
func Display(amount decimal.Decimal) string {
	return amount.StringFixed(displayPlaces)
}

// BaseUnits converts a display amount into base units of the billing token.
func (p *Policy) BaseUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(p.tokenDecimals).BigInt()
}

func multiplier(method string, params json.RawMessage) decimal.Decimal {
	switch method {
	case "getBlock", "getTransaction":
		if slot, ok := firstParamInt(params); ok && slot < deepHistoricalCutoff {
			return deepHistorical
		}
	case "getSignaturesForAddress":
		if limit, ok := limitOption(params); ok && limit > bulkQueryLimit {
			return bulkQuery
		}
	case "getSlot", "getBlockHeight":
		return realTime
	}
	return decimal.New(1, 0)
}

// firstParamInt extracts the first positional parameter when it is an
// integer.
func firstParamInt(params json.RawMessage) (int64, bool) {
	var arr []json.RawMessage
	if json.Unmarshal(params, &arr) != nil || len(arr) == 0 {
		return 0, false
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(arr[0]))
	dec.UseNumber()
	if dec.Decode(&n) != nil {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return i, true
}

// limitOption returns the "limit" number of the first object element of a
// positional params array that carries one.
func limitOption(params json.RawMessage) (int64, bool) {
	var arr []json.RawMessage
	if json.Unmarshal(params, &arr) != nil {
		return 0, false
	}
	for _, el := range arr {
		var opts struct {
			Limit *int64 `json:"limit"`
		}
		if json.Unmarshal(el, &opts) == nil && opts.Limit != nil {
			return *opts.Limit, true
		}
	}
	return 0, false
}
