package game

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MAX_PRECISION keeps amount and profit exact in NUMERIC(30,10): a profit has
// the amount's digits plus the two of the multiplier.
const MAX_PRECISION = 8

// Currency is one allowed instrument. Amounts are truncated to Precision
// decimal places.
type Currency struct {
	Code      string
	Precision int32
	MaxBet    decimal.Decimal
	MaxProfit decimal.Decimal
}

// Normalize truncates amount to the currency precision and rejects anything
// that is not strictly positive afterwards.
func (c Currency) Normalize(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	n := amount.Truncate(c.Precision)
	if !n.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return n, nil
}

// Currencies is the currency table keyed by upper-case code.
type Currencies map[string]Currency

func (cs Currencies) Lookup(code string) (Currency, bool) {
	c, ok := cs[strings.ToUpper(strings.TrimSpace(code))]
	return c, ok
}

// Codes returns the configured codes in sorted order.
func (cs Currencies) Codes() []string {
	codes := make([]string, 0, len(cs))
	for code := range cs {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// ParseCurrencies reads a comma separated list of code:precision:maxBet:maxProfit.
func ParseCurrencies(table string) (Currencies, error) {
	cs := make(Currencies)
	for _, entry := range strings.Split(table, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("currency %q: want code:precision:maxBet:maxProfit", entry)
		}
		code := strings.ToUpper(parts[0])
		if code == "" {
			return nil, fmt.Errorf("currency %q: empty code", entry)
		}
		precision, err := strconv.ParseInt(parts[1], 10, 32)
		if err != nil || precision < 0 || precision > MAX_PRECISION {
			return nil, fmt.Errorf("currency %s: invalid precision %q", code, parts[1])
		}
		maxBet, err := decimal.NewFromString(parts[2])
		if err != nil || !maxBet.IsPositive() {
			return nil, fmt.Errorf("currency %s: invalid max bet %q", code, parts[2])
		}
		maxProfit, err := decimal.NewFromString(parts[3])
		if err != nil || !maxProfit.IsPositive() {
			return nil, fmt.Errorf("currency %s: invalid max profit %q", code, parts[3])
		}
		if _, dup := cs[code]; dup {
			return nil, fmt.Errorf("currency %s: listed twice", code)
		}
		cs[code] = Currency{
			Code:      code,
			Precision: int32(precision),
			MaxBet:    maxBet,
			MaxProfit: maxProfit,
		}
	}
	if len(cs) == 0 {
		return nil, fmt.Errorf("currency table is empty")
	}
	return cs, nil
}
