package money

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	SGD = "SGD"
	VND = "VND"
	USD = "USD"
	IDR = "IDR"
	THB = "THB"
)

// exponents maps supported currency codes to the number of minor-unit digits.
var exponents = map[string]int32{
	SGD: 2,
	VND: 0,
	USD: 2,
	IDR: 2,
	THB: 2,
}

// Normalize upper-cases and trims a currency code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsSupported reports whether code is one of the accepted loan currencies.
func IsSupported(code string) bool {
	_, ok := exponents[code]
	return ok
}

// Supported returns the accepted currency codes in alphabetical order.
func Supported() []string {
	out := make([]string, 0, len(exponents))
	for code := range exponents {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// ToMajor converts an amount in minor units to major units, e.g. 1667 SGD -> 16.67.
func ToMajor(amount int64, code string) (decimal.Decimal, error) {
	exp, ok := exponents[code]
	if !ok {
		return decimal.Zero, fmt.Errorf("unsupported currency: %s", code)
	}
	return decimal.New(amount, -exp), nil
}

// Format renders amount in major units with the currency's fixed number of decimals.
func Format(amount int64, code string) string {
	major, err := ToMajor(amount, code)
	if err != nil {
		return fmt.Sprintf("%d", amount)
	}
	return major.StringFixed(exponents[code])
}
