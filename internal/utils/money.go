package utils

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for negative prices or prices finer than the
// currency's minor unit.
var ErrInvalidAmount = errors.New("invalid amount")

// minorExponent lists ISO 4217 currencies whose minor unit is not 1/100.
// Everything else uses two decimals.
var minorExponent = map[string]int32{
	"bif": 0, "clp": 0, "djf": 0, "gnf": 0, "jpy": 0, "kmf": 0, "krw": 0, "mga": 0,
	"pyg": 0, "rwf": 0, "ugx": 0, "vnd": 0, "vuv": 0, "xaf": 0, "xof": 0, "xpf": 0,
	"bhd": 3, "jod": 3, "kwd": 3, "omr": 3, "tnd": 3,
}

// MinorUnits returns the number of decimals in currency's minor unit.
func MinorUnits(currency string) int32 {
	if e, ok := minorExponent[strings.ToLower(currency)]; ok {
		return e
	}
	return 2
}

// ParseAmount converts a decimal string such as "12.50" into minor units of
// currency (1250 for usd, 13 for "13" jpy).
func ParseAmount(s, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, ErrInvalidAmount
	}
	minor := d.Shift(MinorUnits(currency))
	if d.IsNegative() || !minor.Equal(minor.Truncate(0)) {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

// FormatAmount renders minor units with the currency's decimals ("12.50"
// for usd, "1250" for jpy).
func FormatAmount(minor int64, currency string) string {
	exp := MinorUnits(currency)
	return decimal.New(minor, -exp).StringFixed(exp)
}
