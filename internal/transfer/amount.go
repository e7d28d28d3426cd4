package transfer

import (
	"errors"
	"math"
	"strconv"
)

// Decimals is the number of decimal places of the Wren token.
const Decimals = 2

// MinorUnitsPerMajor converts whole tokens to minor units.
const MinorUnitsPerMajor = 100

// ErrInvalidAmount is returned for negative, non-finite or oversized amounts.
var ErrInvalidAmount = errors.New("invalid amount")

// ToMinor converts a major-unit amount to minor units, rounding to the
// nearest minor unit.
func ToMinor(major float64) (uint64, error) {
	if math.IsNaN(major) || math.IsInf(major, 0) || major < 0 {
		return 0, ErrInvalidAmount
	}
	scaled := math.Round(major * MinorUnitsPerMajor)
	if scaled >= math.MaxUint64 {
		return 0, ErrInvalidAmount
	}
	return uint64(scaled), nil
}

// FromMinor converts minor units back to a major-unit amount.
func FromMinor(minor uint64) float64 {
	return float64(minor) / MinorUnitsPerMajor
}

// FormatMinor renders minor units with exactly Decimals places.
func FormatMinor(minor uint64) string {
	return strconv.FormatFloat(FromMinor(minor), 'f', Decimals, 64)
}
