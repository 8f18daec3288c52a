// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package money provides the fixed-point currency representation used
// throughout the ledger.
//
// All amounts are stored and transmitted as [Micros]: integer
// micro-units, where 1 currency unit equals 1,000,000 micros. Integer
// arithmetic keeps budget accounting exact — there is no float drift
// between what was granted, what was spent, and what remains. Floats
// appear only at the edges: parsing operator input and converting
// per-token pricing rates into concrete costs.
package money

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Micros is an amount of currency in millionths of a unit. The zero
// value is zero currency. Negative values are representable (deltas,
// adjustments) but ledger balances never go below zero.
type Micros int64

// PerUnit is the number of micros in one currency unit.
const PerUnit Micros = 1_000_000

// MaxMicros is the largest representable amount.
const MaxMicros = Micros(math.MaxInt64)

// FromUnits converts a floating-point amount in currency units to
// Micros, rounding half away from zero. Values beyond the int64 range
// are clamped; NaN converts to zero. Use ParseAmount for untrusted
// input — FromUnits is for internal conversions (pricing math) where
// the operand is already validated.
func FromUnits(units float64) Micros {
	if math.IsNaN(units) {
		return 0
	}
	scaled := units * float64(PerUnit)
	if scaled >= math.MaxInt64 {
		return MaxMicros
	}
	if scaled <= math.MinInt64 {
		return Micros(math.MinInt64)
	}
	return Micros(math.Round(scaled))
}

// Units returns the amount as a floating-point number of currency
// units. Display and estimation only — never feed the result back into
// ledger arithmetic.
func (m Micros) Units() float64 {
	return float64(m) / float64(PerUnit)
}

// String renders the amount rounded to two decimal places, the
// external display form: "12.34", "-0.05", "100.00".
func (m Micros) String() string {
	rounded := m.round(10_000)
	whole := rounded / PerUnit
	frac := rounded % PerUnit
	if frac < 0 {
		frac = -frac
	}
	sign := ""
	if rounded < 0 && whole == 0 {
		sign = "-"
	}
	return fmt.Sprintf("%s%d.%02d", sign, whole, frac/10_000)
}

// StringExact renders the amount at full micro precision with trailing
// zeros trimmed: "0.0457", "12.5", "3". Used where rounding to cents
// would hide real spend (per-request costs are routinely fractions of
// a cent).
func (m Micros) StringExact() string {
	whole := m / PerUnit
	frac := m % PerUnit
	if frac < 0 {
		frac = -frac
	}
	sign := ""
	if m < 0 && whole == 0 {
		sign = "-"
	}
	if frac == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}
	digits := strings.TrimRight(fmt.Sprintf("%06d", frac), "0")
	return fmt.Sprintf("%s%d.%s", sign, whole, digits)
}

// round rounds to the nearest multiple of step, half away from zero.
func (m Micros) round(step Micros) Micros {
	if step <= 1 {
		return m
	}
	half := step / 2
	if m >= 0 {
		return (m + half) / step * step
	}
	return (m - half) / step * step
}

// ParseAmount parses an operator-supplied decimal amount in currency
// units ("10", "12.34", "0.0457") into Micros. At most six fractional
// digits are accepted; anything finer has no representation and is
// rejected rather than silently truncated. An optional leading minus
// is accepted (deltas); use the caller's validation to reject negative
// amounts where they make no sense.
func ParseAmount(s string) (Micros, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("money: empty amount")
	}

	negative := false
	rest := trimmed
	if rest[0] == '+' || rest[0] == '-' {
		negative = rest[0] == '-'
		rest = rest[1:]
		if rest == "" {
			return 0, fmt.Errorf("money: %q is not an amount", trimmed)
		}
	}

	wholePart := rest
	fracPart := ""
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		wholePart = rest[:dot]
		fracPart = rest[dot+1:]
		// A decimal point demands digits after it: "12." and "." are
		// typos, not amounts.
		if fracPart == "" {
			return 0, fmt.Errorf("money: %q is not an amount", trimmed)
		}
	}
	if strings.ContainsRune(fracPart, '.') {
		return 0, fmt.Errorf("money: %q has multiple decimal points", trimmed)
	}
	if len(fracPart) > 6 {
		return 0, fmt.Errorf("money: %q has more than 6 fractional digits", trimmed)
	}

	whole := int64(0)
	if wholePart != "" {
		parsed, err := strconv.ParseInt(wholePart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("money: parsing %q: %w", trimmed, err)
		}
		whole = parsed
	}

	frac := int64(0)
	if fracPart != "" {
		padded := fracPart + strings.Repeat("0", 6-len(fracPart))
		parsed, err := strconv.ParseInt(padded, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("money: parsing %q: %w", trimmed, err)
		}
		frac = parsed
	}

	if whole > math.MaxInt64/int64(PerUnit) {
		return 0, fmt.Errorf("money: %q overflows", trimmed)
	}
	micros := whole*int64(PerUnit) + frac
	if micros < 0 {
		return 0, fmt.Errorf("money: %q overflows", trimmed)
	}
	if negative {
		micros = -micros
	}
	return Micros(micros), nil
}

// Add returns m + n, or an error on int64 overflow. Ledger balance
// arithmetic goes through Add/Sub so an absurd amount surfaces as an
// error instead of wrapping silently.
func (m Micros) Add(n Micros) (Micros, error) {
	sum := m + n
	if (n > 0 && sum < m) || (n < 0 && sum > m) {
		return 0, fmt.Errorf("money: %d + %d overflows", m, n)
	}
	return sum, nil
}

// Sub returns m - n, or an error on int64 overflow.
func (m Micros) Sub(n Micros) (Micros, error) {
	diff := m - n
	if (n < 0 && diff < m) || (n > 0 && diff > m) {
		return 0, fmt.Errorf("money: %d - %d overflows", m, n)
	}
	return diff, nil
}
