package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidRate     = errors.New("invalid rate")
)

// Amount is a currency value in minor units (cents).
type Amount int64

// Currency is an ISO 4217 code, upper case.
type Currency string

// Rate is a percentage expressed in basis points: 15% == 1500.
type Rate int64

const basisPointsPerUnit = 10000

func FromMinor(minor int64) Amount {
	return Amount(minor)
}

func (a Amount) Minor() int64 {
	return int64(a)
}

func (a Amount) IsPositive() bool {
	return a > 0
}

// String renders the amount with two decimals, e.g. 3275 -> "32.75".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Parse reads a decimal string such as "32.75", "50" or "0.5".
// More than two fractional digits is rejected rather than rounded.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac && (frac == "" || len(frac) > 2) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if w > (math.MaxInt64-f)/100 {
		return 0, fmt.Errorf("%w: overflow", ErrInvalidAmount)
	}

	v := w*100 + f
	if neg {
		v = -v
	}
	return Amount(v), nil
}

// ParseCurrency normalizes and validates a three letter currency code.
func ParseCurrency(s string) (Currency, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
		}
	}
	return Currency(s), nil
}

// RateFromPercent converts a configured percentage (15.0) to basis points.
// The float is only touched here, at the configuration boundary. Rates are
// exact to two decimal places; finer percentages are rejected, not rounded.
func RateFromPercent(pct float64) (Rate, error) {
	if math.IsNaN(pct) || pct < 0 || pct > 100 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRate, pct)
	}
	bps := math.Round(pct * 100)
	if math.Abs(pct*100-bps) > 1e-6 {
		return 0, fmt.Errorf("%w: %v has more than two decimal places", ErrInvalidRate, pct)
	}
	return Rate(bps), nil
}

// Percent renders the rate as a percentage string, e.g. 1500 -> "15.00".
func (r Rate) Percent() string {
	return Amount(r).String()
}

// Apply returns round_half_up(a * r) in minor units. Negative amounts round
// away from zero symmetrically.
func (r Rate) Apply(a Amount) Amount {
	v := int64(a)
	neg := v < 0
	if neg {
		v = -v
	}
	product := v * int64(r)
	q := product / basisPointsPerUnit
	if product%basisPointsPerUnit*2 >= basisPointsPerUnit {
		q++
	}
	if neg {
		q = -q
	}
	return Amount(q)
}

// Split divides gross into the platform fee and the remaining net.
// fee + net == gross always holds.
func Split(gross Amount, r Rate) (fee Amount, net Amount) {
	fee = r.Apply(gross)
	return fee, gross - fee
}
