package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// Weight is a quantity in kilograms held as fixed-point hundredths.
// 1.26 kg is stored as 126.
type Weight int64

// ZeroWeight is the value recorded for a customer that brought nothing.
const ZeroWeight Weight = 0

const weightScale = 100

// roundingCtx quantizes to two fraction digits rounding half away from zero.
var roundingCtx = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(34)
	c.Rounding = apd.RoundHalfUp
	return c
}()

// ParseWeight reads user input such as "1,255" or " 2.5 ". A comma is taken
// as the decimal separator and spaces are ignored. The value is rounded half
// up to two fraction digits. Anything that does not parse to a finite number
// within range yields ZeroWeight.
func ParseWeight(s string) Weight {
	w, err := parseWeight(s)
	if err != nil {
		return ZeroWeight
	}
	return w
}

// ParseWeightStrict is ParseWeight that reports malformed input.
func ParseWeightStrict(s string) (Weight, error) {
	return parseWeight(s)
}

func parseWeight(s string) (Weight, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return ZeroWeight, fmt.Errorf("%w: empty", ErrInvalidWeight)
	}

	d, _, err := apd.NewFromString(s)
	if err != nil {
		return ZeroWeight, fmt.Errorf("%w: %q", ErrInvalidWeight, s)
	}
	if d.Form != apd.Finite {
		return ZeroWeight, fmt.Errorf("%w: %q is not finite", ErrInvalidWeight, s)
	}

	var q apd.Decimal
	if _, err := roundingCtx.Quantize(&q, d, -2); err != nil {
		return ZeroWeight, fmt.Errorf("%w: %q: %w", ErrInvalidWeight, s, err)
	}
	// Shift the exponent so the coefficient reads as hundredths.
	q.Exponent = 0
	v, err := q.Int64()
	if err != nil {
		return ZeroWeight, fmt.Errorf("%w: %q out of range", ErrInvalidWeight, s)
	}
	return Weight(v), nil
}

// WeightFromHundredths builds a Weight from an integer count of hundredths.
func WeightFromHundredths(h int64) Weight { return Weight(h) }

// Hundredths returns the raw fixed-point value.
func (w Weight) Hundredths() int64 { return int64(w) }

// Float64 returns the weight in kilograms.
func (w Weight) Float64() float64 { return float64(w) / weightScale }

// String renders the weight with exactly two fraction digits, e.g. "0.10".
func (w Weight) String() string {
	v := int64(w)
	sign := ""
	if v < 0 {
		sign = "-"
		// -v overflows for MinInt64; go through uint64.
		u := uint64(-(v + 1)) + 1
		return sign + strconv.FormatUint(u/weightScale, 10) + "." + pad2(u%weightScale)
	}
	u := uint64(v)
	return strconv.FormatUint(u/weightScale, 10) + "." + pad2(u%weightScale)
}

func pad2(n uint64) string {
	if n < 10 {
		return "0" + strconv.FormatUint(n, 10)
	}
	return strconv.FormatUint(n, 10)
}

// Add returns w+o.
func (w Weight) Add(o Weight) Weight { return w + o }

// MarshalJSON encodes the weight as its two-decimal string.
func (w Weight) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

// UnmarshalJSON accepts a JSON string or number. Malformed values become zero.
func (w *Weight) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*w = ParseWeight(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*w = ParseWeight(n.String())
		return nil
	}
	*w = ZeroWeight
	return nil
}

// MarshalText lets Weight act as a text value (SQL scanning, form fields).
func (w Weight) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

// UnmarshalText parses leniently like ParseWeight.
func (w *Weight) UnmarshalText(b []byte) error {
	*w = ParseWeight(string(b))
	return nil
}
