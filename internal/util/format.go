// Package util provides small formatting helpers shared across components.
package util

import (
	"math"
	"strconv"
	"strings"
)

// PrettyInt formats n with thousands separators ("12,345").
func PrettyInt(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// PrettyFloat rounds f to one significant figure and formats it without an
// exponent. The second return value reports whether the rounded value still
// equals the input, so callers can prefix an approximation marker.
func PrettyFloat(f float64) (string, bool) {
	rounded := roundSignificant(f, 1)
	return strconv.FormatFloat(rounded, 'f', -1, 64), rounded == f
}

func roundSignificant(f float64, digits int) float64 {
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	magnitude := math.Ceil(math.Log10(math.Abs(f)))
	power := float64(digits) - magnitude
	scale := math.Pow(10, power)
	return math.Round(f*scale) / scale
}

// CeilHundredths rounds f up to two decimal places. Used for availability
// percentages so a nearly depleted gift never shows as exactly 0%.
func CeilHundredths(f float64) float64 {
	return math.Ceil(f*100) / 100
}
