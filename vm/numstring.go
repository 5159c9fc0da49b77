package vm

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Number → string: shortest-round-trip decimal rendering
// ---------------------------------------------------------------------------

// NumberToString renders m the way the language's ToString demands: the
// shortest decimal digit string that parses back to exactly m, laid out as
// plain, fractional, or exponential notation depending on where the decimal
// point lands.
func NumberToString(m float64) string {
	if math.IsNaN(m) {
		return "NaN"
	}
	if m == 0 {
		return "0"
	}
	if m < 0 {
		return "-" + NumberToString(-m)
	}
	if math.IsInf(m, 1) {
		return "Infinity"
	}

	s, n := shortestDigits(m)
	k := len(s)
	var b strings.Builder
	switch {
	case k <= n && n <= 21:
		// All digits sit left of the point: pad with zeros.
		b.WriteString(s)
		b.WriteString(strings.Repeat("0", n-k))
	case 0 < n && n <= 21:
		b.WriteString(s[:n])
		b.WriteByte('.')
		b.WriteString(s[n:])
	case -6 < n && n <= 0:
		b.WriteString("0.")
		b.WriteString(strings.Repeat("0", -n))
		b.WriteString(s)
	case k == 1:
		b.WriteString(s)
		writeExponent(&b, n-1)
	default:
		b.WriteString(s[:1])
		b.WriteByte('.')
		b.WriteString(s[1:])
		writeExponent(&b, n-1)
	}
	return b.String()
}

func writeExponent(b *strings.Builder, e int) {
	b.WriteByte('e')
	if e >= 0 {
		b.WriteByte('+')
	} else {
		b.WriteByte('-')
		e = -e
	}
	b.WriteString(strconv.Itoa(e))
}

// shortestDigits returns the minimal significant decimal digits of m (no
// trailing zeros) and the position n of the decimal point relative to the
// first digit: the value is 0.s × 10^n.
func shortestDigits(m float64) (string, int) {
	// strconv's shortest 'e' form carries exactly the digit count a k-loop
	// over [1,17] would find.
	formatted := strconv.FormatFloat(m, 'e', -1, 64)
	mant, expPart, _ := strings.Cut(formatted, "e")
	exp, err := strconv.Atoi(expPart)
	if err != nil {
		panic("vm: malformed exponent from strconv: " + formatted)
	}
	digits := strings.Replace(mant, ".", "", 1)
	return digits, exp + 1
}

// parseFloatExact converts a validated decimal literal to the nearest
// double. Out-of-range magnitudes round to ±Inf or ±0 per IEEE, which is
// exactly what strconv reports alongside ErrRange.
func parseFloatExact(s string) float64 {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		panic("vm: parseFloatExact: " + err.Error())
	}
	return n
}
