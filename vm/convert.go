package vm

import (
	"math"
)

// ---------------------------------------------------------------------------
// Type conversions
// ---------------------------------------------------------------------------

// Defaulter supplies [[DefaultValue]] for objects: the evaluator implements
// it by calling the object's valueOf/toString members. Conversions accept a
// nil Defaulter, in which case an object's internal value stands in (enough
// for wrapper objects) and anything else is a type error.
type Defaulter interface {
	DefaultValue(obj *Ptr, hint Kind) (Value, error)
}

// ToPrimitive returns v unchanged for non-objects; objects are converted
// through their default value with the given hint (KindNumber, KindString,
// or KindUndefined for no hint). The caller owns the returned value.
func ToPrimitive(v Value, hint Kind, dv Defaulter) (Value, error) {
	if v.Kind() != KindObject {
		return v.Clone(), nil
	}
	if dv != nil {
		return dv.DefaultValue(v.ObjPtr(), hint)
	}
	h := v.ObjPtr().Heap()
	inner := ObjectInternalValue(h, v.ObjPtr().Pos())
	switch inner.Kind() {
	case KindBoolean, KindNumber, KindString:
		return inner, nil
	}
	inner.Release()
	return Undefined, NewError(TypeError, "cannot convert %s object to primitive", ObjectClass(h, v.ObjPtr().Pos()))
}

// ToBoolean converts any non-reference value to a boolean.
func ToBoolean(v Value) bool {
	switch v.Kind() {
	case KindUndefined, KindNull:
		return false
	case KindBoolean:
		return v.Bool()
	case KindNumber:
		return v.Num() != 0 && !math.IsNaN(v.Num())
	case KindString:
		return StringLen(v.StrPtr()) != 0
	case KindObject, KindNativeFunction:
		return true
	}
	panic("vm: ToBoolean of reference")
}

// ToNumber converts any non-reference value to a number.
func ToNumber(v Value, dv Defaulter) (float64, error) {
	switch v.Kind() {
	case KindUndefined:
		return math.NaN(), nil
	case KindNull:
		return 0, nil
	case KindBoolean:
		if v.Bool() {
			return 1, nil
		}
		return 0, nil
	case KindNumber:
		return v.Num(), nil
	case KindString:
		return StringToNumber(v.Str()), nil
	case KindObject:
		prim, err := ToPrimitive(v, KindNumber, dv)
		if err != nil {
			return 0, err
		}
		defer prim.Release()
		return ToNumber(prim, dv)
	case KindNativeFunction:
		return math.NaN(), nil
	}
	panic("vm: ToNumber of reference")
}

// ToInteger discards the fractional part: NaN maps to 0, zeros and
// infinities to themselves.
func ToInteger(n float64) float64 {
	if math.IsNaN(n) {
		return 0
	}
	if n == 0 || math.IsInf(n, 0) {
		return n
	}
	return truncate(n)
}

func truncate(n float64) float64 {
	if n < 0 {
		return -math.Floor(-n)
	}
	return math.Floor(n)
}

// ToUint32 maps the number onto [0, 2^32).
func ToUint32(n float64) uint32 {
	if math.IsNaN(n) || n == 0 || math.IsInf(n, 0) {
		return 0
	}
	n = truncate(n)
	const max = 1 << 32
	n = n - max*math.Floor(n/max)
	return uint32(n)
}

// ToInt32 is ToUint32 reinterpreted as two's-complement.
func ToInt32(n float64) int32 {
	return int32(ToUint32(n))
}

// ToUint16 is ToUint32 truncated to 16 bits.
func ToUint16(n float64) uint16 {
	return uint16(ToUint32(n))
}

// ToString converts any non-reference value to a string.
func ToString(v Value, dv Defaulter) (string, error) {
	switch v.Kind() {
	case KindUndefined:
		return "undefined", nil
	case KindNull:
		return "null", nil
	case KindBoolean:
		if v.Bool() {
			return "true", nil
		}
		return "false", nil
	case KindNumber:
		return NumberToString(v.Num()), nil
	case KindString:
		return v.Str(), nil
	case KindObject:
		prim, err := ToPrimitive(v, KindString, dv)
		if err != nil {
			return "", err
		}
		defer prim.Release()
		return ToString(prim, dv)
	case KindNativeFunction:
		return "function () { [native code] }", nil
	}
	panic("vm: ToString of reference")
}

// ---------------------------------------------------------------------------
// String → number grammar
// ---------------------------------------------------------------------------

func isStrWhite(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// StringToNumber applies the string numeric grammar: optional whitespace,
// an optionally signed decimal literal, an Infinity literal, or an unsigned
// hex literal. The empty (or all-whitespace) string is zero; anything else
// that fails the grammar is NaN.
func StringToNumber(s string) float64 {
	i, j := 0, len(s)
	for i < j && isStrWhite(s[i]) {
		i++
	}
	for j > i && isStrWhite(s[j-1]) {
		j--
	}
	s = s[i:j]
	if s == "" {
		return 0
	}

	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}

	var n float64
	switch {
	case s == "Infinity":
		n = math.Inf(1)
	case len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X'):
		if neg || len(s[2:]) == 0 {
			return math.NaN()
		}
		for _, c := range []byte(s[2:]) {
			d := hexDigit(c)
			if d < 0 {
				return math.NaN()
			}
			n = n*16 + float64(d)
		}
	default:
		var ok bool
		n, ok = parseDecimal(s)
		if !ok {
			return math.NaN()
		}
	}
	if neg {
		return -n
	}
	return n
}

func hexDigit(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

// parseDecimal accepts DecimalLiteral: digits, digits '.' digits?, '.'
// digits, each with an optional exponent part.
func parseDecimal(s string) (float64, bool) {
	i := 0
	digits := func() int {
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		return i - start
	}
	intLen := digits()
	fracLen := 0
	if i < len(s) && s[i] == '.' {
		i++
		fracLen = digits()
	}
	if intLen == 0 && fracLen == 0 {
		return 0, false
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		if digits() == 0 {
			return 0, false
		}
	}
	if i != len(s) {
		return 0, false
	}
	return parseFloatExact(s), true
}
