package vm

import (
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Global object setup and natives
// ---------------------------------------------------------------------------

func (i *Interp) setupGlobal() error {
	h := i.heap
	g := i.global

	put := func(name string, v Value, attrs uint64) error {
		return ObjectPutAttrs(h, g, name, v, attrs)
	}
	if err := put("NaN", NumberValue(math.NaN()), AttrDontEnum); err != nil {
		return err
	}
	if err := put("Infinity", NumberValue(math.Inf(1)), AttrDontEnum); err != nil {
		return err
	}
	if err := put("undefined", Undefined, AttrDontEnum|AttrReadOnly); err != nil {
		return err
	}

	natives := []struct {
		name string
		fn   NativeFunc
	}{
		{"print", nativePrint},
		{"Object", nativeObject},
		{"String", nativeString},
		{"Number", nativeNumber},
		{"Boolean", nativeBoolean},
		{"isNaN", nativeIsNaN},
		{"isFinite", nativeIsFinite},
		{"parseInt", nativeParseInt},
		{"parseFloat", nativeParseFloat},
		{"gc", nativeGC},
	}
	for _, n := range natives {
		idx := i.RegisterNative(n.name, n.fn)
		if err := put(n.name, NativeFunctionValue(idx), AttrDontEnum); err != nil {
			return err
		}
	}
	return nil
}

func arg(args []Value, n int) Value {
	if n < len(args) {
		return args[n]
	}
	return Undefined
}

func nativePrint(i *Interp, this Value, args []Value) (Value, error) {
	parts := make([]string, len(args))
	for n, a := range args {
		s, err := ToString(a, i)
		if err != nil {
			return Undefined, err
		}
		parts[n] = s
	}
	if i.out != nil {
		fmt.Fprintln(i.out, strings.Join(parts, " "))
	}
	return Undefined, nil
}

func nativeObject(i *Interp, this Value, args []Value) (Value, error) {
	a := arg(args, 0)
	if a.Kind() == KindUndefined || a.Kind() == KindNull {
		obj, err := NewObject(i.heap, "Object", i.objectProto)
		if err != nil {
			return Undefined, err
		}
		return ObjectValue(obj), nil
	}
	ptr, err := i.toObject(a)
	if err != nil {
		return Undefined, err
	}
	return ObjectValue(ptr), nil
}

func nativeString(i *Interp, this Value, args []Value) (Value, error) {
	if len(args) == 0 {
		return i.newStringValue("")
	}
	s, err := ToString(args[0], i)
	if err != nil {
		return Undefined, err
	}
	return i.newStringValue(s)
}

func nativeNumber(i *Interp, this Value, args []Value) (Value, error) {
	if len(args) == 0 {
		return NumberValue(0), nil
	}
	n, err := ToNumber(args[0], i)
	if err != nil {
		return Undefined, err
	}
	return NumberValue(n), nil
}

func nativeBoolean(i *Interp, this Value, args []Value) (Value, error) {
	return BooleanValue(ToBoolean(arg(args, 0))), nil
}

func nativeIsNaN(i *Interp, this Value, args []Value) (Value, error) {
	n, err := ToNumber(arg(args, 0), i)
	if err != nil {
		return Undefined, err
	}
	return BooleanValue(math.IsNaN(n)), nil
}

func nativeIsFinite(i *Interp, this Value, args []Value) (Value, error) {
	n, err := ToNumber(arg(args, 0), i)
	if err != nil {
		return Undefined, err
	}
	return BooleanValue(!math.IsNaN(n) && !math.IsInf(n, 0)), nil
}

func nativeParseInt(i *Interp, this Value, args []Value) (Value, error) {
	s, err := ToString(arg(args, 0), i)
	if err != nil {
		return Undefined, err
	}
	radix := 0.0
	if len(args) > 1 {
		radix, err = ToNumber(args[1], i)
		if err != nil {
			return Undefined, err
		}
	}
	return NumberValue(parseIntText(s, int(ToInteger(radix)))), nil
}

func parseIntText(s string, radix int) float64 {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	sign := 1.0
	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}
	if radix == 0 {
		switch {
		case len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X'):
			radix, s = 16, s[2:]
		case len(s) > 1 && s[0] == '0':
			radix, s = 8, s[1:]
		default:
			radix = 10
		}
	} else if radix == 16 && len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if radix < 2 || radix > 36 {
		return math.NaN()
	}
	var n float64
	seen := false
	for _, c := range []byte(s) {
		d := digitValue(c)
		if d < 0 || d >= radix {
			break
		}
		n = n*float64(radix) + float64(d)
		seen = true
	}
	if !seen {
		return math.NaN()
	}
	return sign * n
}

func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	}
	return -1
}

func nativeParseFloat(i *Interp, this Value, args []Value) (Value, error) {
	s, err := ToString(arg(args, 0), i)
	if err != nil {
		return Undefined, err
	}
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	// Longest prefix matching the decimal grammar.
	best := math.NaN()
	for end := len(s); end > 0; end-- {
		if n, ok := parseSignedDecimal(s[:end]); ok {
			best = n
			break
		}
	}
	return NumberValue(best), nil
}

func parseSignedDecimal(s string) (float64, bool) {
	neg := false
	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	if s == "Infinity" {
		if neg {
			return math.Inf(-1), true
		}
		return math.Inf(1), true
	}
	n, ok := parseDecimal(s)
	if !ok {
		return 0, false
	}
	if neg {
		return -n, true
	}
	return n, true
}

// nativeGC exposes the collector to scripts, mirroring how the heap is
// exercised from embedding code.
func nativeGC(i *Interp, this Value, args []Value) (Value, error) {
	before := i.heap.CalcUsed()
	if err := i.heap.GarbageCollect(); err != nil {
		return Undefined, err
	}
	return NumberValue(float64(before - i.heap.CalcUsed())), nil
}
