package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Value: the expanded runtime representation of a script value
// ---------------------------------------------------------------------------

// Kind enumerates the script value types.
type Kind int

const (
	KindUndefined Kind = iota
	KindNull
	KindBoolean
	KindNumber
	KindString
	KindObject
	KindReference
	KindNativeFunction
)

var kindNames = map[Kind]string{
	KindUndefined:      "undefined",
	KindNull:           "null",
	KindBoolean:        "boolean",
	KindNumber:         "number",
	KindString:         "string",
	KindObject:         "object",
	KindReference:      "reference",
	KindNativeFunction: "function",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Reference is the non-first-class (base, property name) pair produced by
// member and identifier evaluation. Base is an object handle (nil for an
// unresolved identifier), Name a heap string handle.
type Reference struct {
	Base *Ptr
	Name *Ptr
}

// Value is a tagged union over the eight script kinds. Values of string,
// object, and reference kind own tracked handles and must be released
// exactly once.
type Value struct {
	kind   Kind
	bval   bool
	num    float64
	ptr    *Ptr // string or object payload
	ref    *Reference
	native uint32
}

// Undefined, Null, True, and False carry no handles and may be copied
// freely.
var (
	Undefined = Value{kind: KindUndefined}
	Null      = Value{kind: KindNull}
	True      = Value{kind: KindBoolean, bval: true}
	False     = Value{kind: KindBoolean}
)

// BooleanValue returns the boolean value b.
func BooleanValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// NumberValue returns the number value n.
func NumberValue(n float64) Value {
	return Value{kind: KindNumber, num: n}
}

// StringValue wraps an existing heap string handle. The value takes
// ownership of the handle.
func StringValue(p *Ptr) Value {
	return Value{kind: KindString, ptr: p}
}

// ObjectValue wraps an existing object handle. The value takes ownership of
// the handle.
func ObjectValue(p *Ptr) Value {
	return Value{kind: KindObject, ptr: p}
}

// ReferenceValue builds a reference from a base object handle and a name
// string handle, taking ownership of both.
func ReferenceValue(base, name *Ptr) Value {
	return Value{kind: KindReference, ref: &Reference{Base: base, Name: name}}
}

// NativeFunctionValue identifies a registered native function by index.
func NativeFunctionValue(idx uint32) Value {
	return Value{kind: KindNativeFunction, native: idx}
}

// Kind returns the value's type tag.
func (v Value) Kind() Kind { return v.kind }

// Bool returns the boolean payload. Panics on other kinds.
func (v Value) Bool() bool {
	v.mustBe(KindBoolean)
	return v.bval
}

// Num returns the number payload. Panics on other kinds.
func (v Value) Num() float64 {
	v.mustBe(KindNumber)
	return v.num
}

// StrPtr returns the heap string handle. Panics on other kinds.
func (v Value) StrPtr() *Ptr {
	v.mustBe(KindString)
	return v.ptr
}

// ObjPtr returns the object handle. Panics on other kinds.
func (v Value) ObjPtr() *Ptr {
	v.mustBe(KindObject)
	return v.ptr
}

// Ref returns the reference payload. Panics on other kinds.
func (v Value) Ref() *Reference {
	v.mustBe(KindReference)
	return v.ref
}

// NativeIndex returns the native function table index.
func (v Value) NativeIndex() uint32 {
	v.mustBe(KindNativeFunction)
	return v.native
}

func (v Value) mustBe(k Kind) {
	if v.kind != k {
		panic(fmt.Sprintf("vm: value is %s, want %s", v.kind, k))
	}
}

// Str decodes the string payload to a Go string.
func (v Value) Str() string {
	p := v.StrPtr()
	return stringText(p.Heap(), p.Pos())
}

// Release frees the handles owned by the value. Safe on handle-free kinds.
func (v Value) Release() {
	switch v.kind {
	case KindString, KindObject:
		v.ptr.Release()
	case KindReference:
		if v.ref.Base != nil {
			v.ref.Base.Release()
		}
		v.ref.Name.Release()
	}
}

// Clone returns an independent copy of the value, re-tracking any handles.
func (v Value) Clone() Value {
	switch v.kind {
	case KindString, KindObject:
		c := v
		c.ptr = v.ptr.Clone()
		return c
	case KindReference:
		var base *Ptr
		if v.ref.Base != nil {
			base = v.ref.Base.Clone()
		}
		return Value{kind: KindReference, ref: &Reference{Base: base, Name: v.ref.Name.Clone()}}
	default:
		return v
	}
}

// Equals implements core value equality: identity for objects and native
// functions, content equality for strings, and number equality under which
// NaN equals NaN. References are not comparable.
func (v Value) Equals(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindUndefined, KindNull:
		return true
	case KindBoolean:
		return v.bval == o.bval
	case KindNumber:
		return v.num == o.num || (math.IsNaN(v.num) && math.IsNaN(o.num))
	case KindString:
		return v.Str() == o.Str()
	case KindObject:
		return v.ptr.Pos() == o.ptr.Pos() && v.ptr.Heap() == o.ptr.Heap()
	case KindNativeFunction:
		return v.native == o.native
	}
	panic(fmt.Sprintf("vm: equality on %s values", v.kind))
}

func (v Value) String() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		if v.bval {
			return "true"
		}
		return "false"
	case KindNumber:
		return NumberToString(v.num)
	case KindString:
		return v.Str()
	case KindObject:
		return fmt.Sprintf("[object @%d]", v.ptr.Pos())
	case KindReference:
		return "[reference]"
	case KindNativeFunction:
		return fmt.Sprintf("[native #%d]", v.native)
	}
	return "[invalid]"
}
