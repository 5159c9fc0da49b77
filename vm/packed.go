package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Packed: one-slot tagged encoding of any script value
// ---------------------------------------------------------------------------

// Packed is a 64-bit tagged representation of a script value, suitable for
// embedding inside heap-managed payloads. Numbers are stored as raw IEEE 754
// doubles; every other kind lives in the quiet-NaN space with a tag and a
// payload.
//
// Encoding:
//   - number: the double's bits (NaN canonicalized on pack)
//   - everything else: quiet-NaN prefix | tag | payload
//
// Payloads are heap slot positions (string, object, reference cell) or a
// native-function table index. References larger than one slot are packed
// indirectly through a two-slot reference cell allocated in the heap.
type Packed uint64

const (
	packedNaNBits     uint64 = 0x7FF8000000000000
	packedTagMask     uint64 = 0x0007000000000000
	packedPayloadMask uint64 = 0x0000FFFFFFFFFFFF

	packedTagString  uint64 = 0x0001000000000000
	packedTagObject  uint64 = 0x0002000000000000
	packedTagRef     uint64 = 0x0003000000000000
	packedTagNative  uint64 = 0x0004000000000000
	packedTagSpecial uint64 = 0x0005000000000000
)

// Special payloads.
const (
	packedUndefined uint64 = 0
	packedNull      uint64 = 1
	packedTrue      uint64 = 2
	packedFalse     uint64 = 3
)

// PackedUndefined is the packed encoding of undefined, the zero-ish default
// for freshly constructed payload slots.
var PackedUndefined = Packed(packedNaNBits | packedTagSpecial | packedUndefined)

func (p Packed) isTagged() bool {
	bits := uint64(p)
	return bits&packedNaNBits == packedNaNBits && bits&packedTagMask != 0
}

func (p Packed) tag() uint64     { return uint64(p) & packedTagMask }
func (p Packed) payload() uint64 { return uint64(p) & packedPayloadMask }

// hasPosPayload reports whether the payload embeds a heap slot position and
// therefore needs rewriting after a collection.
func (p Packed) hasPosPayload() bool {
	if !p.isTagged() {
		return false
	}
	switch p.tag() {
	case packedTagString, packedTagObject, packedTagRef:
		return p.payload() != 0
	}
	return false
}

// Pack encodes a value into one slot. Packing a reference allocates a
// two-slot cell in h and can therefore trigger a collection or fail with an
// out-of-memory error; every other kind is infallible.
func Pack(h *Heap, v Value) (Packed, error) {
	switch v.Kind() {
	case KindUndefined:
		return Packed(packedNaNBits | packedTagSpecial | packedUndefined), nil
	case KindNull:
		return Packed(packedNaNBits | packedTagSpecial | packedNull), nil
	case KindBoolean:
		if v.Bool() {
			return Packed(packedNaNBits | packedTagSpecial | packedTrue), nil
		}
		return Packed(packedNaNBits | packedTagSpecial | packedFalse), nil
	case KindNumber:
		n := v.Num()
		if math.IsNaN(n) {
			// Arbitrary NaN payloads would collide with the tag space.
			return Packed(packedNaNBits), nil
		}
		return Packed(math.Float64bits(n)), nil
	case KindString:
		return Packed(packedNaNBits | packedTagString | uint64(v.StrPtr().Pos())), nil
	case KindObject:
		return Packed(packedNaNBits | packedTagObject | uint64(v.ObjPtr().Pos())), nil
	case KindReference:
		cell, err := newRefCell(h, v.Ref())
		if err != nil {
			return 0, err
		}
		pos := cell.Pos()
		cell.Release()
		return Packed(packedNaNBits | packedTagRef | uint64(pos)), nil
	case KindNativeFunction:
		return Packed(packedNaNBits | packedTagNative | uint64(v.NativeIndex())), nil
	}
	panic(fmt.Sprintf("vm: pack of %s value", v.Kind()))
}

// Unpack expands the packed word back into a full value, tracking fresh
// handles for any heap payloads.
func (p Packed) Unpack(h *Heap) Value {
	if !p.isTagged() {
		return NumberValue(math.Float64frombits(uint64(p)))
	}
	switch p.tag() {
	case packedTagSpecial:
		switch p.payload() {
		case packedUndefined:
			return Undefined
		case packedNull:
			return Null
		case packedTrue:
			return True
		case packedFalse:
			return False
		}
	case packedTagString:
		return StringValue(h.Track(uint32(p.payload())))
	case packedTagObject:
		return ObjectValue(h.Track(uint32(p.payload())))
	case packedTagRef:
		return unpackRefCell(h, uint32(p.payload()))
	case packedTagNative:
		return NativeFunctionValue(uint32(p.payload()))
	}
	panic(fmt.Sprintf("vm: unpack of invalid word %#x", uint64(p)))
}

// rewritten translates the packed word's embedded position through the
// collected heap's forwarding entries. Called only during the fixup drain.
func (p Packed) rewritten(old *Heap) Packed {
	if !p.hasPosPayload() {
		return p
	}
	newPos := old.gcMove(uint32(p.payload()))
	return Packed(uint64(p)&^packedPayloadMask | uint64(newPos))
}

// ---------------------------------------------------------------------------
// Reference cell: heap-side storage for packed references
// ---------------------------------------------------------------------------

// TypeRefCell is the registered type of the two-slot cell backing a packed
// reference: slot 0 the base object position (0 for an unresolved base),
// slot 1 the property name string position.
var TypeRefCell = RegisterType(TypeInfo{
	Name: "refcell",
	Move: bitMove,
	Fixup: func(h *Heap, pos uint32, old *Heap) {
		slots := h.payload(pos)
		old.fixupPosSlot(&slots[0])
		old.fixupPosSlot(&slots[1])
	},
})

func newRefCell(h *Heap, r *Reference) (*Ptr, error) {
	var base uint32
	if r.Base != nil {
		base = r.Base.Pos()
	}
	name := r.Name.Pos()
	return h.AllocateAndConstruct(TypeRefCell, 2, func(payload []uint64) {
		payload[0] = uint64(base)
		payload[1] = uint64(name)
	})
}

func unpackRefCell(h *Heap, pos uint32) Value {
	slots := h.payload(pos)
	var base *Ptr
	if slots[0] != 0 {
		base = h.Track(uint32(slots[0]))
	}
	name := h.Track(uint32(slots[1]))
	return ReferenceValue(base, name)
}
