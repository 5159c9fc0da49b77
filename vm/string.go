package vm

import (
	"unicode/utf16"
)

// ---------------------------------------------------------------------------
// Heap strings: immutable UTF-16 code-unit sequences
// ---------------------------------------------------------------------------

// TypeString is the registered type of heap strings. Payload layout: slot 0
// the length in code units, then the units packed four per slot. Strings
// embed no references, so they need neither destroy nor fixup.
var TypeString = RegisterType(TypeInfo{
	Name: "string",
	Move: bitMove,
})

// stringSlots returns the payload slot count for n code units.
func stringSlots(n int) uint32 {
	return 1 + uint32((n+3)/4)
}

// NewString allocates a heap string holding the UTF-16 encoding of s and
// returns a tracked handle to it.
func NewString(h *Heap, s string) (*Ptr, error) {
	units := utf16.Encode([]rune(s))
	return newStringFromUnits(h, units)
}

// NewStringUnits allocates a heap string from raw code units.
func NewStringUnits(h *Heap, units []uint16) (*Ptr, error) {
	return newStringFromUnits(h, units)
}

func newStringFromUnits(h *Heap, units []uint16) (*Ptr, error) {
	return h.AllocateAndConstruct(TypeString, stringSlots(len(units)), func(payload []uint64) {
		payload[0] = uint64(len(units))
		for i, u := range units {
			payload[1+i/4] |= uint64(u) << (16 * (i % 4))
		}
	})
}

// stringUnits reads the code units of the string at pos.
func stringUnits(h *Heap, pos uint32) []uint16 {
	slots := h.payload(pos)
	n := int(slots[0])
	units := make([]uint16, n)
	for i := range units {
		units[i] = uint16(slots[1+i/4] >> (16 * (i % 4)))
	}
	return units
}

// stringText decodes the string at pos to a Go string.
func stringText(h *Heap, pos uint32) string {
	return string(utf16.Decode(stringUnits(h, pos)))
}

// StringLen returns the length in code units of the string at p.
func StringLen(p *Ptr) int {
	return int(p.Payload()[0])
}
