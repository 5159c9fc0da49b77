package vm

import (
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// Type registry: process-wide catalogue of heap-managed types
// ---------------------------------------------------------------------------

// TypeIndex identifies a registered heap type. Indices are assigned in
// registration order and are stable for the lifetime of the process.
type TypeIndex uint32

// Reserved header type values. A header carrying one of these is not an
// active allocation.
const (
	unallocatedType TypeIndex = ^TypeIndex(0)
	forwardedType   TypeIndex = ^TypeIndex(0) - 1
)

// DestroyFunc releases any resources held by the payload at pos.
// A nil DestroyFunc means the payload is trivially destructible.
type DestroyFunc func(h *Heap, pos uint32)

// MoveFunc relocates size payload slots from src/srcPos to dst/dstPos and
// leaves the source inert. Required for every type.
type MoveFunc func(dst *Heap, dstPos uint32, src *Heap, srcPos uint32, size uint32)

// FixupFunc rewrites embedded slot indices in the payload at pos (already
// moved into h) through the old heap's forwarding entries. Present iff the
// type embeds untracked handles or packed values.
type FixupFunc func(h *Heap, pos uint32, old *Heap)

// TypeInfo describes a heap-managed type. Immutable after registration.
type TypeInfo struct {
	Name                string
	Destroy             DestroyFunc
	Move                MoveFunc
	Fixup               FixupFunc
	ConvertibleToObject bool
}

var (
	typeMu    sync.Mutex
	typeTable []TypeInfo
)

// RegisterType appends a type to the registry and returns its index.
// Registration happens at package init; lookup afterwards is read-only.
func RegisterType(info TypeInfo) TypeIndex {
	if info.Move == nil {
		panic("vm: RegisterType: Move hook is required")
	}
	if info.Name == "" {
		panic("vm: RegisterType: name is required")
	}
	typeMu.Lock()
	defer typeMu.Unlock()
	idx := TypeIndex(len(typeTable))
	if idx >= forwardedType {
		panic(fmt.Sprintf("vm: type registry overflow at %d entries", len(typeTable)))
	}
	typeTable = append(typeTable, info)
	return idx
}

// typeInfo returns the registry entry for idx.
func typeInfo(idx TypeIndex) *TypeInfo {
	if int(idx) >= len(typeTable) {
		panic(fmt.Sprintf("vm: invalid type index %d", idx))
	}
	return &typeTable[idx]
}

// TypeName returns the display name for a registered type.
func TypeName(idx TypeIndex) string {
	return typeInfo(idx).Name
}

// IsConvertible reports whether a payload of type idx may be viewed as
// target. It is true when the types match exactly, or when target is the
// root object type and idx was registered as convertible to object.
func IsConvertible(idx, target TypeIndex) bool {
	if idx == target {
		return true
	}
	return target == TypeObject && typeInfo(idx).ConvertibleToObject
}

// bitMove is the move hook for payloads that are plain slot data: it copies
// the slots and zeroes the source.
func bitMove(dst *Heap, dstPos uint32, src *Heap, srcPos uint32, size uint32) {
	copy(dst.storage[dstPos:dstPos+size], src.storage[srcPos:srcPos+size])
	for i := srcPos; i < srcPos+size; i++ {
		src.storage[i] = 0
	}
}
