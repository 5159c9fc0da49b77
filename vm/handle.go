package vm

import "fmt"

// ---------------------------------------------------------------------------
// Tracked and untracked handles
// ---------------------------------------------------------------------------

// Ptr is a tracked handle: a pointer into a heap that registers itself in
// the heap's root set so the collector can find and rewrite it. Every Ptr
// obtained from a heap must be released exactly once; Release is safe to
// defer immediately after acquisition.
type Ptr struct {
	heap *Heap
	pos  uint32
}

// track creates a tracked handle for the payload at pos and registers it.
func (h *Heap) track(pos uint32) *Ptr {
	p := &Ptr{heap: h, pos: pos}
	h.attach(p)
	return p
}

// Track promotes a raw payload position into a tracked handle. The position
// must refer to an active allocation.
func (h *Heap) Track(pos uint32) *Ptr {
	h.typeAt(pos) // validates
	return h.track(pos)
}

func (h *Heap) attach(p *Ptr) {
	h.pointers = append(h.pointers, p)
}

func (h *Heap) detach(p *Ptr) {
	// Scan from the back: handles tend to be released in LIFO order.
	for i := len(h.pointers) - 1; i >= 0; i-- {
		if h.pointers[i] == p {
			if h.gc != nil && i < h.gc.ptrKeepCount {
				panic("vm: root released during collection")
			}
			h.pointers = append(h.pointers[:i], h.pointers[i+1:]...)
			return
		}
	}
	panic("vm: handle not found in heap root set")
}

// Heap returns the heap this handle points into.
func (p *Ptr) Heap() *Heap { return p.heap }

// Pos returns the payload slot index.
func (p *Ptr) Pos() uint32 {
	if p.heap == nil {
		panic("vm: dereference of released handle")
	}
	return p.pos
}

// Type returns the registered type of the referenced payload.
func (p *Ptr) Type() TypeIndex {
	return p.heap.typeAt(p.Pos())
}

// Payload returns the payload slots. The returned slice is only valid until
// the next allocation or collection.
func (p *Ptr) Payload() []uint64 {
	return p.heap.payload(p.Pos())
}

// Clone registers and returns a second tracked handle to the same payload.
func (p *Ptr) Clone() *Ptr {
	return p.heap.track(p.Pos())
}

// Release deregisters the handle from its heap's root set. The handle must
// not be used afterwards.
func (p *Ptr) Release() {
	if p.heap == nil {
		panic("vm: double release of tracked handle")
	}
	p.heap.detach(p)
	p.heap = nil
	p.pos = 0
}

func (p *Ptr) String() string {
	if p.heap == nil {
		return "Ptr(released)"
	}
	return fmt.Sprintf("Ptr(%s@%d)", TypeName(p.Type()), p.pos)
}

// Untracked is a pointer stored inside a heap-managed payload. It does not
// register with the root set; it stays valid across collections only because
// the containing record's fixup hook rewrites the slot it was loaded from.
type Untracked struct {
	pos uint32
}

// UntrackedFrom captures the position of a tracked handle.
func UntrackedFrom(p *Ptr) Untracked {
	return Untracked{pos: p.Pos()}
}

// untrackedAt loads an untracked handle from a payload slot.
func untrackedAt(slot uint64) Untracked {
	return Untracked{pos: uint32(slot)}
}

// IsNil reports whether the handle refers to anything.
func (u Untracked) IsNil() bool { return u.pos == 0 }

// Pos returns the raw payload position (0 when nil).
func (u Untracked) Pos() uint32 { return u.pos }

// slot returns the handle's representation as a payload slot word.
func (u Untracked) slot() uint64 { return uint64(u.pos) }

// Deref validates that the referenced record's type is convertible to want
// and returns the payload position.
func (u Untracked) Deref(h *Heap, want TypeIndex) uint32 {
	if u.pos == 0 {
		panic("vm: dereference of nil untracked handle")
	}
	if t := h.typeAt(u.pos); !IsConvertible(t, want) {
		panic(fmt.Sprintf("vm: untracked handle refers to %s, want %s", TypeName(t), TypeName(want)))
	}
	return u.pos
}

// Track promotes the untracked handle back to a tracked one.
func (u Untracked) Track(h *Heap) *Ptr {
	if u.pos == 0 {
		panic("vm: track of nil untracked handle")
	}
	return h.Track(u.pos)
}

// ---------------------------------------------------------------------------
// RootScope: bulk release for short-lived handles
// ---------------------------------------------------------------------------

// RootScope collects tracked handles so a whole evaluation step can release
// them with one deferred Close. Handles are released in reverse order of
// registration, matching the root set's LIFO bias.
type RootScope struct {
	ptrs []*Ptr
}

// NewRootScope creates an empty scope.
func NewRootScope() *RootScope { return &RootScope{} }

// Keep registers a handle with the scope and returns it unchanged. Nil
// handles are ignored.
func (s *RootScope) Keep(p *Ptr) *Ptr {
	if p != nil {
		s.ptrs = append(s.ptrs, p)
	}
	return p
}

// Close releases every handle registered with the scope.
func (s *RootScope) Close() {
	for i := len(s.ptrs) - 1; i >= 0; i-- {
		s.ptrs[i].Release()
	}
	s.ptrs = nil
}
