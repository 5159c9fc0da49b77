package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Heap: slab of 64-bit slots with a bump allocator and a copying collector
// ---------------------------------------------------------------------------

// SlotSize is the unit of heap addressing, in bytes.
const SlotSize = 8

// BytesToSlots rounds a byte count up to whole slots.
func BytesToSlots(bytes int) uint32 {
	return uint32((bytes + SlotSize - 1) / SlotSize)
}

// A slot is interpreted in one of three ways depending on context: a raw
// payload word, a forwarding address (first payload slot of a moved record),
// or an allocation header.
//
// Header layout: low 32 bits carry the record size in slots (header
// included), high 32 bits the type index.

func makeHeader(size uint32, t TypeIndex) uint64 {
	return uint64(size) | uint64(t)<<32
}

func headerSize(h uint64) uint32    { return uint32(h) }
func headerType(h uint64) TypeIndex { return TypeIndex(h >> 32) }

func headerActive(h uint64) bool {
	t := headerType(h)
	return t != unallocatedType && t != forwardedType
}

// Heap owns a contiguous storage buffer of fixed-size slots, a bump
// allocator over it, and the set of tracked handles rooted in it.
//
// Heaps are single-threaded: no operation may be called concurrently.
type Heap struct {
	storage  []uint64
	capacity uint32
	nextFree uint32

	// Root set: every live tracked handle into this heap, in insertion
	// order. Short-lived handles are released soon after creation, so
	// detach scans from the back.
	pointers []*Ptr

	// Transient collection state, valid only while GarbageCollect runs.
	gc *gcState
}

type gcState struct {
	ptrKeepCount int
	newHeap      *Heap
	level        int // recursion depth, for diagnostics only
	pending      []pendingFixup
}

// pendingFixup records a slot in the destination heap that still holds a
// position into the collected heap. Raw slots hold a bare position word;
// packed slots hold a tagged value whose payload embeds the position.
type pendingFixup struct {
	slot   *uint64
	packed bool
}

// NewHeap creates a heap with the given capacity in slots.
func NewHeap(capacity uint32) *Heap {
	return &Heap{
		storage:  make([]uint64, capacity),
		capacity: capacity,
	}
}

// Capacity returns the heap size in slots.
func (h *Heap) Capacity() uint32 { return h.capacity }

// CalcUsed returns the total size in slots of all active allocations,
// headers included.
func (h *Heap) CalcUsed() uint32 {
	var used uint32
	for pos := uint32(0); pos < h.nextFree; {
		hdr := h.storage[pos]
		size := headerSize(hdr)
		if size == 0 {
			panic(fmt.Sprintf("vm: corrupt heap: zero-size record at slot %d", pos))
		}
		if headerActive(hdr) {
			used += size
		}
		pos += size
	}
	return used
}

// allocate reserves numSlots payload slots plus a header and returns the
// position of the first payload slot. The header is marked unallocated; the
// caller must construct the payload and then call commit.
func (h *Heap) allocate(numSlots uint32) (uint32, error) {
	if numSlots == 0 {
		// The first payload slot doubles as the forwarding address during
		// collection, so every record carries at least one.
		numSlots = 1
	}
	total := numSlots + 1
	if h.nextFree+total > h.capacity {
		if h.gc != nil {
			// Collection allocates into a fresh heap of equal capacity;
			// live data always fits.
			panic("vm: allocation overflow during collection")
		}
		if err := h.GarbageCollect(); err != nil {
			return 0, err
		}
		if h.nextFree+total > h.capacity {
			return 0, outOfMemory(total, h.capacity-h.nextFree)
		}
	}
	pos := h.nextFree
	h.nextFree += total
	h.storage[pos] = makeHeader(total, unallocatedType)
	return pos + 1, nil
}

// commit finishes an allocation by stamping its type into the header.
func (h *Heap) commit(pos uint32, t TypeIndex) {
	hdr := h.storage[pos-1]
	if headerType(hdr) != unallocatedType {
		panic("vm: commit of a non-pending allocation")
	}
	h.storage[pos-1] = makeHeader(headerSize(hdr), t)
}

// AllocateAndConstruct reserves numSlots payload slots, lets construct fill
// them in, stamps the type, and returns a tracked handle to the payload.
// Triggers a full collection before failing with an out-of-memory error.
func (h *Heap) AllocateAndConstruct(t TypeIndex, numSlots uint32, construct func(payload []uint64)) (*Ptr, error) {
	pos, err := h.allocate(numSlots)
	if err != nil {
		return nil, err
	}
	if construct != nil {
		construct(h.storage[pos : pos+numSlots])
	}
	h.commit(pos, t)
	return h.track(pos), nil
}

// payload returns the payload slots of the record at pos.
func (h *Heap) payload(pos uint32) []uint64 {
	size := headerSize(h.storage[pos-1])
	return h.storage[pos : pos+size-1]
}

// typeAt returns the type of the active record whose payload starts at pos.
func (h *Heap) typeAt(pos uint32) TypeIndex {
	if pos == 0 || pos >= h.nextFree {
		panic(fmt.Sprintf("vm: position %d outside heap", pos))
	}
	hdr := h.storage[pos-1]
	if !headerActive(hdr) {
		panic(fmt.Sprintf("vm: position %d is not an active allocation", pos))
	}
	return headerType(hdr)
}

// ---------------------------------------------------------------------------
// Garbage collection: stop-the-world, copying, precise
// ---------------------------------------------------------------------------

// GarbageCollect copies everything reachable from the tracked handles into a
// fresh heap of equal capacity, compacting as it goes, then reclaims the old
// storage. Unreachable records get their destroy hook run exactly once.
func (h *Heap) GarbageCollect() error {
	if h.gc != nil {
		panic("vm: recursive garbage collection")
	}
	h.gc = &gcState{
		ptrKeepCount: len(h.pointers),
		newHeap:      NewHeap(h.capacity),
	}

	// Root copy. The root set is frozen at its pre-collection length so
	// that handles appearing mid-collection are not scanned as roots.
	for i := 0; i < h.gc.ptrKeepCount; i++ {
		p := h.pointers[i]
		p.pos = h.gcMove(p.pos)
	}

	// Fixup drain. Every embedded position queued during the moves is
	// translated through a forwarding entry, moving its target first if
	// it has not been copied yet. The queue grows while it drains.
	for i := 0; i < len(h.gc.pending); i++ {
		f := h.gc.pending[i]
		if f.packed {
			*f.slot = uint64(Packed(*f.slot).rewritten(h))
		} else {
			*f.slot = uint64(h.gcMove(uint32(*f.slot)))
		}
	}

	// Commit: run destructors on what did not survive, then steal the new
	// heap's storage.
	h.runDestructors()
	h.storage = h.gc.newHeap.storage
	h.nextFree = h.gc.newHeap.nextFree
	h.gc = nil
	return nil
}

// gcMove forwards the payload at pos to the destination heap and returns its
// new position. The first move wins; later encounters short-circuit through
// the forwarding entry.
func (h *Heap) gcMove(pos uint32) uint32 {
	if pos == 0 {
		return 0
	}
	hdr := h.storage[pos-1]
	if headerType(hdr) == forwardedType {
		return uint32(h.storage[pos])
	}
	if !headerActive(hdr) {
		panic(fmt.Sprintf("vm: gcMove of inactive record at %d", pos))
	}

	h.gc.level++
	size := headerSize(hdr)
	t := headerType(hdr)
	info := typeInfo(t)

	dst := h.gc.newHeap
	if dst.nextFree+size > dst.capacity {
		panic("vm: destination heap overflow during collection")
	}
	newPos := dst.nextFree + 1
	dst.nextFree += size
	dst.storage[newPos-1] = makeHeader(size, t)

	// Move first, then fix up, so self-referential untracked handles
	// resolve against a fully moved payload.
	info.Move(dst, newPos, h, pos, size-1)
	if info.Fixup != nil {
		info.Fixup(dst, newPos, h)
	}

	h.storage[pos-1] = makeHeader(size, forwardedType)
	h.storage[pos] = uint64(newPos)
	h.gc.level--
	return newPos
}

// fixupPosSlot queues a destination-heap slot holding a bare position word
// for translation during the drain phase.
func (h *Heap) fixupPosSlot(slot *uint64) {
	if h.gc == nil {
		panic("vm: fixup outside collection")
	}
	if *slot != 0 {
		h.gc.pending = append(h.gc.pending, pendingFixup{slot: slot})
	}
}

// fixupPackedSlot queues a destination-heap slot holding a packed value.
func (h *Heap) fixupPackedSlot(slot *uint64) {
	if h.gc == nil {
		panic("vm: fixup outside collection")
	}
	if Packed(*slot).hasPosPayload() {
		h.gc.pending = append(h.gc.pending, pendingFixup{slot: slot, packed: true})
	}
}

// runDestructors invokes the destroy hook of every record in the current
// storage whose header is still active.
func (h *Heap) runDestructors() {
	for pos := uint32(0); pos < h.nextFree; {
		hdr := h.storage[pos]
		size := headerSize(hdr)
		if size == 0 {
			panic(fmt.Sprintf("vm: corrupt heap: zero-size record at slot %d", pos))
		}
		if headerActive(hdr) {
			if d := typeInfo(headerType(hdr)).Destroy; d != nil {
				d(h, pos+1)
			}
		}
		pos += size
	}
}

// Close tears the heap down, running destructors for every remaining
// allocation. Any tracked handle still pointing into the heap is a bug.
func (h *Heap) Close() {
	if len(h.pointers) != 0 {
		panic(fmt.Sprintf("vm: heap closed with %d live tracked handles", len(h.pointers)))
	}
	h.runDestructors()
	h.storage = nil
	h.nextFree = 0
}

// DebugDump writes a one-line-per-record description of the heap, for
// debugging.
func (h *Heap) DebugDump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "heap: %d/%d slots, %d roots\n", h.nextFree, h.capacity, len(h.pointers))
	for pos := uint32(0); pos < h.nextFree; {
		hdr := h.storage[pos]
		size := headerSize(hdr)
		if size == 0 {
			fmt.Fprintf(&b, "  %6d CORRUPT\n", pos)
			break
		}
		name := "unallocated"
		if t := headerType(hdr); t == forwardedType {
			name = "forwarded"
		} else if t != unallocatedType {
			name = typeInfo(t).Name
		}
		fmt.Fprintf(&b, "  %6d %-12s %d slots\n", pos, name, size)
		pos += size
	}
	return b.String()
}
