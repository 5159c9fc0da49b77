package vm

import (
	"strings"
	"testing"
)

// Test-only heap types. The registry is global and append-only, so these
// are registered once for the whole package.
var (
	testPayloadType = RegisterType(TypeInfo{Name: "testpayload", Move: bitMove})

	testDestroyCount int
	testDestroyType  = RegisterType(TypeInfo{
		Name: "testdestroy",
		Move: bitMove,
		Destroy: func(h *Heap, pos uint32) {
			testDestroyCount++
		},
	})

	// testLinkType embeds an untracked handle in slot 0 and a payload word
	// in slot 1.
	testLinkType = RegisterType(TypeInfo{
		Name: "testlink",
		Move: bitMove,
		Fixup: func(h *Heap, pos uint32, old *Heap) {
			old.fixupPosSlot(&h.payload(pos)[0])
		},
	})
)

func allocPayload(t *testing.T, h *Heap, words ...uint64) *Ptr {
	t.Helper()
	p, err := h.AllocateAndConstruct(testPayloadType, uint32(len(words)), func(payload []uint64) {
		copy(payload, words)
	})
	if err != nil {
		t.Fatalf("AllocateAndConstruct: %v", err)
	}
	return p
}

func TestHeapAllocate(t *testing.T) {
	h := NewHeap(64)
	p := allocPayload(t, h, 1, 2)
	if got := h.CalcUsed(); got != 3 {
		t.Errorf("CalcUsed() = %d, want 3", got)
	}
	if got := p.Type(); got != testPayloadType {
		t.Errorf("Type() = %v, want %v", got, testPayloadType)
	}
	pl := p.Payload()
	if pl[0] != 1 || pl[1] != 2 {
		t.Errorf("payload = %v, want [1 2]", pl)
	}
	p.Release()
	h.Close()
}

func TestHeapCompaction(t *testing.T) {
	// Ten 3-slot records (header + 2 payload slots); drop four; collect.
	h := NewHeap(64)
	var ptrs []*Ptr
	for i := 0; i < 10; i++ {
		ptrs = append(ptrs, allocPayload(t, h, uint64(i), uint64(i*100)))
	}
	if got := h.CalcUsed(); got != 30 {
		t.Fatalf("CalcUsed() before GC = %d, want 30", got)
	}
	for _, i := range []int{2, 4, 6, 8} {
		ptrs[i].Release()
		ptrs[i] = nil
	}

	if err := h.GarbageCollect(); err != nil {
		t.Fatalf("GarbageCollect: %v", err)
	}

	if got := h.CalcUsed(); got != 18 {
		t.Errorf("CalcUsed() after GC = %d, want 18", got)
	}
	for i, p := range ptrs {
		if p == nil {
			continue
		}
		if got := p.Type(); got != testPayloadType {
			t.Errorf("object %d: type %v after GC, want %v", i, got, testPayloadType)
		}
		pl := p.Payload()
		if pl[0] != uint64(i) || pl[1] != uint64(i*100) {
			t.Errorf("object %d: payload %v after GC, want [%d %d]", i, pl, i, i*100)
		}
		p.Release()
	}
	h.Close()
}

func TestHeapGCReclaimsUnreachable(t *testing.T) {
	h := NewHeap(64)
	testDestroyCount = 0

	keep, err := h.AllocateAndConstruct(testDestroyType, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		p, err := h.AllocateAndConstruct(testDestroyType, 1, nil)
		if err != nil {
			t.Fatal(err)
		}
		p.Release()
	}

	if err := h.GarbageCollect(); err != nil {
		t.Fatal(err)
	}
	if testDestroyCount != 3 {
		t.Errorf("destroy hook ran %d times, want 3", testDestroyCount)
	}
	if got := h.CalcUsed(); got != 2 {
		t.Errorf("CalcUsed() = %d, want 2", got)
	}

	keep.Release()
	h.Close()
	if testDestroyCount != 4 {
		t.Errorf("destroy hook ran %d times after Close, want 4", testDestroyCount)
	}
}

func TestHeapEmbeddedReference(t *testing.T) {
	// A holds a packed value containing B; dropping the external handle to
	// B must not reclaim it.
	h := NewHeap(256)
	a, err := NewObject(h, "Object", nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewObject(h, "Object", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ObjectPut(h, b, "x", NumberValue(42)); err != nil {
		t.Fatal(err)
	}
	bv := ObjectValue(b)
	if err := ObjectPut(h, a, "inner", bv); err != nil {
		t.Fatal(err)
	}
	bv.Release()

	if err := h.GarbageCollect(); err != nil {
		t.Fatal(err)
	}

	inner, ok := ObjectGetOwn(h, a.Pos(), "inner")
	if !ok || inner.Kind() != KindObject {
		t.Fatalf("inner = %v (ok=%v), want object", inner, ok)
	}
	x, ok := ObjectGetOwn(h, inner.ObjPtr().Pos(), "x")
	if !ok || !x.Equals(NumberValue(42)) {
		t.Errorf("inner.x = %v (ok=%v), want 42", x, ok)
	}
	x.Release()
	inner.Release()
	a.Release()
	h.Close()
}

func TestHeapCyclicGraphSurvivesGC(t *testing.T) {
	h := NewHeap(256)
	a, err := NewObject(h, "Object", nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewObject(h, "Object", nil)
	if err != nil {
		t.Fatal(err)
	}
	av, bv := ObjectValue(a.Clone()), ObjectValue(b.Clone())
	if err := ObjectPut(h, a, "next", bv); err != nil {
		t.Fatal(err)
	}
	if err := ObjectPut(h, b, "next", av); err != nil {
		t.Fatal(err)
	}
	av.Release()
	bv.Release()
	b.Release()

	if err := h.GarbageCollect(); err != nil {
		t.Fatal(err)
	}

	next, _ := ObjectGetOwn(h, a.Pos(), "next")
	back, _ := ObjectGetOwn(h, next.ObjPtr().Pos(), "next")
	if back.Kind() != KindObject || back.ObjPtr().Pos() != a.Pos() {
		t.Errorf("cycle broken after GC: back = %v, want object at %d", back, a.Pos())
	}
	back.Release()
	next.Release()
	a.Release()
	h.Close()
}

func TestHeapUntrackedFixup(t *testing.T) {
	h := NewHeap(64)
	target := allocPayload(t, h, 7)
	link, err := h.AllocateAndConstruct(testLinkType, 2, func(payload []uint64) {
		payload[0] = uint64(target.Pos())
		payload[1] = 99
	})
	if err != nil {
		t.Fatal(err)
	}
	target.Release()

	if err := h.GarbageCollect(); err != nil {
		t.Fatal(err)
	}

	u := untrackedAt(link.Payload()[0])
	pos := u.Deref(h, testPayloadType)
	if got := h.payload(pos)[0]; got != 7 {
		t.Errorf("linked payload = %d after GC, want 7", got)
	}
	tracked := u.Track(h)
	if tracked.Payload()[0] != 7 {
		t.Errorf("tracked payload = %d, want 7", tracked.Payload()[0])
	}
	tracked.Release()
	link.Release()
	h.Close()
}

func TestHeapOutOfMemory(t *testing.T) {
	h := NewHeap(8)
	p := allocPayload(t, h, 1, 2, 3, 4) // 5 slots with header
	_, err := h.AllocateAndConstruct(testPayloadType, 4, nil)
	if err == nil {
		t.Fatal("second allocation unexpectedly succeeded")
	}
	if KindOf(err) != OutOfMemory {
		t.Errorf("error kind = %v, want OutOfMemory", KindOf(err))
	}

	// Releasing the first record lets the triggered collection free it.
	p.Release()
	q, err := h.AllocateAndConstruct(testPayloadType, 4, nil)
	if err != nil {
		t.Fatalf("allocation after release: %v", err)
	}
	q.Release()
	h.Close()
}

func TestHeapHandleClone(t *testing.T) {
	h := NewHeap(64)
	p := allocPayload(t, h, 5)
	q := p.Clone()
	p.Release()

	if err := h.GarbageCollect(); err != nil {
		t.Fatal(err)
	}
	if q.Payload()[0] != 5 {
		t.Errorf("payload through cloned handle = %d, want 5", q.Payload()[0])
	}
	q.Release()
	h.Close()
}

func TestHeapAllocationOrderMonotonic(t *testing.T) {
	h := NewHeap(64)
	var last uint32
	for i := 0; i < 5; i++ {
		p := allocPayload(t, h, 0)
		if p.Pos() <= last {
			t.Errorf("allocation %d at %d, want > %d", i, p.Pos(), last)
		}
		last = p.Pos()
		p.Release()
	}
	h.Close()
}

func TestRootScope(t *testing.T) {
	h := NewHeap(64)
	scope := NewRootScope()
	for i := 0; i < 3; i++ {
		scope.Keep(allocPayload(t, h, uint64(i)))
	}
	scope.Close()
	if err := h.GarbageCollect(); err != nil {
		t.Fatal(err)
	}
	if got := h.CalcUsed(); got != 0 {
		t.Errorf("CalcUsed() = %d after releasing scope, want 0", got)
	}
	h.Close()
}

func TestHeapDebugDump(t *testing.T) {
	h := NewHeap(64)
	p := allocPayload(t, h, 1)
	dump := h.DebugDump()
	if !strings.Contains(dump, "testpayload") {
		t.Errorf("DebugDump() missing type name:\n%s", dump)
	}
	p.Release()
	h.Close()
}
