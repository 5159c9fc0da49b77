package vm

import (
	"bytes"
	"testing"
)

func TestImageRoundTripPrimitives(t *testing.T) {
	h := NewHeap(256)
	defer h.Close()

	tests := []Value{
		Undefined,
		Null,
		True,
		NumberValue(42.5),
	}
	for _, v := range tests {
		data, err := EncodeImage(h, v)
		if err != nil {
			t.Fatalf("EncodeImage(%v): %v", v, err)
		}
		back, err := DecodeImage(h, data)
		if err != nil {
			t.Fatalf("DecodeImage: %v", err)
		}
		if !back.Equals(v) {
			t.Errorf("round trip of %v = %v", v, back)
		}
		back.Release()
	}
}

func TestImageRoundTripObjectGraph(t *testing.T) {
	h := NewHeap(1 << 12)
	defer h.Close()

	a, err := NewObject(h, "Object", nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewObject(h, "Widget", nil)
	if err != nil {
		t.Fatal(err)
	}
	sv, err := NewString(h, "nested")
	if err != nil {
		t.Fatal(err)
	}
	name := StringValue(sv)
	if err := ObjectPut(h, b, "name", name); err != nil {
		t.Fatal(err)
	}
	name.Release()
	if err := ObjectPut(h, b, "n", NumberValue(3)); err != nil {
		t.Fatal(err)
	}
	bv := ObjectValue(b)
	if err := ObjectPut(h, a, "child", bv); err != nil {
		t.Fatal(err)
	}
	bv.Release()
	// Cycle back to the root.
	av := ObjectValue(a.Clone())
	child, _ := ObjectGetOwn(h, a.Pos(), "child")
	if err := ObjectPut(h, child.ObjPtr(), "parent", av); err != nil {
		t.Fatal(err)
	}
	av.Release()
	child.Release()

	root := ObjectValue(a)
	data, err := EncodeImage(h, root)
	if err != nil {
		t.Fatalf("EncodeImage: %v", err)
	}

	back, err := DecodeImage(h, data)
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	defer back.Release()
	defer root.Release()

	got, ok := ObjectGetOwn(h, back.ObjPtr().Pos(), "child")
	if !ok || got.Kind() != KindObject {
		t.Fatalf("decoded child = %v (ok=%v)", got, ok)
	}
	if class := ObjectClass(h, got.ObjPtr().Pos()); class != "Widget" {
		t.Errorf("decoded child class = %q, want %q", class, "Widget")
	}
	nm, _ := ObjectGetOwn(h, got.ObjPtr().Pos(), "name")
	if nm.Kind() != KindString || nm.Str() != "nested" {
		t.Errorf("decoded child name = %v, want \"nested\"", nm)
	}
	parent, _ := ObjectGetOwn(h, got.ObjPtr().Pos(), "parent")
	if parent.Kind() != KindObject || parent.ObjPtr().Pos() != back.ObjPtr().Pos() {
		t.Errorf("decoded cycle broken: parent = %v", parent)
	}
	parent.Release()
	nm.Release()
	got.Release()
}

func TestImageDeterministic(t *testing.T) {
	h := NewHeap(1 << 12)
	defer h.Close()

	obj, err := NewObject(h, "Object", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ObjectPut(h, obj, "a", NumberValue(1)); err != nil {
		t.Fatal(err)
	}
	v := ObjectValue(obj)
	defer v.Release()

	first, err := EncodeImage(h, v)
	if err != nil {
		t.Fatal(err)
	}
	second, err := EncodeImage(h, v)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("canonical encoding differs between runs")
	}
}

func TestImageRejectsReference(t *testing.T) {
	h := NewHeap(256)
	defer h.Close()

	base, err := NewObject(h, "Object", nil)
	if err != nil {
		t.Fatal(err)
	}
	nm, err := NewString(h, "p")
	if err != nil {
		t.Fatal(err)
	}
	v := ReferenceValue(base, nm)
	defer v.Release()
	if _, err := EncodeImage(h, v); err == nil {
		t.Error("EncodeImage accepted a reference value")
	}
}
