package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Heap images: CBOR snapshots of the reachable object graph
// ---------------------------------------------------------------------------

// cborEncMode uses canonical options for deterministic image bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ImageVersion identifies the snapshot format.
const ImageVersion = 1

// ImageValue is the serialized form of a single value. Objects are encoded
// by 1-based index into the image's object table, which keeps cycles
// representable.
type ImageValue struct {
	Kind string  `cbor:"k"`
	Bool bool    `cbor:"b,omitempty"`
	Num  float64 `cbor:"n,omitempty"`
	Str  string  `cbor:"s,omitempty"`
	Obj  uint32  `cbor:"o,omitempty"`
}

// ImageProp is one serialized property.
type ImageProp struct {
	Name  string     `cbor:"n"`
	Value ImageValue `cbor:"v"`
	Attrs uint64     `cbor:"a,omitempty"`
}

// ImageObject is one serialized object. Proto is a 1-based object index, 0
// for a null prototype.
type ImageObject struct {
	Class string      `cbor:"c"`
	Proto uint32      `cbor:"p,omitempty"`
	Value ImageValue  `cbor:"iv"`
	Props []ImageProp `cbor:"pr,omitempty"`
}

// Image is a self-contained snapshot of everything reachable from a root
// value.
type Image struct {
	Version int           `cbor:"v"`
	Root    ImageValue    `cbor:"r"`
	Objects []ImageObject `cbor:"o,omitempty"`
}

// EncodeImage serializes the object graph reachable from root to canonical
// CBOR. References and native functions are not image-able.
func EncodeImage(h *Heap, root Value) ([]byte, error) {
	enc := &imageEncoder{heap: h, ids: make(map[uint32]uint32)}
	rv, err := enc.value(root)
	if err != nil {
		return nil, err
	}
	img := Image{Version: ImageVersion, Root: rv, Objects: enc.objects}
	data, err := cborEncMode.Marshal(&img)
	if err != nil {
		return nil, fmt.Errorf("vm: marshal image: %w", err)
	}
	return data, nil
}

type imageEncoder struct {
	heap    *Heap
	ids     map[uint32]uint32 // object pos → 1-based id
	objects []ImageObject
}

func (e *imageEncoder) value(v Value) (ImageValue, error) {
	switch v.Kind() {
	case KindUndefined:
		return ImageValue{Kind: "undefined"}, nil
	case KindNull:
		return ImageValue{Kind: "null"}, nil
	case KindBoolean:
		return ImageValue{Kind: "boolean", Bool: v.Bool()}, nil
	case KindNumber:
		return ImageValue{Kind: "number", Num: v.Num()}, nil
	case KindString:
		return ImageValue{Kind: "string", Str: v.Str()}, nil
	case KindObject:
		id, err := e.object(v.ObjPtr().Pos())
		if err != nil {
			return ImageValue{}, err
		}
		return ImageValue{Kind: "object", Obj: id}, nil
	}
	return ImageValue{}, fmt.Errorf("vm: cannot image %s value", v.Kind())
}

func (e *imageEncoder) object(pos uint32) (uint32, error) {
	if id, ok := e.ids[pos]; ok {
		return id, nil
	}
	id := uint32(len(e.objects) + 1)
	e.ids[pos] = id
	e.objects = append(e.objects, ImageObject{})

	h := e.heap
	obj := ImageObject{Class: ObjectClass(h, pos)}

	if protoPos := uint32(h.payload(pos)[objSlotProto]); protoPos != 0 {
		protoID, err := e.object(protoPos)
		if err != nil {
			return 0, err
		}
		obj.Proto = protoID
	}

	inner := ObjectInternalValue(h, pos)
	iv, err := e.value(inner)
	inner.Release()
	if err != nil {
		return 0, err
	}
	obj.Value = iv

	if arr := uint32(h.payload(pos)[objSlotProps]); arr != 0 {
		slots := h.payload(arr)
		n := int(slots[0])
		for i := 0; i < n; i++ {
			name := stringText(h, uint32(slots[1+3*i]))
			pv := Packed(slots[1+3*i+1]).Unpack(h)
			iv, err := e.value(pv)
			pv.Release()
			if err != nil {
				return 0, err
			}
			obj.Props = append(obj.Props, ImageProp{Name: name, Value: iv, Attrs: slots[1+3*i+2]})
		}
	}

	e.objects[id-1] = obj
	return id, nil
}

// DecodeImage rebuilds an image's object graph in h and returns the root
// value.
func DecodeImage(h *Heap, data []byte) (Value, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return Undefined, fmt.Errorf("vm: unmarshal image: %w", err)
	}
	if img.Version != ImageVersion {
		return Undefined, fmt.Errorf("vm: unsupported image version %d", img.Version)
	}

	// First pass: allocate every object so cycles can resolve.
	objs := make([]*Ptr, len(img.Objects))
	release := func() {
		for _, p := range objs {
			if p != nil {
				p.Release()
			}
		}
	}
	for i, io := range img.Objects {
		obj, err := NewObject(h, io.Class, nil)
		if err != nil {
			release()
			return Undefined, err
		}
		objs[i] = obj
	}

	// Second pass: prototypes, internal values, properties.
	dec := &imageDecoder{heap: h, objs: objs}
	for i, io := range img.Objects {
		obj := objs[i]
		if io.Proto != 0 {
			obj.Payload()[objSlotProto] = uint64(objs[io.Proto-1].Pos())
		}
		iv, err := dec.value(io.Value)
		if err != nil {
			release()
			return Undefined, err
		}
		err = ObjectSetInternalValue(h, obj, iv)
		iv.Release()
		if err != nil {
			release()
			return Undefined, err
		}
		for _, prop := range io.Props {
			pv, err := dec.value(prop.Value)
			if err != nil {
				release()
				return Undefined, err
			}
			err = ObjectPutAttrs(h, obj, prop.Name, pv, prop.Attrs)
			pv.Release()
			if err != nil {
				release()
				return Undefined, err
			}
		}
	}

	root, err := dec.value(img.Root)
	release()
	if err != nil {
		return Undefined, err
	}
	return root, nil
}

type imageDecoder struct {
	heap *Heap
	objs []*Ptr
}

func (d *imageDecoder) value(iv ImageValue) (Value, error) {
	switch iv.Kind {
	case "undefined":
		return Undefined, nil
	case "null":
		return Null, nil
	case "boolean":
		return BooleanValue(iv.Bool), nil
	case "number":
		return NumberValue(iv.Num), nil
	case "string":
		s, err := NewString(d.heap, iv.Str)
		if err != nil {
			return Undefined, err
		}
		return StringValue(s), nil
	case "object":
		if iv.Obj == 0 || int(iv.Obj) > len(d.objs) {
			return Undefined, fmt.Errorf("vm: image references unknown object %d", iv.Obj)
		}
		return ObjectValue(d.objs[iv.Obj-1].Clone()), nil
	}
	return Undefined, fmt.Errorf("vm: image value of unknown kind %q", iv.Kind)
}
