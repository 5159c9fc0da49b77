package vm

// ---------------------------------------------------------------------------
// Objects: property maps with prototype links, stored in the GC heap
// ---------------------------------------------------------------------------

// TypeObject is the root object type. Payload layout:
//
//	slot 0: class name (string position)
//	slot 1: prototype (object position, 0 for null)
//	slot 2: internal value (packed)
//	slot 3: script function index + 1 (0 when not a function object)
//	slot 4: property array (position, 0 while empty)
var TypeObject = RegisterType(TypeInfo{
	Name:                "object",
	ConvertibleToObject: true,
	Move:                bitMove,
	Fixup: func(h *Heap, pos uint32, old *Heap) {
		slots := h.payload(pos)
		old.fixupPosSlot(&slots[0])
		old.fixupPosSlot(&slots[1])
		old.fixupPackedSlot(&slots[2])
		old.fixupPosSlot(&slots[4])
	},
})

// TypePropArray backs an object's property table. Payload: slot 0 the entry
// count, then entries of three slots each (name position, packed value,
// attribute bits). Capacity is derived from the record size.
var TypePropArray = RegisterType(TypeInfo{
	Name: "proparray",
	Move: bitMove,
	Fixup: func(h *Heap, pos uint32, old *Heap) {
		slots := h.payload(pos)
		n := int(slots[0])
		for i := 0; i < n; i++ {
			old.fixupPosSlot(&slots[1+3*i])
			old.fixupPackedSlot(&slots[1+3*i+1])
		}
	},
})

// Property attributes.
const (
	AttrReadOnly   = 1 << iota // [[Put]] is a no-op
	AttrDontEnum               // skipped by for-in
	AttrDontDelete             // delete returns false
)

const objectSlots = 5

const (
	objSlotClass = iota
	objSlotProto
	objSlotValue
	objSlotFunc
	objSlotProps
)

// NewObject allocates an object with the given class name and prototype
// (nil for a null prototype) and returns a tracked handle.
func NewObject(h *Heap, class string, proto *Ptr) (*Ptr, error) {
	cs, err := NewString(h, class)
	if err != nil {
		return nil, err
	}
	defer cs.Release()
	obj, err := h.AllocateAndConstruct(TypeObject, objectSlots, func(payload []uint64) {
		payload[objSlotClass] = uint64(cs.Pos())
		if proto != nil {
			payload[objSlotProto] = uint64(proto.Pos())
		}
		payload[objSlotValue] = uint64(PackedUndefined)
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// ObjectClass returns the class name of the object at pos.
func ObjectClass(h *Heap, pos uint32) string {
	slots := h.payload(pos)
	return stringText(h, uint32(slots[objSlotClass]))
}

// ObjectPrototype returns a tracked handle to the prototype, or nil.
func ObjectPrototype(h *Heap, pos uint32) *Ptr {
	slots := h.payload(pos)
	if slots[objSlotProto] == 0 {
		return nil
	}
	return h.Track(uint32(slots[objSlotProto]))
}

// ObjectInternalValue unpacks the object's internal value.
func ObjectInternalValue(h *Heap, pos uint32) Value {
	return Packed(h.payload(pos)[objSlotValue]).Unpack(h)
}

// ObjectSetInternalValue packs v into the object's internal value slot.
func ObjectSetInternalValue(h *Heap, obj *Ptr, v Value) error {
	p, err := Pack(h, v)
	if err != nil {
		return err
	}
	obj.Payload()[objSlotValue] = uint64(p)
	return nil
}

// ObjectFuncIndex returns the script function index of a function object,
// or -1 when the object is not a function.
func ObjectFuncIndex(h *Heap, pos uint32) int {
	return int(h.payload(pos)[objSlotFunc]) - 1
}

// ObjectSetFuncIndex marks the object as a script function object.
func ObjectSetFuncIndex(obj *Ptr, idx int) {
	obj.Payload()[objSlotFunc] = uint64(idx + 1)
}

// propEntry locates the own-property entry for name. Returns the entry
// index i (its name sits at payload slot 1+3*i of the property array), or -1.
func propEntry(h *Heap, objPos uint32, name string) int {
	arr := uint32(h.payload(objPos)[objSlotProps])
	if arr == 0 {
		return -1
	}
	slots := h.payload(arr)
	n := int(slots[0])
	for i := 0; i < n; i++ {
		if stringText(h, uint32(slots[1+3*i])) == name {
			return i
		}
	}
	return -1
}

// ObjectGetOwn returns the own property's value, or ok=false.
func ObjectGetOwn(h *Heap, objPos uint32, name string) (Value, bool) {
	i := propEntry(h, objPos, name)
	if i < 0 {
		return Undefined, false
	}
	arr := uint32(h.payload(objPos)[objSlotProps])
	return Packed(h.payload(arr)[1+3*i+1]).Unpack(h), true
}

// ObjectGet implements [[Get]]: the own property, else the prototype
// chain's, else undefined.
func ObjectGet(h *Heap, objPos uint32, name string) Value {
	for pos := objPos; pos != 0; {
		if v, ok := ObjectGetOwn(h, pos, name); ok {
			return v
		}
		pos = uint32(h.payload(pos)[objSlotProto])
	}
	return Undefined
}

// ObjectCanPut implements [[CanPut]]: writable unless a read-only property
// of the same name exists on the object or its prototype chain.
func ObjectCanPut(h *Heap, objPos uint32, name string) bool {
	for pos := objPos; pos != 0; {
		if i := propEntry(h, pos, name); i >= 0 {
			arr := uint32(h.payload(pos)[objSlotProps])
			return h.payload(arr)[1+3*i+2]&AttrReadOnly == 0
		}
		pos = uint32(h.payload(pos)[objSlotProto])
	}
	return true
}

// ObjectHasProperty reports whether name resolves on the object or its
// prototype chain.
func ObjectHasProperty(h *Heap, objPos uint32, name string) bool {
	for pos := objPos; pos != 0; {
		if propEntry(h, pos, name) >= 0 {
			return true
		}
		pos = uint32(h.payload(pos)[objSlotProto])
	}
	return false
}

// ObjectPut implements [[Put]]: a no-op when CanPut fails, otherwise updates
// the own property or creates a fresh one. obj must be a tracked handle
// because creating a property can allocate and collect.
func ObjectPut(h *Heap, obj *Ptr, name string, v Value) error {
	return ObjectPutAttrs(h, obj, name, v, 0)
}

// ObjectPutAttrs is ObjectPut with explicit attributes for newly created
// properties. Attributes of an existing property are left unchanged.
func ObjectPutAttrs(h *Heap, obj *Ptr, name string, v Value, attrs uint64) error {
	if !ObjectCanPut(h, obj.Pos(), name) {
		return nil
	}
	if i := propEntry(h, obj.Pos(), name); i >= 0 {
		p, err := Pack(h, v)
		if err != nil {
			return err
		}
		arr := uint32(obj.Payload()[objSlotProps])
		h.payload(arr)[1+3*i+1] = uint64(p)
		return nil
	}

	if err := ensurePropCapacity(h, obj); err != nil {
		return err
	}
	ns, err := NewString(h, name)
	if err != nil {
		return err
	}
	defer ns.Release()
	p, err := Pack(h, v)
	if err != nil {
		return err
	}
	arr := uint32(obj.Payload()[objSlotProps])
	slots := h.payload(arr)
	n := int(slots[0])
	slots[1+3*n] = uint64(ns.Pos())
	slots[1+3*n+1] = uint64(p)
	slots[1+3*n+2] = attrs
	slots[0] = uint64(n + 1)
	return nil
}

// ObjectDelete implements [[Delete]]: true when the own property is absent
// or was removed, false when it is protected by DontDelete.
func ObjectDelete(h *Heap, objPos uint32, name string) bool {
	i := propEntry(h, objPos, name)
	if i < 0 {
		return true
	}
	arr := uint32(h.payload(objPos)[objSlotProps])
	slots := h.payload(arr)
	if slots[1+3*i+2]&AttrDontDelete != 0 {
		return false
	}
	n := int(slots[0])
	copy(slots[1+3*i:1+3*i+3], slots[1+3*(n-1):1+3*(n-1)+3])
	slots[1+3*(n-1)] = 0
	slots[1+3*(n-1)+1] = 0
	slots[1+3*(n-1)+2] = 0
	slots[0] = uint64(n - 1)
	return true
}

// ObjectPropertyNames returns the enumerable property names visible on the
// object, prototype chain included, shadowed names reported once.
func ObjectPropertyNames(h *Heap, objPos uint32) []string {
	var names []string
	seen := make(map[string]bool)
	for pos := objPos; pos != 0; {
		arr := uint32(h.payload(pos)[objSlotProps])
		if arr != 0 {
			slots := h.payload(arr)
			n := int(slots[0])
			for i := 0; i < n; i++ {
				name := stringText(h, uint32(slots[1+3*i]))
				if seen[name] {
					continue
				}
				seen[name] = true
				if slots[1+3*i+2]&AttrDontEnum == 0 {
					names = append(names, name)
				}
			}
		}
		pos = uint32(h.payload(pos)[objSlotProto])
	}
	return names
}

// ensurePropCapacity grows the property array if it has no free entry.
func ensurePropCapacity(h *Heap, obj *Ptr) error {
	var count, capacity int
	if arr := uint32(obj.Payload()[objSlotProps]); arr != 0 {
		slots := h.payload(arr)
		count = int(slots[0])
		capacity = (len(slots) - 1) / 3
	}
	if count < capacity {
		return nil
	}
	newCap := capacity * 2
	if newCap < 4 {
		newCap = 4
	}
	newArr, err := h.AllocateAndConstruct(TypePropArray, uint32(1+3*newCap), nil)
	if err != nil {
		return err
	}
	defer newArr.Release()
	dst := newArr.Payload()
	if arr := uint32(obj.Payload()[objSlotProps]); arr != 0 {
		src := h.payload(arr)
		copy(dst[:1+3*count], src[:1+3*count])
	}
	obj.Payload()[objSlotProps] = uint64(newArr.Pos())
	return nil
}
