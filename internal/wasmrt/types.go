package wasmrt

import (
	"fmt"

	pybind "github.com/gopyforge/pybind/internal"
)

// Type registration. Both ABI entry points lower onto one shim call: the
// guest builds a heap type whose slot trampolines carry the dispatch token
// back to the host. The classic descriptor is lifted to the slot-map form
// first, so a classic and a stable registration of the same class produce
// byte-identical guest types.

func (rt *Runtime) ReadyType(td *pybind.TypeDescriptor) (pybind.TypeHandle, error) {
	reg := &registeredType{
		name:    td.Name,
		slots:   liftDescriptorSlots(td),
		methods: td.Methods,
		getsets: td.GetSets,
	}
	return rt.registerGuestType(reg, td.Flags, td.BasicSize, td.Base, td.Doc, td.DictOffset, td.WeakListOffset)
}

func (rt *Runtime) TypeFromSpec(spec *pybind.TypeSpec) (pybind.TypeHandle, error) {
	if len(spec.Slots) == 0 || spec.Slots[len(spec.Slots)-1].ID != pybind.SlotSentinel {
		return nil, fmt.Errorf("type spec %s: slot array is not sentinel-terminated", spec.Name)
	}
	reg := &registeredType{
		name:  spec.Name,
		slots: map[pybind.SlotID]any{},
	}
	var base pybind.TypeHandle
	doc := ""
	for _, s := range spec.Slots[:len(spec.Slots)-1] {
		switch s.ID {
		case pybind.SlotMethods:
			reg.methods = s.Value.([]pybind.MethodDef)
		case pybind.SlotGetSets:
			reg.getsets = s.Value.([]pybind.GetSetDef)
		case pybind.SlotBase:
			base = s.Value.(pybind.TypeHandle)
		case pybind.SlotDoc:
			doc = s.Value.(string)
		default:
			reg.slots[s.ID] = s.Value
		}
	}
	return rt.registerGuestType(reg, spec.Flags, spec.BasicSize, base, doc, spec.DictOffset, spec.WeakListOffset)
}

func (rt *Runtime) registerGuestType(reg *registeredType, flags pybind.TypeFlags, basicSize uintptr, base pybind.TypeHandle, doc string, dictOff, weakOff uintptr) (pybind.TypeHandle, error) {
	rt.nextToken++
	token := rt.nextToken
	rt.typeTokens[token] = reg

	var basePtr uint32
	if base != nil {
		gt, ok := base.(*guestType)
		if !ok {
			return nil, fmt.Errorf("type %s: foreign base handle %T", reg.name, base)
		}
		basePtr = gt.ptr
	}

	// Wire format: the slot-id array tells the shim which trampolines to
	// install; everything else dispatches through the token.
	slotIDs := make([]byte, 0, len(reg.slots)*4)
	for id := range reg.slots {
		slotIDs = append(slotIDs,
			byte(id), byte(id>>8), byte(id>>16), byte(id>>24))
	}

	namePtr := rt.alloc([]byte(reg.name))
	defer rt.freeGuest(namePtr)
	docPtr := uint32(0)
	if doc != "" {
		docPtr = rt.alloc(append([]byte(doc), 0))
		defer rt.freeGuest(docPtr)
	}
	idsPtr := rt.alloc(slotIDs)
	defer rt.freeGuest(idsPtr)

	typePtr := uint32(rt.call1("pybind_register_type",
		uint64(namePtr), uint64(len(reg.name)),
		uint64(flags), uint64(basicSize),
		uint64(idsPtr), uint64(len(reg.slots)),
		uint64(basePtr), uint64(docPtr),
		uint64(dictOff), uint64(weakOff),
		uint64(token)))
	if typePtr == 0 {
		delete(rt.typeTokens, token)
		return nil, fmt.Errorf("could not register type %s: %w", reg.name, rt.pendingAsError())
	}

	for i, def := range reg.methods {
		namePtr := rt.alloc([]byte(def.Name))
		r := int32(rt.call1("pybind_register_method",
			uint64(typePtr), uint64(namePtr), uint64(len(def.Name)),
			uint64(def.Flags), uint64(token), uint64(i)))
		rt.freeGuest(namePtr)
		if r != 0 {
			return nil, fmt.Errorf("could not register method %s.%s: %w", reg.name, def.Name, rt.pendingAsError())
		}
	}
	for i, def := range reg.getsets {
		namePtr := rt.alloc([]byte(def.Name))
		writable := uint64(0)
		if def.Set != nil {
			writable = 1
		}
		r := int32(rt.call1("pybind_register_getset",
			uint64(typePtr), uint64(namePtr), uint64(len(def.Name)),
			writable, uint64(token), uint64(i)))
		rt.freeGuest(namePtr)
		if r != 0 {
			return nil, fmt.Errorf("could not register attribute %s.%s: %w", reg.name, def.Name, rt.pendingAsError())
		}
	}

	reg.guest = &guestType{guestObject: guestObject{ptr: typePtr}, name: reg.name}
	return reg.guest, nil
}

// liftDescriptorSlots flattens a classic descriptor into the slot-map form.
func liftDescriptorSlots(td *pybind.TypeDescriptor) map[pybind.SlotID]any {
	slots := map[pybind.SlotID]any{}
	put := func(id pybind.SlotID, v any, present bool) {
		if present {
			slots[id] = v
		}
	}
	put(pybind.SlotNew, td.New, td.New != nil)
	put(pybind.SlotInit, td.Init, td.Init != nil)
	put(pybind.SlotDealloc, td.Dealloc, td.Dealloc != nil)
	put(pybind.SlotRepr, td.Repr, td.Repr != nil)
	put(pybind.SlotStr, td.Str, td.Str != nil)
	put(pybind.SlotHash, td.Hash, td.Hash != nil)
	put(pybind.SlotCall, td.Call, td.Call != nil)
	put(pybind.SlotGetAttr, td.GetAttr, td.GetAttr != nil)
	put(pybind.SlotSetAttr, td.SetAttr, td.SetAttr != nil)
	put(pybind.SlotRichCompare, td.RichCompare, td.RichCompare != nil)
	put(pybind.SlotIter, td.Iter, td.Iter != nil)
	put(pybind.SlotIterNext, td.IterNext, td.IterNext != nil)
	put(pybind.SlotDescrGet, td.DescrGet, td.DescrGet != nil)
	put(pybind.SlotDescrSet, td.DescrSet, td.DescrSet != nil)
	put(pybind.SlotTraverse, td.Traverse, td.Traverse != nil)
	put(pybind.SlotClear, td.Clear, td.Clear != nil)

	if n := td.Number; n != nil {
		put(pybind.SlotNumberAdd, n.Add, n.Add != nil)
		put(pybind.SlotNumberSubtract, n.Subtract, n.Subtract != nil)
		put(pybind.SlotNumberMultiply, n.Multiply, n.Multiply != nil)
		put(pybind.SlotNumberRemainder, n.Remainder, n.Remainder != nil)
		put(pybind.SlotNumberDivmod, n.Divmod, n.Divmod != nil)
		put(pybind.SlotNumberPower, n.Power, n.Power != nil)
		put(pybind.SlotNumberNegative, n.Negative, n.Negative != nil)
		put(pybind.SlotNumberPositive, n.Positive, n.Positive != nil)
		put(pybind.SlotNumberAbsolute, n.Absolute, n.Absolute != nil)
		put(pybind.SlotNumberBool, n.Bool, n.Bool != nil)
		put(pybind.SlotNumberInvert, n.Invert, n.Invert != nil)
		put(pybind.SlotNumberLshift, n.Lshift, n.Lshift != nil)
		put(pybind.SlotNumberRshift, n.Rshift, n.Rshift != nil)
		put(pybind.SlotNumberAnd, n.And, n.And != nil)
		put(pybind.SlotNumberXor, n.Xor, n.Xor != nil)
		put(pybind.SlotNumberOr, n.Or, n.Or != nil)
		put(pybind.SlotNumberInt, n.Int, n.Int != nil)
		put(pybind.SlotNumberFloat, n.Float, n.Float != nil)
		put(pybind.SlotNumberIndex, n.Index, n.Index != nil)
		put(pybind.SlotNumberFloorDivide, n.FloorDivide, n.FloorDivide != nil)
		put(pybind.SlotNumberTrueDivide, n.TrueDivide, n.TrueDivide != nil)
		put(pybind.SlotNumberMatrixMultiply, n.MatrixMultiply, n.MatrixMultiply != nil)
		put(pybind.SlotNumberInplaceAdd, n.InplaceAdd, n.InplaceAdd != nil)
		put(pybind.SlotNumberInplaceSubtract, n.InplaceSubtract, n.InplaceSubtract != nil)
		put(pybind.SlotNumberInplaceMultiply, n.InplaceMultiply, n.InplaceMultiply != nil)
		put(pybind.SlotNumberInplaceRemainder, n.InplaceRemainder, n.InplaceRemainder != nil)
		put(pybind.SlotNumberInplacePower, n.InplacePower, n.InplacePower != nil)
		put(pybind.SlotNumberInplaceLshift, n.InplaceLshift, n.InplaceLshift != nil)
		put(pybind.SlotNumberInplaceRshift, n.InplaceRshift, n.InplaceRshift != nil)
		put(pybind.SlotNumberInplaceAnd, n.InplaceAnd, n.InplaceAnd != nil)
		put(pybind.SlotNumberInplaceXor, n.InplaceXor, n.InplaceXor != nil)
		put(pybind.SlotNumberInplaceOr, n.InplaceOr, n.InplaceOr != nil)
		put(pybind.SlotNumberInplaceFloorDivide, n.InplaceFloorDivide, n.InplaceFloorDivide != nil)
		put(pybind.SlotNumberInplaceTrueDivide, n.InplaceTrueDivide, n.InplaceTrueDivide != nil)
		put(pybind.SlotNumberInplaceMatrixMultiply, n.InplaceMatrixMultiply, n.InplaceMatrixMultiply != nil)
	}
	if s := td.Sequence; s != nil {
		put(pybind.SlotSequenceLength, s.Length, s.Length != nil)
		put(pybind.SlotSequenceConcat, s.Concat, s.Concat != nil)
		put(pybind.SlotSequenceRepeat, s.Repeat, s.Repeat != nil)
		put(pybind.SlotSequenceItem, s.Item, s.Item != nil)
		put(pybind.SlotSequenceAssignItem, s.AssignItem, s.AssignItem != nil)
		put(pybind.SlotSequenceContains, s.Contains, s.Contains != nil)
		put(pybind.SlotSequenceInplaceConcat, s.InplaceConcat, s.InplaceConcat != nil)
		put(pybind.SlotSequenceInplaceRepeat, s.InplaceRepeat, s.InplaceRepeat != nil)
	}
	if m := td.Mapping; m != nil {
		put(pybind.SlotMappingLength, m.Length, m.Length != nil)
		put(pybind.SlotMappingSubscript, m.Subscript, m.Subscript != nil)
		put(pybind.SlotMappingAssignSubscript, m.AssignSubscript, m.AssignSubscript != nil)
	}
	return slots
}
