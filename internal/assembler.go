package pybind

import (
	"fmt"
	"unsafe"
)

// The assembler runs every slot generator for one class and records the
// result as backend-neutral slot IR. Both emitters read the same IR: the
// classic one scatters it into a fixed-layout descriptor, the stable one lays
// it out as a sentinel-terminated array. Assembly happens once per class and
// is runtime-agnostic; only emission sees the live base-type handle.

func (e *Engine) assembleClass(ci *classInfo) error {
	if ci.assembled {
		return nil
	}
	if ci.base != nil {
		if err := e.assembleClass(ci.base); err != nil {
			return err
		}
	}
	ci.assembled = true

	if err := e.classify(ci); err != nil {
		return err
	}

	if ci.opts.poolSize > 0 &&
		!ci.opts.withDict && !ci.opts.withWeakrefs &&
		ci.base == nil && len(ci.derived) == 0 {
		ci.pool = newFreelist(ci.opts.poolSize)
	}

	put := func(id SlotID, v any) {
		ci.slots = append(ci.slots, TypeSlot{ID: id, Value: v})
	}

	put(SlotNew, e.buildNew(ci))
	init, err := e.buildInit(ci)
	if err != nil {
		return err
	}
	put(SlotInit, init)
	ci.deallocFn = e.buildDealloc(ci)
	put(SlotDealloc, ci.deallocFn)

	repr, err := e.buildReprSlot(ci)
	if err != nil {
		return err
	}
	put(SlotRepr, repr)
	str, err := e.buildStrSlot(ci)
	if err != nil {
		return err
	}
	if str != nil {
		put(SlotStr, str)
	}

	hash, err := e.buildHashSlot(ci)
	if err != nil {
		return err
	}
	_, eqDeclared := ci.decls.dunder("Eq")
	switch {
	case hash != nil:
		put(SlotHash, hash)
	case eqDeclared:
		// Equality without a matching hash makes instances unhashable, the
		// same way defining __eq__ clears __hash__.
		put(SlotHash, unhashable(ci))
	}

	call, err := e.buildCallSlot(ci)
	if err != nil {
		return err
	}
	if call != nil {
		put(SlotCall, call)
	}

	getattr, err := e.buildGetAttrSlot(ci)
	if err != nil {
		return err
	}
	if getattr != nil {
		put(SlotGetAttr, getattr)
	}
	setattr, err := e.buildSetAttrSlot(ci)
	if err != nil {
		return err
	}
	if setattr != nil {
		put(SlotSetAttr, setattr)
	}

	richcmp, err := e.buildRichCompare(ci)
	if err != nil {
		return err
	}
	if richcmp != nil {
		put(SlotRichCompare, richcmp)
	}

	iter, err := e.buildIterSlot(ci)
	if err != nil {
		return err
	}
	if iter != nil {
		put(SlotIter, iter)
	}
	next, err := e.buildIterNextSlot(ci)
	if err != nil {
		return err
	}
	if next != nil {
		put(SlotIterNext, next)
	}

	descrGet, err := e.buildDescrGetSlot(ci)
	if err != nil {
		return err
	}
	if descrGet != nil {
		put(SlotDescrGet, descrGet)
	}
	descrSet, err := e.buildDescrSetSlot(ci)
	if err != nil {
		return err
	}
	if descrSet != nil {
		put(SlotDescrSet, descrSet)
	}

	number, err := e.buildNumberMethods(ci)
	if err != nil {
		return err
	}
	if number != nil {
		putNumberSlots(put, number)
	}

	seq, mapping, err := e.buildContainerMethods(ci)
	if err != nil {
		return err
	}
	if seq != nil {
		putSequenceSlots(put, seq)
	}
	if mapping != nil {
		putMappingSlots(put, mapping)
	}

	if len(ci.objectFields) > 0 || ci.opts.withDict {
		put(SlotTraverse, e.buildTraverse(ci))
		put(SlotClear, e.buildClear(ci))
	}

	methods, err := e.buildMethodDefs(ci)
	if err != nil {
		return err
	}
	ci.methods = methods

	getsets, err := e.buildGetSetDefs(ci)
	if err != nil {
		return err
	}
	ci.getsets = getsets

	return nil
}

func unhashable(ci *classInfo) HashFunc {
	return func(rt Runtime, self Object) (uint64, bool) {
		rt.Raise(ErrType, fmt.Sprintf("unhashable type: %q", ci.name))
		return 0, false
	}
}

// Cycle support. Only fields holding runtime objects and the optional
// instance dict can participate in reference cycles; everything else in the
// native payload is plain Go data.

func (e *Engine) buildTraverse(ci *classInfo) TraverseFunc {
	return func(rt Runtime, self Object, visit VisitFunc) bool {
		inst, ok := self.(*Instance)
		if !ok {
			return true
		}
		for _, f := range ci.objectFields {
			held, ok := inst.native.Elem().FieldByIndex(f.index).Interface().(Object)
			if ok && held != nil {
				if !visit(held) {
					return false
				}
			}
		}
		if inst.dict != nil {
			return visit(inst.dict)
		}
		return true
	}
}

func (e *Engine) buildClear(ci *classInfo) ClearFunc {
	return func(rt Runtime, self Object) bool {
		inst, ok := self.(*Instance)
		if !ok {
			return true
		}
		for _, f := range ci.objectFields {
			target := inst.native.Elem().FieldByIndex(f.index)
			if held, ok := target.Interface().(Object); ok && held != nil {
				rt.DecRef(held)
				target.SetZero()
			}
		}
		if inst.dict != nil {
			rt.DecRef(inst.dict)
			inst.dict = nil
		}
		return true
	}
}

const ptrSize = unsafe.Sizeof(uintptr(0))

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// instanceLayout computes the declared envelope sizes: the native payload,
// followed by the optional dict and weakref pointer slots.
func instanceLayout(ci *classInfo) (basic, dictOff, weakOff uintptr) {
	basic = alignUp(ci.typ.Size(), ptrSize)
	if ci.opts.withDict {
		dictOff = basic
		basic += ptrSize
	}
	if ci.opts.withWeakrefs {
		weakOff = basic
		basic += ptrSize
	}
	return basic, dictOff, weakOff
}

func (ci *classInfo) typeFlags() TypeFlags {
	flags := FlagDefault | FlagBaseType
	if len(ci.objectFields) > 0 || ci.opts.withDict {
		flags |= FlagHaveGC
	}
	if ci.opts.frozen {
		flags |= FlagImmutable
	}
	return flags
}

// emitDescriptor lowers the slot IR into the classic fixed-layout descriptor.
func (e *Engine) emitDescriptor(ci *classInfo, base TypeHandle) *TypeDescriptor {
	basic, dictOff, weakOff := instanceLayout(ci)
	td := &TypeDescriptor{
		Name:           ci.name,
		Doc:            ci.doc,
		BasicSize:      basic,
		Flags:          ci.typeFlags(),
		Methods:        ci.methods,
		GetSets:        ci.getsets,
		Base:           base,
		DictOffset:     dictOff,
		WeakListOffset: weakOff,
	}

	number := func() *NumberMethods {
		if td.Number == nil {
			td.Number = &NumberMethods{}
		}
		return td.Number
	}
	sequence := func() *SequenceMethods {
		if td.Sequence == nil {
			td.Sequence = &SequenceMethods{}
		}
		return td.Sequence
	}
	mapping := func() *MappingMethods {
		if td.Mapping == nil {
			td.Mapping = &MappingMethods{}
		}
		return td.Mapping
	}

	for _, s := range ci.slots {
		switch s.ID {
		case SlotNew:
			td.New = s.Value.(NewFunc)
		case SlotInit:
			td.Init = s.Value.(InitFunc)
		case SlotDealloc:
			td.Dealloc = s.Value.(DeallocFunc)
		case SlotRepr:
			td.Repr = s.Value.(UnaryFunc)
		case SlotStr:
			td.Str = s.Value.(UnaryFunc)
		case SlotHash:
			td.Hash = s.Value.(HashFunc)
		case SlotCall:
			td.Call = s.Value.(CallFunc)
		case SlotGetAttr:
			td.GetAttr = s.Value.(GetAttrFunc)
		case SlotSetAttr:
			td.SetAttr = s.Value.(SetAttrFunc)
		case SlotRichCompare:
			td.RichCompare = s.Value.(RichCmpFunc)
		case SlotIter:
			td.Iter = s.Value.(UnaryFunc)
		case SlotIterNext:
			td.IterNext = s.Value.(UnaryFunc)
		case SlotDescrGet:
			td.DescrGet = s.Value.(DescrGetFunc)
		case SlotDescrSet:
			td.DescrSet = s.Value.(DescrSetFunc)
		case SlotTraverse:
			td.Traverse = s.Value.(TraverseFunc)
		case SlotClear:
			td.Clear = s.Value.(ClearFunc)

		case SlotNumberAdd:
			number().Add = s.Value.(BinaryFunc)
		case SlotNumberSubtract:
			number().Subtract = s.Value.(BinaryFunc)
		case SlotNumberMultiply:
			number().Multiply = s.Value.(BinaryFunc)
		case SlotNumberRemainder:
			number().Remainder = s.Value.(BinaryFunc)
		case SlotNumberDivmod:
			number().Divmod = s.Value.(BinaryFunc)
		case SlotNumberPower:
			number().Power = s.Value.(TernaryFunc)
		case SlotNumberNegative:
			number().Negative = s.Value.(UnaryFunc)
		case SlotNumberPositive:
			number().Positive = s.Value.(UnaryFunc)
		case SlotNumberAbsolute:
			number().Absolute = s.Value.(UnaryFunc)
		case SlotNumberBool:
			number().Bool = s.Value.(InquiryFunc)
		case SlotNumberInvert:
			number().Invert = s.Value.(UnaryFunc)
		case SlotNumberLshift:
			number().Lshift = s.Value.(BinaryFunc)
		case SlotNumberRshift:
			number().Rshift = s.Value.(BinaryFunc)
		case SlotNumberAnd:
			number().And = s.Value.(BinaryFunc)
		case SlotNumberXor:
			number().Xor = s.Value.(BinaryFunc)
		case SlotNumberOr:
			number().Or = s.Value.(BinaryFunc)
		case SlotNumberInt:
			number().Int = s.Value.(UnaryFunc)
		case SlotNumberFloat:
			number().Float = s.Value.(UnaryFunc)
		case SlotNumberIndex:
			number().Index = s.Value.(UnaryFunc)
		case SlotNumberFloorDivide:
			number().FloorDivide = s.Value.(BinaryFunc)
		case SlotNumberTrueDivide:
			number().TrueDivide = s.Value.(BinaryFunc)
		case SlotNumberMatrixMultiply:
			number().MatrixMultiply = s.Value.(BinaryFunc)
		case SlotNumberInplaceAdd:
			number().InplaceAdd = s.Value.(BinaryFunc)
		case SlotNumberInplaceSubtract:
			number().InplaceSubtract = s.Value.(BinaryFunc)
		case SlotNumberInplaceMultiply:
			number().InplaceMultiply = s.Value.(BinaryFunc)
		case SlotNumberInplaceRemainder:
			number().InplaceRemainder = s.Value.(BinaryFunc)
		case SlotNumberInplacePower:
			number().InplacePower = s.Value.(TernaryFunc)
		case SlotNumberInplaceLshift:
			number().InplaceLshift = s.Value.(BinaryFunc)
		case SlotNumberInplaceRshift:
			number().InplaceRshift = s.Value.(BinaryFunc)
		case SlotNumberInplaceAnd:
			number().InplaceAnd = s.Value.(BinaryFunc)
		case SlotNumberInplaceXor:
			number().InplaceXor = s.Value.(BinaryFunc)
		case SlotNumberInplaceOr:
			number().InplaceOr = s.Value.(BinaryFunc)
		case SlotNumberInplaceFloorDivide:
			number().InplaceFloorDivide = s.Value.(BinaryFunc)
		case SlotNumberInplaceTrueDivide:
			number().InplaceTrueDivide = s.Value.(BinaryFunc)
		case SlotNumberInplaceMatrixMultiply:
			number().InplaceMatrixMultiply = s.Value.(BinaryFunc)

		case SlotSequenceLength:
			sequence().Length = s.Value.(LenFunc)
		case SlotSequenceConcat:
			sequence().Concat = s.Value.(BinaryFunc)
		case SlotSequenceRepeat:
			sequence().Repeat = s.Value.(IndexArgFunc)
		case SlotSequenceItem:
			sequence().Item = s.Value.(IndexArgFunc)
		case SlotSequenceAssignItem:
			sequence().AssignItem = s.Value.(IndexSetFunc)
		case SlotSequenceContains:
			sequence().Contains = s.Value.(ContainsFunc)
		case SlotSequenceInplaceConcat:
			sequence().InplaceConcat = s.Value.(BinaryFunc)
		case SlotSequenceInplaceRepeat:
			sequence().InplaceRepeat = s.Value.(IndexArgFunc)

		case SlotMappingLength:
			mapping().Length = s.Value.(LenFunc)
		case SlotMappingSubscript:
			mapping().Subscript = s.Value.(BinaryFunc)
		case SlotMappingAssignSubscript:
			mapping().AssignSubscript = s.Value.(SubscriptSetFunc)
		}
	}

	return td
}

// emitSpec lowers the slot IR into the stable backend's sentinel-terminated
// array. The array is filled in two passes so its length is exact.
func (e *Engine) emitSpec(ci *classInfo, base TypeHandle) *TypeSpec {
	basic, dictOff, weakOff := instanceLayout(ci)

	count := len(ci.slots)
	if len(ci.methods) > 0 {
		count++
	}
	if len(ci.getsets) > 0 {
		count++
	}
	if base != nil {
		count++
	}
	if ci.doc != "" {
		count++
	}

	spec := &TypeSpec{
		Name:           ci.name,
		BasicSize:      basic,
		Flags:          ci.typeFlags() | FlagHeapType,
		Slots:          make([]TypeSlot, 0, count+1),
		DictOffset:     dictOff,
		WeakListOffset: weakOff,
	}

	spec.Slots = append(spec.Slots, ci.slots...)
	if len(ci.methods) > 0 {
		spec.Slots = append(spec.Slots, TypeSlot{ID: SlotMethods, Value: ci.methods})
	}
	if len(ci.getsets) > 0 {
		spec.Slots = append(spec.Slots, TypeSlot{ID: SlotGetSets, Value: ci.getsets})
	}
	if base != nil {
		spec.Slots = append(spec.Slots, TypeSlot{ID: SlotBase, Value: base})
	}
	if ci.doc != "" {
		spec.Slots = append(spec.Slots, TypeSlot{ID: SlotDoc, Value: ci.doc})
	}
	spec.Slots = append(spec.Slots, TypeSlot{ID: SlotSentinel})

	return spec
}

// putNumberSlots flattens a NumberMethods table into slot IR entries.
func putNumberSlots(put func(SlotID, any), n *NumberMethods) {
	if n.Add != nil {
		put(SlotNumberAdd, n.Add)
	}
	if n.Subtract != nil {
		put(SlotNumberSubtract, n.Subtract)
	}
	if n.Multiply != nil {
		put(SlotNumberMultiply, n.Multiply)
	}
	if n.Remainder != nil {
		put(SlotNumberRemainder, n.Remainder)
	}
	if n.Divmod != nil {
		put(SlotNumberDivmod, n.Divmod)
	}
	if n.Power != nil {
		put(SlotNumberPower, n.Power)
	}
	if n.Negative != nil {
		put(SlotNumberNegative, n.Negative)
	}
	if n.Positive != nil {
		put(SlotNumberPositive, n.Positive)
	}
	if n.Absolute != nil {
		put(SlotNumberAbsolute, n.Absolute)
	}
	if n.Bool != nil {
		put(SlotNumberBool, n.Bool)
	}
	if n.Invert != nil {
		put(SlotNumberInvert, n.Invert)
	}
	if n.Lshift != nil {
		put(SlotNumberLshift, n.Lshift)
	}
	if n.Rshift != nil {
		put(SlotNumberRshift, n.Rshift)
	}
	if n.And != nil {
		put(SlotNumberAnd, n.And)
	}
	if n.Xor != nil {
		put(SlotNumberXor, n.Xor)
	}
	if n.Or != nil {
		put(SlotNumberOr, n.Or)
	}
	if n.Int != nil {
		put(SlotNumberInt, n.Int)
	}
	if n.Float != nil {
		put(SlotNumberFloat, n.Float)
	}
	if n.Index != nil {
		put(SlotNumberIndex, n.Index)
	}
	if n.FloorDivide != nil {
		put(SlotNumberFloorDivide, n.FloorDivide)
	}
	if n.TrueDivide != nil {
		put(SlotNumberTrueDivide, n.TrueDivide)
	}
	if n.MatrixMultiply != nil {
		put(SlotNumberMatrixMultiply, n.MatrixMultiply)
	}
	if n.InplaceAdd != nil {
		put(SlotNumberInplaceAdd, n.InplaceAdd)
	}
	if n.InplaceSubtract != nil {
		put(SlotNumberInplaceSubtract, n.InplaceSubtract)
	}
	if n.InplaceMultiply != nil {
		put(SlotNumberInplaceMultiply, n.InplaceMultiply)
	}
	if n.InplaceRemainder != nil {
		put(SlotNumberInplaceRemainder, n.InplaceRemainder)
	}
	if n.InplacePower != nil {
		put(SlotNumberInplacePower, n.InplacePower)
	}
	if n.InplaceLshift != nil {
		put(SlotNumberInplaceLshift, n.InplaceLshift)
	}
	if n.InplaceRshift != nil {
		put(SlotNumberInplaceRshift, n.InplaceRshift)
	}
	if n.InplaceAnd != nil {
		put(SlotNumberInplaceAnd, n.InplaceAnd)
	}
	if n.InplaceXor != nil {
		put(SlotNumberInplaceXor, n.InplaceXor)
	}
	if n.InplaceOr != nil {
		put(SlotNumberInplaceOr, n.InplaceOr)
	}
	if n.InplaceFloorDivide != nil {
		put(SlotNumberInplaceFloorDivide, n.InplaceFloorDivide)
	}
	if n.InplaceTrueDivide != nil {
		put(SlotNumberInplaceTrueDivide, n.InplaceTrueDivide)
	}
	if n.InplaceMatrixMultiply != nil {
		put(SlotNumberInplaceMatrixMultiply, n.InplaceMatrixMultiply)
	}
}

func putSequenceSlots(put func(SlotID, any), s *SequenceMethods) {
	if s.Length != nil {
		put(SlotSequenceLength, s.Length)
	}
	if s.Concat != nil {
		put(SlotSequenceConcat, s.Concat)
	}
	if s.Repeat != nil {
		put(SlotSequenceRepeat, s.Repeat)
	}
	if s.Item != nil {
		put(SlotSequenceItem, s.Item)
	}
	if s.AssignItem != nil {
		put(SlotSequenceAssignItem, s.AssignItem)
	}
	if s.Contains != nil {
		put(SlotSequenceContains, s.Contains)
	}
	if s.InplaceConcat != nil {
		put(SlotSequenceInplaceConcat, s.InplaceConcat)
	}
	if s.InplaceRepeat != nil {
		put(SlotSequenceInplaceRepeat, s.InplaceRepeat)
	}
}

func putMappingSlots(put func(SlotID, any), m *MappingMethods) {
	if m.Length != nil {
		put(SlotMappingLength, m.Length)
	}
	if m.Subscript != nil {
		put(SlotMappingSubscript, m.Subscript)
	}
	if m.AssignSubscript != nil {
		put(SlotMappingAssignSubscript, m.AssignSubscript)
	}
}
