package memrt

import (
	"fmt"
	"reflect"

	pybind "github.com/gopyforge/pybind/internal"
)

// liveType is one registered extension type. Both registration entry points
// lower onto the same slot-map form, so behavior cannot depend on which
// backend produced the type.
type liveType struct {
	name    string
	doc     string
	flags   pybind.TypeFlags
	slots   map[pybind.SlotID]any
	methods []pybind.MethodDef
	getsets []pybind.GetSetDef
	base    *liveType

	basicSize      uintptr
	dictOffset     uintptr
	weakListOffset uintptr
}

var _ pybind.TypeHandle = (*liveType)(nil)

func (t *liveType) TypeName() string { return t.name }

// slot resolves a protocol hook, walking the base chain the way type readying
// inherits slots.
func (t *liveType) slot(id pybind.SlotID) (any, bool) {
	for c := t; c != nil; c = c.base {
		if v, ok := c.slots[id]; ok {
			return v, true
		}
	}
	return nil, false
}

func (t *liveType) findMethod(name string) (pybind.MethodDef, bool) {
	for c := t; c != nil; c = c.base {
		for _, def := range c.methods {
			if def.Name == name {
				return def, true
			}
		}
	}
	return pybind.MethodDef{}, false
}

func (t *liveType) findGetSet(name string) (pybind.GetSetDef, bool) {
	for c := t; c != nil; c = c.base {
		for _, def := range c.getsets {
			if def.Name == name {
				return def, true
			}
		}
	}
	return pybind.GetSetDef{}, false
}

func (t *liveType) extends(other *liveType) bool {
	for c := t; c != nil; c = c.base {
		if c == other {
			return true
		}
	}
	return false
}

// ReadyType registers a classic fixed-layout descriptor by lifting it into
// the slot-map form.
func (rt *Runtime) ReadyType(td *pybind.TypeDescriptor) (pybind.TypeHandle, error) {
	if td.Name == "" {
		return nil, fmt.Errorf("type descriptor has no name")
	}
	t := &liveType{
		name:           td.Name,
		doc:            td.Doc,
		flags:          td.Flags,
		slots:          map[pybind.SlotID]any{},
		methods:        td.Methods,
		getsets:        td.GetSets,
		basicSize:      td.BasicSize,
		dictOffset:     td.DictOffset,
		weakListOffset: td.WeakListOffset,
	}
	if td.Base != nil {
		base, ok := td.Base.(*liveType)
		if !ok {
			return nil, fmt.Errorf("type %s: foreign base handle %T", td.Name, td.Base)
		}
		t.base = base
	}

	put := func(id pybind.SlotID, v any) {
		if v != nil && !reflect.ValueOf(v).IsNil() {
			t.slots[id] = v
		}
	}
	put(pybind.SlotNew, td.New)
	put(pybind.SlotInit, td.Init)
	put(pybind.SlotDealloc, td.Dealloc)
	put(pybind.SlotRepr, td.Repr)
	put(pybind.SlotStr, td.Str)
	put(pybind.SlotHash, td.Hash)
	put(pybind.SlotCall, td.Call)
	put(pybind.SlotGetAttr, td.GetAttr)
	put(pybind.SlotSetAttr, td.SetAttr)
	put(pybind.SlotRichCompare, td.RichCompare)
	put(pybind.SlotIter, td.Iter)
	put(pybind.SlotIterNext, td.IterNext)
	put(pybind.SlotDescrGet, td.DescrGet)
	put(pybind.SlotDescrSet, td.DescrSet)
	put(pybind.SlotTraverse, td.Traverse)
	put(pybind.SlotClear, td.Clear)

	if n := td.Number; n != nil {
		put(pybind.SlotNumberAdd, n.Add)
		put(pybind.SlotNumberSubtract, n.Subtract)
		put(pybind.SlotNumberMultiply, n.Multiply)
		put(pybind.SlotNumberRemainder, n.Remainder)
		put(pybind.SlotNumberDivmod, n.Divmod)
		put(pybind.SlotNumberPower, n.Power)
		put(pybind.SlotNumberNegative, n.Negative)
		put(pybind.SlotNumberPositive, n.Positive)
		put(pybind.SlotNumberAbsolute, n.Absolute)
		put(pybind.SlotNumberBool, n.Bool)
		put(pybind.SlotNumberInvert, n.Invert)
		put(pybind.SlotNumberLshift, n.Lshift)
		put(pybind.SlotNumberRshift, n.Rshift)
		put(pybind.SlotNumberAnd, n.And)
		put(pybind.SlotNumberXor, n.Xor)
		put(pybind.SlotNumberOr, n.Or)
		put(pybind.SlotNumberInt, n.Int)
		put(pybind.SlotNumberFloat, n.Float)
		put(pybind.SlotNumberIndex, n.Index)
		put(pybind.SlotNumberFloorDivide, n.FloorDivide)
		put(pybind.SlotNumberTrueDivide, n.TrueDivide)
		put(pybind.SlotNumberMatrixMultiply, n.MatrixMultiply)
		put(pybind.SlotNumberInplaceAdd, n.InplaceAdd)
		put(pybind.SlotNumberInplaceSubtract, n.InplaceSubtract)
		put(pybind.SlotNumberInplaceMultiply, n.InplaceMultiply)
		put(pybind.SlotNumberInplaceRemainder, n.InplaceRemainder)
		put(pybind.SlotNumberInplacePower, n.InplacePower)
		put(pybind.SlotNumberInplaceLshift, n.InplaceLshift)
		put(pybind.SlotNumberInplaceRshift, n.InplaceRshift)
		put(pybind.SlotNumberInplaceAnd, n.InplaceAnd)
		put(pybind.SlotNumberInplaceXor, n.InplaceXor)
		put(pybind.SlotNumberInplaceOr, n.InplaceOr)
		put(pybind.SlotNumberInplaceFloorDivide, n.InplaceFloorDivide)
		put(pybind.SlotNumberInplaceTrueDivide, n.InplaceTrueDivide)
		put(pybind.SlotNumberInplaceMatrixMultiply, n.InplaceMatrixMultiply)
	}
	if s := td.Sequence; s != nil {
		put(pybind.SlotSequenceLength, s.Length)
		put(pybind.SlotSequenceConcat, s.Concat)
		put(pybind.SlotSequenceRepeat, s.Repeat)
		put(pybind.SlotSequenceItem, s.Item)
		put(pybind.SlotSequenceAssignItem, s.AssignItem)
		put(pybind.SlotSequenceContains, s.Contains)
		put(pybind.SlotSequenceInplaceConcat, s.InplaceConcat)
		put(pybind.SlotSequenceInplaceRepeat, s.InplaceRepeat)
	}
	if m := td.Mapping; m != nil {
		put(pybind.SlotMappingLength, m.Length)
		put(pybind.SlotMappingSubscript, m.Subscript)
		put(pybind.SlotMappingAssignSubscript, m.AssignSubscript)
	}

	rt.types[t.name] = t
	return t, nil
}

// TypeFromSpec registers a stable-backend slot array. The array must end with
// exactly one sentinel entry.
func (rt *Runtime) TypeFromSpec(spec *pybind.TypeSpec) (pybind.TypeHandle, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("type spec has no name")
	}
	if len(spec.Slots) == 0 || spec.Slots[len(spec.Slots)-1].ID != pybind.SlotSentinel {
		return nil, fmt.Errorf("type spec %s: slot array is not sentinel-terminated", spec.Name)
	}
	t := &liveType{
		name:           spec.Name,
		flags:          spec.Flags,
		slots:          map[pybind.SlotID]any{},
		basicSize:      spec.BasicSize,
		dictOffset:     spec.DictOffset,
		weakListOffset: spec.WeakListOffset,
	}
	for _, s := range spec.Slots[:len(spec.Slots)-1] {
		switch s.ID {
		case pybind.SlotSentinel:
			return nil, fmt.Errorf("type spec %s: sentinel before end of slot array", spec.Name)
		case pybind.SlotMethods:
			t.methods = s.Value.([]pybind.MethodDef)
		case pybind.SlotGetSets:
			t.getsets = s.Value.([]pybind.GetSetDef)
		case pybind.SlotBase:
			base, ok := s.Value.(*liveType)
			if !ok {
				return nil, fmt.Errorf("type spec %s: foreign base handle %T", spec.Name, s.Value)
			}
			t.base = base
		case pybind.SlotDoc:
			t.doc = s.Value.(string)
		default:
			t.slots[s.ID] = s.Value
		}
	}
	rt.types[t.name] = t
	return t, nil
}

// TypeOf resolves the live type of an engine-made instance.
func (rt *Runtime) TypeOf(o pybind.Object) (pybind.TypeHandle, bool) {
	t, ok := rt.typeOf(o)
	if !ok {
		return nil, false
	}
	return t, true
}

func (rt *Runtime) typeOf(o pybind.Object) (*liveType, bool) {
	inst, ok := o.(*pybind.Instance)
	if !ok {
		return nil, false
	}
	t, ok := rt.types[inst.Class()]
	return t, ok
}

// IsInstance reports whether o is an instance of t or of a type extending it.
func (rt *Runtime) IsInstance(o pybind.Object, th pybind.TypeHandle) bool {
	t, ok := rt.typeOf(o)
	if !ok {
		return false
	}
	target, ok := th.(*liveType)
	if !ok {
		return false
	}
	return t.extends(target)
}
