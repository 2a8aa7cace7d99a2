package memrt

import (
	"fmt"
	"reflect"

	pybind "github.com/gopyforge/pybind/internal"
)

// Abstract object protocol: the host-side operations tests and embedding code
// drive objects with. Each one mirrors how the real host routes the call
// through the registered slots, including NotImplemented coordination between
// the two operands of a binary operator.

// boundMethod pairs a method-table entry with its receiver.
type boundMethod struct {
	self pybind.Object
	def  pybind.MethodDef
}

// New constructs an instance of a registered type: allocation followed by
// initialization, with the fresh envelope released again if init fails.
func (rt *Runtime) New(th pybind.TypeHandle, args ...pybind.Object) (pybind.Object, error) {
	t, ok := th.(*liveType)
	if !ok {
		return nil, fmt.Errorf("not a registered type: %T", th)
	}
	newSlot, ok := t.slot(pybind.SlotNew)
	if !ok {
		return nil, fmt.Errorf("type %s cannot be instantiated", t.name)
	}
	obj := newSlot.(pybind.NewFunc)(rt, t, args, nil)
	if obj == nil {
		return nil, rt.takePending()
	}
	if initSlot, ok := t.slot(pybind.SlotInit); ok {
		if !initSlot.(pybind.InitFunc)(rt, obj, args, nil) {
			err := rt.takePending()
			rt.DecRef(obj)
			return nil, err
		}
	}
	return obj, nil
}

// GetAttr resolves an attribute: getset table, instance dict, method table,
// then the class's GetAttr fallback hook. The hook runs last, only once
// everything the generic machinery knows about has failed.
func (rt *Runtime) GetAttr(o pybind.Object, name string) (pybind.Object, error) {
	t, ok := rt.typeOf(o)
	if !ok {
		return nil, fmt.Errorf("object of type %s has no attributes", typeName(o))
	}

	if gs, ok := t.findGetSet(name); ok {
		res := gs.Get(rt, o)
		if res == nil {
			return nil, rt.takePending()
		}
		return res, nil
	}

	if inst, ok := o.(*pybind.Instance); ok {
		if d, ok := inst.Dict(rt); ok {
			if v, ok := dictGet(d, &strObj{v: name}); ok {
				return v, nil
			}
		}
	}

	if def, ok := t.findMethod(name); ok {
		// Class methods bind to the instance's live type, so the wrapper's
		// class token carries the type handle; static entries bind to nothing.
		switch {
		case def.Flags&pybind.MethClassMethod != 0:
			return &boundMethod{self: t, def: def}, nil
		case def.Flags&pybind.MethStatic != 0:
			return &boundMethod{def: def}, nil
		}
		return &boundMethod{self: o, def: def}, nil
	}

	if hook, ok := t.slot(pybind.SlotGetAttr); ok {
		res := hook.(pybind.GetAttrFunc)(rt, o, name)
		if res == nil {
			return nil, rt.takePending()
		}
		return res, nil
	}

	return nil, &pybind.RaisedError{
		Class: pybind.ErrAttribute,
		Msg:   fmt.Sprintf("%s object has no attribute %q", t.name, name),
	}
}

// SetAttr assigns an attribute: the class's SetAttr slot when present, else
// the getset table, else the instance dict.
func (rt *Runtime) SetAttr(o pybind.Object, name string, v pybind.Object) error {
	return rt.assignAttr(o, name, v)
}

// DelAttr deletes an attribute; routed as an assignment of nil.
func (rt *Runtime) DelAttr(o pybind.Object, name string) error {
	return rt.assignAttr(o, name, nil)
}

func (rt *Runtime) assignAttr(o pybind.Object, name string, v pybind.Object) error {
	t, ok := rt.typeOf(o)
	if !ok {
		return fmt.Errorf("object of type %s has no attributes", typeName(o))
	}

	if hook, ok := t.slot(pybind.SlotSetAttr); ok {
		if !hook.(pybind.SetAttrFunc)(rt, o, name, v) {
			return rt.takePending()
		}
		return nil
	}

	if gs, ok := t.findGetSet(name); ok {
		if gs.Set == nil {
			return &pybind.RaisedError{
				Class: pybind.ErrAttribute,
				Msg:   fmt.Sprintf("attribute %q of %s objects is not writable", name, t.name),
			}
		}
		if v == nil {
			return &pybind.RaisedError{
				Class: pybind.ErrAttribute,
				Msg:   fmt.Sprintf("cannot delete attribute %q of %s objects", name, t.name),
			}
		}
		if !gs.Set(rt, o, v) {
			return rt.takePending()
		}
		return nil
	}

	if inst, ok := o.(*pybind.Instance); ok {
		if d, ok := inst.Dict(rt); ok {
			if v == nil {
				return rt.dictDelete(d, name, t.name)
			}
			return rt.DictSetItem(d, &strObj{v: name}, v)
		}
	}

	return &pybind.RaisedError{
		Class: pybind.ErrAttribute,
		Msg:   fmt.Sprintf("%s object has no attribute %q", t.name, name),
	}
}

func (rt *Runtime) dictDelete(d pybind.Object, name, typeName string) error {
	dict, ok := d.(*dictObj)
	if !ok {
		return fmt.Errorf("not a dict: %T", d)
	}
	for i, k := range dict.keys {
		if sameKey(k, &strObj{v: name}) {
			dict.keys = append(dict.keys[:i], dict.keys[i+1:]...)
			dict.vals = append(dict.vals[:i], dict.vals[i+1:]...)
			return nil
		}
	}
	return &pybind.RaisedError{
		Class: pybind.ErrAttribute,
		Msg:   fmt.Sprintf("%s object has no attribute %q", typeName, name),
	}
}

// CallObject invokes a callable: a bound method, a type (construction), or an
// instance with a call slot.
func (rt *Runtime) CallObject(callable pybind.Object, args ...pybind.Object) (pybind.Object, error) {
	switch c := callable.(type) {
	case *boundMethod:
		res := c.def.Meth(rt, c.self, args, nil)
		if res == nil {
			return nil, rt.takePending()
		}
		return res, nil
	case *liveType:
		return rt.New(c, args...)
	case *pybind.Instance:
		t, ok := rt.typeOf(c)
		if !ok {
			break
		}
		if callSlot, ok := t.slot(pybind.SlotCall); ok {
			res := callSlot.(pybind.CallFunc)(rt, c, args, nil)
			if res == nil {
				return nil, rt.takePending()
			}
			return res, nil
		}
	}
	return nil, &pybind.RaisedError{
		Class: pybind.ErrType,
		Msg:   fmt.Sprintf("%s object is not callable", typeName(callable)),
	}
}

// CallMethod looks up and invokes a named method in one step.
func (rt *Runtime) CallMethod(o pybind.Object, name string, args ...pybind.Object) (pybind.Object, error) {
	m, err := rt.GetAttr(o, name)
	if err != nil {
		return nil, err
	}
	return rt.CallObject(m, args...)
}

// Len routes through the sequence length slot, then the mapping one.
func (rt *Runtime) Len(o pybind.Object) (int, error) {
	switch v := o.(type) {
	case *listObj:
		return len(v.items), nil
	case *strObj:
		return len(v.v), nil
	case *dictObj:
		return len(v.keys), nil
	}
	t, ok := rt.typeOf(o)
	if !ok {
		return 0, fmt.Errorf("object of type %s has no len()", typeName(o))
	}
	for _, id := range []pybind.SlotID{pybind.SlotSequenceLength, pybind.SlotMappingLength} {
		if lenSlot, ok := t.slot(id); ok {
			n, ok := lenSlot.(pybind.LenFunc)(rt, o)
			if !ok {
				return 0, rt.takePending()
			}
			return n, nil
		}
	}
	return 0, &pybind.RaisedError{
		Class: pybind.ErrType,
		Msg:   fmt.Sprintf("object of type %s has no len()", t.name),
	}
}

// GetItem routes subscription: mapping subscript when present, else sequence
// item with an integer key.
func (rt *Runtime) GetItem(o, key pybind.Object) (pybind.Object, error) {
	t, ok := rt.typeOf(o)
	if !ok {
		return nil, fmt.Errorf("object of type %s is not subscriptable", typeName(o))
	}
	if sub, ok := t.slot(pybind.SlotMappingSubscript); ok {
		res := sub.(pybind.BinaryFunc)(rt, o, key)
		if res == nil {
			return nil, rt.takePending()
		}
		return res, nil
	}
	if item, ok := t.slot(pybind.SlotSequenceItem); ok {
		i, err := rt.AsInt(key)
		if err != nil {
			return nil, &pybind.RaisedError{
				Class: pybind.ErrType,
				Msg:   fmt.Sprintf("%s indices must be integers", t.name),
			}
		}
		res := item.(pybind.IndexArgFunc)(rt, o, int(i))
		if res == nil {
			return nil, rt.takePending()
		}
		return res, nil
	}
	return nil, &pybind.RaisedError{
		Class: pybind.ErrType,
		Msg:   fmt.Sprintf("%s object is not subscriptable", t.name),
	}
}

// SetItem assigns a subscript; DelItem routes the same slot with a nil value.
func (rt *Runtime) SetItem(o, key, v pybind.Object) error {
	return rt.assignItem(o, key, v)
}

func (rt *Runtime) DelItem(o, key pybind.Object) error {
	return rt.assignItem(o, key, nil)
}

func (rt *Runtime) assignItem(o, key, v pybind.Object) error {
	t, ok := rt.typeOf(o)
	if !ok {
		return fmt.Errorf("object of type %s does not support item assignment", typeName(o))
	}
	if assign, ok := t.slot(pybind.SlotMappingAssignSubscript); ok {
		if !assign.(pybind.SubscriptSetFunc)(rt, o, key, v) {
			return rt.takePending()
		}
		return nil
	}
	if assign, ok := t.slot(pybind.SlotSequenceAssignItem); ok {
		i, err := rt.AsInt(key)
		if err != nil {
			return &pybind.RaisedError{
				Class: pybind.ErrType,
				Msg:   fmt.Sprintf("%s indices must be integers", t.name),
			}
		}
		if !assign.(pybind.IndexSetFunc)(rt, o, int(i), v) {
			return rt.takePending()
		}
		return nil
	}
	return &pybind.RaisedError{
		Class: pybind.ErrType,
		Msg:   fmt.Sprintf("%s object does not support item assignment", t.name),
	}
}

// Contains answers the membership test through the sequence contains slot.
func (rt *Runtime) Contains(o, item pybind.Object) (bool, error) {
	t, ok := rt.typeOf(o)
	if !ok {
		return false, fmt.Errorf("argument of type %s is not a container", typeName(o))
	}
	if c, ok := t.slot(pybind.SlotSequenceContains); ok {
		r, ok := c.(pybind.ContainsFunc)(rt, o, item)
		if !ok {
			return false, rt.takePending()
		}
		return r, nil
	}
	return false, &pybind.RaisedError{
		Class: pybind.ErrType,
		Msg:   fmt.Sprintf("argument of type %s is not iterable", t.name),
	}
}

// BinaryOp evaluates one binary number slot with NotImplemented coordination:
// the left operand's type answers first, then the right operand's when it is
// a different type.
func (rt *Runtime) BinaryOp(id pybind.SlotID, a, b pybind.Object) (pybind.Object, error) {
	ta, aOK := rt.typeOf(a)
	tb, bOK := rt.typeOf(b)

	if aOK {
		if fn, ok := ta.slot(id); ok {
			res := fn.(pybind.BinaryFunc)(rt, a, b)
			if res == nil {
				return nil, rt.takePending()
			}
			if !rt.IsNotImplemented(res) {
				return res, nil
			}
		}
	}
	if bOK && (!aOK || ta != tb) {
		if fn, ok := tb.slot(id); ok {
			res := fn.(pybind.BinaryFunc)(rt, a, b)
			if res == nil {
				return nil, rt.takePending()
			}
			if !rt.IsNotImplemented(res) {
				return res, nil
			}
		}
	}
	return nil, &pybind.RaisedError{
		Class: pybind.ErrType,
		Msg:   fmt.Sprintf("unsupported operand type(s): %s and %s", typeName(a), typeName(b)),
	}
}

// UnaryOp evaluates a one-operand number slot (negative, positive, absolute,
// invert).
func (rt *Runtime) UnaryOp(id pybind.SlotID, o pybind.Object) (pybind.Object, error) {
	t, ok := rt.typeOf(o)
	if !ok {
		return nil, &pybind.RaisedError{
			Class: pybind.ErrType,
			Msg:   fmt.Sprintf("bad operand type: %s", typeName(o)),
		}
	}
	fn, ok := t.slot(id)
	if !ok {
		return nil, &pybind.RaisedError{
			Class: pybind.ErrType,
			Msg:   fmt.Sprintf("bad operand type: %s", t.name),
		}
	}
	res := fn.(pybind.UnaryFunc)(rt, o)
	if res == nil {
		return nil, rt.takePending()
	}
	return res, nil
}

// InplaceOp evaluates an in-place slot, falling back to the plain binary op
// when the in-place one is missing or defers.
func (rt *Runtime) InplaceOp(inplaceID, plainID pybind.SlotID, a, b pybind.Object) (pybind.Object, error) {
	if t, ok := rt.typeOf(a); ok {
		if fn, ok := t.slot(inplaceID); ok {
			res := fn.(pybind.BinaryFunc)(rt, a, b)
			if res == nil {
				return nil, rt.takePending()
			}
			if !rt.IsNotImplemented(res) {
				return res, nil
			}
		}
	}
	return rt.BinaryOp(plainID, a, b)
}

// Compare evaluates a rich comparison with reflected fallback: the left
// operand first, then the right operand with the swapped operation, then the
// identity defaults for == and !=.
func (rt *Runtime) Compare(op pybind.CompareOp, a, b pybind.Object) (pybind.Object, error) {
	if t, ok := rt.typeOf(a); ok {
		if fn, ok := t.slot(pybind.SlotRichCompare); ok {
			res := fn.(pybind.RichCmpFunc)(rt, a, b, op)
			if res == nil {
				return nil, rt.takePending()
			}
			if !rt.IsNotImplemented(res) {
				return res, nil
			}
		}
	}
	if t, ok := rt.typeOf(b); ok {
		if fn, ok := t.slot(pybind.SlotRichCompare); ok {
			res := fn.(pybind.RichCmpFunc)(rt, b, a, op.Swapped())
			if res == nil {
				return nil, rt.takePending()
			}
			if !rt.IsNotImplemented(res) {
				return res, nil
			}
		}
	}
	switch op {
	case pybind.OpEq:
		return rt.Bool(a == b), nil
	case pybind.OpNe:
		return rt.Bool(a != b), nil
	}
	return nil, &pybind.RaisedError{
		Class: pybind.ErrType,
		Msg:   fmt.Sprintf("%q not supported between %s and %s", op.String(), typeName(a), typeName(b)),
	}
}

// Hash computes the object's hash through its slot; objects without one hash
// by identity.
func (rt *Runtime) Hash(o pybind.Object) (uint64, error) {
	if t, ok := rt.typeOf(o); ok {
		if fn, ok := t.slot(pybind.SlotHash); ok {
			h, ok := fn.(pybind.HashFunc)(rt, o)
			if !ok {
				return 0, rt.takePending()
			}
			return h, nil
		}
	}
	switch v := o.(type) {
	case *intObj:
		return uint64(v.v), nil
	case *strObj:
		var h uint64 = 14695981039346656037
		for i := 0; i < len(v.v); i++ {
			h ^= uint64(v.v[i])
			h *= 1099511628211
		}
		return h, nil
	}
	return uint64(reflect.ValueOf(o).Pointer()), nil
}

// Iter obtains an iterator; an object with only a next slot iterates itself.
func (rt *Runtime) Iter(o pybind.Object) (pybind.Object, error) {
	t, ok := rt.typeOf(o)
	if !ok {
		return nil, fmt.Errorf("object of type %s is not iterable", typeName(o))
	}
	if fn, ok := t.slot(pybind.SlotIter); ok {
		res := fn.(pybind.UnaryFunc)(rt, o)
		if res == nil {
			return nil, rt.takePending()
		}
		return res, nil
	}
	if _, ok := t.slot(pybind.SlotIterNext); ok {
		rt.IncRef(o)
		return o, nil
	}
	return nil, &pybind.RaisedError{
		Class: pybind.ErrType,
		Msg:   fmt.Sprintf("%s object is not iterable", t.name),
	}
}

// Next advances an iterator. Clean exhaustion comes back as (nil, nil).
func (rt *Runtime) Next(it pybind.Object) (pybind.Object, error) {
	t, ok := rt.typeOf(it)
	if !ok {
		return nil, fmt.Errorf("object of type %s is not an iterator", typeName(it))
	}
	fn, ok := t.slot(pybind.SlotIterNext)
	if !ok {
		return nil, &pybind.RaisedError{
			Class: pybind.ErrType,
			Msg:   fmt.Sprintf("%s object is not an iterator", t.name),
		}
	}
	res := fn.(pybind.UnaryFunc)(rt, it)
	if res == nil {
		if class, _, pending := rt.PendingError(); pending && class == pybind.ErrStopIteration {
			rt.ErrClear()
			return nil, nil
		}
		return nil, rt.takePending()
	}
	return res, nil
}

// Collect drains an iterable into a slice, a convenience for tests.
func (rt *Runtime) Collect(o pybind.Object) ([]pybind.Object, error) {
	it, err := rt.Iter(o)
	if err != nil {
		return nil, err
	}
	defer rt.DecRef(it)
	var items []pybind.Object
	for {
		item, err := rt.Next(it)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return items, nil
		}
		items = append(items, item)
	}
}

// Str renders an object through its str slot, falling back to repr.
func (rt *Runtime) Str(o pybind.Object) (string, error) {
	if t, ok := rt.typeOf(o); ok {
		if fn, ok := t.slot(pybind.SlotStr); ok {
			res := fn.(pybind.UnaryFunc)(rt, o)
			if res == nil {
				return "", rt.takePending()
			}
			return rt.AsString(res)
		}
	}
	if s, ok := o.(*strObj); ok {
		return s.v, nil
	}
	return rt.Repr(o)
}

// Truth evaluates truthiness: the bool slot, then len, then true.
func (rt *Runtime) Truth(o pybind.Object) (bool, error) {
	switch v := o.(type) {
	case *noneObj:
		return false, nil
	case *boolObj:
		return v.v, nil
	case *intObj:
		return v.v != 0, nil
	case *floatObj:
		return v.v != 0, nil
	case *strObj:
		return v.v != "", nil
	case *listObj:
		return len(v.items) > 0, nil
	}
	if t, ok := rt.typeOf(o); ok {
		if fn, ok := t.slot(pybind.SlotNumberBool); ok {
			r, ok := fn.(pybind.InquiryFunc)(rt, o)
			if !ok {
				return false, rt.takePending()
			}
			return r, nil
		}
		if _, ok := t.slot(pybind.SlotSequenceLength); ok {
			n, err := rt.Len(o)
			if err != nil {
				return false, err
			}
			return n > 0, nil
		}
	}
	return true, nil
}
