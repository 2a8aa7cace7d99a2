package pybind

import (
	"fmt"
	"reflect"
)

// Container protocols. One set of declarations (Len, GetItem, SetItem,
// DelItem, Contains) covers both the sequence and the mapping protocol; the
// key parameter type of GetItem decides which one the class speaks. An
// integer-keyed GetItem makes a sequence and gets index normalization; any
// other key type makes a mapping.

func (e *Engine) buildLenFunc(ci *classInfo) (LenFunc, error) {
	d, ok := ci.decls.dunder("Len")
	if !ok {
		return nil, nil
	}
	ft := d.ftype
	if ft.NumIn() != 1 || !receiverCompatible(ci, ft.In(0)) {
		return nil, fmt.Errorf("Len must take the receiver only, got %s", ft)
	}
	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("Len: %w", err)
	}
	if plan.valueType == nil || !integerKind(plan.valueType.Kind()) {
		return nil, fmt.Errorf("Len must return an integer, got %s", ft)
	}
	byValue := ft.In(0) == ci.typ

	return func(rt Runtime, self Object) (int, bool) {
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return 0, false
		}
		arg := receiver
		if byValue {
			arg = receiver.Elem()
		}
		results := d.fn.Call([]reflect.Value{arg})
		if len(results) == 2 {
			if ev := results[1]; !ev.IsNil() {
				raiseNativeError(rt, ev.Interface().(error))
				return 0, false
			}
		}
		var n int
		if plan.valueType.Kind() >= reflect.Uint && plan.valueType.Kind() <= reflect.Uintptr {
			n = int(results[0].Uint())
		} else {
			n = int(results[0].Int())
		}
		if n < 0 {
			rt.Raise(ErrValue, fmt.Sprintf("%s.__len__() returned a negative value", ci.name))
			return 0, false
		}
		return n, true
	}, nil
}

// buildContainerMethods assembles the sequence and mapping sub-descriptors.
// Either or both may come back nil.
func (e *Engine) buildContainerMethods(ci *classInfo) (*SequenceMethods, *MappingMethods, error) {
	lenFn, err := e.buildLenFunc(ci)
	if err != nil {
		return nil, nil, err
	}

	getItem, hasGet := ci.decls.dunder("GetItem")
	setItem, hasSet := ci.decls.dunder("SetItem")
	delItem, hasDel := ci.decls.dunder("DelItem")
	containsDecl, hasContains := ci.decls.dunder("Contains")

	isSequence := false
	if hasGet {
		if getItem.ftype.NumIn() != 2 || !receiverCompatible(ci, getItem.ftype.In(0)) {
			return nil, nil, fmt.Errorf("GetItem must take the receiver and one key, got %s", getItem.ftype)
		}
		isSequence = integerKind(getItem.ftype.In(1).Kind())
	}

	var seq *SequenceMethods
	var mapping *MappingMethods

	if isSequence {
		seq = &SequenceMethods{Length: lenFn}
		item, err := e.buildSequenceItem(ci, getItem, lenFn)
		if err != nil {
			return nil, nil, err
		}
		seq.Item = item
		if hasSet || hasDel {
			assign, err := e.buildSequenceAssign(ci, setItem, delItem, lenFn)
			if err != nil {
				return nil, nil, err
			}
			seq.AssignItem = assign
		}
	} else if hasGet {
		mapping = &MappingMethods{Length: lenFn}
		sub, err := e.buildMappingSubscript(ci, getItem)
		if err != nil {
			return nil, nil, err
		}
		mapping.Subscript = sub
		if hasSet || hasDel {
			assign, err := e.buildMappingAssign(ci, setItem, delItem)
			if err != nil {
				return nil, nil, err
			}
			mapping.AssignSubscript = assign
		}
	}

	if hasContains {
		contains, err := e.buildContains(ci, containsDecl)
		if err != nil {
			return nil, nil, err
		}
		if seq == nil {
			// The membership hook lives in the sequence sub-descriptor even for
			// mapping-shaped classes, mirroring how the runtime routes "in".
			seq = &SequenceMethods{Length: lenFn}
		}
		seq.Contains = contains
	}

	if seq == nil && lenFn != nil && mapping == nil {
		seq = &SequenceMethods{Length: lenFn}
	}

	return seq, mapping, nil
}

// boundIndex maps a negative index onto the tail of the container and
// enforces the [0, len) range before the native declaration runs, for
// declarations whose index parameter cannot represent negatives. Without the
// length protocol only the lower bound can be checked.
func boundIndex(rt Runtime, ci *classInfo, lenFn LenFunc, self Object, i int) (int, bool) {
	if lenFn == nil {
		if i < 0 {
			rt.Raise(ErrIndex, fmt.Sprintf("%s index out of range", ci.name))
			return 0, false
		}
		return i, true
	}
	n, ok := lenFn(rt, self)
	if !ok {
		return 0, false
	}
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		rt.Raise(ErrIndex, fmt.Sprintf("%s index out of range", ci.name))
		return 0, false
	}
	return i, true
}

func indexArg(rt Runtime, ci *classInfo, t reflect.Type, i int) (reflect.Value, bool) {
	var (
		v   reflect.Value
		err error
	)
	if integerKind(t.Kind()) && t.Kind() >= reflect.Uint {
		v, err = narrowUint(int64(i), t)
	} else {
		v, err = narrowInt(int64(i), t)
	}
	if err != nil {
		rt.Raise(ErrIndex, fmt.Sprintf("%s index out of range", ci.name))
		return reflect.Value{}, false
	}
	return v, true
}

func (e *Engine) buildSequenceItem(ci *classInfo, d *declaration, lenFn LenFunc) (IndexArgFunc, error) {
	ft := d.ftype
	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("GetItem: %w", err)
	}
	if plan.conv == retVoid || plan.conv == retVoidErrorUnion {
		return nil, fmt.Errorf("GetItem must return a value, got %s", ft)
	}
	// Item lookup must produce a concrete element: a nil result with no
	// exception is an out-of-range access the native code forgot to report.
	plan.requireConcrete = true
	plan.concreteClass = ErrIndex

	idxType := ft.In(1)
	unsigned := idxType.Kind() >= reflect.Uint && idxType.Kind() <= reflect.Uintptr
	byValue := ft.In(0) == ci.typ

	return func(rt Runtime, self Object, i int) Object {
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return nil
		}
		if unsigned {
			var ok bool
			i, ok = boundIndex(rt, ci, lenFn, self, i)
			if !ok {
				return nil
			}
		}
		idx, ok := indexArg(rt, ci, idxType, i)
		if !ok {
			return nil
		}
		arg := receiver
		if byValue {
			arg = receiver.Elem()
		}
		return plan.dispatch(rt, e.conv, self, receiver, d.fn.Call([]reflect.Value{arg, idx}))
	}, nil
}

func (e *Engine) buildSequenceAssign(ci *classInfo, setItem, delItem *declaration, lenFn LenFunc) (IndexSetFunc, error) {
	set, err := e.checkItemMutator(ci, setItem, 3, "SetItem")
	if err != nil {
		return nil, err
	}
	del, err := e.checkItemMutator(ci, delItem, 2, "DelItem")
	if err != nil {
		return nil, err
	}

	return func(rt Runtime, self Object, i int, v Object) bool {
		target := set
		if v == nil {
			target = del
		}
		if target == nil {
			verb := "assignment"
			if v == nil {
				verb = "deletion"
			}
			rt.Raise(ErrType, fmt.Sprintf("%s does not support item %s", ci.name, verb))
			return false
		}
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return false
		}
		idxType := target.ftype.In(1)
		if idxType.Kind() >= reflect.Uint && idxType.Kind() <= reflect.Uintptr {
			var ok bool
			i, ok = boundIndex(rt, ci, lenFn, self, i)
			if !ok {
				return false
			}
		}
		idx, ok := indexArg(rt, ci, idxType, i)
		if !ok {
			return false
		}
		in := []reflect.Value{receiverArg(ci, target, receiver), idx}
		if v != nil {
			val, err := e.conv.FromRuntime(rt, v, target.ftype.In(2))
			if err != nil {
				raiseArgumentError(rt, ci.name+".__setitem__", 1, target.ftype.In(2), err)
				return false
			}
			in = append(in, val)
		}
		return target.dispatchVoid(rt, e, ci, self, receiver, in)
	}, nil
}

func (e *Engine) buildMappingSubscript(ci *classInfo, d *declaration) (BinaryFunc, error) {
	ft := d.ftype
	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("GetItem: %w", err)
	}
	if plan.conv == retVoid || plan.conv == retVoidErrorUnion {
		return nil, fmt.Errorf("GetItem must return a value, got %s", ft)
	}
	keyType := ft.In(1)
	byValue := ft.In(0) == ci.typ

	return func(rt Runtime, self, key Object) Object {
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return nil
		}
		k, err := e.conv.FromRuntime(rt, key, keyType)
		if err != nil {
			raiseKeyError(rt, key, err)
			return nil
		}
		arg := receiver
		if byValue {
			arg = receiver.Elem()
		}
		return plan.dispatch(rt, e.conv, self, receiver, d.fn.Call([]reflect.Value{arg, k}))
	}, nil
}

func (e *Engine) buildMappingAssign(ci *classInfo, setItem, delItem *declaration) (SubscriptSetFunc, error) {
	set, err := e.checkItemMutator(ci, setItem, 3, "SetItem")
	if err != nil {
		return nil, err
	}
	del, err := e.checkItemMutator(ci, delItem, 2, "DelItem")
	if err != nil {
		return nil, err
	}

	return func(rt Runtime, self, key, v Object) bool {
		target := set
		if v == nil {
			target = del
		}
		if target == nil {
			verb := "assignment"
			if v == nil {
				verb = "deletion"
			}
			rt.Raise(ErrType, fmt.Sprintf("%s does not support item %s", ci.name, verb))
			return false
		}
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return false
		}
		k, err := e.conv.FromRuntime(rt, key, target.ftype.In(1))
		if err != nil {
			raiseKeyError(rt, key, err)
			return false
		}
		in := []reflect.Value{receiverArg(ci, target, receiver), k}
		if v != nil {
			val, err := e.conv.FromRuntime(rt, v, target.ftype.In(2))
			if err != nil {
				raiseArgumentError(rt, ci.name+".__setitem__", 1, target.ftype.In(2), err)
				return false
			}
			in = append(in, val)
		}
		return target.dispatchVoid(rt, e, ci, self, receiver, in)
	}, nil
}

func (e *Engine) buildContains(ci *classInfo, d *declaration) (ContainsFunc, error) {
	ft := d.ftype
	if ft.NumIn() != 2 || !receiverCompatible(ci, ft.In(0)) {
		return nil, fmt.Errorf("Contains must take the receiver and one item, got %s", ft)
	}
	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("Contains: %w", err)
	}
	if plan.valueType == nil || plan.valueType.Kind() != reflect.Bool {
		return nil, fmt.Errorf("Contains must return bool, got %s", ft)
	}
	itemType := ft.In(1)
	byValue := ft.In(0) == ci.typ

	return func(rt Runtime, self, item Object) (bool, bool) {
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return false, false
		}
		v, err := e.conv.FromRuntime(rt, item, itemType)
		if err != nil {
			// An item that cannot even convert to the element type is simply
			// not contained.
			return false, true
		}
		arg := receiver
		if byValue {
			arg = receiver.Elem()
		}
		results := d.fn.Call([]reflect.Value{arg, v})
		if len(results) == 2 {
			if ev := results[1]; !ev.IsNil() {
				raiseNativeError(rt, ev.Interface().(error))
				return false, false
			}
		}
		return results[0].Bool(), true
	}, nil
}

// itemMutator is a checked SetItem/DelItem declaration.
type itemMutator struct {
	fn    reflect.Value
	ftype reflect.Type
	plan  returnPlan
}

// checkItemMutator validates a SetItem (3 inputs) or DelItem (2 inputs)
// declaration; both must be void or void-with-error.
func (e *Engine) checkItemMutator(ci *classInfo, d *declaration, numIn int, what string) (*itemMutator, error) {
	if d == nil {
		return nil, nil
	}
	ft := d.ftype
	if ft.NumIn() != numIn || !receiverCompatible(ci, ft.In(0)) {
		return nil, fmt.Errorf("%s has the wrong shape: %s", what, ft)
	}
	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	if plan.conv != retVoid && plan.conv != retVoidErrorUnion {
		return nil, fmt.Errorf("%s must return nothing or error, got %s", what, ft)
	}
	return &itemMutator{fn: d.fn, ftype: ft, plan: plan}, nil
}

func (m *itemMutator) dispatchVoid(rt Runtime, e *Engine, ci *classInfo, self Object, receiver reflect.Value, in []reflect.Value) bool {
	return m.plan.dispatch(rt, e.conv, self, receiver, m.fn.Call(in)) != nil
}

func receiverArg(ci *classInfo, m *itemMutator, receiver reflect.Value) reflect.Value {
	if m.ftype.In(0) == ci.typ {
		return receiver.Elem()
	}
	return receiver
}

func raiseKeyError(rt Runtime, key Object, err error) {
	if raised, ok := err.(*RaisedError); ok {
		rt.Raise(raised.Class, raised.Msg)
		return
	}
	rt.Raise(ErrKey, fmt.Sprintf("invalid key: %v", err))
}
