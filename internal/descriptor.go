package pybind

import (
	"fmt"
	"reflect"
)

// Descriptor protocol. Rarely declared, fully supported: DescrGet receives the
// owning instance and owner type as raw handles, DescrSet/DescrDelete fold
// into the runtime's single set hook the same way the item and attribute
// mutators do.

func (e *Engine) buildDescrGetSlot(ci *classInfo) (DescrGetFunc, error) {
	d, ok := ci.decls.dunder("DescrGet")
	if !ok {
		return nil, nil
	}
	ft := d.ftype
	if ft.NumIn() != 3 || !receiverCompatible(ci, ft.In(0)) ||
		ft.In(1) != objectType || ft.In(2) != objectType {
		return nil, fmt.Errorf("DescrGet must take the receiver and two object handles, got %s", ft)
	}
	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("DescrGet: %w", err)
	}
	if plan.conv == retVoid || plan.conv == retVoidErrorUnion {
		return nil, fmt.Errorf("DescrGet must return a value, got %s", ft)
	}
	byValue := ft.In(0) == ci.typ

	return func(rt Runtime, self, obj, owner Object) Object {
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return nil
		}
		arg := receiver
		if byValue {
			arg = receiver.Elem()
		}
		in := []reflect.Value{arg, objectValue(obj), objectValue(owner)}
		return plan.dispatch(rt, e.conv, self, receiver, d.fn.Call(in))
	}, nil
}

func (e *Engine) buildDescrSetSlot(ci *classInfo) (DescrSetFunc, error) {
	setDecl, hasSet := ci.decls.dunder("DescrSet")
	delDecl, hasDel := ci.decls.dunder("DescrDelete")
	if !hasSet && !hasDel {
		return nil, nil
	}

	set, err := e.checkDescrMutator(ci, setDecl, 3, "DescrSet")
	if err != nil {
		return nil, err
	}
	del, err := e.checkDescrMutator(ci, delDecl, 2, "DescrDelete")
	if err != nil {
		return nil, err
	}

	return func(rt Runtime, self, obj, v Object) bool {
		target := set
		if v == nil {
			target = del
		}
		if target == nil {
			verb := "assignment"
			if v == nil {
				verb = "deletion"
			}
			rt.Raise(ErrAttribute, fmt.Sprintf("%s descriptor does not support %s", ci.name, verb))
			return false
		}
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return false
		}
		in := []reflect.Value{receiverArg(ci, target, receiver), objectValue(obj)}
		if v != nil {
			val, err := e.conv.FromRuntime(rt, v, target.ftype.In(2))
			if err != nil {
				raiseArgumentError(rt, ci.name+".__set__", 1, target.ftype.In(2), err)
				return false
			}
			in = append(in, val)
		}
		return target.dispatchVoid(rt, e, ci, self, receiver, in)
	}, nil
}

func (e *Engine) checkDescrMutator(ci *classInfo, d *declaration, numIn int, what string) (*itemMutator, error) {
	if d == nil {
		return nil, nil
	}
	ft := d.ftype
	if ft.NumIn() != numIn || !receiverCompatible(ci, ft.In(0)) || ft.In(1) != objectType {
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

// objectValue lifts a runtime handle into a reflect.Value of the Object
// interface type, keeping nil handles typed.
func objectValue(o Object) reflect.Value {
	v := reflect.New(objectType).Elem()
	if o != nil {
		v.Set(reflect.ValueOf(o))
	}
	return v
}
