package pybind

import (
	"fmt"
	"reflect"
)

// Attribute access hooks. The GetAttr declaration is a fallback, not an
// interceptor: the runtime consults it only after its generic lookup (getsets,
// methods, instance dict) has already failed with AttributeError, matching
// the __getattr__ rather than the __getattribute__ contract. SetAttr/DelAttr
// replace generic assignment wholesale.

func (e *Engine) buildGetAttrSlot(ci *classInfo) (GetAttrFunc, error) {
	d, ok := ci.decls.dunder("GetAttr")
	if !ok {
		return nil, nil
	}
	ft := d.ftype
	if ft.NumIn() != 2 || !receiverCompatible(ci, ft.In(0)) || ft.In(1).Kind() != reflect.String {
		return nil, fmt.Errorf("GetAttr must take the receiver and a string name, got %s", ft)
	}
	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("GetAttr: %w", err)
	}
	if plan.conv == retVoid || plan.conv == retVoidErrorUnion {
		return nil, fmt.Errorf("GetAttr must return a value, got %s", ft)
	}
	// A nil result with no exception means "no such attribute"; the standard
	// failure is AttributeError, not None.
	plan.requireConcrete = true
	plan.concreteClass = ErrAttribute
	byValue := ft.In(0) == ci.typ
	nameType := ft.In(1)

	return func(rt Runtime, self Object, name string) Object {
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return nil
		}
		arg := receiver
		if byValue {
			arg = receiver.Elem()
		}
		nv := reflect.ValueOf(name)
		if nameType != nv.Type() {
			nv = nv.Convert(nameType)
		}
		return plan.dispatch(rt, e.conv, self, receiver, d.fn.Call([]reflect.Value{arg, nv}))
	}, nil
}

// buildSetAttrSlot folds SetAttr and DelAttr into the runtime's single
// assignment hook (a nil value means deletion). A frozen class that declares
// neither still gets a slot: one that rejects every assignment.
func (e *Engine) buildSetAttrSlot(ci *classInfo) (SetAttrFunc, error) {
	setDecl, hasSet := ci.decls.dunder("SetAttr")
	delDecl, hasDel := ci.decls.dunder("DelAttr")

	if !hasSet && !hasDel {
		if ci.opts.frozen {
			return frozenSetAttr(ci), nil
		}
		return nil, nil
	}

	set, err := e.checkAttrMutator(ci, setDecl, 3, "SetAttr")
	if err != nil {
		return nil, err
	}
	del, err := e.checkAttrMutator(ci, delDecl, 2, "DelAttr")
	if err != nil {
		return nil, err
	}

	return func(rt Runtime, self Object, name string, v Object) bool {
		if ci.opts.frozen {
			rt.Raise(ErrAttribute, fmt.Sprintf("cannot assign to attribute %q of frozen class %s", name, ci.name))
			return false
		}
		target := set
		if v == nil {
			target = del
		}
		if target == nil {
			verb := "assignment"
			if v == nil {
				verb = "deletion"
			}
			rt.Raise(ErrAttribute, fmt.Sprintf("%s does not support attribute %s", ci.name, verb))
			return false
		}
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return false
		}
		nv := reflect.ValueOf(name)
		if target.ftype.In(1) != nv.Type() {
			nv = nv.Convert(target.ftype.In(1))
		}
		in := []reflect.Value{receiverArg(ci, target, receiver), nv}
		if v != nil {
			val, err := e.conv.FromRuntime(rt, v, target.ftype.In(2))
			if err != nil {
				raiseArgumentError(rt, ci.name+".__setattr__", 1, target.ftype.In(2), err)
				return false
			}
			in = append(in, val)
		}
		return target.dispatchVoid(rt, e, ci, self, receiver, in)
	}, nil
}

func frozenSetAttr(ci *classInfo) SetAttrFunc {
	return func(rt Runtime, self Object, name string, v Object) bool {
		rt.Raise(ErrAttribute, fmt.Sprintf("cannot assign to attribute %q of frozen class %s", name, ci.name))
		return false
	}
}

func (e *Engine) checkAttrMutator(ci *classInfo, d *declaration, numIn int, what string) (*itemMutator, error) {
	if d == nil {
		return nil, nil
	}
	ft := d.ftype
	if ft.NumIn() != numIn || !receiverCompatible(ci, ft.In(0)) || ft.In(1).Kind() != reflect.String {
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
