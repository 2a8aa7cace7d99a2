package pybind

import (
	"fmt"
	"reflect"
	"strings"
)

// Repr, Str and Hash. A class without a Repr declaration still reprs usefully:
// the generated fallback prints the class name and every public field in
// declaration order, each rendered through the runtime's own repr so nested
// registered classes print recursively.

func (e *Engine) buildReprSlot(ci *classInfo) (UnaryFunc, error) {
	if d, ok := ci.decls.dunder("Repr"); ok {
		return e.stringSlot(ci, d)
	}
	return e.autoRepr(ci), nil
}

func (e *Engine) buildStrSlot(ci *classInfo) (UnaryFunc, error) {
	d, ok := ci.decls.dunder("Str")
	if !ok {
		return nil, nil
	}
	return e.stringSlot(ci, d)
}

// stringSlot wraps a receiver-only declaration that must produce a string.
func (e *Engine) stringSlot(ci *classInfo, d *declaration) (UnaryFunc, error) {
	plan, err := analyzeReturns(d.ftype)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	if plan.valueType == nil || plan.valueType.Kind() != reflect.String {
		return nil, fmt.Errorf("%s must return a string, got %s", d.name, d.ftype)
	}
	return e.unarySlot(ci, d)
}

// autoRepr generates the fallback repr: ClassName(field=..., field=...).
func (e *Engine) autoRepr(ci *classInfo) UnaryFunc {
	fields := ci.fields
	return func(rt Runtime, self Object) Object {
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return nil
		}
		var b strings.Builder
		b.WriteString(ci.name)
		b.WriteByte('(')
		for i, f := range fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(snakeCase(f.name))
			b.WriteByte('=')
			fv := e.conv.ToRuntime(rt, receiver.Elem().FieldByIndex(f.index))
			if fv == nil {
				return nil
			}
			s, err := rt.Repr(fv)
			if err != nil {
				rt.Raise(ErrRuntime, err.Error())
				return nil
			}
			b.WriteString(s)
		}
		b.WriteByte(')')
		return rt.NewString(b.String())
	}
}

// buildHashSlot wraps a Hash declaration. The declared shape is receiver in,
// integer out, optionally with error.
func (e *Engine) buildHashSlot(ci *classInfo) (HashFunc, error) {
	d, ok := ci.decls.dunder("Hash")
	if !ok {
		return nil, nil
	}
	ft := d.ftype
	if ft.NumIn() != 1 || !receiverCompatible(ci, ft.In(0)) {
		return nil, fmt.Errorf("Hash must take the receiver only, got %s", ft)
	}
	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("Hash: %w", err)
	}
	if plan.valueType == nil || !integerKind(plan.valueType.Kind()) {
		return nil, fmt.Errorf("Hash must return an integer, got %s", ft)
	}
	unsigned := plan.valueType.Kind() >= reflect.Uint && plan.valueType.Kind() <= reflect.Uintptr
	byValue := ft.In(0) == ci.typ

	return func(rt Runtime, self Object) (uint64, bool) {
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
		if unsigned {
			return results[0].Uint(), true
		}
		return uint64(results[0].Int()), true
	}, nil
}
