package pybind

import (
	"fmt"
	"reflect"
)

// callRole is the calling role a wrapper is generated for: it decides what
// the first native argument is and which method-table flags the entry gets.
type callRole int

const (
	callRoleInstance callRole = iota
	callRoleStatic
	callRoleClass
)

// buildFunctionWrapper generates the calling-convention-correct wrapper for
// one callable declaration: arity validation, per-argument conversion through
// the class-aware converter, the native call, and the shared three-way return
// dispatch. ci is nil for module-level functions.
func (e *Engine) buildFunctionWrapper(name string, fn reflect.Value, role callRole, ci *classInfo) (CallFunc, MethodFlags, error) {
	ft := fn.Type()

	start := 0
	if role == callRoleInstance || role == callRoleClass {
		start = 1
	}
	if ft.NumIn() < start {
		return nil, 0, fmt.Errorf("%s: callable is missing its receiver parameter", name)
	}

	variadic := ft.IsVariadic()
	fixed := ft.NumIn() - start
	if variadic {
		fixed--
	}
	required := fixed
	if !variadic {
		for required > 0 && nullableKind(ft.In(start+required-1)) {
			required--
		}
	}

	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", name, err)
	}

	flags := MethVarargs
	switch role {
	case callRoleStatic:
		flags |= MethStatic
	case callRoleClass:
		flags |= MethClassMethod
	default:
		if fixed == 0 && !variadic {
			flags = MethNoArgs
		}
	}

	humanName := name
	if ci != nil {
		humanName = ci.name + "." + name
	}

	wrapper := func(rt Runtime, self Object, args []Object, kwargs map[string]Object) Object {
		if len(kwargs) > 0 {
			rt.Raise(ErrType, fmt.Sprintf("%s() takes no keyword arguments", humanName))
			return nil
		}
		if len(args) < required || (!variadic && len(args) > fixed) {
			max := fixed
			if variadic {
				max = -1
			}
			rt.Raise(ErrType, arityMessageVariadic(humanName+"()", required, max, len(args)))
			return nil
		}

		in := make([]reflect.Value, 0, ft.NumIn())
		var receiver reflect.Value
		switch role {
		case callRoleInstance:
			var err error
			receiver, err = ci.receiver(self)
			if err != nil {
				rt.Raise(ErrType, err.Error())
				return nil
			}
			if ft.In(0) == ci.typ {
				in = append(in, receiver.Elem())
			} else {
				in = append(in, receiver)
			}
		case callRoleClass:
			token := ClassToken{Name: ci.name}
			if th, ok := self.(TypeHandle); ok {
				token.Type = th
			}
			in = append(in, reflect.ValueOf(token))
		}

		for i := 0; i < len(args); i++ {
			var pt reflect.Type
			if i < fixed {
				pt = ft.In(start + i)
			} else {
				pt = ft.In(ft.NumIn() - 1).Elem()
			}
			v, err := e.conv.FromRuntime(rt, args[i], pt)
			if err != nil {
				raiseArgumentError(rt, humanName, i, pt, err)
				return nil
			}
			in = append(in, v)
		}
		for i := len(args); i < fixed; i++ {
			in = append(in, reflect.Zero(ft.In(start+i)))
		}

		return plan.dispatch(rt, e.conv, self, receiver, fn.Call(in))
	}

	return wrapper, flags, nil
}

func arityMessageVariadic(what string, required, max, got int) string {
	if max < 0 {
		return fmt.Sprintf("%s takes at least %d argument(s) (%d given)", what, required, got)
	}
	return arityMessage(what, required, max, got)
}

// buildMethodDefs assembles the class's regular method table: every
// declaration the classifier left in the method bucket, wrapped for its
// calling role, under its runtime-visible name. Dunders consumed by a slot
// generator never appear here; passthrough dunders appear under their
// protocol spelling.
func (e *Engine) buildMethodDefs(ci *classInfo) ([]MethodDef, error) {
	defs := make([]MethodDef, 0, len(ci.decls.methods))
	for _, d := range ci.decls.methods {
		role := callRoleInstance
		switch d.kind {
		case declStaticMethod:
			role = callRoleStatic
		case declClassMethod:
			role = callRoleClass
		}
		wrapper, flags, err := e.buildFunctionWrapper(d.name, d.fn, role, ci)
		if err != nil {
			return nil, err
		}
		defs = append(defs, MethodDef{Name: d.exposed, Meth: wrapper, Flags: flags})
	}
	return defs, nil
}

// buildCallSlot wires a Call declaration into the callable protocol. The
// declaration parses like a regular instance method; only the slot's calling
// convention differs (the runtime hands the argument tuple straight to the
// slot rather than going through method lookup).
func (e *Engine) buildCallSlot(ci *classInfo) (CallFunc, error) {
	d, ok := ci.decls.dunder("Call")
	if !ok {
		return nil, nil
	}
	wrapper, _, err := e.buildFunctionWrapper("__call__", d.fn, callRoleInstance, ci)
	if err != nil {
		return nil, err
	}
	return wrapper, nil
}
