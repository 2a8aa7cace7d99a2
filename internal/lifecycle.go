package pybind

import (
	"fmt"
	"reflect"
)

// Lifecycle protocol: allocated -> initialized -> live -> torn down.
//
// "new" produces a zeroed envelope, recycling from the type's freelist when
// one is configured; "init" populates the native payload from the positional
// constructor arguments; "dealloc" runs the user cleanup hook, drops held
// strong references and either pools or releases the envelope.

func (e *Engine) buildNew(ci *classInfo) NewFunc {
	return func(rt Runtime, t TypeHandle, args []Object, kwargs map[string]Object) Object {
		if ci.pool != nil {
			if inst := ci.pool.pop(); inst != nil {
				// Recycled envelope: same header, refcount reset, payload
				// zeroed in place so no prior instance's pointers survive.
				inst.native.Elem().SetZero()
				inst.refs = 1
				inst.dict = nil
				inst.weakrefs = nil
				return inst
			}
		}
		return &Instance{class: ci, refs: 1, native: reflect.New(ci.typ)}
	}
}

// buildInit generates the init slot. With an explicit Init declaration the
// argument count may range from the required count up to the declared count,
// trailing nullable parameters defaulting to nil. Without one, the arguments
// map positionally onto the public fields in declaration order, parent fields
// first for derived types, and the count must match exactly.
func (e *Engine) buildInit(ci *classInfo) (InitFunc, error) {
	if d := ci.decls.initDecl; d != nil {
		return e.buildExplicitInit(ci, d)
	}

	fields := ci.fields
	return func(rt Runtime, self Object, args []Object, kwargs map[string]Object) bool {
		if len(kwargs) > 0 {
			rt.Raise(ErrType, fmt.Sprintf("%s() takes no keyword arguments", ci.name))
			return false
		}
		if len(args) != len(fields) {
			rt.Raise(ErrType, fmt.Sprintf("%s() takes exactly %d argument(s) (%d given)", ci.name, len(fields), len(args)))
			return false
		}
		inst, err := ci.unwrap(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return false
		}
		for i, f := range fields {
			v, err := e.conv.FromRuntime(rt, args[i], f.typ)
			if err != nil {
				raiseArgumentError(rt, ci.name, i, f.typ, err)
				return false
			}
			target := inst.native.Elem().FieldByIndex(f.index)
			if f.isObject {
				if old, ok := target.Interface().(Object); ok && old != nil {
					rt.DecRef(old)
				}
				rt.IncRef(args[i])
			}
			target.Set(v)
		}
		return true
	}, nil
}

func (e *Engine) buildExplicitInit(ci *classInfo, d *declaration) (InitFunc, error) {
	ft := d.ftype
	total := ft.NumIn() - 1 // first input is the receiver
	required := total
	for required > 0 && nullableKind(ft.In(required)) {
		required--
	}
	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("Init: %w", err)
	}
	if plan.conv != retVoid && plan.conv != retVoidErrorUnion {
		return nil, fmt.Errorf("Init must return nothing or error, got %s", ft)
	}

	return func(rt Runtime, self Object, args []Object, kwargs map[string]Object) bool {
		if len(kwargs) > 0 {
			rt.Raise(ErrType, fmt.Sprintf("%s() takes no keyword arguments", ci.name))
			return false
		}
		if len(args) < required || len(args) > total {
			rt.Raise(ErrType, arityMessage(ci.name+"()", required, total, len(args)))
			return false
		}
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return false
		}
		in := make([]reflect.Value, total+1)
		in[0] = receiver
		for i := 0; i < total; i++ {
			pt := ft.In(i + 1)
			if i < len(args) {
				v, err := e.conv.FromRuntime(rt, args[i], pt)
				if err != nil {
					raiseArgumentError(rt, ci.name, i, pt, err)
					return false
				}
				in[i+1] = v
			} else {
				in[i+1] = reflect.Zero(pt)
			}
		}
		results := d.fn.Call(in)
		return plan.dispatch(rt, e.conv, self, receiver, results) != nil
	}, nil
}

// buildDealloc generates teardown: run the optional Deinit hook, release
// strong references held in object-typed fields and the dict/weakref slots,
// then pool the envelope when the class qualifies. Errors from Deinit cannot
// surface here (there is no caller to raise to); they are dropped without
// touching an already-pending exception.
func (e *Engine) buildDealloc(ci *classInfo) DeallocFunc {
	poolable := ci.opts.poolSize > 0 &&
		!ci.opts.withDict && !ci.opts.withWeakrefs &&
		ci.base == nil && len(ci.derived) == 0

	deinit := ci.decls.deinit

	return func(rt Runtime, self Object) {
		inst, ok := self.(*Instance)
		if !ok {
			return
		}

		if deinit != nil {
			hadPending := rt.ErrOccurred()
			deinit.fn.Call([]reflect.Value{inst.native})
			if !hadPending && rt.ErrOccurred() {
				rt.ErrClear()
			}
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
		inst.weakrefs = nil

		if poolable && ci.pool != nil && ci.pool.push(inst) {
			return
		}
		// Nothing else to free by hand: the envelope and payload are Go
		// values, the collector reclaims them once the last handle is gone.
	}
}

func raiseArgumentError(rt Runtime, name string, index int, want reflect.Type, err error) {
	if raised, ok := err.(*RaisedError); ok {
		rt.Raise(raised.Class, raised.Msg)
		return
	}
	rt.Raise(ErrType, fmt.Sprintf("%s: argument %d: expected %s: %v", name, index+1, want, err))
}

func arityMessage(what string, required, total, got int) string {
	if required == total {
		return fmt.Sprintf("%s takes exactly %d argument(s) (%d given)", what, total, got)
	}
	return fmt.Sprintf("%s takes from %d to %d arguments (%d given)", what, required, total, got)
}
