package pybind

import (
	"fmt"
	"reflect"
	"sort"
)

// Property generation covers three flavors sharing one table: stored public
// fields, computed Get<Name>/Set<Name> pairs, and declaratively-registered
// PropertyDef entries. Fields holding managed runtime objects are
// lifecycle-managed strong references and get no accessors at all.

func (e *Engine) buildGetSetDefs(ci *classInfo) ([]GetSetDef, error) {
	var defs []GetSetDef

	// Stored fields, own declaration order. Parent fields are inherited
	// through the base type, not duplicated here.
	for _, f := range ci.ownFields {
		if f.isObject {
			continue
		}
		def := GetSetDef{
			Name: snakeCase(f.name),
			Get:  e.buildFieldGetter(ci, f),
		}
		if !ci.opts.frozen {
			if override, ok := ci.decls.setters[f.name]; ok && override.kind == declFieldSetter {
				set, err := e.buildComputedSetter(ci, override)
				if err != nil {
					return nil, err
				}
				def.Set = set
			} else {
				def.Set = e.buildFieldSetter(ci, f)
			}
		}
		defs = append(defs, def)
	}

	// A Set<X> override naming an inherited field shadows the parent's getset
	// entry: same stored-field getter, the override as setter.
	if !ci.opts.frozen {
		own := map[string]bool{}
		for _, f := range ci.ownFields {
			own[f.name] = true
		}
		for _, name := range sortedKeys(ci.decls.setters) {
			override := ci.decls.setters[name]
			if override.kind != declFieldSetter || own[name] {
				continue
			}
			for _, f := range ci.fields {
				if f.name != name {
					continue
				}
				set, err := e.buildComputedSetter(ci, override)
				if err != nil {
					return nil, err
				}
				defs = append(defs, GetSetDef{
					Name: snakeCase(f.name),
					Get:  e.buildFieldGetter(ci, f),
					Set:  set,
				})
				break
			}
		}
	}

	// Computed properties: a getter, optionally with its matched setter.
	for _, name := range sortedKeys(ci.decls.getters) {
		getter := ci.decls.getters[name]
		get, err := e.buildComputedGetter(ci, getter)
		if err != nil {
			return nil, err
		}
		def := GetSetDef{Name: snakeCase(name), Get: get}
		if setter, ok := ci.decls.setters[name]; ok && setter.kind == declPropertySetter && !ci.opts.frozen {
			set, err := e.buildComputedSetter(ci, setter)
			if err != nil {
				return nil, err
			}
			def.Set = set
		}
		defs = append(defs, def)
	}

	// Declarative properties: explicit getter/setter pair bound to a chosen
	// name, independent of the naming convention.
	for _, pd := range ci.decls.explicit {
		def := GetSetDef{Name: pd.Name, Doc: pd.Doc}
		if pd.Get == nil {
			return nil, fmt.Errorf("property %s: a getter is required", pd.Name)
		}
		getFn := reflect.ValueOf(pd.Get)
		if getFn.Kind() != reflect.Func {
			return nil, fmt.Errorf("property %s: getter must be a func, got %T", pd.Name, pd.Get)
		}
		get, err := e.buildAccessor(ci, pd.Name, getFn)
		if err != nil {
			return nil, err
		}
		def.Get = get
		if pd.Set != nil && !ci.opts.frozen {
			setFn := reflect.ValueOf(pd.Set)
			if setFn.Kind() != reflect.Func {
				return nil, fmt.Errorf("property %s: setter must be a func, got %T", pd.Name, pd.Set)
			}
			set, err := e.buildMutator(ci, pd.Name, setFn)
			if err != nil {
				return nil, err
			}
			def.Set = set
		}
		defs = append(defs, def)
	}

	return defs, nil
}

func (e *Engine) buildFieldGetter(ci *classInfo, f fieldInfo) GetterFunc {
	return func(rt Runtime, self Object) Object {
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return nil
		}
		return e.conv.ToRuntime(rt, receiver.Elem().FieldByIndex(f.index))
	}
}

func (e *Engine) buildFieldSetter(ci *classInfo, f fieldInfo) SetterFunc {
	return func(rt Runtime, self, value Object) bool {
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return false
		}
		v, err := e.conv.FromRuntime(rt, value, f.typ)
		if err != nil {
			raiseArgumentError(rt, ci.name+"."+snakeCase(f.name), 0, f.typ, err)
			return false
		}
		receiver.Elem().FieldByIndex(f.index).Set(v)
		return true
	}
}

func (e *Engine) buildComputedGetter(ci *classInfo, d *declaration) (GetterFunc, error) {
	return e.buildAccessor(ci, d.propName, d.fn)
}

func (e *Engine) buildComputedSetter(ci *classInfo, d *declaration) (SetterFunc, error) {
	return e.buildMutator(ci, d.propName, d.fn)
}

// buildAccessor wraps a getter func: receiver in, one value (possibly with
// error) out, routed through the shared return dispatcher.
func (e *Engine) buildAccessor(ci *classInfo, name string, fn reflect.Value) (GetterFunc, error) {
	ft := fn.Type()
	if ft.NumIn() != 1 || !receiverCompatible(ci, ft.In(0)) {
		return nil, fmt.Errorf("property %s: getter must take the receiver only, got %s", name, ft)
	}
	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", name, err)
	}
	if plan.conv == retVoid || plan.conv == retVoidErrorUnion {
		return nil, fmt.Errorf("property %s: getter must return a value", name)
	}
	byValue := ft.In(0) == ci.typ

	return func(rt Runtime, self Object) Object {
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return nil
		}
		arg := receiver
		if byValue {
			arg = receiver.Elem()
		}
		return plan.dispatch(rt, e.conv, self, receiver, fn.Call([]reflect.Value{arg}))
	}, nil
}

// buildMutator wraps a setter func: receiver and one value in, nothing or a
// may-fail error out. The error path goes through the same dispatcher as
// every other wrapper, so a RaisedError picks its class and a pending
// exception is never clobbered.
func (e *Engine) buildMutator(ci *classInfo, name string, fn reflect.Value) (SetterFunc, error) {
	ft := fn.Type()
	if ft.NumIn() != 2 || !receiverCompatible(ci, ft.In(0)) {
		return nil, fmt.Errorf("property %s: setter must take the receiver and one value, got %s", name, ft)
	}
	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", name, err)
	}
	if plan.conv != retVoid && plan.conv != retVoidErrorUnion {
		return nil, fmt.Errorf("property %s: setter must return nothing or error, got %s", name, ft)
	}
	valueType := ft.In(1)
	byValue := ft.In(0) == ci.typ

	return func(rt Runtime, self, value Object) bool {
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return false
		}
		v, err := e.conv.FromRuntime(rt, value, valueType)
		if err != nil {
			raiseArgumentError(rt, ci.name+"."+name, 0, valueType, err)
			return false
		}
		arg := receiver
		if byValue {
			arg = receiver.Elem()
		}
		return plan.dispatch(rt, e.conv, self, receiver, fn.Call([]reflect.Value{arg, v})) != nil
	}, nil
}

func receiverCompatible(ci *classInfo, t reflect.Type) bool {
	return t == reflect.PointerTo(ci.typ) || t == ci.typ
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
