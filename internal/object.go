package pybind

import (
	"fmt"
	"reflect"
)

// Instance is the object envelope for one generated-class value: the managed
// runtime's object header (refcount + type) followed by the embedded native
// payload, plus the optional trailing dict/weakref storage whose offsets were
// declared at type-assembly time. Wrapper functions unwrap their self Object
// to an *Instance to reach the payload; everything else goes through the
// Runtime interface.
type Instance struct {
	class  *classInfo
	refs   int
	native reflect.Value // pointer to the native struct, payload zeroed at birth

	dict     Object
	weakrefs []Object
}

// Class returns the external name the instance's class was registered under.
func (inst *Instance) Class() string {
	return inst.class.name
}

// Native returns the pointer to the embedded native struct as an any.
func (inst *Instance) Native() any {
	return inst.native.Interface()
}

// RefCount exposes the envelope's reference count for tests and runtimes.
func (inst *Instance) RefCount() int {
	return inst.refs
}

// IncRef bumps the envelope's reference count. Runtimes route their IncRef
// here for engine-made instances.
func (inst *Instance) IncRef() {
	inst.refs++
}

// DecRef drops one reference; the last one triggers the class's dealloc.
func (inst *Instance) DecRef(rt Runtime) {
	inst.refs--
	if inst.refs <= 0 {
		inst.class.dealloc(rt, inst)
	}
}

// Dict returns the instance's attribute dict, creating it on first use when
// the class was registered with dict support.
func (inst *Instance) Dict(rt Runtime) (Object, bool) {
	if !inst.class.opts.withDict {
		return nil, false
	}
	if inst.dict == nil {
		inst.dict = rt.NewDict()
	}
	return inst.dict, true
}

// unwrap pulls the envelope out of a self Object, walking up the embedded
// parent chain when the wrapper belongs to a base class of the instance.
func (ci *classInfo) unwrap(o Object) (*Instance, error) {
	inst, ok := o.(*Instance)
	if !ok {
		return nil, fmt.Errorf("expected instance of %s, got %T", ci.name, o)
	}
	for c := inst.class; c != nil; c = c.base {
		if c == ci {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("expected instance of %s, got instance of %s", ci.name, inst.class.name)
}

// receiver returns the native pointer for a wrapper's self, upcast to the
// wrapper's own class when self is an instance of a derived class. Upcasting
// is a field walk: a derived payload embeds its parent payload as field 0.
func (ci *classInfo) receiver(o Object) (reflect.Value, error) {
	inst, err := ci.unwrap(o)
	if err != nil {
		return reflect.Value{}, err
	}
	v := inst.native
	for c := inst.class; c != ci; c = c.base {
		if c.base == nil {
			return reflect.Value{}, fmt.Errorf("instance of %s does not extend %s", inst.class.name, ci.name)
		}
		v = v.Elem().Field(0).Addr()
	}
	return v, nil
}

// isInstance reports whether o is an envelope of this class or of a class
// deriving from it.
func (ci *classInfo) isInstance(o Object) bool {
	inst, ok := o.(*Instance)
	if !ok {
		return false
	}
	for c := inst.class; c != nil; c = c.base {
		if c == ci {
			return true
		}
	}
	return false
}
