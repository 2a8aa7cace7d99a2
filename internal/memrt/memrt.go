// Package memrt is an in-memory reference implementation of the host runtime
// ABI. It keeps every value as a plain Go object and implements both type
// registration entry points by lowering them onto one internal form, which is
// what the behavioral test suites run against.
package memrt

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	pybind "github.com/gopyforge/pybind/internal"
)

// Runtime is the in-memory host. Not safe for concurrent use; like the real
// host it assumes callers serialize all object-protocol entry points.
type Runtime struct {
	none    *noneObj
	notImpl *notImplObj
	trueO   *boolObj
	falseO  *boolObj

	types map[string]*liveType

	pendingSet   bool
	pendingClass pybind.ErrorClass
	pendingMsg   string

	interrupt bool
}

// NewRuntime creates an empty in-memory host.
func NewRuntime() *Runtime {
	return &Runtime{
		none:    &noneObj{},
		notImpl: &notImplObj{},
		trueO:   &boolObj{v: true},
		falseO:  &boolObj{v: false},
		types:   map[string]*liveType{},
	}
}

var _ pybind.Runtime = (*Runtime)(nil)

// Value objects. All pointer-shaped so interface identity is pointer identity.
type (
	noneObj    struct{}
	notImplObj struct{}
	boolObj    struct{ v bool }
	intObj     struct{ v int64 }
	uintObj    struct{ v uint64 }
	floatObj   struct{ v float64 }
	strObj     struct{ v string }
	bytesObj   struct{ v []byte }
	listObj    struct{ items []pybind.Object }
	dictObj    struct {
		keys []pybind.Object
		vals []pybind.Object
	}
)

func (rt *Runtime) None() pybind.Object           { return rt.none }
func (rt *Runtime) NotImplemented() pybind.Object { return rt.notImpl }

func (rt *Runtime) Bool(v bool) pybind.Object {
	if v {
		return rt.trueO
	}
	return rt.falseO
}

func (rt *Runtime) NewInt(v int64) pybind.Object     { return &intObj{v: v} }
func (rt *Runtime) NewUint(v uint64) pybind.Object   { return &uintObj{v: v} }
func (rt *Runtime) NewFloat(v float64) pybind.Object { return &floatObj{v: v} }
func (rt *Runtime) NewString(s string) pybind.Object { return &strObj{v: s} }
func (rt *Runtime) NewBytes(b []byte) pybind.Object  { return &bytesObj{v: append([]byte(nil), b...)} }

func (rt *Runtime) NewList(items []pybind.Object) pybind.Object {
	return &listObj{items: append([]pybind.Object(nil), items...)}
}

func (rt *Runtime) NewDict() pybind.Object { return &dictObj{} }

func (rt *Runtime) DictSetItem(d, key, value pybind.Object) error {
	dict, ok := d.(*dictObj)
	if !ok {
		return fmt.Errorf("not a dict: %T", d)
	}
	for i, k := range dict.keys {
		if sameKey(k, key) {
			dict.vals[i] = value
			return nil
		}
	}
	dict.keys = append(dict.keys, key)
	dict.vals = append(dict.vals, value)
	return nil
}

// dictGet is the runtime-internal lookup used by instance dicts.
func dictGet(d pybind.Object, key pybind.Object) (pybind.Object, bool) {
	dict, ok := d.(*dictObj)
	if !ok {
		return nil, false
	}
	for i, k := range dict.keys {
		if sameKey(k, key) {
			return dict.vals[i], true
		}
	}
	return nil, false
}

// sameKey compares dict keys: scalars by value, everything else by identity.
func sameKey(a, b pybind.Object) bool {
	switch av := a.(type) {
	case *strObj:
		bv, ok := b.(*strObj)
		return ok && av.v == bv.v
	case *intObj:
		switch bv := b.(type) {
		case *intObj:
			return av.v == bv.v
		case *uintObj:
			return av.v >= 0 && uint64(av.v) == bv.v
		}
		return false
	case *uintObj:
		switch bv := b.(type) {
		case *uintObj:
			return av.v == bv.v
		case *intObj:
			return bv.v >= 0 && uint64(bv.v) == av.v
		}
		return false
	case *boolObj:
		bv, ok := b.(*boolObj)
		return ok && av.v == bv.v
	case *floatObj:
		bv, ok := b.(*floatObj)
		return ok && av.v == bv.v
	}
	return a == b
}

func (rt *Runtime) AsInt(o pybind.Object) (int64, error) {
	switch v := o.(type) {
	case *intObj:
		return v.v, nil
	case *uintObj:
		if v.v > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d too large", v.v)
		}
		return int64(v.v), nil
	case *boolObj:
		if v.v {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("not an integer: %s", typeName(o))
}

func (rt *Runtime) AsUint(o pybind.Object) (uint64, error) {
	switch v := o.(type) {
	case *uintObj:
		return v.v, nil
	case *intObj:
		if v.v < 0 {
			return 0, fmt.Errorf("negative value %d", v.v)
		}
		return uint64(v.v), nil
	}
	return 0, fmt.Errorf("not an integer: %s", typeName(o))
}

func (rt *Runtime) AsFloat(o pybind.Object) (float64, error) {
	switch v := o.(type) {
	case *floatObj:
		return v.v, nil
	case *intObj:
		return float64(v.v), nil
	case *uintObj:
		return float64(v.v), nil
	}
	return 0, fmt.Errorf("not a float: %s", typeName(o))
}

func (rt *Runtime) AsBool(o pybind.Object) (bool, error) {
	switch v := o.(type) {
	case *boolObj:
		return v.v, nil
	case *intObj:
		return v.v != 0, nil
	case *noneObj:
		return false, nil
	}
	return false, fmt.Errorf("not a bool: %s", typeName(o))
}

func (rt *Runtime) AsString(o pybind.Object) (string, error) {
	if v, ok := o.(*strObj); ok {
		return v.v, nil
	}
	return "", fmt.Errorf("not a string: %s", typeName(o))
}

func (rt *Runtime) AsBytes(o pybind.Object) ([]byte, error) {
	if v, ok := o.(*bytesObj); ok {
		return append([]byte(nil), v.v...), nil
	}
	return nil, fmt.Errorf("not bytes: %s", typeName(o))
}

func (rt *Runtime) AsList(o pybind.Object) ([]pybind.Object, error) {
	if v, ok := o.(*listObj); ok {
		return append([]pybind.Object(nil), v.items...), nil
	}
	return nil, fmt.Errorf("not a list: %s", typeName(o))
}

func (rt *Runtime) DictItems(o pybind.Object) ([][2]pybind.Object, error) {
	dict, ok := o.(*dictObj)
	if !ok {
		return nil, fmt.Errorf("not a dict: %s", typeName(o))
	}
	pairs := make([][2]pybind.Object, len(dict.keys))
	for i := range dict.keys {
		pairs[i] = [2]pybind.Object{dict.keys[i], dict.vals[i]}
	}
	return pairs, nil
}

func (rt *Runtime) IsNone(o pybind.Object) bool {
	_, ok := o.(*noneObj)
	return ok
}

// IsNotImplemented reports the operator-protocol deferral marker (test hook).
func (rt *Runtime) IsNotImplemented(o pybind.Object) bool {
	_, ok := o.(*notImplObj)
	return ok
}

func (rt *Runtime) Repr(o pybind.Object) (string, error) {
	switch v := o.(type) {
	case *noneObj:
		return "None", nil
	case *notImplObj:
		return "NotImplemented", nil
	case *boolObj:
		if v.v {
			return "True", nil
		}
		return "False", nil
	case *intObj:
		return strconv.FormatInt(v.v, 10), nil
	case *uintObj:
		return strconv.FormatUint(v.v, 10), nil
	case *floatObj:
		return strconv.FormatFloat(v.v, 'g', -1, 64), nil
	case *strObj:
		return strconv.Quote(v.v), nil
	case *bytesObj:
		return "b" + strconv.Quote(string(v.v)), nil
	case *listObj:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				b.WriteString(", ")
			}
			s, err := rt.Repr(item)
			if err != nil {
				return "", err
			}
			b.WriteString(s)
		}
		b.WriteByte(']')
		return b.String(), nil
	case *dictObj:
		var b strings.Builder
		b.WriteByte('{')
		for i := range v.keys {
			if i > 0 {
				b.WriteString(", ")
			}
			ks, err := rt.Repr(v.keys[i])
			if err != nil {
				return "", err
			}
			vs, err := rt.Repr(v.vals[i])
			if err != nil {
				return "", err
			}
			b.WriteString(ks)
			b.WriteString(": ")
			b.WriteString(vs)
		}
		b.WriteByte('}')
		return b.String(), nil
	case *liveType:
		return "<class '" + v.name + "'>", nil
	case *pybind.Instance:
		t, ok := rt.types[v.Class()]
		if !ok {
			return "", fmt.Errorf("instance of unregistered type %s", v.Class())
		}
		reprFn, ok := t.slot(pybind.SlotRepr)
		if !ok {
			return fmt.Sprintf("<%s object>", v.Class()), nil
		}
		res := reprFn.(pybind.UnaryFunc)(rt, o)
		if res == nil {
			return "", rt.takePending()
		}
		return rt.AsString(res)
	case *boundMethod:
		return "<bound method " + v.def.Name + ">", nil
	}
	return "", fmt.Errorf("no repr for %T", o)
}

func (rt *Runtime) IncRef(o pybind.Object) {
	if inst, ok := o.(*pybind.Instance); ok {
		inst.IncRef()
	}
}

func (rt *Runtime) DecRef(o pybind.Object) {
	if inst, ok := o.(*pybind.Instance); ok {
		inst.DecRef(rt)
	}
}

func (rt *Runtime) Raise(class pybind.ErrorClass, msg string) {
	rt.pendingSet = true
	rt.pendingClass = class
	rt.pendingMsg = msg
}

func (rt *Runtime) ErrOccurred() bool { return rt.pendingSet }

func (rt *Runtime) ErrClear() {
	rt.pendingSet = false
	rt.pendingMsg = ""
	rt.pendingClass = pybind.ErrException
}

func (rt *Runtime) PendingError() (pybind.ErrorClass, string, bool) {
	return rt.pendingClass, rt.pendingMsg, rt.pendingSet
}

func (rt *Runtime) PendingInterrupt() bool { return rt.interrupt }

// SetInterrupt arms or clears the cooperative interrupt flag (test hook).
func (rt *Runtime) SetInterrupt(v bool) { rt.interrupt = v }

func (rt *Runtime) AllowThreads(fn func()) { fn() }

// takePending converts the pending exception into an error and clears it.
func (rt *Runtime) takePending() error {
	if !rt.pendingSet {
		return fmt.Errorf("operation failed with no exception set")
	}
	err := &pybind.RaisedError{Class: rt.pendingClass, Msg: rt.pendingMsg}
	rt.ErrClear()
	return err
}

func typeName(o pybind.Object) string {
	switch v := o.(type) {
	case *noneObj:
		return "NoneType"
	case *notImplObj:
		return "NotImplementedType"
	case *boolObj:
		return "bool"
	case *intObj, *uintObj:
		return "int"
	case *floatObj:
		return "float"
	case *strObj:
		return "str"
	case *bytesObj:
		return "bytes"
	case *listObj:
		return "list"
	case *dictObj:
		return "dict"
	case *liveType:
		return "type"
	case *pybind.Instance:
		return v.Class()
	}
	return fmt.Sprintf("%T", o)
}
