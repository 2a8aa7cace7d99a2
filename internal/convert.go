package pybind

import (
	"fmt"
	"reflect"

	"fortio.org/safecast"
)

// Converter is the bidirectional value-conversion capability every wrapper
// generator marshals through. It is parameterized by the engine's full
// ordered class set, which is what lets one registered class's methods accept
// and return other registered classes, cyclic references included.
//
// ToRuntime returns nil with an exception posted on failure. FromRuntime
// returns a plain error and leaves the exception state alone; the wrapper
// decides which error class the failure surfaces as.
type Converter interface {
	ToRuntime(rt Runtime, v reflect.Value) Object
	FromRuntime(rt Runtime, o Object, want reflect.Type) (reflect.Value, error)
}

// converter is the class-aware Converter the engine hands to every generator.
// Scalar and container primitives delegate to the Runtime; registered classes
// wrap and unwrap through the Instance envelope.
type converter struct {
	engine *Engine
}

var _ Converter = (*converter)(nil)

func (c *converter) ToRuntime(rt Runtime, v reflect.Value) Object {
	if !v.IsValid() {
		return rt.None()
	}

	// Raw runtime handles pass through untouched.
	if v.Type() == objectType {
		if v.IsNil() {
			return rt.None()
		}
		return v.Interface().(Object)
	}

	if ci, ok := c.engine.classFor(v.Type()); ok {
		ptr := reflect.New(ci.typ)
		ptr.Elem().Set(v)
		return c.wrapInstance(rt, ci, ptr)
	}

	switch v.Kind() {
	case reflect.Bool:
		return rt.Bool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rt.NewInt(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rt.NewUint(v.Uint())
	case reflect.Float32, reflect.Float64:
		return rt.NewFloat(v.Float())
	case reflect.String:
		return rt.NewString(v.String())
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return rt.NewBytes(v.Bytes())
		}
		if v.IsNil() {
			return rt.None()
		}
		fallthrough
	case reflect.Array:
		items := make([]Object, v.Len())
		for i := 0; i < v.Len(); i++ {
			items[i] = c.ToRuntime(rt, v.Index(i))
			if items[i] == nil {
				return nil
			}
		}
		return rt.NewList(items)
	case reflect.Map:
		if v.IsNil() {
			return rt.None()
		}
		d := rt.NewDict()
		iter := v.MapRange()
		for iter.Next() {
			k := c.ToRuntime(rt, iter.Key())
			if k == nil {
				return nil
			}
			val := c.ToRuntime(rt, iter.Value())
			if val == nil {
				return nil
			}
			if err := rt.DictSetItem(d, k, val); err != nil {
				rt.Raise(ErrType, err.Error())
				return nil
			}
		}
		return d
	case reflect.Ptr:
		if v.IsNil() {
			return rt.None()
		}
		if ci, ok := c.engine.classFor(v.Type().Elem()); ok {
			return c.wrapInstance(rt, ci, v)
		}
		return c.ToRuntime(rt, v.Elem())
	case reflect.Interface:
		if v.IsNil() {
			return rt.None()
		}
		return c.ToRuntime(rt, v.Elem())
	}

	rt.Raise(ErrType, fmt.Sprintf("cannot convert value of native type %s", v.Type()))
	return nil
}

// wrapInstance builds a fresh envelope around an already-live native pointer,
// e.g. a method's newly-computed return value. Envelopes made here never come
// from the freelist; their payload memory is owned by the Go heap.
func (c *converter) wrapInstance(rt Runtime, ci *classInfo, ptr reflect.Value) Object {
	return &Instance{class: ci, refs: 1, native: ptr}
}

func (c *converter) FromRuntime(rt Runtime, o Object, want reflect.Type) (reflect.Value, error) {
	if want == objectType {
		return reflect.ValueOf(&o).Elem(), nil
	}

	if ci, ok := c.engine.classFor(want); ok {
		ptr, err := ci.receiver(o)
		if err != nil {
			return reflect.Value{}, err
		}
		return ptr.Elem(), nil
	}
	if want.Kind() == reflect.Ptr {
		if ci, ok := c.engine.classFor(want.Elem()); ok {
			if rt.IsNone(o) {
				return reflect.Zero(want), nil
			}
			return ci.receiver(o)
		}
		if rt.IsNone(o) {
			return reflect.Zero(want), nil
		}
		inner, err := c.FromRuntime(rt, o, want.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(want.Elem())
		ptr.Elem().Set(inner)
		return ptr, nil
	}

	switch want.Kind() {
	case reflect.Bool:
		b, err := rt.AsBool(o)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b).Convert(want), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := rt.AsInt(o)
		if err != nil {
			return reflect.Value{}, err
		}
		return narrowInt(n, want)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := rt.AsInt(o)
		if err != nil {
			return reflect.Value{}, err
		}
		return narrowUint(n, want)
	case reflect.Float32, reflect.Float64:
		f, err := rt.AsFloat(o)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(f).Convert(want), nil
	case reflect.String:
		s, err := rt.AsString(o)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(s).Convert(want), nil
	case reflect.Slice:
		if want.Elem().Kind() == reflect.Uint8 {
			b, err := rt.AsBytes(o)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(b).Convert(want), nil
		}
		items, err := rt.AsList(o)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.MakeSlice(want, len(items), len(items))
		for i, item := range items {
			ev, err := c.FromRuntime(rt, item, want.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	case reflect.Map:
		pairs, err := rt.DictItems(o)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.MakeMapWithSize(want, len(pairs))
		for _, kv := range pairs {
			kk, err := c.FromRuntime(rt, kv[0], want.Key())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("dict key: %w", err)
			}
			vv, err := c.FromRuntime(rt, kv[1], want.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("dict value: %w", err)
			}
			out.SetMapIndex(kk, vv)
		}
		return out, nil
	}

	return reflect.Value{}, fmt.Errorf("no conversion to native type %s", want)
}

// narrowInt converts a runtime integer to the declared signed width; range
// violations surface as overflow errors rather than silent truncation.
func narrowInt(n int64, want reflect.Type) (reflect.Value, error) {
	var (
		out any
		err error
	)
	switch want.Kind() {
	case reflect.Int:
		out, err = safecast.Conv[int](n)
	case reflect.Int8:
		out, err = safecast.Conv[int8](n)
	case reflect.Int16:
		out, err = safecast.Conv[int16](n)
	case reflect.Int32:
		out, err = safecast.Conv[int32](n)
	default:
		out = n
	}
	if err != nil {
		return reflect.Value{}, &RaisedError{Class: ErrOverflow, Msg: fmt.Sprintf("%d out of range for %s", n, want)}
	}
	return reflect.ValueOf(out).Convert(want), nil
}

func narrowUint(n int64, want reflect.Type) (reflect.Value, error) {
	var (
		out any
		err error
	)
	switch want.Kind() {
	case reflect.Uint:
		out, err = safecast.Conv[uint](n)
	case reflect.Uint8:
		out, err = safecast.Conv[uint8](n)
	case reflect.Uint16:
		out, err = safecast.Conv[uint16](n)
	case reflect.Uint32:
		out, err = safecast.Conv[uint32](n)
	case reflect.Uintptr:
		out, err = safecast.Conv[uintptr](n)
	default:
		out, err = safecast.Conv[uint64](n)
	}
	if err != nil {
		return reflect.Value{}, &RaisedError{Class: ErrOverflow, Msg: fmt.Sprintf("%d out of range for %s", n, want)}
	}
	return reflect.ValueOf(out).Convert(want), nil
}
