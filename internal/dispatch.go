package pybind

import (
	"errors"
	"fmt"
	"reflect"
)

// returnConv is the declared return convention of a native function: a plain
// value, a recoverable-error-union (value, error), a nullable value, or the
// void flavors of those. The dispatcher below is the single place the
// three-convention contract lives; every wrapper generator routes results
// through it instead of re-encoding the rules.
type returnConv int

const (
	retVoid returnConv = iota
	retPlain
	retNullable
	retVoidErrorUnion
	retErrorUnion
	retNullableErrorUnion
)

// returnPlan is the compile-time analysis of one declared return type,
// reused for every call through the generated wrapper.
type returnPlan struct {
	conv      returnConv
	valueType reflect.Type

	// requireConcrete marks slots that must always yield a concrete value
	// (construction, length, index coercion): for those a nil result with no
	// pending exception is a protocol-contract violation, not a None.
	requireConcrete bool
	concreteClass   ErrorClass
}

// analyzeReturns builds the plan for a native function type. Supported
// shapes: (), (error), (V), (V, error). V is nullable when its kind can hold
// nil.
func analyzeReturns(ft reflect.Type) (returnPlan, error) {
	var p returnPlan
	p.concreteClass = ErrRuntime

	switch ft.NumOut() {
	case 0:
		p.conv = retVoid
	case 1:
		if ft.Out(0) == errorType {
			p.conv = retVoidErrorUnion
			return p, nil
		}
		p.valueType = ft.Out(0)
		if nullableKind(p.valueType) {
			p.conv = retNullable
		} else {
			p.conv = retPlain
		}
	case 2:
		if ft.Out(1) != errorType {
			return p, fmt.Errorf("second return value must be error, got %s", ft.Out(1))
		}
		p.valueType = ft.Out(0)
		if nullableKind(p.valueType) {
			p.conv = retNullableErrorUnion
		} else {
			p.conv = retErrorUnion
		}
	default:
		return p, fmt.Errorf("at most two return values are supported, got %d", ft.NumOut())
	}
	return p, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func nullableKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

// dispatch turns the native call results into the runtime outcome: an object,
// or nil with an exception posted. receiver is the native self pointer (zero
// Value for statics); self the managed handle it came from. When the result
// is a pointer to the receiver itself, the original handle is returned with
// its reference count bumped instead of a fresh wrapper, which is what makes
// fluent self-returning methods and __iter__-returns-self cheap and
// identity-preserving.
func (p *returnPlan) dispatch(rt Runtime, conv Converter, self Object, receiver reflect.Value, results []reflect.Value) Object {
	var (
		value  reflect.Value
		errVal reflect.Value
	)
	switch p.conv {
	case retVoid:
		return rt.None()
	case retVoidErrorUnion:
		errVal = results[0]
	case retPlain, retNullable:
		value = results[0]
	case retErrorUnion, retNullableErrorUnion:
		value = results[0]
		errVal = results[1]
	}

	if errVal.IsValid() && !errVal.IsNil() {
		raiseNativeError(rt, errVal.Interface().(error))
		return nil
	}
	if p.conv == retVoidErrorUnion {
		return rt.None()
	}

	if (p.conv == retNullable || p.conv == retNullableErrorUnion) && value.IsNil() {
		if rt.ErrOccurred() {
			// The native code already posted something more specific; pass
			// the failure through untouched.
			return nil
		}
		if p.requireConcrete {
			rt.Raise(p.concreteClass, "method returned nil, expected a concrete value")
			return nil
		}
		return rt.None()
	}

	if receiver.IsValid() && value.Kind() == reflect.Ptr && value.Pointer() == receiver.Pointer() {
		rt.IncRef(self)
		return self
	}

	return conv.ToRuntime(rt, value)
}

// raiseNativeError maps a native function's error value onto the runtime's
// exception state. A RaisedError picks its own class; anything else becomes a
// RuntimeError carrying the error text. An exception posted deeper in the
// call (e.g. by a nested wrapper) is never overwritten with the generic one.
func raiseNativeError(rt Runtime, err error) {
	if rt.ErrOccurred() {
		return
	}
	var raised *RaisedError
	if errors.As(err, &raised) {
		rt.Raise(raised.Class, raised.Msg)
		return
	}
	rt.Raise(ErrRuntime, err.Error())
}

// pendingError reads the runtime's pending exception as a Go error value.
func pendingError(rt Runtime) error {
	if class, msg, ok := rt.PendingError(); ok {
		return &RaisedError{Class: class, Msg: msg}
	}
	return errors.New("no exception pending")
}
