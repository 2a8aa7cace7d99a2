package pybind

import (
	"fmt"
	"reflect"
)

// Iteration protocol. Iter usually returns the receiver (an iterator is its
// own iterable), which the dispatcher maps back onto the same handle. Next has
// the protocol's one sanctioned nil: a nullable nil result with no pending
// exception means clean exhaustion, surfaced to the runtime as StopIteration.

func (e *Engine) buildIterSlot(ci *classInfo) (UnaryFunc, error) {
	d, ok := ci.decls.dunder("Iter")
	if !ok {
		return nil, nil
	}
	return e.unarySlot(ci, d)
}

func (e *Engine) buildIterNextSlot(ci *classInfo) (UnaryFunc, error) {
	d, ok := ci.decls.dunder("Next")
	if !ok {
		return nil, nil
	}
	ft := d.ftype
	if ft.NumIn() != 1 || !receiverCompatible(ci, ft.In(0)) {
		return nil, fmt.Errorf("Next must take the receiver only, got %s", ft)
	}
	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("Next: %w", err)
	}
	if plan.conv == retVoid || plan.conv == retVoidErrorUnion {
		return nil, fmt.Errorf("Next must return a value, got %s", ft)
	}
	nullable := plan.conv == retNullable || plan.conv == retNullableErrorUnion
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
		results := d.fn.Call([]reflect.Value{arg})

		if len(results) == 2 {
			if ev := results[1]; !ev.IsNil() {
				raiseNativeError(rt, ev.Interface().(error))
				return nil
			}
		}
		value := results[0]
		if nullable && value.IsNil() {
			if !rt.ErrOccurred() {
				rt.Raise(ErrStopIteration, "")
			}
			return nil
		}
		if receiver.IsValid() && value.Kind() == reflect.Ptr && value.Pointer() == receiver.Pointer() {
			rt.IncRef(self)
			return self
		}
		return e.conv.ToRuntime(rt, value)
	}, nil
}
