package pybind

import (
	"fmt"
	"reflect"
)

// Numeric protocol. Each binary slot folds the class's forward and reverse
// declarations (Add and Radd) into one function: the runtime hands the slot
// both operands, and the wrapper picks the declaration whose receiver side
// matches. An operand that does not convert to the declared parameter type
// answers NotImplemented rather than raising, which is what lets the runtime
// try the other operand's protocol.

type binStatus int

const (
	binOK binStatus = iota
	binNotImplemented
	binError
)

// binInvoker is one compiled binary-operator declaration.
type binInvoker struct {
	fn        reflect.Value
	otherType reflect.Type
	plan      returnPlan
	byValue   bool
}

func (e *Engine) buildBinInvoker(ci *classInfo, d *declaration) (*binInvoker, error) {
	ft := d.ftype
	if ft.NumIn() != 2 || !receiverCompatible(ci, ft.In(0)) {
		return nil, fmt.Errorf("%s must take the receiver and one operand, got %s", d.name, ft)
	}
	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	if plan.conv == retVoid || plan.conv == retVoidErrorUnion {
		return nil, fmt.Errorf("%s must return a value", d.name)
	}
	return &binInvoker{
		fn:        d.fn,
		otherType: ft.In(1),
		plan:      plan,
		byValue:   ft.In(0) == ci.typ,
	}, nil
}

func (inv *binInvoker) invoke(e *Engine, rt Runtime, ci *classInfo, self, operand Object) (Object, binStatus) {
	receiver, err := ci.receiver(self)
	if err != nil {
		rt.Raise(ErrType, err.Error())
		return nil, binError
	}
	other, err := e.conv.FromRuntime(rt, operand, inv.otherType)
	if err != nil {
		return nil, binNotImplemented
	}
	arg := receiver
	if inv.byValue {
		arg = receiver.Elem()
	}
	res := inv.plan.dispatch(rt, e.conv, self, receiver, inv.fn.Call([]reflect.Value{arg, other}))
	if res == nil {
		return nil, binError
	}
	return res, binOK
}

// binarySlot folds one forward/reverse pair into the runtime's two-operand
// calling convention. Dispatch order: forward when the left operand is ours,
// then reverse when the right operand is ours.
func (e *Engine) binarySlot(ci *classInfo, fwd, rev *binInvoker) BinaryFunc {
	return func(rt Runtime, a, b Object) Object {
		if fwd != nil && ci.isInstance(a) {
			res, st := fwd.invoke(e, rt, ci, a, b)
			if st != binNotImplemented {
				return res
			}
		}
		if rev != nil && ci.isInstance(b) {
			res, st := rev.invoke(e, rt, ci, b, a)
			if st != binNotImplemented {
				return res
			}
		}
		return rt.NotImplemented()
	}
}

// inplaceSlot wires an Iadd-style declaration. The usual native shape returns
// the receiver pointer, which the dispatcher recognizes and maps back onto the
// same handle. When the operand does not convert the answer is NotImplemented
// and the runtime falls back to the plain binary op plus rebinding.
func (e *Engine) inplaceSlot(ci *classInfo, inv *binInvoker) BinaryFunc {
	return func(rt Runtime, self, operand Object) Object {
		res, st := inv.invoke(e, rt, ci, self, operand)
		if st == binNotImplemented {
			return rt.NotImplemented()
		}
		return res
	}
}

// powerSlot adapts a two-operand Pow/Rpow pair to the three-operand power
// slot. Modular exponentiation is not part of the declared surface; a concrete
// modulus answers NotImplemented.
func (e *Engine) powerSlot(ci *classInfo, fwd, rev *binInvoker) TernaryFunc {
	binary := e.binarySlot(ci, fwd, rev)
	return func(rt Runtime, base, exp, mod Object) Object {
		if mod != nil && !rt.IsNone(mod) {
			return rt.NotImplemented()
		}
		return binary(rt, base, exp)
	}
}

func (e *Engine) inplacePowerSlot(ci *classInfo, inv *binInvoker) TernaryFunc {
	inplace := e.inplaceSlot(ci, inv)
	return func(rt Runtime, base, exp, mod Object) Object {
		if mod != nil && !rt.IsNone(mod) {
			return rt.NotImplemented()
		}
		return inplace(rt, base, exp)
	}
}

// unarySlot wraps a receiver-only declaration returning a value.
func (e *Engine) unarySlot(ci *classInfo, d *declaration) (UnaryFunc, error) {
	get, err := e.buildAccessor(ci, d.name, d.fn)
	if err != nil {
		return nil, err
	}
	return UnaryFunc(get), nil
}

// coercionSlot is unarySlot constrained to a scalar result kind, for the
// Int/Float/Index coercion hooks.
func (e *Engine) coercionSlot(ci *classInfo, d *declaration, want func(reflect.Kind) bool, desc string) (UnaryFunc, error) {
	plan, err := analyzeReturns(d.ftype)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	if plan.valueType == nil || !want(plan.valueType.Kind()) {
		return nil, fmt.Errorf("%s must return %s, got %s", d.name, desc, d.ftype)
	}
	return e.unarySlot(ci, d)
}

func integerKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func floatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// boolSlot wraps a Bool declaration into the truth-value inquiry convention.
func (e *Engine) boolSlot(ci *classInfo, d *declaration) (InquiryFunc, error) {
	inv, err := e.buildCmpInvokerUnary(ci, d)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// buildCmpInvokerUnary compiles a receiver-only boolean predicate.
func (e *Engine) buildCmpInvokerUnary(ci *classInfo, d *declaration) (InquiryFunc, error) {
	ft := d.ftype
	if ft.NumIn() != 1 || !receiverCompatible(ci, ft.In(0)) {
		return nil, fmt.Errorf("%s must take the receiver only, got %s", d.name, ft)
	}
	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	if plan.valueType == nil || plan.valueType.Kind() != reflect.Bool {
		return nil, fmt.Errorf("%s must return bool, got %s", d.name, ft)
	}
	byValue := ft.In(0) == ci.typ

	return func(rt Runtime, self Object) (bool, bool) {
		receiver, err := ci.receiver(self)
		if err != nil {
			rt.Raise(ErrType, err.Error())
			return false, false
		}
		arg := receiver
		if byValue {
			arg = receiver.Elem()
		}
		results := d.fn.Call([]reflect.Value{arg})
		if len(results) == 2 {
			if ev := results[1]; !ev.IsNil() {
				raiseNativeError(rt, ev.Interface().(error))
				return false, false
			}
		}
		return results[0].Bool(), true
	}, nil
}

// numberBinaryOps maps each binary number slot to its forward, reverse and
// in-place declaration names.
var numberBinaryOps = []struct {
	fwd, rev, inplace string
	set               func(*NumberMethods, BinaryFunc)
	setInplace        func(*NumberMethods, BinaryFunc)
}{
	{"Add", "Radd", "Iadd",
		func(n *NumberMethods, f BinaryFunc) { n.Add = f },
		func(n *NumberMethods, f BinaryFunc) { n.InplaceAdd = f }},
	{"Sub", "Rsub", "Isub",
		func(n *NumberMethods, f BinaryFunc) { n.Subtract = f },
		func(n *NumberMethods, f BinaryFunc) { n.InplaceSubtract = f }},
	{"Mul", "Rmul", "Imul",
		func(n *NumberMethods, f BinaryFunc) { n.Multiply = f },
		func(n *NumberMethods, f BinaryFunc) { n.InplaceMultiply = f }},
	{"Mod", "Rmod", "Imod",
		func(n *NumberMethods, f BinaryFunc) { n.Remainder = f },
		func(n *NumberMethods, f BinaryFunc) { n.InplaceRemainder = f }},
	{"Divmod", "Rdivmod", "",
		func(n *NumberMethods, f BinaryFunc) { n.Divmod = f },
		nil},
	{"Lshift", "Rlshift", "Ilshift",
		func(n *NumberMethods, f BinaryFunc) { n.Lshift = f },
		func(n *NumberMethods, f BinaryFunc) { n.InplaceLshift = f }},
	{"Rshift", "Rrshift", "Irshift",
		func(n *NumberMethods, f BinaryFunc) { n.Rshift = f },
		func(n *NumberMethods, f BinaryFunc) { n.InplaceRshift = f }},
	{"And", "Rand", "Iand",
		func(n *NumberMethods, f BinaryFunc) { n.And = f },
		func(n *NumberMethods, f BinaryFunc) { n.InplaceAnd = f }},
	{"Xor", "Rxor", "Ixor",
		func(n *NumberMethods, f BinaryFunc) { n.Xor = f },
		func(n *NumberMethods, f BinaryFunc) { n.InplaceXor = f }},
	{"Or", "Ror", "Ior",
		func(n *NumberMethods, f BinaryFunc) { n.Or = f },
		func(n *NumberMethods, f BinaryFunc) { n.InplaceOr = f }},
	{"TrueDiv", "Rtruediv", "Itruediv",
		func(n *NumberMethods, f BinaryFunc) { n.TrueDivide = f },
		func(n *NumberMethods, f BinaryFunc) { n.InplaceTrueDivide = f }},
	{"FloorDiv", "Rfloordiv", "Ifloordiv",
		func(n *NumberMethods, f BinaryFunc) { n.FloorDivide = f },
		func(n *NumberMethods, f BinaryFunc) { n.InplaceFloorDivide = f }},
	{"MatMul", "Rmatmul", "Imatmul",
		func(n *NumberMethods, f BinaryFunc) { n.MatrixMultiply = f },
		func(n *NumberMethods, f BinaryFunc) { n.InplaceMatrixMultiply = f }},
}

var numberUnaryOps = []struct {
	name string
	set  func(*NumberMethods, UnaryFunc)
}{
	{"Neg", func(n *NumberMethods, f UnaryFunc) { n.Negative = f }},
	{"Pos", func(n *NumberMethods, f UnaryFunc) { n.Positive = f }},
	{"Abs", func(n *NumberMethods, f UnaryFunc) { n.Absolute = f }},
	{"Invert", func(n *NumberMethods, f UnaryFunc) { n.Invert = f }},
}

// buildNumberMethods assembles the numeric sub-descriptor, or nil when the
// class declares no numeric protocol at all.
func (e *Engine) buildNumberMethods(ci *classInfo) (*NumberMethods, error) {
	n := &NumberMethods{}
	active := false

	for _, op := range numberBinaryOps {
		var fwd, rev *binInvoker
		if d, ok := ci.decls.dunder(op.fwd); ok {
			inv, err := e.buildBinInvoker(ci, d)
			if err != nil {
				return nil, err
			}
			fwd = inv
		}
		if d, ok := ci.decls.dunder(op.rev); ok {
			inv, err := e.buildBinInvoker(ci, d)
			if err != nil {
				return nil, err
			}
			rev = inv
		}
		if fwd != nil || rev != nil {
			op.set(n, e.binarySlot(ci, fwd, rev))
			active = true
		}
		if op.inplace != "" {
			if d, ok := ci.decls.dunder(op.inplace); ok {
				inv, err := e.buildBinInvoker(ci, d)
				if err != nil {
					return nil, err
				}
				op.setInplace(n, e.inplaceSlot(ci, inv))
				active = true
			}
		}
	}

	// Power has its own three-operand convention.
	{
		var fwd, rev *binInvoker
		if d, ok := ci.decls.dunder("Pow"); ok {
			inv, err := e.buildBinInvoker(ci, d)
			if err != nil {
				return nil, err
			}
			fwd = inv
		}
		if d, ok := ci.decls.dunder("Rpow"); ok {
			inv, err := e.buildBinInvoker(ci, d)
			if err != nil {
				return nil, err
			}
			rev = inv
		}
		if fwd != nil || rev != nil {
			n.Power = e.powerSlot(ci, fwd, rev)
			active = true
		}
		if d, ok := ci.decls.dunder("Ipow"); ok {
			inv, err := e.buildBinInvoker(ci, d)
			if err != nil {
				return nil, err
			}
			n.InplacePower = e.inplacePowerSlot(ci, inv)
			active = true
		}
	}

	for _, op := range numberUnaryOps {
		if d, ok := ci.decls.dunder(op.name); ok {
			f, err := e.unarySlot(ci, d)
			if err != nil {
				return nil, err
			}
			op.set(n, f)
			active = true
		}
	}

	if d, ok := ci.decls.dunder("Bool"); ok {
		f, err := e.boolSlot(ci, d)
		if err != nil {
			return nil, err
		}
		n.Bool = f
		active = true
	}
	if d, ok := ci.decls.dunder("Int"); ok {
		f, err := e.coercionSlot(ci, d, integerKind, "an integer")
		if err != nil {
			return nil, err
		}
		n.Int = f
		active = true
	}
	if d, ok := ci.decls.dunder("Float"); ok {
		f, err := e.coercionSlot(ci, d, floatKind, "a float")
		if err != nil {
			return nil, err
		}
		n.Float = f
		active = true
	}
	if d, ok := ci.decls.dunder("Index"); ok {
		f, err := e.coercionSlot(ci, d, integerKind, "an integer")
		if err != nil {
			return nil, err
		}
		n.Index = f
		active = true
	}

	if !active {
		return nil, nil
	}
	return n, nil
}
