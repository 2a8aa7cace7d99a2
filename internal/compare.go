package pybind

import (
	"fmt"
	"reflect"
)

// Rich comparison. A class declares any subset of Eq/Ne/Lt/Le/Gt/Ge as
// boolean predicates; the generator folds them into the runtime's single
// rich-compare slot. Missing operations are derived where a sound derivation
// exists, and everything else answers NotImplemented so the runtime can try
// the other operand.
//
// Derivations, applied in order:
//   - a != b        is  !(a == b)           when only Eq is declared
//   - a <= b        is  a < b || a == b     when Lt and Eq are declared
//   - a >= b        is  a > b || a == b     when Gt (direct or flipped) and Eq are declared
//   - ordering ops flip through the other operand's slot, but only when both
//     operands are the same registered class; flipping against a foreign type
//     would bypass its own protocol.

type cmpStatus int

const (
	cmpOK cmpStatus = iota
	cmpNotImplemented
	cmpError
)

// cmpInvoker is one compiled comparison predicate.
type cmpInvoker struct {
	fn        reflect.Value
	otherType reflect.Type
	byValue   bool
}

func (e *Engine) buildCmpInvoker(ci *classInfo, d *declaration) (*cmpInvoker, error) {
	ft := d.ftype
	if ft.NumIn() != 2 || !receiverCompatible(ci, ft.In(0)) {
		return nil, fmt.Errorf("%s must take the receiver and one operand, got %s", d.name, ft)
	}
	plan, err := analyzeReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	if plan.valueType == nil || plan.valueType.Kind() != reflect.Bool {
		return nil, fmt.Errorf("%s must return bool, got %s", d.name, ft)
	}
	return &cmpInvoker{
		fn:        d.fn,
		otherType: ft.In(1),
		byValue:   ft.In(0) == ci.typ,
	}, nil
}

// invoke runs the predicate with self as the left operand. A failed conversion
// of the operand is not an error: the operand simply is not of a comparable
// type, and the answer is NotImplemented.
func (inv *cmpInvoker) invoke(e *Engine, rt Runtime, ci *classInfo, left, right Object) (bool, cmpStatus) {
	receiver, err := ci.receiver(left)
	if err != nil {
		rt.Raise(ErrType, err.Error())
		return false, cmpError
	}
	other, err := e.conv.FromRuntime(rt, right, inv.otherType)
	if err != nil {
		return false, cmpNotImplemented
	}
	arg := receiver
	if inv.byValue {
		arg = receiver.Elem()
	}
	results := inv.fn.Call([]reflect.Value{arg, other})
	if len(results) == 2 {
		if ev := results[1]; !ev.IsNil() {
			raiseNativeError(rt, ev.Interface().(error))
			return false, cmpError
		}
	}
	return results[0].Bool(), cmpOK
}

// cmpGroup is the per-class comparison table, indexed by CompareOp.
type cmpGroup struct {
	inv [6]*cmpInvoker
}

var cmpOpNames = map[string]CompareOp{
	"Lt": OpLt, "Le": OpLe, "Eq": OpEq, "Ne": OpNe, "Gt": OpGt, "Ge": OpGe,
}

func (e *Engine) buildRichCompare(ci *classInfo) (RichCmpFunc, error) {
	var g cmpGroup
	found := false
	for name, op := range cmpOpNames {
		d, ok := ci.decls.dunder(name)
		if !ok {
			continue
		}
		inv, err := e.buildCmpInvoker(ci, d)
		if err != nil {
			return nil, err
		}
		g.inv[op] = inv
		found = true
	}
	if !found {
		return nil, nil
	}

	return func(rt Runtime, self, other Object, op CompareOp) Object {
		r, st := g.resolve(e, rt, ci, self, other, op)
		switch st {
		case cmpError:
			return nil
		case cmpNotImplemented:
			return rt.NotImplemented()
		}
		return rt.Bool(r)
	}, nil
}

func (g *cmpGroup) resolve(e *Engine, rt Runtime, ci *classInfo, self, other Object, op CompareOp) (bool, cmpStatus) {
	if inv := g.inv[op]; inv != nil {
		return inv.invoke(e, rt, ci, self, other)
	}

	// Flipped ordering against the same class: a > b answered by b < a.
	if op != OpEq && op != OpNe && ci.isInstance(other) {
		if inv := g.inv[op.Swapped()]; inv != nil {
			return inv.invoke(e, rt, ci, other, self)
		}
	}

	switch op {
	case OpNe:
		if inv := g.inv[OpEq]; inv != nil {
			eq, st := inv.invoke(e, rt, ci, self, other)
			return !eq, st
		}
	case OpLe:
		return g.disjunction(e, rt, ci, self, other, OpLt)
	case OpGe:
		return g.disjunction(e, rt, ci, self, other, OpGt)
	}
	return false, cmpNotImplemented
}

// disjunction derives "strict || equal" for the two non-strict orderings. The
// strict half may itself resolve through a flipped invoker, so it goes back
// through resolve; equality must be declared directly.
func (g *cmpGroup) disjunction(e *Engine, rt Runtime, ci *classInfo, self, other Object, strict CompareOp) (bool, cmpStatus) {
	eqInv := g.inv[OpEq]
	if eqInv == nil || (g.inv[strict] == nil && g.inv[strict.Swapped()] == nil) {
		return false, cmpNotImplemented
	}
	r, st := g.resolve(e, rt, ci, self, other, strict)
	if st != cmpOK || r {
		return r, st
	}
	return eqInv.invoke(e, rt, ci, self, other)
}
