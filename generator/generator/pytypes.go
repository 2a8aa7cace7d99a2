package generator

import (
	"fmt"
	"go/types"
	"strings"
	"unicode"
)

// goDunders maps the recognized protocol method spellings to the dunder
// the runtime installs them under. The stub lists these on the class so
// editors surface operator support.
var goDunders = map[string]string{
	"Repr": "__repr__", "Str": "__str__", "Hash": "__hash__",
	"Len": "__len__", "GetItem": "__getitem__", "SetItem": "__setitem__",
	"DelItem": "__delitem__", "Contains": "__contains__",
	"Iter": "__iter__", "Next": "__next__",
	"Call": "__call__",
	"Eq": "__eq__", "Ne": "__ne__", "Lt": "__lt__", "Le": "__le__",
	"Gt": "__gt__", "Ge": "__ge__",
	"GetAttr": "__getattr__", "SetAttr": "__setattr__", "DelAttr": "__delattr__",
	"DescrGet": "__get__", "DescrSet": "__set__", "DescrDelete": "__delete__",
	"Bool": "__bool__", "Int": "__int__", "Float": "__float__", "Index": "__index__",
	"Neg": "__neg__", "Pos": "__pos__", "Abs": "__abs__", "Invert": "__invert__",
	"Add": "__add__", "Sub": "__sub__", "Mul": "__mul__", "Mod": "__mod__",
	"Divmod": "__divmod__", "Pow": "__pow__",
	"Lshift": "__lshift__", "Rshift": "__rshift__",
	"And": "__and__", "Or": "__or__", "Xor": "__xor__",
	"TrueDiv": "__truediv__", "FloorDiv": "__floordiv__", "MatMul": "__matmul__",
	"Radd": "__radd__", "Rsub": "__rsub__", "Rmul": "__rmul__", "Rmod": "__rmod__",
	"Rdivmod": "__rdivmod__", "Rpow": "__rpow__",
	"Rlshift": "__rlshift__", "Rrshift": "__rrshift__",
	"Rand": "__rand__", "Ror": "__ror__", "Rxor": "__rxor__",
	"Rtruediv": "__rtruediv__", "Rfloordiv": "__rfloordiv__", "Rmatmul": "__rmatmul__",
	"Iadd": "__iadd__", "Isub": "__isub__", "Imul": "__imul__", "Imod": "__imod__",
	"Ipow": "__ipow__",
	"Ilshift": "__ilshift__", "Irshift": "__irshift__",
	"Iand": "__iand__", "Ior": "__ior__", "Ixor": "__ixor__",
	"Itruediv": "__itruediv__", "Ifloordiv": "__ifloordiv__", "Imatmul": "__imatmul__",
}

// passthroughNames are methods that look like dunders but live in the
// regular method table under a fixed interpreter spelling.
var passthroughNames = map[string]string{
	"Enter":        "__enter__",
	"Exit":         "__exit__",
	"Missing":      "__missing__",
	"ClassGetItem": "__class_getitem__",
}

// isAccessor reports whether name is prefix followed by an exported
// remainder, e.g. GetColor but not Getter.
func isAccessor(name, prefix string) bool {
	if len(name) <= len(prefix) || !strings.HasPrefix(name, prefix) {
		return false
	}
	r := rune(name[len(prefix)])
	return unicode.IsUpper(r)
}

func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *scanner) isObject(t types.Type) bool {
	return isPybindType(t, "Object")
}

func (s *scanner) isClassToken(t types.Type) bool {
	return isPybindType(t, "ClassToken")
}

func isPybindType(t types.Type, name string) bool {
	named, ok := t.(*types.Named)
	if !ok || named.Obj().Pkg() == nil || named.Obj().Name() != name {
		return false
	}
	path := named.Obj().Pkg().Path()
	return strings.HasSuffix(path, "/pybind") || strings.HasSuffix(path, "/pybind/internal")
}

func isError(t types.Type) bool {
	named, ok := t.(*types.Named)
	return ok && named.Obj().Pkg() == nil && named.Obj().Name() == "error"
}

// pyType renders the stub annotation for a Go type.
func (s *scanner) pyType(t types.Type) string {
	switch u := t.(type) {
	case *types.Basic:
		info := u.Info()
		switch {
		case info&types.IsBoolean != 0:
			return "bool"
		case info&types.IsInteger != 0:
			return "int"
		case info&types.IsFloat != 0:
			return "float"
		case info&types.IsComplex != 0:
			return "complex"
		case info&types.IsString != 0:
			return "str"
		}
	case *types.Slice:
		if b, ok := u.Elem().(*types.Basic); ok && b.Kind() == types.Byte {
			return "bytes"
		}
		return "list[" + s.pyType(u.Elem()) + "]"
	case *types.Array:
		return "list[" + s.pyType(u.Elem()) + "]"
	case *types.Map:
		return "dict[" + s.pyType(u.Key()) + ", " + s.pyType(u.Elem()) + "]"
	case *types.Pointer:
		return s.pyType(u.Elem()) + " | None"
	case *types.Named:
		if s.isObject(u) {
			return "Any"
		}
		if py, ok := s.classNames[u.Obj().Name()]; ok && u.Obj().Pkg() == s.pkg.Types {
			return py
		}
		return s.pyType(u.Underlying())
	}
	return "Any"
}

// returnType renders the stub annotation for a signature's results. A
// trailing error return signals exceptions and carries no value.
func (s *scanner) returnType(sig *types.Signature) string {
	res := sig.Results()
	switch res.Len() {
	case 0:
		return "None"
	case 1:
		if isError(res.At(0).Type()) {
			return "None"
		}
		return s.pyType(res.At(0).Type())
	default:
		return s.pyType(res.At(0).Type())
	}
}

func (s *scanner) paramSig(sig *types.Signature) string {
	return s.paramSigFrom(sig, 0)
}

// paramSigFrom renders the parameter list starting at index from.
// Trailing pointer parameters accept None and default to it; a variadic
// tail becomes *args.
func (s *scanner) paramSigFrom(sig *types.Signature, from int) string {
	params := sig.Params()
	n := params.Len()

	// Count the run of trailing pointer-typed parameters; those are the
	// optional ones.
	firstOptional := n
	if sig.Variadic() {
		firstOptional = n - 1
	}
	for firstOptional > from {
		if _, ok := params.At(firstOptional - 1).Type().(*types.Pointer); !ok {
			break
		}
		firstOptional--
	}

	var parts []string
	for i := from; i < n; i++ {
		p := params.At(i)
		name := p.Name()
		if name == "" || name == "_" {
			name = fmt.Sprintf("arg%d", i-from)
		}
		name = snakeCase(name)
		if sig.Variadic() && i == n-1 {
			elem := p.Type().(*types.Slice).Elem()
			parts = append(parts, "*"+name+": "+s.pyType(elem))
			continue
		}
		annot := s.pyType(p.Type())
		if i >= firstOptional {
			parts = append(parts, fmt.Sprintf("%s: %s = None", name, annot))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", name, annot))
		}
	}
	return strings.Join(parts, ", ")
}
