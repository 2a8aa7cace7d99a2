package pybind

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// declKind is the exhaustive classification of one native declaration. Every
// declaration falls into exactly one bucket; nothing is silently dropped.
type declKind int

const (
	declInstanceMethod declKind = iota
	declStaticMethod
	declClassMethod
	declPropertyGetter
	declPropertySetter    // bound to a computed getter
	declFieldSetter       // overrides the generated setter of a stored field
	declSlotDunder        // consumed by a protocol generator, kept out of the method table
	declPassthroughDunder // special name with no dedicated slot; stays a regular method
	declLifecycle         // Init / Deinit
)

// declaration is one classified callable of a native struct.
type declaration struct {
	name     string // Go-visible name
	exposed  string // name in the method table (python dunder for passthroughs)
	kind     declKind
	fn       reflect.Value
	ftype    reflect.Type
	propName string // for getter/setter kinds

	// hasReceiver marks callables whose first input is the receiver (Go
	// methods and *T-first statics). Class methods carry the ClassToken
	// instead; statics carry neither.
	hasReceiver bool
}

// classDecls is the classifier's output for one native struct.
type classDecls struct {
	methods  []*declaration          // regular method-table entries
	getters  map[string]*declaration // property name -> getter
	setters  map[string]*declaration // property name -> setter (computed or field override)
	dunders  map[string]*declaration // protocol name -> declaration
	initDecl *declaration
	deinit   *declaration
	explicit []PropertyDef // declaratively-registered properties
}

func (cd *classDecls) dunder(name string) (*declaration, bool) {
	d, ok := cd.dunders[name]
	return d, ok
}

// protocol names recognized on registered structs, i.e. the Go spellings of
// the runtime's dunders. Names listed in passthroughDunders look special but
// have no dedicated slot and therefore stay in the regular method table under
// their runtime-visible spelling.
var slotDunders = map[string]bool{
	"Repr": true, "Str": true, "Hash": true,
	"Len": true, "GetItem": true, "SetItem": true, "DelItem": true, "Contains": true,
	"Iter": true, "Next": true,
	"Call": true,
	"Eq": true, "Ne": true, "Lt": true, "Le": true, "Gt": true, "Ge": true,
	"GetAttr": true, "SetAttr": true, "DelAttr": true,
	"DescrGet": true, "DescrSet": true, "DescrDelete": true,
	"Bool": true, "Int": true, "Float": true, "Index": true,
	"Neg": true, "Pos": true, "Abs": true, "Invert": true,
	"Add": true, "Sub": true, "Mul": true, "Mod": true, "Divmod": true, "Pow": true,
	"Lshift": true, "Rshift": true, "And": true, "Or": true, "Xor": true,
	"TrueDiv": true, "FloorDiv": true, "MatMul": true,
	"Radd": true, "Rsub": true, "Rmul": true, "Rmod": true, "Rdivmod": true, "Rpow": true,
	"Rlshift": true, "Rrshift": true, "Rand": true, "Ror": true, "Rxor": true,
	"Rtruediv": true, "Rfloordiv": true, "Rmatmul": true,
	"Iadd": true, "Isub": true, "Imul": true, "Imod": true, "Ipow": true,
	"Ilshift": true, "Irshift": true, "Iand": true, "Ior": true, "Ixor": true,
	"Itruediv": true, "Ifloordiv": true, "Imatmul": true,
}

var passthroughDunders = map[string]string{
	"Enter":        "__enter__",
	"Exit":         "__exit__",
	"Missing":      "__missing__",
	"ClassGetItem": "__class_getitem__",
}

var lifecycleNames = map[string]bool{
	"Init":   true,
	"Deinit": true,
}

var classTokenType = reflect.TypeOf(ClassToken{})

// classify enumerates every declaration of the class's native struct (its
// exported methods, its PyStatics entries, its explicit properties) and
// buckets each one. Field enumeration lives in collectFields; fields are data,
// not declarations, but setter classification needs the field set, so both
// run here.
func (e *Engine) classify(ci *classInfo) error {
	if err := e.collectFields(ci); err != nil {
		return err
	}

	cd := &classDecls{
		getters: map[string]*declaration{},
		setters: map[string]*declaration{},
		dunders: map[string]*declaration{},
	}
	ci.decls = cd

	// Accessor classification consults the flattened field list: an inherited
	// stored field is still a stored field to Get<X>/Set<X> resolution.
	fieldNames := map[string]bool{}
	for _, f := range ci.fields {
		fieldNames[f.name] = true
	}

	ptr := reflect.PointerTo(ci.typ)
	proto := reflect.New(ci.typ).Interface()

	// Pass 1: gather every callable declaration with its calling role.
	type rawDecl struct {
		name string
		fn   reflect.Value
		role declKind // instance/static/class before name-pattern analysis
	}
	var raws []rawDecl

	for i := 0; i < ptr.NumMethod(); i++ {
		m := ptr.Method(i)
		if ci.base != nil && isPromotedMethod(ci, m.Name) {
			// Promoted parent methods are the parent's declarations; the
			// derived type inherits them through base-type wiring instead of
			// duplicating wrappers.
			continue
		}
		raws = append(raws, rawDecl{name: m.Name, fn: m.Func, role: declInstanceMethod})
	}

	if sp, ok := proto.(StaticsProvider); ok {
		statics := sp.PyStatics()
		names := make([]string, 0, len(statics))
		for name := range statics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fn := reflect.ValueOf(statics[name])
			if !fn.IsValid() || fn.Kind() != reflect.Func {
				return fmt.Errorf("PyStatics entry %s is not callable", name)
			}
			role, err := staticRole(ci, fn.Type())
			if err != nil {
				return fmt.Errorf("PyStatics entry %s: %w", name, err)
			}
			raws = append(raws, rawDecl{name: name, fn: fn, role: role})
		}
	}

	if pp, ok := proto.(PropertiesProvider); ok {
		cd.explicit = pp.Properties()
	}

	// Pass 2: exhaustive classification. Order matters only for the
	// getter/setter pattern: getters are decided before setters so a SetX can
	// bind to its GetX regardless of enumeration order (reflect already
	// sorts method names, but PyStatics interleave).
	byName := map[string]*declaration{}
	for _, raw := range raws {
		d := &declaration{
			name:        raw.name,
			exposed:     snakeCase(raw.name),
			kind:        raw.role,
			fn:          raw.fn,
			ftype:       raw.fn.Type(),
			hasReceiver: raw.role == declInstanceMethod,
		}
		byName[raw.name] = d
	}

	for _, raw := range raws {
		d := byName[raw.name]
		if d.kind != declInstanceMethod {
			continue
		}
		switch {
		case lifecycleNames[raw.name]:
			d.kind = declLifecycle
		case slotDunders[raw.name]:
			d.kind = declSlotDunder
		case passthroughDunders[raw.name] != "":
			d.kind = declPassthroughDunder
			d.exposed = passthroughDunders[raw.name]
		case isAccessorName(raw.name, "Get"):
			prop := raw.name[len("Get"):]
			if !fieldNames[prop] {
				d.kind = declPropertyGetter
				d.propName = prop
			}
		}
	}

	// Setters in a second sweep: a SetX is a computed setter iff a callable
	// GetX classified as a getter exists, a field-setter override iff X names
	// a stored field with no computed getter, and an ordinary method
	// otherwise. Note the coupling: declaring a field X later reclassifies an
	// existing SetX method into a property setter. Documented, tested,
	// deliberately unchanged.
	for _, raw := range raws {
		d := byName[raw.name]
		if d.kind != declInstanceMethod || !isAccessorName(raw.name, "Set") {
			continue
		}
		prop := raw.name[len("Set"):]
		if g, ok := byName["Get"+prop]; ok && g.kind == declPropertyGetter {
			d.kind = declPropertySetter
			d.propName = prop
		} else if fieldNames[prop] {
			d.kind = declFieldSetter
			d.propName = prop
		}
	}

	// Bucket. Every declaration lands somewhere.
	for _, raw := range raws {
		d := byName[raw.name]
		switch d.kind {
		case declLifecycle:
			if raw.name == "Init" {
				cd.initDecl = d
			} else {
				cd.deinit = d
			}
		case declSlotDunder:
			cd.dunders[raw.name] = d
		case declPropertyGetter:
			cd.getters[d.propName] = d
		case declPropertySetter, declFieldSetter:
			cd.setters[d.propName] = d
		default:
			cd.methods = append(cd.methods, d)
		}
	}

	return nil
}

// staticRole classifies one PyStatics func value by its first parameter.
func staticRole(ci *classInfo, ft reflect.Type) (declKind, error) {
	if ft.NumIn() > 0 {
		first := ft.In(0)
		if first == reflect.PointerTo(ci.typ) || first == ci.typ {
			return declInstanceMethod, nil
		}
		if first == classTokenType {
			return declClassMethod, nil
		}
	}
	return declStaticMethod, nil
}

// isPromotedMethod reports whether name resolves to a method promoted from
// the embedded parent struct rather than declared on the type itself.
// reflect offers no direct "is promoted" bit; the parent sits at offset zero,
// so a promoted method resolves to the parent's own code pointer. Anything
// else, in particular a same-signature declaration shadowing the parent's, is
// the child's own and must be wrapped. A promoted method the comparison
// misses only costs a duplicate wrapper; the duplicate shadows the inherited
// entry with identical behavior.
func isPromotedMethod(ci *classInfo, name string) bool {
	m, ok := reflect.PointerTo(ci.typ).MethodByName(name)
	if !ok {
		return false
	}
	pm, ok := reflect.PointerTo(ci.base.typ).MethodByName(name)
	if !ok {
		return false
	}
	return m.Func.Pointer() == pm.Func.Pointer()
}

// isAccessorName reports whether name is prefix + an exported identifier,
// e.g. GetX but not Get or Getaway... which is exactly why the remainder must
// start with an upper-case rune.
func isAccessorName(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) || len(name) == len(prefix) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(name[len(prefix):])
	return unicode.IsUpper(r)
}

// collectFields gathers the class's public stored fields: its own (excluding
// the embedded parent, which contributes through the base class) and the
// flattened parent-first list used by the default constructor and repr.
func (e *Engine) collectFields(ci *classInfo) error {
	if ci.collected {
		return nil
	}
	ci.collected = true
	if ci.base != nil {
		if err := e.collectFields(ci.base); err != nil {
			return err
		}
	}

	start := 0
	if ci.base != nil {
		start = 1 // field 0 is the embedded parent struct
	}
	for i := start; i < ci.typ.NumField(); i++ {
		f := ci.typ.Field(i)
		if !f.IsExported() {
			continue
		}
		fi := fieldInfo{
			name:     f.Name,
			typ:      f.Type,
			index:    []int{i},
			isObject: f.Type == objectType,
		}
		ci.ownFields = append(ci.ownFields, fi)
		if fi.isObject {
			ci.objectFields = append(ci.objectFields, fi)
		}
	}

	if ci.base != nil {
		for _, pf := range ci.base.fields {
			flat := pf
			flat.index = append([]int{0}, pf.index...)
			ci.fields = append(ci.fields, flat)
			if flat.isObject {
				ci.objectFields = append(ci.objectFields, flat)
			}
		}
	}
	ci.fields = append(ci.fields, ci.ownFields...)
	return nil
}

var objectType = reflect.TypeOf((*Object)(nil)).Elem()

// snakeCase converts a Go method name to the runtime-visible attribute name
// (Double -> double, AddVector -> add_vector).
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
