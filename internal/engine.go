package pybind

import (
	"fmt"
	"reflect"
)

// Backend selects which shape InitType hands to the runtime.
type Backend int

const (
	// BackendClassic emits a fixed-layout TypeDescriptor and registers it
	// through Runtime.ReadyType.
	BackendClassic Backend = iota
	// BackendStable emits a sentinel-terminated slot array and registers it
	// through Runtime.TypeFromSpec.
	BackendStable
)

// ClassToken is the implicit first parameter of a class method: the identity
// of the type the call was made on.
type ClassToken struct {
	Name string
	Type TypeHandle
}

// PropertyDef declares a property explicitly, independent of the Get<Name>/
// Set<Name> naming convention. Get must be func(*T) R or func(*T) (R, error);
// Set, when present, func(*T, V) or func(*T, V) error.
type PropertyDef struct {
	Name string
	Get  any
	Set  any
	Doc  string
}

// StaticsProvider is implemented by class prototypes that declare extra
// callables beyond their Go methods. Each value is classified by its first
// parameter: *T makes an instance method, ClassToken a class method, anything
// else a static method.
type StaticsProvider interface {
	PyStatics() map[string]any
}

// PropertiesProvider is implemented by class prototypes that declare
// properties explicitly instead of (or along with) the naming convention.
type PropertiesProvider interface {
	Properties() []PropertyDef
}

type classOptions struct {
	doc          string
	frozen       bool
	poolSize     int
	withDict     bool
	withWeakrefs bool
}

// ClassOption configures one class registration.
type ClassOption func(*classOptions)

// Doc attaches a docstring to the generated type.
func Doc(doc string) ClassOption {
	return func(o *classOptions) { o.doc = doc }
}

// Frozen makes every attribute assignment on instances fail with an
// AttributeError naming the attribute and class.
func Frozen() ClassOption {
	return func(o *classOptions) { o.frozen = true }
}

// PoolSize enables freelist pooling of up to n instance envelopes. Pooling is
// skipped for dict/weakref-bearing classes and for classes involved in
// inheritance, where the envelope layout is not uniform.
func PoolSize(n int) ClassOption {
	return func(o *classOptions) { o.poolSize = n }
}

// WithDict gives instances a __dict__ for dynamic attributes.
func WithDict() ClassOption {
	return func(o *classOptions) { o.withDict = true }
}

// WithWeakrefs gives instances a weak-reference list slot.
func WithWeakrefs() ClassOption {
	return func(o *classOptions) { o.withWeakrefs = true }
}

type fieldInfo struct {
	name     string
	typ      reflect.Type
	index    []int // relative to the class's own native struct
	isObject bool  // managed strong reference, lifecycle-managed
}

type classInfo struct {
	engine *Engine
	name   string
	typ    reflect.Type // the native struct type T
	opts   classOptions

	base         *classInfo
	derived      []*classInfo
	decls        *classDecls
	fields       []fieldInfo // flattened public fields, parent-first
	ownFields    []fieldInfo // this class's public fields only
	objectFields []fieldInfo // fields holding runtime objects, released at dealloc

	assembled bool
	collected bool
	slots     []TypeSlot // slot IR, no sentinel; shared by both emit backends
	methods   []MethodDef
	getsets   []GetSetDef
	doc       string

	pool      *freelist
	deallocFn DeallocFunc
}

func (ci *classInfo) dealloc(rt Runtime, inst *Instance) {
	if ci.deallocFn != nil {
		ci.deallocFn(rt, inst)
	}
}

type functionInfo struct {
	name string
	fn   reflect.Value
	doc  string
}

type constantInfo struct {
	name  string
	value any
}

type engineOptions struct {
	backend Backend
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

// WithBackend selects the registration backend for every class the engine
// assembles. Both backends produce behaviorally identical types.
func WithBackend(b Backend) EngineOption {
	return func(o *engineOptions) { o.backend = b }
}

// Engine is the registry of native classes, module functions and constants,
// and the owner of the protocol-slot synthesis pipeline. Registration is
// compile-time work in spirit: deterministic, no I/O, no concurrency; the
// runtime only enters the picture at InitModule.
type Engine struct {
	opts          engineOptions
	classes       []*classInfo
	classesByName map[string]*classInfo
	classesByType map[reflect.Type]*classInfo
	functions     []*functionInfo
	constants     []constantInfo
	conv          *converter
}

// NewEngine creates an empty registry.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		classesByName: map[string]*classInfo{},
		classesByType: map[reflect.Type]*classInfo{},
	}
	for _, opt := range opts {
		opt(&e.opts)
	}
	e.conv = &converter{engine: e}
	return e
}

// RegisterClass binds a chosen external name to a native struct type, given
// as a prototype pointer (e.g. RegisterClass("Point", &Point{})). Registering
// the same (name, type) pair again is a no-op; names are unique per engine.
// The full ordered class set is what the converter consults, so classes may
// reference each other (including cyclically) regardless of registration
// order.
func (e *Engine) RegisterClass(name string, prototype any, opts ...ClassOption) error {
	if name == "" {
		return fmt.Errorf("class name must not be empty")
	}
	pt := reflect.TypeOf(prototype)
	if pt == nil || pt.Kind() != reflect.Ptr || pt.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("could not register class %s: prototype must be a pointer to struct, got %T", name, prototype)
	}
	t := pt.Elem()

	if existing, ok := e.classesByName[name]; ok {
		if existing.typ == t {
			return nil
		}
		return fmt.Errorf("could not register class %s: name already bound to %s", name, existing.typ)
	}
	if existing, ok := e.classesByType[t]; ok {
		return fmt.Errorf("could not register type %s twice (already bound as %s)", t, existing.name)
	}

	ci := &classInfo{engine: e, name: name, typ: t}
	for _, opt := range opts {
		opt(&ci.opts)
	}
	ci.doc = ci.opts.doc

	e.classes = append(e.classes, ci)
	e.classesByName[name] = ci
	e.classesByType[t] = ci
	return nil
}

// RegisterFunction exposes a free function on the module. The function is
// classified and wrapped exactly like a static method.
func (e *Engine) RegisterFunction(name string, fn any) error {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return fmt.Errorf("could not register function %s: %T is not callable", name, fn)
	}
	for _, f := range e.functions {
		if f.name == name {
			return fmt.Errorf("cannot register public name %q twice", name)
		}
	}
	e.functions = append(e.functions, &functionInfo{name: name, fn: v})
	return nil
}

// RegisterConstant exposes a converted Go value on the module.
func (e *Engine) RegisterConstant(name string, value any) error {
	for _, c := range e.constants {
		if c.name == name {
			return fmt.Errorf("constant %s is already registered", name)
		}
	}
	e.constants = append(e.constants, constantInfo{name: name, value: value})
	return nil
}

// classFor resolves a native struct type to its registration, if any.
func (e *Engine) classFor(t reflect.Type) (*classInfo, bool) {
	ci, ok := e.classesByType[t]
	return ci, ok
}

// resolveBases wires single inheritance: a class whose native struct embeds
// another registered class's struct as its first field derives from it.
func (e *Engine) resolveBases() error {
	for _, ci := range e.classes {
		if ci.base != nil || ci.typ.NumField() == 0 {
			continue
		}
		f := ci.typ.Field(0)
		if !f.Anonymous {
			continue
		}
		parent, ok := e.classesByType[f.Type]
		if !ok || parent == ci {
			continue
		}
		ci.base = parent
		parent.derived = append(parent.derived, ci)
	}
	// Reject inheritance cycles up front; they cannot happen through struct
	// embedding, but a registration bug should not send assembly spinning.
	for _, ci := range e.classes {
		seen := map[*classInfo]bool{}
		for c := ci; c != nil; c = c.base {
			if seen[c] {
				return fmt.Errorf("inheritance cycle through class %s", ci.name)
			}
			seen[c] = true
		}
	}
	return nil
}

// assembleAll classifies and assembles every registered class exactly once.
// Calling it again (directly or through a second InitModule) reuses the
// memoized wrapper sets, which is what keeps cyclic class references finite.
func (e *Engine) assembleAll() error {
	if err := e.resolveBases(); err != nil {
		return err
	}
	for _, ci := range e.classes {
		if err := e.assembleClass(ci); err != nil {
			return fmt.Errorf("class %s: %w", ci.name, err)
		}
	}
	return nil
}

// Module is one registration of the engine's classes against a live runtime.
type Module struct {
	engine  *Engine
	rt      Runtime
	types   map[string]TypeHandle
	symbols map[string]Object
}

// InitModule assembles every registered class (once) and registers the whole
// class set, module functions and constants against rt. It may be called once
// per runtime instantiation; wrapper sets are shared between modules.
func (e *Engine) InitModule(rt Runtime) (*Module, error) {
	if err := e.assembleAll(); err != nil {
		return nil, err
	}

	m := &Module{
		engine:  e,
		rt:      rt,
		types:   map[string]TypeHandle{},
		symbols: map[string]Object{},
	}

	for _, ci := range e.classes {
		if _, err := m.initType(ci); err != nil {
			return nil, err
		}
	}

	for _, fi := range e.functions {
		wrapper, _, err := e.buildFunctionWrapper(fi.name, fi.fn, callRoleStatic, nil)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", fi.name, err)
		}
		m.symbols[fi.name] = boundFunction{name: fi.name, fn: wrapper}
	}

	for _, c := range e.constants {
		obj := e.conv.ToRuntime(rt, reflect.ValueOf(c.value))
		if obj == nil {
			rt.ErrClear()
			return nil, fmt.Errorf("constant %s: value of type %T is not convertible", c.name, c.value)
		}
		m.symbols[c.name] = obj
	}

	return m, nil
}

// initType registers one class against the module's runtime, parents first.
// Re-entering for an already-registered class returns the existing handle, so
// mutually-referencing classes cannot recurse.
func (m *Module) initType(ci *classInfo) (TypeHandle, error) {
	if h, ok := m.types[ci.name]; ok {
		return h, nil
	}

	var baseHandle TypeHandle
	if ci.base != nil {
		var err error
		baseHandle, err = m.initType(ci.base)
		if err != nil {
			return nil, err
		}
	}

	var (
		h   TypeHandle
		err error
	)
	switch m.engine.opts.backend {
	case BackendStable:
		h, err = m.rt.TypeFromSpec(m.engine.emitSpec(ci, baseHandle))
	default:
		h, err = m.rt.ReadyType(m.engine.emitDescriptor(ci, baseHandle))
	}
	if err != nil {
		return nil, fmt.Errorf("could not init type %s: %w", ci.name, err)
	}
	m.types[ci.name] = h
	return h, nil
}

// Type returns the live handle for a registered class name.
func (m *Module) Type(name string) (TypeHandle, bool) {
	h, ok := m.types[name]
	return h, ok
}

// Symbol returns a module-level function or constant object.
func (m *Module) Symbol(name string) (Object, bool) {
	o, ok := m.symbols[name]
	return o, ok
}

// Call invokes a registered module-level function.
func (m *Module) Call(name string, args ...Object) (Object, error) {
	o, ok := m.symbols[name]
	if !ok {
		return nil, fmt.Errorf("module has no symbol %q", name)
	}
	fn, ok := o.(boundFunction)
	if !ok {
		return nil, fmt.Errorf("module symbol %q is not callable", name)
	}
	res := fn.fn(m.rt, nil, args, nil)
	if res == nil {
		return nil, takePending(m.rt)
	}
	return res, nil
}

// boundFunction is a module-level callable Object.
type boundFunction struct {
	name string
	fn   CallFunc
}

// takePending converts the runtime's pending exception into a Go error for
// the host-side convenience entry points.
func takePending(rt Runtime) error {
	if !rt.ErrOccurred() {
		return fmt.Errorf("call failed with no exception set")
	}
	err := pendingError(rt)
	rt.ErrClear()
	return err
}
