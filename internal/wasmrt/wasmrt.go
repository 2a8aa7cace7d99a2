// Package wasmrt adapts a WebAssembly CPython build (compiled with the
// pybind guest shim) to the host runtime ABI. Scalars and containers cross
// the boundary through the interpreter's C API; generated types register
// through the shim, which builds real heap types whose slot trampolines call
// back into the host dispatcher.
package wasmrt

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"golang.org/x/text/encoding/unicode/utf32"

	pybind "github.com/gopyforge/pybind/internal"
)

// requiredExports is the C-API surface the guest module must export. The shim
// provides the pybind_-prefixed ones; everything else is plain CPython.
var requiredExports = []string{
	"malloc", "free",
	"PyLong_FromLongLong", "PyLong_AsLongLong",
	"PyLong_FromUnsignedLongLong", "PyLong_AsUnsignedLongLong",
	"PyFloat_FromDouble", "PyFloat_AsDouble",
	"PyUnicode_DecodeUTF32", "PyUnicode_AsUTF8AndSize",
	"PyBytes_FromStringAndSize", "PyBytes_AsStringAndSize",
	"PyList_New", "PyList_SetItem", "PyList_Size", "PyList_GetItem",
	"PyDict_New", "PyDict_SetItem", "PyDict_Items",
	"PyTuple_Size", "PyTuple_GetItem",
	"PyObject_Repr", "PyObject_IsTrue",
	"Py_IncRef", "Py_DecRef",
	"PyErr_SetString", "PyErr_Occurred", "PyErr_Clear",
	"PyEval_SaveThread", "PyEval_RestoreThread",
	"pybind_none", "pybind_not_implemented", "pybind_bool",
	"pybind_exc", "pybind_err_class", "pybind_err_msg",
	"pybind_interrupt_pending",
	"pybind_register_type", "pybind_register_method", "pybind_register_getset",
	"pybind_wrap_instance", "pybind_unwrap_handle",
}

type unexportedFunctionError struct {
	name string
}

func (e unexportedFunctionError) Error() string {
	return fmt.Sprintf("the guest module does not export %q; the interpreter must be built with the pybind shim and its export list", e.name)
}

// guestObject is a handle to an object living in guest memory.
type guestObject struct {
	ptr uint32
}

// guestType is a registered heap type in guest memory.
type guestType struct {
	guestObject
	name string
}

func (t *guestType) TypeName() string { return t.name }

// Runtime drives one live interpreter inside a wazero module instance.
// Like the interpreter itself it is single-threaded: callers serialize.
type Runtime struct {
	ctx context.Context
	mod api.Module
	fns map[string]api.Function

	handles *handleTable

	// typeTokens maps dispatch tokens to registered type state; the guest
	// passes the token back on every slot trampoline call.
	typeTokens map[uint32]*registeredType
	nextToken  uint32

	none    pybind.Object
	notImpl pybind.Object
}

// registeredType is the host half of one guest-registered generated type.
type registeredType struct {
	name    string
	slots   map[pybind.SlotID]any
	methods []pybind.MethodDef
	getsets []pybind.GetSetDef
	guest   *guestType
}

var _ pybind.Runtime = (*Runtime)(nil)

// NewRuntime wraps an instantiated guest module. The host dispatcher must
// have been exported into the module's "env" imports through
// NewFunctionExporter before instantiation.
func NewRuntime(ctx context.Context, mod api.Module) (*Runtime, error) {
	rt := &Runtime{
		ctx:        ctx,
		mod:        mod,
		fns:        map[string]api.Function{},
		handles:    newHandleTable(),
		typeTokens: map[uint32]*registeredType{},
	}
	for _, name := range requiredExports {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			return nil, unexportedFunctionError{name: name}
		}
		rt.fns[name] = fn
	}
	runtimeByModule[mod] = rt
	rt.none = rt.fetchSingleton("pybind_none")
	rt.notImpl = rt.fetchSingleton("pybind_not_implemented")
	return rt, nil
}

// runtimeByModule lets the host dispatch functions recover the Runtime for
// the module a trampoline call arrived from.
var runtimeByModule = map[api.Module]*Runtime{}

func (rt *Runtime) call(name string, args ...uint64) []uint64 {
	res, err := rt.fns[name].Call(rt.ctx, args...)
	if err != nil {
		panic(fmt.Errorf("guest call %s: %w", name, err))
	}
	return res
}

func (rt *Runtime) call1(name string, args ...uint64) uint64 {
	res := rt.call(name, args...)
	if len(res) == 0 {
		return 0
	}
	return res[0]
}

func (rt *Runtime) fetchSingleton(name string) pybind.Object {
	return &guestObject{ptr: uint32(rt.call1(name))}
}

// ptrOf returns the guest pointer for an object, wrapping host-side instance
// envelopes into guest objects on demand.
func (rt *Runtime) ptrOf(o pybind.Object) uint32 {
	switch v := o.(type) {
	case *guestObject:
		return v.ptr
	case *guestType:
		return v.ptr
	case *pybind.Instance:
		// An envelope crossing into the guest needs a guest wrapper object of
		// its registered type holding the envelope's handle id.
		t, ok := rt.typeByName(v.Class())
		if !ok {
			rt.Raise(pybind.ErrRuntime, fmt.Sprintf("type %s is not registered with this interpreter", v.Class()))
			return 0
		}
		id := rt.handles.put(v)
		return uint32(rt.call1("pybind_wrap_instance", uint64(t.guest.ptr), uint64(id)))
	}
	rt.Raise(pybind.ErrRuntime, fmt.Sprintf("object %T cannot cross into the interpreter", o))
	return 0
}

func (rt *Runtime) typeByName(name string) (*registeredType, bool) {
	for _, t := range rt.typeTokens {
		if t.name == name {
			return t, true
		}
	}
	return nil, false
}

// alloc copies b into fresh guest memory; the caller frees.
func (rt *Runtime) alloc(b []byte) uint32 {
	if len(b) == 0 {
		return uint32(rt.call1("malloc", 1))
	}
	ptr := uint32(rt.call1("malloc", uint64(len(b))))
	if !rt.mod.Memory().Write(ptr, b) {
		panic(fmt.Errorf("guest memory write of %d bytes at %d failed", len(b), ptr))
	}
	return ptr
}

func (rt *Runtime) freeGuest(ptr uint32) {
	rt.call("free", uint64(ptr))
}

func (rt *Runtime) None() pybind.Object           { return rt.none }
func (rt *Runtime) NotImplemented() pybind.Object { return rt.notImpl }

func (rt *Runtime) Bool(v bool) pybind.Object {
	b := uint64(0)
	if v {
		b = 1
	}
	return &guestObject{ptr: uint32(rt.call1("pybind_bool", b))}
}

func (rt *Runtime) NewInt(v int64) pybind.Object {
	return &guestObject{ptr: uint32(rt.call1("PyLong_FromLongLong", uint64(v)))}
}

func (rt *Runtime) NewUint(v uint64) pybind.Object {
	return &guestObject{ptr: uint32(rt.call1("PyLong_FromUnsignedLongLong", v))}
}

func (rt *Runtime) NewFloat(v float64) pybind.Object {
	return &guestObject{ptr: uint32(rt.call1("PyFloat_FromDouble", api.EncodeF64(v)))}
}

var utf32LE = utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM)

func (rt *Runtime) NewString(s string) pybind.Object {
	encoded, err := utf32LE.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// UTF-8 input always encodes; an invalid rune is replaced upstream.
		panic(err)
	}
	ptr := rt.alloc(encoded)
	defer rt.freeGuest(ptr)
	obj := rt.call1("PyUnicode_DecodeUTF32", uint64(ptr), uint64(len(encoded)), 0, 0)
	return &guestObject{ptr: uint32(obj)}
}

func (rt *Runtime) NewBytes(b []byte) pybind.Object {
	ptr := rt.alloc(b)
	defer rt.freeGuest(ptr)
	obj := rt.call1("PyBytes_FromStringAndSize", uint64(ptr), uint64(len(b)))
	return &guestObject{ptr: uint32(obj)}
}

func (rt *Runtime) NewList(items []pybind.Object) pybind.Object {
	list := rt.call1("PyList_New", uint64(len(items)))
	for i, item := range items {
		p := rt.ptrOf(item)
		rt.call("Py_IncRef", uint64(p))
		rt.call("PyList_SetItem", list, uint64(i), uint64(p))
	}
	return &guestObject{ptr: uint32(list)}
}

func (rt *Runtime) NewDict() pybind.Object {
	return &guestObject{ptr: uint32(rt.call1("PyDict_New"))}
}

func (rt *Runtime) DictSetItem(d, key, value pybind.Object) error {
	r := int32(rt.call1("PyDict_SetItem", uint64(rt.ptrOf(d)), uint64(rt.ptrOf(key)), uint64(rt.ptrOf(value))))
	if r != 0 {
		return rt.pendingAsError()
	}
	return nil
}

func (rt *Runtime) AsInt(o pybind.Object) (int64, error) {
	v := int64(rt.call1("PyLong_AsLongLong", uint64(rt.ptrOf(o))))
	if v == -1 && rt.guestErrOccurred() {
		return 0, rt.pendingAsError()
	}
	return v, nil
}

func (rt *Runtime) AsUint(o pybind.Object) (uint64, error) {
	v := rt.call1("PyLong_AsUnsignedLongLong", uint64(rt.ptrOf(o)))
	if v == ^uint64(0) && rt.guestErrOccurred() {
		return 0, rt.pendingAsError()
	}
	return v, nil
}

func (rt *Runtime) AsFloat(o pybind.Object) (float64, error) {
	v := api.DecodeF64(rt.call1("PyFloat_AsDouble", uint64(rt.ptrOf(o))))
	if v == -1 && rt.guestErrOccurred() {
		return 0, rt.pendingAsError()
	}
	return v, nil
}

func (rt *Runtime) AsBool(o pybind.Object) (bool, error) {
	r := int32(rt.call1("PyObject_IsTrue", uint64(rt.ptrOf(o))))
	if r < 0 {
		return false, rt.pendingAsError()
	}
	return r != 0, nil
}

func (rt *Runtime) AsString(o pybind.Object) (string, error) {
	sizePtr := rt.alloc(make([]byte, 8))
	defer rt.freeGuest(sizePtr)
	strPtr := uint32(rt.call1("PyUnicode_AsUTF8AndSize", uint64(rt.ptrOf(o)), uint64(sizePtr)))
	if strPtr == 0 {
		return "", rt.pendingAsError()
	}
	size, _ := rt.mod.Memory().ReadUint64Le(sizePtr)
	buf, ok := rt.mod.Memory().Read(strPtr, uint32(size))
	if !ok {
		return "", fmt.Errorf("guest memory read of %d bytes at %d failed", size, strPtr)
	}
	return string(buf), nil
}

func (rt *Runtime) AsBytes(o pybind.Object) ([]byte, error) {
	outPtr := rt.alloc(make([]byte, 8))
	defer rt.freeGuest(outPtr)
	sizePtr := rt.alloc(make([]byte, 8))
	defer rt.freeGuest(sizePtr)
	r := int32(rt.call1("PyBytes_AsStringAndSize", uint64(rt.ptrOf(o)), uint64(outPtr), uint64(sizePtr)))
	if r != 0 {
		return nil, rt.pendingAsError()
	}
	dataPtr, _ := rt.mod.Memory().ReadUint32Le(outPtr)
	size, _ := rt.mod.Memory().ReadUint64Le(sizePtr)
	buf, ok := rt.mod.Memory().Read(dataPtr, uint32(size))
	if !ok {
		return nil, fmt.Errorf("guest memory read of %d bytes at %d failed", size, dataPtr)
	}
	return append([]byte(nil), buf...), nil
}

func (rt *Runtime) AsList(o pybind.Object) ([]pybind.Object, error) {
	n := int64(rt.call1("PyList_Size", uint64(rt.ptrOf(o))))
	if n < 0 {
		return nil, rt.pendingAsError()
	}
	items := make([]pybind.Object, n)
	for i := int64(0); i < n; i++ {
		items[i] = &guestObject{ptr: uint32(rt.call1("PyList_GetItem", uint64(rt.ptrOf(o)), uint64(i)))}
	}
	return items, nil
}

func (rt *Runtime) DictItems(o pybind.Object) ([][2]pybind.Object, error) {
	items := uint32(rt.call1("PyDict_Items", uint64(rt.ptrOf(o))))
	if items == 0 {
		return nil, rt.pendingAsError()
	}
	defer rt.call("Py_DecRef", uint64(items))
	n := int64(rt.call1("PyList_Size", uint64(items)))
	pairs := make([][2]pybind.Object, n)
	for i := int64(0); i < n; i++ {
		pair := rt.call1("PyList_GetItem", uint64(items), uint64(i))
		k := rt.call1("PyTuple_GetItem", pair, 0)
		v := rt.call1("PyTuple_GetItem", pair, 1)
		pairs[i] = [2]pybind.Object{&guestObject{ptr: uint32(k)}, &guestObject{ptr: uint32(v)}}
	}
	return pairs, nil
}

func (rt *Runtime) IsNone(o pybind.Object) bool {
	g, ok := o.(*guestObject)
	if !ok {
		return false
	}
	return g.ptr == rt.none.(*guestObject).ptr
}

func (rt *Runtime) Repr(o pybind.Object) (string, error) {
	r := uint32(rt.call1("PyObject_Repr", uint64(rt.ptrOf(o))))
	if r == 0 {
		return "", rt.pendingAsError()
	}
	defer rt.call("Py_DecRef", uint64(r))
	return rt.AsString(&guestObject{ptr: r})
}

func (rt *Runtime) IncRef(o pybind.Object) {
	switch v := o.(type) {
	case *pybind.Instance:
		v.IncRef()
	case *guestObject:
		rt.call("Py_IncRef", uint64(v.ptr))
	case *guestType:
		rt.call("Py_IncRef", uint64(v.ptr))
	}
}

func (rt *Runtime) DecRef(o pybind.Object) {
	switch v := o.(type) {
	case *pybind.Instance:
		v.DecRef(rt)
	case *guestObject:
		rt.call("Py_DecRef", uint64(v.ptr))
	case *guestType:
		rt.call("Py_DecRef", uint64(v.ptr))
	}
}

func (rt *Runtime) Raise(class pybind.ErrorClass, msg string) {
	exc := rt.call1("pybind_exc", uint64(int64(class)))
	msgBytes := append([]byte(msg), 0)
	ptr := rt.alloc(msgBytes)
	defer rt.freeGuest(ptr)
	rt.call("PyErr_SetString", exc, uint64(ptr))
}

func (rt *Runtime) guestErrOccurred() bool {
	return rt.call1("PyErr_Occurred") != 0
}

func (rt *Runtime) ErrOccurred() bool { return rt.guestErrOccurred() }

func (rt *Runtime) ErrClear() {
	rt.call("PyErr_Clear")
}

func (rt *Runtime) PendingError() (pybind.ErrorClass, string, bool) {
	if !rt.guestErrOccurred() {
		return 0, "", false
	}
	class := pybind.ErrorClass(int32(rt.call1("pybind_err_class")))
	buf := rt.alloc(make([]byte, 512))
	defer rt.freeGuest(buf)
	n := uint32(rt.call1("pybind_err_msg", uint64(buf), 512))
	msg, _ := rt.mod.Memory().Read(buf, n)
	return class, string(msg), true
}

func (rt *Runtime) pendingAsError() error {
	class, msg, ok := rt.PendingError()
	if !ok {
		return fmt.Errorf("guest call failed with no exception set")
	}
	rt.ErrClear()
	return &pybind.RaisedError{Class: class, Msg: msg}
}

func (rt *Runtime) PendingInterrupt() bool {
	return rt.call1("pybind_interrupt_pending") != 0
}

func (rt *Runtime) AllowThreads(fn func()) {
	tok := rt.call1("PyEval_SaveThread")
	defer rt.call("PyEval_RestoreThread", tok)
	fn()
}
