package wasmrt

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	pybind "github.com/gopyforge/pybind/internal"
)

// ExportHostFunctions builds the "env" host module the guest shim's slot
// trampolines import. It must run against the same wazero runtime the guest
// is instantiated in, before instantiation.
func ExportHostFunctions(b wazero.HostModuleBuilder) {
	i32 := api.ValueTypeI32
	i64 := api.ValueTypeI64

	export := func(name string, fn api.GoModuleFunc, params, results []api.ValueType) {
		b.NewFunctionBuilder().
			WithName(name).
			WithGoModuleFunction(fn, params, results).
			Export(name)
	}

	export("pybind_dispatch_new", dispatchNew, []api.ValueType{i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_init", dispatchInit, []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_dealloc", dispatchDealloc, []api.ValueType{i32, i32}, nil)
	export("pybind_dispatch_unary", dispatchUnary, []api.ValueType{i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_binary", dispatchBinary, []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_ternary", dispatchTernary, []api.ValueType{i32, i32, i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_inquiry", dispatchInquiry, []api.ValueType{i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_len", dispatchLen, []api.ValueType{i32, i32, i32}, []api.ValueType{i64})
	export("pybind_dispatch_item", dispatchItem, []api.ValueType{i32, i32, i64}, []api.ValueType{i32})
	export("pybind_dispatch_assign_item", dispatchAssignItem, []api.ValueType{i32, i32, i64, i32}, []api.ValueType{i32})
	export("pybind_dispatch_assign_subscript", dispatchAssignSubscript, []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_contains", dispatchContains, []api.ValueType{i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_hash", dispatchHash, []api.ValueType{i32, i32}, []api.ValueType{i64})
	export("pybind_dispatch_richcmp", dispatchRichCompare, []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_call", dispatchCall, []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_getattr", dispatchGetAttr, []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_setattr", dispatchSetAttr, []api.ValueType{i32, i32, i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_descr_get", dispatchDescrGet, []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_descr_set", dispatchDescrSet, []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_method", dispatchMethod, []api.ValueType{i32, i32, i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_getter", dispatchGetter, []api.ValueType{i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_setter", dispatchSetter, []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32})
	export("pybind_dispatch_clear", dispatchClear, []api.ValueType{i32, i32}, []api.ValueType{i32})
}

func runtimeFor(mod api.Module) *Runtime {
	rt, ok := runtimeByModule[mod]
	if !ok {
		panic(fmt.Errorf("no runtime is bound to module %s", mod.Name()))
	}
	return rt
}

// fromGuest maps an incoming guest pointer onto the host object model:
// wrapped instances come back as their envelope, everything else as a plain
// guest handle.
func (rt *Runtime) fromGuest(ptr uint32) pybind.Object {
	if ptr == 0 {
		return nil
	}
	if id := uint32(rt.call1("pybind_unwrap_handle", uint64(ptr))); id != 0 {
		if o, ok := rt.handles.get(id); ok {
			return o
		}
	}
	return &guestObject{ptr: ptr}
}

// toGuest encodes a slot result for the trampoline: a guest pointer, or 0
// for failure.
func (rt *Runtime) toGuest(o pybind.Object) uint64 {
	if o == nil {
		return 0
	}
	return uint64(rt.ptrOf(o))
}

func (rt *Runtime) unpackTuple(ptr uint32) []pybind.Object {
	if ptr == 0 {
		return nil
	}
	n := int64(rt.call1("PyTuple_Size", uint64(ptr)))
	if n <= 0 {
		return nil
	}
	args := make([]pybind.Object, n)
	for i := int64(0); i < n; i++ {
		args[i] = rt.fromGuest(uint32(rt.call1("PyTuple_GetItem", uint64(ptr), uint64(i))))
	}
	return args
}

func (rt *Runtime) unpackKwargs(ptr uint32) map[string]pybind.Object {
	if ptr == 0 {
		return nil
	}
	pairs, err := rt.DictItems(&guestObject{ptr: ptr})
	if err != nil || len(pairs) == 0 {
		return nil
	}
	kwargs := make(map[string]pybind.Object, len(pairs))
	for _, kv := range pairs {
		name, err := rt.AsString(kv[0])
		if err != nil {
			continue
		}
		kwargs[name] = kv[1]
	}
	return kwargs
}

func (rt *Runtime) regFor(token uint32) *registeredType {
	reg, ok := rt.typeTokens[token]
	if !ok {
		panic(fmt.Errorf("guest dispatched unknown type token %d", token))
	}
	return reg
}

var dispatchNew = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	args := rt.unpackTuple(uint32(stack[1]))
	kwargs := rt.unpackKwargs(uint32(stack[2]))
	fn, ok := reg.slots[pybind.SlotNew]
	if !ok {
		rt.Raise(pybind.ErrType, fmt.Sprintf("cannot create %q instances", reg.name))
		stack[0] = 0
		return
	}
	obj := fn.(pybind.NewFunc)(rt, reg.guest, args, kwargs)
	if obj == nil {
		stack[0] = 0
		return
	}
	stack[0] = uint64(rt.handles.put(obj))
})

var dispatchInit = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	self := rt.fromGuest(uint32(stack[1]))
	args := rt.unpackTuple(uint32(stack[2]))
	kwargs := rt.unpackKwargs(uint32(stack[3]))
	fn, ok := reg.slots[pybind.SlotInit]
	if !ok {
		stack[0] = 0
		return
	}
	if !fn.(pybind.InitFunc)(rt, self, args, kwargs) {
		stack[0] = uint64(^uint32(0))
		return
	}
	stack[0] = 0
})

var dispatchDealloc = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	id := uint32(stack[1])
	if o, ok := rt.handles.get(id); ok {
		rt.handles.drop(id)
		rt.DecRef(o)
	}
})

var dispatchUnary = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotID(stack[1])].(pybind.UnaryFunc)
	stack[0] = rt.toGuest(fn(rt, rt.fromGuest(uint32(stack[2]))))
})

var dispatchBinary = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotID(stack[1])].(pybind.BinaryFunc)
	stack[0] = rt.toGuest(fn(rt, rt.fromGuest(uint32(stack[2])), rt.fromGuest(uint32(stack[3]))))
})

var dispatchTernary = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotID(stack[1])].(pybind.TernaryFunc)
	stack[0] = rt.toGuest(fn(rt,
		rt.fromGuest(uint32(stack[2])),
		rt.fromGuest(uint32(stack[3])),
		rt.fromGuest(uint32(stack[4]))))
})

var dispatchInquiry = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotID(stack[1])].(pybind.InquiryFunc)
	r, ok := fn(rt, rt.fromGuest(uint32(stack[2])))
	switch {
	case !ok:
		stack[0] = uint64(^uint32(0))
	case r:
		stack[0] = 1
	default:
		stack[0] = 0
	}
})

var dispatchLen = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotID(stack[1])].(pybind.LenFunc)
	n, ok := fn(rt, rt.fromGuest(uint32(stack[2])))
	if !ok {
		stack[0] = uint64(^uint64(0)) // -1
		return
	}
	stack[0] = uint64(n)
})

var dispatchItem = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotSequenceItem].(pybind.IndexArgFunc)
	stack[0] = rt.toGuest(fn(rt, rt.fromGuest(uint32(stack[1])), int(int64(stack[2]))))
})

var dispatchAssignItem = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotSequenceAssignItem].(pybind.IndexSetFunc)
	if !fn(rt, rt.fromGuest(uint32(stack[1])), int(int64(stack[2])), rt.fromGuest(uint32(stack[3]))) {
		stack[0] = uint64(^uint32(0))
		return
	}
	stack[0] = 0
})

var dispatchAssignSubscript = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotMappingAssignSubscript].(pybind.SubscriptSetFunc)
	if !fn(rt, rt.fromGuest(uint32(stack[1])), rt.fromGuest(uint32(stack[2])), rt.fromGuest(uint32(stack[3]))) {
		stack[0] = uint64(^uint32(0))
		return
	}
	stack[0] = 0
})

var dispatchContains = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotSequenceContains].(pybind.ContainsFunc)
	r, ok := fn(rt, rt.fromGuest(uint32(stack[1])), rt.fromGuest(uint32(stack[2])))
	switch {
	case !ok:
		stack[0] = uint64(^uint32(0))
	case r:
		stack[0] = 1
	default:
		stack[0] = 0
	}
})

var dispatchHash = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotHash].(pybind.HashFunc)
	h, ok := fn(rt, rt.fromGuest(uint32(stack[1])))
	if !ok {
		stack[0] = ^uint64(0) // -1
		return
	}
	// -1 is the trampoline's error marker; nudge a real -1 hash off it.
	if h == ^uint64(0) {
		h = ^uint64(1)
	}
	stack[0] = h
})

var dispatchRichCompare = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotRichCompare].(pybind.RichCmpFunc)
	stack[0] = rt.toGuest(fn(rt,
		rt.fromGuest(uint32(stack[1])),
		rt.fromGuest(uint32(stack[2])),
		pybind.CompareOp(stack[3])))
})

var dispatchCall = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotCall].(pybind.CallFunc)
	stack[0] = rt.toGuest(fn(rt,
		rt.fromGuest(uint32(stack[1])),
		rt.unpackTuple(uint32(stack[2])),
		rt.unpackKwargs(uint32(stack[3]))))
})

func (rt *Runtime) readName(ptr, n uint32) string {
	buf, ok := rt.mod.Memory().Read(ptr, n)
	if !ok {
		return ""
	}
	return string(buf)
}

var dispatchGetAttr = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotGetAttr].(pybind.GetAttrFunc)
	name := rt.readName(uint32(stack[2]), uint32(stack[3]))
	stack[0] = rt.toGuest(fn(rt, rt.fromGuest(uint32(stack[1])), name))
})

var dispatchSetAttr = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotSetAttr].(pybind.SetAttrFunc)
	name := rt.readName(uint32(stack[2]), uint32(stack[3]))
	if !fn(rt, rt.fromGuest(uint32(stack[1])), name, rt.fromGuest(uint32(stack[4]))) {
		stack[0] = uint64(^uint32(0))
		return
	}
	stack[0] = 0
})

var dispatchDescrGet = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotDescrGet].(pybind.DescrGetFunc)
	stack[0] = rt.toGuest(fn(rt,
		rt.fromGuest(uint32(stack[1])),
		rt.fromGuest(uint32(stack[2])),
		rt.fromGuest(uint32(stack[3]))))
})

var dispatchDescrSet = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn := reg.slots[pybind.SlotDescrSet].(pybind.DescrSetFunc)
	if !fn(rt, rt.fromGuest(uint32(stack[1])), rt.fromGuest(uint32(stack[2])), rt.fromGuest(uint32(stack[3]))) {
		stack[0] = uint64(^uint32(0))
		return
	}
	stack[0] = 0
})

var dispatchMethod = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	idx := int(uint32(stack[1]))
	if idx >= len(reg.methods) {
		rt.Raise(pybind.ErrRuntime, fmt.Sprintf("method index %d out of range for %s", idx, reg.name))
		stack[0] = 0
		return
	}
	def := reg.methods[idx]
	stack[0] = rt.toGuest(def.Meth(rt,
		rt.fromGuest(uint32(stack[2])),
		rt.unpackTuple(uint32(stack[3])),
		rt.unpackKwargs(uint32(stack[4]))))
})

var dispatchGetter = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	idx := int(uint32(stack[1]))
	if idx >= len(reg.getsets) {
		rt.Raise(pybind.ErrRuntime, fmt.Sprintf("attribute index %d out of range for %s", idx, reg.name))
		stack[0] = 0
		return
	}
	stack[0] = rt.toGuest(reg.getsets[idx].Get(rt, rt.fromGuest(uint32(stack[2]))))
})

var dispatchSetter = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	idx := int(uint32(stack[1]))
	if idx >= len(reg.getsets) || reg.getsets[idx].Set == nil {
		rt.Raise(pybind.ErrAttribute, fmt.Sprintf("attribute is not writable on %s", reg.name))
		stack[0] = uint64(^uint32(0))
		return
	}
	if !reg.getsets[idx].Set(rt, rt.fromGuest(uint32(stack[2])), rt.fromGuest(uint32(stack[3]))) {
		stack[0] = uint64(^uint32(0))
		return
	}
	stack[0] = 0
})

var dispatchClear = api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
	rt := runtimeFor(mod)
	reg := rt.regFor(uint32(stack[0]))
	fn, ok := reg.slots[pybind.SlotClear]
	if !ok {
		stack[0] = 0
		return
	}
	if !fn.(pybind.ClearFunc)(rt, rt.fromGuest(uint32(stack[1]))) {
		stack[0] = uint64(^uint32(0))
		return
	}
	stack[0] = 0
})
