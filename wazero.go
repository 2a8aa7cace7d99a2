package pybind

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/gopyforge/pybind/internal/wasmrt"
)

// InstantiateHostModule builds and instantiates the "env" host module the
// WebAssembly interpreter's slot trampolines import. It must run in the same
// wazero runtime as the guest, before the guest is instantiated:
//
//	r := wazero.NewRuntime(ctx)
//	if err := pybind.InstantiateHostModule(ctx, r); err != nil { ... }
//	mod, err := r.InstantiateWithConfig(ctx, interpreterWasm, config)
//	rt, err := pybind.NewWasmRuntime(ctx, mod)
//	module, err := engine.InitModule(rt)
func InstantiateHostModule(ctx context.Context, r wazero.Runtime) error {
	b := r.NewHostModuleBuilder("env")
	wasmrt.ExportHostFunctions(b)
	_, err := b.Instantiate(ctx)
	return err
}

// NewWasmRuntime wraps an instantiated interpreter module as a Runtime the
// engine can register against.
func NewWasmRuntime(ctx context.Context, mod api.Module) (Runtime, error) {
	return wasmrt.NewRuntime(ctx, mod)
}
