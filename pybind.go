// Package pybind generates interpreter extension types from native Go struct
// and function declarations: registration classifies the declarations,
// synthesizes protocol-slot wrappers around them and assembles the result
// into type definitions the host interpreter can register through either its
// classic or its stable type-construction entry point.
package pybind

import (
	internal "github.com/gopyforge/pybind/internal"
)

// Engine is the registry of native classes, module functions and constants.
type Engine = internal.Engine

// NewEngine creates an empty registry.
func NewEngine(opts ...EngineOption) *Engine {
	return internal.NewEngine(opts...)
}

// Module is one registration of an engine's class set against a live runtime.
type Module = internal.Module

// Runtime is the host object ABI the engine targets.
type Runtime = internal.Runtime

// Object is an opaque handle to a runtime-owned value.
type Object = internal.Object

// TypeHandle is a live registered extension type.
type TypeHandle = internal.TypeHandle

// Instance is the envelope wrapping one native struct value.
type Instance = internal.Instance

// Converter is the bidirectional value-conversion capability wrapper
// generators marshal through.
type Converter = internal.Converter

// Backend selects which registration entry point InitModule uses.
type Backend = internal.Backend

const (
	BackendClassic = internal.BackendClassic
	BackendStable  = internal.BackendStable
)

// EngineOption configures an Engine.
type EngineOption = internal.EngineOption

// WithBackend selects the registration backend for every class the engine
// assembles.
func WithBackend(b Backend) EngineOption {
	return internal.WithBackend(b)
}

// ClassOption configures one class registration.
type ClassOption = internal.ClassOption

// Doc attaches a docstring to the generated type.
func Doc(doc string) ClassOption { return internal.Doc(doc) }

// Frozen makes every attribute assignment on instances fail.
func Frozen() ClassOption { return internal.Frozen() }

// PoolSize enables freelist pooling of up to n instance envelopes.
func PoolSize(n int) ClassOption { return internal.PoolSize(n) }

// WithDict gives instances a __dict__ for dynamic attributes.
func WithDict() ClassOption { return internal.WithDict() }

// WithWeakrefs gives instances a weak-reference list slot.
func WithWeakrefs() ClassOption { return internal.WithWeakrefs() }

// PropertyDef declares a property explicitly, outside the Get<Name>/Set<Name>
// naming convention.
type PropertyDef = internal.PropertyDef

// ClassToken is the implicit first parameter of a class method.
type ClassToken = internal.ClassToken

// StaticsProvider is implemented by class prototypes declaring callables
// beyond their Go methods.
type StaticsProvider = internal.StaticsProvider

// PropertiesProvider is implemented by class prototypes declaring properties
// explicitly.
type PropertiesProvider = internal.PropertiesProvider

// ErrorClass selects which exception class a failure is reported as.
type ErrorClass = internal.ErrorClass

const (
	ErrException           = internal.ErrException
	ErrType                = internal.ErrType
	ErrValue               = internal.ErrValue
	ErrRuntime             = internal.ErrRuntime
	ErrIndex               = internal.ErrIndex
	ErrKey                 = internal.ErrKey
	ErrAttribute           = internal.ErrAttribute
	ErrStopIteration       = internal.ErrStopIteration
	ErrZeroDivision        = internal.ErrZeroDivision
	ErrOverflow            = internal.ErrOverflow
	ErrNotImplementedError = internal.ErrNotImplementedError
	ErrInterrupt           = internal.ErrInterrupt
)

// RaisedError is the error value native methods return to raise a specific
// exception class.
type RaisedError = internal.RaisedError

// Raisef builds a RaisedError.
func Raisef(class ErrorClass, format string, args ...any) error {
	return internal.Raisef(class, format, args...)
}

// CheckSignals polls the runtime for a waiting cooperative interrupt; long
// native loops call it between iterations.
func CheckSignals(rt Runtime) error {
	return internal.CheckSignals(rt)
}

// CompareOp is the rich-compare operation code.
type CompareOp = internal.CompareOp

const (
	OpLt = internal.OpLt
	OpLe = internal.OpLe
	OpEq = internal.OpEq
	OpNe = internal.OpNe
	OpGt = internal.OpGt
	OpGe = internal.OpGe
)
