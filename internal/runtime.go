package pybind

import "fmt"

// Object is an opaque handle to a value owned by the host runtime. Generated
// wrapper functions receive and return Objects; they never look inside one
// except through the Runtime interface, with a single exception: instance
// envelopes produced by this engine (see Instance), which wrappers unwrap to
// reach the native payload.
type Object interface{}

// TypeHandle is a live, registered extension type as returned by the host
// runtime's type-construction entry point. A TypeHandle is itself an Object
// (types are first-class values in the runtime).
type TypeHandle interface {
	Object

	// TypeName returns the name the type was registered under.
	TypeName() string
}

// ErrorClass selects which of the runtime's exception classes a failure is
// reported as. Wrapper code always picks the most specific class that applies
// and only falls back to ErrRuntime when nothing better fits.
type ErrorClass int

const (
	ErrException ErrorClass = iota
	ErrType
	ErrValue
	ErrRuntime
	ErrIndex
	ErrKey
	ErrAttribute
	ErrStopIteration
	ErrZeroDivision
	ErrOverflow
	ErrNotImplementedError
	ErrInterrupt
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrType:
		return "TypeError"
	case ErrValue:
		return "ValueError"
	case ErrRuntime:
		return "RuntimeError"
	case ErrIndex:
		return "IndexError"
	case ErrKey:
		return "KeyError"
	case ErrAttribute:
		return "AttributeError"
	case ErrStopIteration:
		return "StopIteration"
	case ErrZeroDivision:
		return "ZeroDivisionError"
	case ErrOverflow:
		return "OverflowError"
	case ErrNotImplementedError:
		return "NotImplementedError"
	case ErrInterrupt:
		return "KeyboardInterrupt"
	}
	return "Exception"
}

// CompareOp is the operation code handed to the rich-compare slot. The values
// match the host runtime's ordering and must not be reordered.
type CompareOp int

const (
	OpLt CompareOp = iota
	OpLe
	OpEq
	OpNe
	OpGt
	OpGe
)

func (op CompareOp) String() string {
	switch op {
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	}
	return "?"
}

// Swapped returns the operation as seen from the right-hand operand.
func (op CompareOp) Swapped() CompareOp {
	switch op {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	}
	return op
}

// Runtime is the host object ABI the engine targets. Two real shapes exist: a
// classic runtime accepting fixed-layout TypeDescriptors and a stable/limited
// runtime accepting only ordered slot arrays. Implementations must provide
// both entry points; a limited runtime may implement ReadyType by lowering the
// descriptor to a spec itself.
//
// The scalar and container constructors/accessors form the primitive floor of
// the value Converter. Their conversion algorithms are the runtime's business;
// the engine only relies on the contracts documented here.
type Runtime interface {
	// Singletons. None is the runtime's "no value" object, NotImplemented the
	// operator-protocol deferral marker.
	None() Object
	NotImplemented() Object
	Bool(v bool) Object

	// Scalar and container constructors. Never fail.
	NewInt(v int64) Object
	NewUint(v uint64) Object
	NewFloat(v float64) Object
	NewString(s string) Object
	NewBytes(b []byte) Object
	NewList(items []Object) Object
	NewDict() Object
	DictSetItem(d, key, value Object) error

	// Scalar and container accessors. A failed accessor returns an error and
	// does not touch the runtime's pending-exception state; the caller decides
	// how to surface it.
	AsInt(o Object) (int64, error)
	AsUint(o Object) (uint64, error)
	AsFloat(o Object) (float64, error)
	AsBool(o Object) (bool, error)
	AsString(o Object) (string, error)
	AsBytes(o Object) ([]byte, error)
	AsList(o Object) ([]Object, error)
	DictItems(o Object) ([][2]Object, error)
	IsNone(o Object) bool
	Repr(o Object) (string, error)

	// Reference counting on runtime-owned handles.
	IncRef(o Object)
	DecRef(o Object)

	// Exception state. Raise posts an exception of the given class; it must
	// not be called while another exception is pending (wrapper code checks
	// ErrOccurred first so user-raised errors are never overwritten).
	Raise(class ErrorClass, msg string)
	ErrOccurred() bool
	ErrClear()
	PendingError() (ErrorClass, string, bool)

	// PendingInterrupt reports whether a cooperative interrupt (e.g. SIGINT
	// delivered to the interpreter) is waiting. Long native loops poll this;
	// when it returns true the caller raises ErrInterrupt and unwinds.
	PendingInterrupt() bool

	// AllowThreads releases the runtime's global serialization around fn and
	// reacquires it afterwards, even if fn panics.
	AllowThreads(fn func())

	// Type registration entry points. ReadyType consumes a classic
	// fixed-layout descriptor; TypeFromSpec consumes a sentinel-terminated
	// slot array. Both return a live type handle usable as a callable.
	ReadyType(td *TypeDescriptor) (TypeHandle, error)
	TypeFromSpec(spec *TypeSpec) (TypeHandle, error)
}

// RaisedError is the error value wrapper code and user methods return to raise
// a specific exception class instead of the generic RuntimeError mapping.
type RaisedError struct {
	Class ErrorClass
	Msg   string
}

func (e *RaisedError) Error() string {
	return e.Class.String() + ": " + e.Msg
}

// Raisef builds a RaisedError; convenience for user method code.
func Raisef(class ErrorClass, format string, args ...any) error {
	return &RaisedError{Class: class, Msg: fmt.Sprintf(format, args...)}
}
