package pybind

// Slot calling conventions. Failure is signaled the runtime's way: a nil
// Object (or false/ok=false for the int-like conventions) with an exception
// already posted on the Runtime. Wrapper generators never return nil without
// posting, with one sanctioned exception: IterNextFunc returning nil with no
// pending exception means clean iterator exhaustion.
type (
	UnaryFunc        func(rt Runtime, self Object) Object
	BinaryFunc       func(rt Runtime, self, other Object) Object
	TernaryFunc      func(rt Runtime, self, a, b Object) Object
	InquiryFunc      func(rt Runtime, self Object) (bool, bool)
	LenFunc          func(rt Runtime, self Object) (int, bool)
	IndexArgFunc     func(rt Runtime, self Object, i int) Object
	IndexSetFunc     func(rt Runtime, self Object, i int, v Object) bool
	ContainsFunc     func(rt Runtime, self, item Object) (bool, bool)
	SubscriptSetFunc func(rt Runtime, self, key, v Object) bool
	HashFunc         func(rt Runtime, self Object) (uint64, bool)
	RichCmpFunc      func(rt Runtime, self, other Object, op CompareOp) Object
	GetAttrFunc      func(rt Runtime, self Object, name string) Object
	SetAttrFunc      func(rt Runtime, self Object, name string, v Object) bool
	CallFunc         func(rt Runtime, self Object, args []Object, kwargs map[string]Object) Object
	NewFunc          func(rt Runtime, t TypeHandle, args []Object, kwargs map[string]Object) Object
	InitFunc         func(rt Runtime, self Object, args []Object, kwargs map[string]Object) bool
	DeallocFunc      func(rt Runtime, self Object)
	GetterFunc       func(rt Runtime, self Object) Object
	SetterFunc       func(rt Runtime, self, v Object) bool
	DescrGetFunc     func(rt Runtime, self, obj, owner Object) Object
	DescrSetFunc     func(rt Runtime, self, obj, v Object) bool
	VisitFunc        func(o Object) bool
	TraverseFunc     func(rt Runtime, self Object, visit VisitFunc) bool
	ClearFunc        func(rt Runtime, self Object) bool
)

// MethodFlags describe an entry of the method table.
type MethodFlags int

const (
	MethVarargs MethodFlags = 1 << iota
	MethNoArgs
	MethKeywords
	MethStatic
	MethClassMethod
)

// MethodDef is one row of the classic method table.
type MethodDef struct {
	Name  string
	Meth  CallFunc
	Flags MethodFlags
	Doc   string
}

// GetSetDef is one row of the classic getset table. A nil Set makes the
// attribute read-only.
type GetSetDef struct {
	Name string
	Get  GetterFunc
	Set  SetterFunc
	Doc  string
}

// NumberMethods is the classic numeric-protocol sub-descriptor. Field order
// follows the runtime's struct layout.
type NumberMethods struct {
	Add                   BinaryFunc
	Subtract              BinaryFunc
	Multiply              BinaryFunc
	Remainder             BinaryFunc
	Divmod                BinaryFunc
	Power                 TernaryFunc
	Negative              UnaryFunc
	Positive              UnaryFunc
	Absolute              UnaryFunc
	Bool                  InquiryFunc
	Invert                UnaryFunc
	Lshift                BinaryFunc
	Rshift                BinaryFunc
	And                   BinaryFunc
	Xor                   BinaryFunc
	Or                    BinaryFunc
	Int                   UnaryFunc
	Float                 UnaryFunc
	InplaceAdd            BinaryFunc
	InplaceSubtract       BinaryFunc
	InplaceMultiply       BinaryFunc
	InplaceRemainder      BinaryFunc
	InplacePower          TernaryFunc
	InplaceLshift         BinaryFunc
	InplaceRshift         BinaryFunc
	InplaceAnd            BinaryFunc
	InplaceXor            BinaryFunc
	InplaceOr             BinaryFunc
	FloorDivide           BinaryFunc
	TrueDivide            BinaryFunc
	InplaceFloorDivide    BinaryFunc
	InplaceTrueDivide     BinaryFunc
	Index                 UnaryFunc
	MatrixMultiply        BinaryFunc
	InplaceMatrixMultiply BinaryFunc
}

// SequenceMethods is the classic sequence-protocol sub-descriptor.
type SequenceMethods struct {
	Length        LenFunc
	Concat        BinaryFunc
	Repeat        IndexArgFunc
	Item          IndexArgFunc
	AssignItem    IndexSetFunc
	Contains      ContainsFunc
	InplaceConcat BinaryFunc
	InplaceRepeat IndexArgFunc
}

// MappingMethods is the classic mapping-protocol sub-descriptor.
type MappingMethods struct {
	Length          LenFunc
	Subscript       BinaryFunc
	AssignSubscript SubscriptSetFunc
}

// TypeFlags are feature bits declared to the runtime alongside the type.
type TypeFlags uint64

const (
	FlagDefault TypeFlags = 1 << iota
	FlagBaseType
	FlagHaveGC
	FlagHeapType
	FlagImmutable
)

// TypeDescriptor is the classic backend's output: one fixed-layout record per
// generated type, with a named field per protocol slot and static method and
// getset tables. The descriptor and every table it points at are built once at
// registration time and must outlive all instances of the type.
type TypeDescriptor struct {
	Name      string
	Doc       string
	BasicSize uintptr
	ItemSize  uintptr
	Flags     TypeFlags

	New     NewFunc
	Init    InitFunc
	Dealloc DeallocFunc

	Repr UnaryFunc
	Str  UnaryFunc
	Hash HashFunc
	Call CallFunc

	GetAttr GetAttrFunc
	SetAttr SetAttrFunc

	RichCompare RichCmpFunc

	Iter     UnaryFunc
	IterNext UnaryFunc

	DescrGet DescrGetFunc
	DescrSet DescrSetFunc

	Number   *NumberMethods
	Sequence *SequenceMethods
	Mapping  *MappingMethods

	Methods []MethodDef
	GetSets []GetSetDef

	Traverse TraverseFunc
	Clear    ClearFunc

	Base TypeHandle

	DictOffset     uintptr
	WeakListOffset uintptr
}

// SlotID identifies one protocol hook in the stable-ABI slot array. Zero is
// reserved for the array's sentinel. The numbering is part of the ABI; new
// slots are appended, never renumbered.
type SlotID int

const (
	SlotSentinel SlotID = iota

	SlotNew
	SlotInit
	SlotDealloc
	SlotRepr
	SlotStr
	SlotHash
	SlotCall
	SlotGetAttr
	SlotSetAttr
	SlotRichCompare
	SlotIter
	SlotIterNext
	SlotDescrGet
	SlotDescrSet
	SlotMethods
	SlotGetSets
	SlotTraverse
	SlotClear
	SlotBase
	SlotDoc

	SlotNumberAdd
	SlotNumberSubtract
	SlotNumberMultiply
	SlotNumberRemainder
	SlotNumberDivmod
	SlotNumberPower
	SlotNumberNegative
	SlotNumberPositive
	SlotNumberAbsolute
	SlotNumberBool
	SlotNumberInvert
	SlotNumberLshift
	SlotNumberRshift
	SlotNumberAnd
	SlotNumberXor
	SlotNumberOr
	SlotNumberInt
	SlotNumberFloat
	SlotNumberIndex
	SlotNumberFloorDivide
	SlotNumberTrueDivide
	SlotNumberMatrixMultiply
	SlotNumberInplaceAdd
	SlotNumberInplaceSubtract
	SlotNumberInplaceMultiply
	SlotNumberInplaceRemainder
	SlotNumberInplacePower
	SlotNumberInplaceLshift
	SlotNumberInplaceRshift
	SlotNumberInplaceAnd
	SlotNumberInplaceXor
	SlotNumberInplaceOr
	SlotNumberInplaceFloorDivide
	SlotNumberInplaceTrueDivide
	SlotNumberInplaceMatrixMultiply

	SlotSequenceLength
	SlotSequenceConcat
	SlotSequenceRepeat
	SlotSequenceItem
	SlotSequenceAssignItem
	SlotSequenceContains
	SlotSequenceInplaceConcat
	SlotSequenceInplaceRepeat

	SlotMappingLength
	SlotMappingSubscript
	SlotMappingAssignSubscript
)

// TypeSlot is one (slot-identifier, function-pointer) pair of the stable-ABI
// slot array. Value holds the slot function, or the table/handle for the
// SlotMethods, SlotGetSets, SlotBase and SlotDoc pseudo-slots.
type TypeSlot struct {
	ID    SlotID
	Value any
}

// TypeSpec is the stable backend's output: a size-exact, sentinel-terminated
// slot array handed to the runtime's generic "build type from spec" call.
type TypeSpec struct {
	Name      string
	BasicSize uintptr
	ItemSize  uintptr
	Flags     TypeFlags

	// Slots is filled in two passes (count, then place) so its length is
	// exact: all active slots followed by exactly one sentinel entry.
	Slots []TypeSlot

	DictOffset     uintptr
	WeakListOffset uintptr
}
