package pybind

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestEngineInternals(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Engine Internals Suite")
}

// song declares Eq without Hash, which must produce a rejecting hash slot.
type song struct {
	Title string
	Secs  int64
}

func (s song) Eq(o song) bool {
	return s.Title == o.Title && s.Secs == o.Secs
}

// shelf indexes by integer, so assembly routes it to the sequence protocol.
type shelf struct {
	items []string
}

func (s *shelf) Len() int {
	return len(s.items)
}

func (s *shelf) GetItem(i uint) (string, error) {
	if int(i) >= len(s.items) {
		return "", Raisef(ErrIndex, "shelf index out of range")
	}
	return s.items[i], nil
}

// ledger indexes by string, so assembly routes it to the mapping protocol.
type ledger struct {
	entries map[string]int64
}

func (l *ledger) Init() {
	l.entries = map[string]int64{}
}

func (l *ledger) Len() int {
	return len(l.entries)
}

func (l *ledger) GetItem(key string) (int64, error) {
	v, ok := l.entries[key]
	if !ok {
		return 0, Raisef(ErrKey, "%q", key)
	}
	return v, nil
}

func (l *ledger) SetItem(key string, v int64) error {
	l.entries[key] = v
	return nil
}

// satchel is assembled with dict and weakref storage.
type satchel struct {
	Label string
}

func assembled(name string, proto any, opts ...ClassOption) *classInfo {
	GinkgoHelper()
	e := NewEngine()
	Expect(e.RegisterClass(name, proto, opts...)).To(Succeed())
	Expect(e.assembleAll()).To(Succeed())
	return e.classesByName[name]
}

func slotIDs(slots []TypeSlot) map[SlotID]bool {
	ids := map[SlotID]bool{}
	for _, s := range slots {
		ids[s.ID] = true
	}
	return ids
}

var _ = Describe("Name conversion", func() {
	It("converts exported names to snake_case", func() {
		Expect(snakeCase("X")).To(Equal("x"))
		Expect(snakeCase("Value")).To(Equal("value"))
		Expect(snakeCase("MaxRetryCount")).To(Equal("max_retry_count"))
		Expect(snakeCase("HTTPPort")).To(Equal("h_t_t_p_port"))
	})
})

var _ = Describe("Class assembly", func() {
	It("always installs the lifecycle and repr slots", func() {
		ci := assembled("Song", &song{})
		ids := slotIDs(ci.slots)
		Expect(ids[SlotNew]).To(BeTrue())
		Expect(ids[SlotInit]).To(BeTrue())
		Expect(ids[SlotDealloc]).To(BeTrue())
		Expect(ids[SlotRepr]).To(BeTrue())
	})

	It("pairs Eq-without-Hash with a rejecting hash slot", func() {
		ci := assembled("Song", &song{})
		ids := slotIDs(ci.slots)
		Expect(ids[SlotRichCompare]).To(BeTrue())
		Expect(ids[SlotHash]).To(BeTrue())
	})

	It("routes integer-keyed containers to the sequence protocol", func() {
		e := NewEngine()
		Expect(e.RegisterClass("Shelf", &shelf{})).To(Succeed())
		Expect(e.assembleAll()).To(Succeed())
		td := e.emitDescriptor(e.classesByName["Shelf"], nil)
		Expect(td.Sequence).NotTo(BeNil())
		Expect(td.Sequence.Item).NotTo(BeNil())
		Expect(td.Sequence.Length).NotTo(BeNil())
		Expect(td.Mapping).To(BeNil())
	})

	It("routes string-keyed containers to the mapping protocol", func() {
		e := NewEngine()
		Expect(e.RegisterClass("Ledger", &ledger{})).To(Succeed())
		Expect(e.assembleAll()).To(Succeed())
		td := e.emitDescriptor(e.classesByName["Ledger"], nil)
		Expect(td.Mapping).NotTo(BeNil())
		Expect(td.Mapping.Subscript).NotTo(BeNil())
		Expect(td.Mapping.AssignSubscript).NotTo(BeNil())
		Expect(td.Mapping.Length).NotTo(BeNil())
	})

	It("reserves trailing storage for dict and weakrefs", func() {
		e := NewEngine()
		Expect(e.RegisterClass("Satchel", &satchel{}, WithDict(), WithWeakrefs())).To(Succeed())
		Expect(e.assembleAll()).To(Succeed())
		td := e.emitDescriptor(e.classesByName["Satchel"], nil)
		Expect(td.DictOffset).NotTo(BeZero())
		Expect(td.WeakListOffset).NotTo(BeZero())
		Expect(td.WeakListOffset).NotTo(Equal(td.DictOffset))
		Expect(td.BasicSize > td.WeakListOffset).To(BeTrue())
	})
})

var _ = Describe("Spec emission", func() {
	It("terminates the slot array with exactly one sentinel", func() {
		e := NewEngine()
		Expect(e.RegisterClass("Song", &song{})).To(Succeed())
		Expect(e.assembleAll()).To(Succeed())
		spec := e.emitSpec(e.classesByName["Song"], nil)

		Expect(spec.Slots).NotTo(BeEmpty())
		Expect(spec.Slots[len(spec.Slots)-1].ID).To(Equal(SlotSentinel))
		for _, s := range spec.Slots[:len(spec.Slots)-1] {
			Expect(s.ID).NotTo(Equal(SlotSentinel))
		}
	})

	It("marks spec-built types as heap types", func() {
		e := NewEngine()
		Expect(e.RegisterClass("Song", &song{})).To(Succeed())
		Expect(e.assembleAll()).To(Succeed())
		spec := e.emitSpec(e.classesByName["Song"], nil)
		Expect(spec.Flags & FlagHeapType).NotTo(BeZero())
	})

	It("carries the same protocol surface as the descriptor", func() {
		e := NewEngine()
		Expect(e.RegisterClass("Shelf", &shelf{})).To(Succeed())
		Expect(e.assembleAll()).To(Succeed())
		ci := e.classesByName["Shelf"]

		td := e.emitDescriptor(ci, nil)
		spec := e.emitSpec(ci, nil)
		ids := slotIDs(spec.Slots)

		Expect(ids[SlotSequenceItem]).To(Equal(td.Sequence.Item != nil))
		Expect(ids[SlotSequenceLength]).To(Equal(td.Sequence.Length != nil))
		Expect(ids[SlotRepr]).To(Equal(td.Repr != nil))
		Expect(ids[SlotMethods]).To(Equal(len(td.Methods) > 0))
		Expect(ids[SlotGetSets]).To(Equal(len(td.GetSets) > 0))
		Expect(spec.BasicSize).To(Equal(td.BasicSize))
	})
})

var _ = Describe("Envelope freelist", func() {
	It("recycles up to its capacity", func() {
		fl := newFreelist(2)
		Expect(fl.pop()).To(BeNil())

		a := &Instance{}
		b := &Instance{}
		c := &Instance{}
		Expect(fl.push(a)).To(BeTrue())
		Expect(fl.push(b)).To(BeTrue())
		Expect(fl.push(c)).To(BeFalse())
		Expect(fl.size()).To(Equal(2))

		Expect(fl.pop()).To(BeIdenticalTo(b))
		Expect(fl.pop()).To(BeIdenticalTo(a))
		Expect(fl.pop()).To(BeNil())
	})
})
