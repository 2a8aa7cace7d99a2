package pybind

import (
	internal "github.com/gopyforge/pybind/internal"
	"github.com/gopyforge/pybind/internal/memrt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// Both registration backends must produce types that behave identically:
// the classic fixed-layout descriptor and the stable slot-array spec are two
// encodings of the same assembled class.
var _ = Describe("Registration backends", Label("backends"), func() {
	build := func(b Backend) (*memrt.Runtime, *Module) {
		GinkgoHelper()
		brt := memrt.NewRuntime()
		e := NewEngine(WithBackend(b))
		Expect(e.RegisterClass("Vec", &Vec{})).To(Succeed())
		Expect(e.RegisterClass("Stack", &Stack{})).To(Succeed())
		Expect(e.RegisterClass("Shape", &Shape{})).To(Succeed())
		Expect(e.RegisterClass("Circle", &Circle{})).To(Succeed())
		m, err := e.InitModule(brt)
		Expect(err).To(BeNil())
		return brt, m
	}

	exercise := func(brt *memrt.Runtime, m *Module) {
		GinkgoHelper()

		vecType, ok := m.Type("Vec")
		Expect(ok).To(BeTrue())
		a, err := brt.New(vecType, brt.NewFloat(1), brt.NewFloat(2))
		Expect(err).To(BeNil())
		b, err := brt.New(vecType, brt.NewFloat(3), brt.NewFloat(4))
		Expect(err).To(BeNil())

		sum, err := brt.BinaryOp(internal.SlotNumberAdd, a, b)
		Expect(err).To(BeNil())
		x, err := brt.GetAttr(sum, "x")
		Expect(err).To(BeNil())
		xv, err := brt.AsFloat(x)
		Expect(err).To(BeNil())
		Expect(xv).To(Equal(4.0))

		s, err := brt.Repr(a)
		Expect(err).To(BeNil())
		Expect(s).To(Equal("Vec(x=1, y=2)"))

		h, err := brt.Hash(a)
		Expect(err).To(BeNil())
		Expect(h).To(Equal(uint64(1*31 + 2)))

		stackType, _ := m.Type("Stack")
		st, err := brt.New(stackType)
		Expect(err).To(BeNil())
		_, err = brt.CallMethod(st, "push", brt.NewInt(7))
		Expect(err).To(BeNil())
		item, err := brt.GetItem(st, brt.NewInt(-1))
		Expect(err).To(BeNil())
		iv, err := brt.AsInt(item)
		Expect(err).To(BeNil())
		Expect(iv).To(Equal(int64(7)))

		circleType, _ := m.Type("Circle")
		shapeType, _ := m.Type("Shape")
		c, err := brt.New(circleType, brt.NewString("disc"), brt.NewFloat(2))
		Expect(err).To(BeNil())
		Expect(brt.IsInstance(c, shapeType)).To(BeTrue())
		d, err := brt.CallMethod(c, "describe")
		Expect(err).To(BeNil())
		ds, err := brt.AsString(d)
		Expect(err).To(BeNil())
		Expect(ds).To(Equal("shape disc"))
	}

	When("using the classic backend", func() {
		It("produces fully working types", func() {
			exercise(build(BackendClassic))
		})
	})

	When("using the stable backend", func() {
		It("produces fully working types", func() {
			exercise(build(BackendStable))
		})
	})

	When("handing the runtime a malformed spec", func() {
		It("rejects a slot array without the sentinel", func() {
			brt := memrt.NewRuntime()
			_, err := brt.TypeFromSpec(&internal.TypeSpec{
				Name:  "Broken",
				Slots: []internal.TypeSlot{{ID: internal.SlotRepr, Value: nil}},
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("sentinel"))
		})
	})
})
