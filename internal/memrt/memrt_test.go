package memrt

import (
	"testing"

	pybind "github.com/gopyforge/pybind/internal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMemRuntime(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Memory Runtime Suite")
}

var _ = Describe("Builtin objects", func() {
	var rt *Runtime

	BeforeEach(func() {
		rt = NewRuntime()
	})

	It("keeps None and NotImplemented as singletons", func() {
		Expect(rt.None()).To(BeIdenticalTo(rt.None()))
		Expect(rt.NotImplemented()).To(BeIdenticalTo(rt.NotImplemented()))
		Expect(rt.IsNone(rt.None())).To(BeTrue())
		Expect(rt.IsNone(rt.NewInt(0))).To(BeFalse())
	})

	It("round-trips scalars", func() {
		i, err := rt.AsInt(rt.NewInt(-7))
		Expect(err).To(BeNil())
		Expect(i).To(Equal(int64(-7)))

		u, err := rt.AsUint(rt.NewUint(7))
		Expect(err).To(BeNil())
		Expect(u).To(Equal(uint64(7)))

		f, err := rt.AsFloat(rt.NewFloat(2.5))
		Expect(err).To(BeNil())
		Expect(f).To(Equal(2.5))

		s, err := rt.AsString(rt.NewString("hi"))
		Expect(err).To(BeNil())
		Expect(s).To(Equal("hi"))

		b, err := rt.AsBytes(rt.NewBytes([]byte{1, 2}))
		Expect(err).To(BeNil())
		Expect(b).To(Equal([]byte{1, 2}))
	})

	It("widens ints to floats but not the reverse", func() {
		f, err := rt.AsFloat(rt.NewInt(3))
		Expect(err).To(BeNil())
		Expect(f).To(Equal(3.0))

		_, err = rt.AsInt(rt.NewString("3"))
		Expect(err).To(HaveOccurred())
	})

	It("keys dicts by scalar value, not handle identity", func() {
		d := rt.NewDict()
		Expect(rt.DictSetItem(d, rt.NewString("k"), rt.NewInt(1))).To(Succeed())
		Expect(rt.DictSetItem(d, rt.NewString("k"), rt.NewInt(2))).To(Succeed())

		items, err := rt.DictItems(d)
		Expect(err).To(BeNil())
		Expect(items).To(HaveLen(1))
		v, err := rt.AsInt(items[0][1])
		Expect(err).To(BeNil())
		Expect(v).To(Equal(int64(2)))
	})

	It("measures builtin lengths", func() {
		n, err := rt.Len(rt.NewList([]pybind.Object{rt.NewInt(1), rt.NewInt(2)}))
		Expect(err).To(BeNil())
		Expect(n).To(Equal(2))

		n, err = rt.Len(rt.NewString("abc"))
		Expect(err).To(BeNil())
		Expect(n).To(Equal(3))

		_, err = rt.Len(rt.NewInt(3))
		Expect(err).To(HaveOccurred())
	})

	It("renders builtin reprs", func() {
		s, err := rt.Repr(rt.NewList([]pybind.Object{rt.NewInt(1), rt.NewString("a")}))
		Expect(err).To(BeNil())
		Expect(s).To(Equal(`[1, "a"]`))

		s, err = rt.Repr(rt.None())
		Expect(err).To(BeNil())
		Expect(s).To(Equal("None"))

		s, err = rt.Repr(rt.Bool(true))
		Expect(err).To(BeNil())
		Expect(s).To(Equal("True"))
	})
})

var _ = Describe("Pending exception state", func() {
	It("records and clears one pending exception", func() {
		rt := NewRuntime()
		Expect(rt.ErrOccurred()).To(BeFalse())

		rt.Raise(pybind.ErrValue, "boom")
		Expect(rt.ErrOccurred()).To(BeTrue())
		class, msg, ok := rt.PendingError()
		Expect(ok).To(BeTrue())
		Expect(class).To(Equal(pybind.ErrValue))
		Expect(msg).To(Equal("boom"))

		rt.ErrClear()
		Expect(rt.ErrOccurred()).To(BeFalse())
	})
})
