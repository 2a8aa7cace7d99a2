package wasmrt

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestWasmRuntime(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Wasm Runtime Suite")
}

var _ = Describe("Handle table", func() {
	It("never hands out the reserved zero id", func() {
		ht := newHandleTable()
		Expect(ht.put("first")).To(Equal(uint32(1)))
	})

	It("resolves stored values by id", func() {
		ht := newHandleTable()
		id := ht.put("value")
		v, ok := ht.get(id)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("value"))

		_, ok = ht.get(99)
		Expect(ok).To(BeFalse())
	})

	It("recycles dropped ids before growing", func() {
		ht := newHandleTable()
		a := ht.put("a")
		b := ht.put("b")
		ht.drop(a)
		Expect(ht.size()).To(Equal(1))

		c := ht.put("c")
		Expect(c).To(Equal(a))
		Expect(ht.size()).To(Equal(2))

		d := ht.put("d")
		Expect(d).NotTo(Equal(b))
		Expect(d).NotTo(Equal(c))
	})

	It("ignores drops of unknown ids", func() {
		ht := newHandleTable()
		ht.drop(42)
		Expect(ht.size()).To(BeZero())
	})
})
