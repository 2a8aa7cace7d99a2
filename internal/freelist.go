package pybind

// freelist is a fixed-capacity pool of instance envelopes for one generated
// type. No locking: the host runtime already serializes all object-protocol
// entry points for a given interpreter, so push/pop only ever run under that
// serialization.
type freelist struct {
	slots []*Instance
	cap   int
}

func newFreelist(capacity int) *freelist {
	return &freelist{slots: make([]*Instance, 0, capacity), cap: capacity}
}

// pop returns a recycled envelope or nil on miss. The caller is responsible
// for zeroing the native payload before reuse; a recycled payload must never
// leak a prior instance's pointers.
func (fl *freelist) pop() *Instance {
	if len(fl.slots) == 0 {
		return nil
	}
	inst := fl.slots[len(fl.slots)-1]
	fl.slots = fl.slots[:len(fl.slots)-1]
	return inst
}

// push offers an envelope back to the pool; at capacity the envelope is
// dropped for the collector instead.
func (fl *freelist) push(inst *Instance) bool {
	if len(fl.slots) >= fl.cap {
		return false
	}
	fl.slots = append(fl.slots, inst)
	return true
}

// size reports the number of pooled envelopes (test hook).
func (fl *freelist) size() int {
	return len(fl.slots)
}
