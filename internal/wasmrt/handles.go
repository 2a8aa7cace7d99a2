package wasmrt

import (
	pybind "github.com/gopyforge/pybind/internal"
)

// handleTable maps guest-visible ids onto host-side instance envelopes. Guest
// objects of generated types store one of these ids in their payload; every
// slot trampoline passes it back so the host can recover the envelope. Freed
// ids are recycled to keep the table dense over long sessions.
type handleTable struct {
	entries []pybind.Object
	free    []uint32
}

func newHandleTable() *handleTable {
	// Id 0 is reserved as the error/absent marker.
	return &handleTable{entries: make([]pybind.Object, 1)}
}

func (ht *handleTable) put(o pybind.Object) uint32 {
	if n := len(ht.free); n > 0 {
		id := ht.free[n-1]
		ht.free = ht.free[:n-1]
		ht.entries[id] = o
		return id
	}
	ht.entries = append(ht.entries, o)
	return uint32(len(ht.entries) - 1)
}

func (ht *handleTable) get(id uint32) (pybind.Object, bool) {
	if id == 0 || int(id) >= len(ht.entries) || ht.entries[id] == nil {
		return nil, false
	}
	return ht.entries[id], true
}

func (ht *handleTable) drop(id uint32) {
	if id == 0 || int(id) >= len(ht.entries) {
		return
	}
	ht.entries[id] = nil
	ht.free = append(ht.free, id)
}

func (ht *handleTable) size() int {
	return len(ht.entries) - 1 - len(ht.free)
}
