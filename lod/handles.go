package lod

// handleAllocator hands out sequential non-zero handles. Released handles
// are handed out again before new ones, most recently released first.
type handleAllocator struct {
	current  uint32
	released []uint32
}

func (a *handleAllocator) next() uint32 {
	if n := len(a.released); n != 0 {
		h := a.released[n-1]
		a.released = a.released[:n-1]
		return h
	}

	a.current++
	return a.current
}

func (a *handleAllocator) release(h uint32) {
	a.released = append(a.released, h)
}
