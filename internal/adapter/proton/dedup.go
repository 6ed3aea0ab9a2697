package proton

// dedupWindow is how many recent packet ids are remembered.
const dedupWindow = 1000

// idWindow remembers the last size packet ids.
type idWindow struct {
	ring []string
	next int
	set  map[string]struct{}
}

func newIDWindow(size int) *idWindow {
	return &idWindow{
		ring: make([]string, size),
		set:  make(map[string]struct{}, size),
	}
}

// add records id and reports whether it was already remembered.
func (w *idWindow) add(id string) bool {
	if _, ok := w.set[id]; ok {
		return true
	}

	if old := w.ring[w.next]; old != "" {
		delete(w.set, old)
	}

	w.ring[w.next] = id
	w.set[id] = struct{}{}
	w.next = (w.next + 1) % len(w.ring)

	return false
}
