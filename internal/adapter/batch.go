package adapter

import (
	"sync"
	"time"
)

// Batcher collects items per device and flushes each device's batch once the window after
// its first item has elapsed.
type Batcher[T any] struct {
	window time.Duration
	flush  func(deviceID int, items []T)

	mu      sync.Mutex
	pending map[int][]T
	timers  map[int]*time.Timer
}

// NewBatcher creates a batcher calling flush from a timer goroutine.
func NewBatcher[T any](window time.Duration, flush func(deviceID int, items []T)) *Batcher[T] {
	return &Batcher[T]{
		window:  window,
		flush:   flush,
		pending: make(map[int][]T),
		timers:  make(map[int]*time.Timer),
	}
}

// Add appends an item; a non-positive window flushes immediately.
func (b *Batcher[T]) Add(deviceID int, item T) {
	if b.window <= 0 {
		b.flush(deviceID, []T{item})

		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[deviceID] = append(b.pending[deviceID], item)

	if _, ok := b.timers[deviceID]; ok {
		return
	}

	b.timers[deviceID] = time.AfterFunc(b.window, func() {
		b.Flush(deviceID)
	})
}

// Flush delivers the batch of a device now.
func (b *Batcher[T]) Flush(deviceID int) {
	b.mu.Lock()

	items := b.pending[deviceID]
	delete(b.pending, deviceID)

	if t, ok := b.timers[deviceID]; ok {
		t.Stop()
		delete(b.timers, deviceID)
	}

	b.mu.Unlock()

	if len(items) > 0 {
		b.flush(deviceID, items)
	}
}

// FlushAll delivers every pending batch, used on shutdown.
func (b *Batcher[T]) FlushAll() {
	b.mu.Lock()

	ids := make([]int, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}

	b.mu.Unlock()

	for _, id := range ids {
		b.Flush(id)
	}
}
