package recorder

import "sync"

// Buffer is a thread-safe FIFO ring that doubles its capacity when it
// reaches 70% full, up to maxCapacity. Once at maxCapacity a Push evicts the
// oldest item so producers never block.
type Buffer[T any] struct {
	mu          sync.Mutex
	buf         []T
	head        int // read position
	count       int
	maxCapacity int // 0 = unbounded
	closed      bool

	// Stats
	pushed  int64
	drained int64
	dropped int64
	resizes int
}

// NewBuffer creates a buffer with the given initial and maximum capacity.
func NewBuffer[T any](initialCapacity, maxCapacity int) *Buffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if maxCapacity > 0 && maxCapacity < initialCapacity {
		initialCapacity = maxCapacity
	}
	return &Buffer[T]{
		buf:         make([]T, initialCapacity),
		maxCapacity: maxCapacity,
	}
}

// Push appends an item. It returns false if the buffer is closed.
func (b *Buffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (len(b.buf) * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold && b.canGrow() {
		b.grow()
	}

	if b.count == len(b.buf) {
		// Full at max capacity: evict the oldest
		var zero T
		b.buf[b.head] = zero
		b.head = (b.head + 1) % len(b.buf)
		b.count--
		b.dropped++
	}

	b.buf[(b.head+b.count)%len(b.buf)] = item
	b.count++
	b.pushed++
	return true
}

// DrainTo removes up to max items (all when max <= 0) in FIFO order.
func (b *Buffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	var zero T
	for i := range n {
		out[i] = b.buf[b.head]
		b.buf[b.head] = zero // Clear reference for GC
		b.head = (b.head + 1) % len(b.buf)
	}
	b.count -= n
	b.drained += int64(n)
	return out
}

// Close stops accepting items. Buffered items can still be drained.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:    b.count,
		Capacity: len(b.buf),
		Pushed:   b.pushed,
		Drained:  b.drained,
		Dropped:  b.dropped,
		Resizes:  b.resizes,
	}
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count    int
	Capacity int
	Pushed   int64
	Drained  int64
	Dropped  int64 // Evicted at max capacity
	Resizes  int
}

func (b *Buffer[T]) canGrow() bool {
	return b.maxCapacity <= 0 || len(b.buf) < b.maxCapacity
}

// grow doubles the capacity, bounded by maxCapacity. Must be called with
// lock held.
func (b *Buffer[T]) grow() {
	newCapacity := len(b.buf) * 2
	if b.maxCapacity > 0 && newCapacity > b.maxCapacity {
		newCapacity = b.maxCapacity
	}

	newBuf := make([]T, newCapacity)
	for i := range b.count {
		newBuf[i] = b.buf[(b.head+i)%len(b.buf)]
	}

	b.buf = newBuf
	b.head = 0
	b.resizes++
}
