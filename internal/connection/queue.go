package connection

// outboundQueue buffers encoded frames while the client is not connected.
type outboundQueue struct {
	frames [][]byte
	limit  int // 0 = unbounded
}

func newOutboundQueue(limit int) *outboundQueue {
	return &outboundQueue{limit: limit}
}

// full reports whether another push would exceed the limit.
func (q *outboundQueue) full() bool {
	return q.limit > 0 && len(q.frames) >= q.limit
}

// push appends a frame. It returns false when the queue is full.
func (q *outboundQueue) push(frame []byte) bool {
	if q.full() {
		return false
	}
	q.frames = append(q.frames, frame)
	return true
}

// pushFront puts frames back ahead of anything queued since they were
// drained, ignoring the limit.
func (q *outboundQueue) pushFront(frames [][]byte) {
	if len(frames) == 0 {
		return
	}
	merged := make([][]byte, 0, len(frames)+len(q.frames))
	merged = append(merged, frames...)
	merged = append(merged, q.frames...)
	q.frames = merged
}

// drain empties the queue and returns its frames in insertion order.
func (q *outboundQueue) drain() [][]byte {
	out := q.frames
	q.frames = nil
	return out
}

func (q *outboundQueue) len() int { return len(q.frames) }
