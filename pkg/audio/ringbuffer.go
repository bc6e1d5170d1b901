package audio

import "sync"

// OverflowPolicy decides what Push does when the buffer is full.
type OverflowPolicy int

const (
	// DropOldest discards the oldest unread bytes to make room. Used for live
	// capture where freshness beats completeness.
	DropOldest OverflowPolicy = iota
	// Backpressure refuses bytes that do not fit and reports ErrBufferOverflow
	// so the producer can wait on Space.
	Backpressure
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case Backpressure:
		return "backpressure"
	default:
		return "unknown"
	}
}

// RingBuffer is a bounded circular byte queue. It is safe for one producer
// and one consumer running concurrently; Pop never blocks.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	readPos int
	size    int
	policy  OverflowPolicy
	dropped uint64

	space chan struct{}
}

// NewRingBuffer creates a buffer holding at most capacity bytes.
func NewRingBuffer(capacity int, policy OverflowPolicy) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}

	return &RingBuffer{
		buf:    make([]byte, capacity),
		policy: policy,
		space:  make(chan struct{}, 1),
	}
}

// Push appends data and returns the number of bytes stored.
//
// Under DropOldest all of data is accepted (only its last Cap bytes survive
// if it is larger than the buffer). Under Backpressure as much as fits is
// stored and ErrBufferOverflow is returned if anything was left over.
func (rb *RingBuffer) Push(data []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	capacity := len(rb.buf)

	if rb.policy == Backpressure {
		n := min(len(data), capacity-rb.size)
		rb.write(data[:n])
		if n < len(data) {
			return n, ErrBufferOverflow
		}

		return n, nil
	}

	total := len(data)
	if len(data) >= capacity {
		rb.dropped += uint64(rb.size + len(data) - capacity)
		data = data[len(data)-capacity:]
		rb.readPos = 0
		rb.size = 0
	} else if over := rb.size + len(data) - capacity; over > 0 {
		rb.readPos = (rb.readPos + over) % capacity
		rb.size -= over
		rb.dropped += uint64(over)
	}
	rb.write(data)

	return total, nil
}

// write copies data at the tail; the caller guarantees it fits.
func (rb *RingBuffer) write(data []byte) {
	capacity := len(rb.buf)
	for len(data) > 0 {
		writePos := (rb.readPos + rb.size) % capacity
		n := copy(rb.buf[writePos:min(capacity, writePos+capacity-rb.size)], data)
		data = data[n:]
		rb.size += n
	}
}

// Pop removes and returns up to maxBytes bytes. It returns an empty slice at once
// when nothing is buffered.
func (rb *RingBuffer) Pop(maxBytes int) []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(maxBytes, rb.size)
	if n <= 0 {
		return []byte{}
	}

	out := make([]byte, n)
	capacity := len(rb.buf)
	first := copy(out, rb.buf[rb.readPos:min(capacity, rb.readPos+n)])
	copy(out[first:], rb.buf[:n-first])

	rb.readPos = (rb.readPos + n) % capacity
	rb.size -= n
	rb.signal()

	return out
}

// Available returns the number of unread bytes.
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	return rb.size
}

// Free returns how many bytes can be pushed without overflowing.
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	return len(rb.buf) - rb.size
}

// Clear discards all unread bytes.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.readPos = 0
	rb.size = 0
	rb.signal()
}

// Cap returns the buffer capacity in bytes.
func (rb *RingBuffer) Cap() int {
	return len(rb.buf)
}

// Policy returns the overflow policy the buffer was built with.
func (rb *RingBuffer) Policy() OverflowPolicy {
	return rb.policy
}

// Dropped returns the total bytes discarded by DropOldest.
func (rb *RingBuffer) Dropped() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	return rb.dropped
}

// Space receives a value after Pop or Clear frees room. A producer blocked by
// backpressure retries Push after each receive.
func (rb *RingBuffer) Space() <-chan struct{} {
	return rb.space
}

func (rb *RingBuffer) signal() {
	select {
	case rb.space <- struct{}{}:
	default:
	}
}
