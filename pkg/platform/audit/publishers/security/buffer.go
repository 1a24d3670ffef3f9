package security

import (
	"sync"

	"medgate/pkg/platform/audit"
)

const defaultCapacity = 10000

// RingBuffer is a bounded FIFO of security events. When full, pushing evicts
// the oldest event.
type RingBuffer struct {
	mu      sync.Mutex
	events  []audit.SecurityEvent
	head    int // next write
	tail    int // next read
	count   int
	evicted int64
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &RingBuffer{events: make([]audit.SecurityEvent, capacity)}
}

// Push appends event and reports whether an older event was evicted for it.
func (b *RingBuffer) Push(event audit.SecurityEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := false
	if b.count == len(b.events) {
		b.events[b.tail] = audit.SecurityEvent{}
		b.tail = (b.tail + 1) % len(b.events)
		b.count--
		b.evicted++
		evicted = true
	}
	b.events[b.head] = event
	b.head = (b.head + 1) % len(b.events)
	b.count++
	return evicted
}

// Drain removes and returns up to n of the oldest events.
func (b *RingBuffer) Drain(n int) []audit.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 || n <= 0 {
		return nil
	}
	n = min(n, b.count)
	out := make([]audit.SecurityEvent, n)
	for i := range n {
		out[i] = b.events[b.tail]
		b.events[b.tail] = audit.SecurityEvent{}
		b.tail = (b.tail + 1) % len(b.events)
	}
	b.count -= n
	return out
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Evicted returns how many events were pushed out by newer ones.
func (b *RingBuffer) Evicted() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}
