// Package event defines the scheduling core's event record and the
// priority-ordered queues that hold them: one per destination host, plus a
// single global queue for events with no host destination.
package event

import (
	stdheap "container/heap"
	"sync"
	"sync/atomic"

	"github.com/okdaichi/shadowsim/internal/shadowaddr"
	"github.com/okdaichi/shadowsim/internal/simtime"
)

// Event is an opaque scheduling record. Payload is whatever the emitting
// host handler attached; the scheduling core never inspects it.
type Event struct {
	FireTime          simtime.Time
	DestinationHostID shadowaddr.ID
	SequenceTag       uint64
	Payload           any
}

// Less orders two events by (FireTime, SequenceTag), the scheduling core's
// one ordering key.
func Less(a, b *Event) bool {
	if a.FireTime != b.FireTime {
		return a.FireTime < b.FireTime
	}
	return a.SequenceTag < b.SequenceTag
}

// SequenceSource hands out the monotonic tie-breaker every emitted Event
// carries, making ordering deterministic under identical FireTime values.
type SequenceSource struct {
	counter atomic.Uint64
}

// Next returns the next sequence tag. Safe for concurrent use.
func (s *SequenceSource) Next() uint64 {
	return s.counter.Add(1)
}

// eventHeap is a container/heap min-heap of *Event ordered by Less.
type eventHeap []*Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return Less(h[i], h[j]) }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(*Event)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is a thread-safe priority queue ordered by (FireTime, SequenceTag),
// backed by container/heap. A host owns one Queue for its own events; the
// Engine owns one more Queue for events with no destination host.
type Queue struct {
	mu sync.Mutex
	h  eventHeap
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push enqueues e. Safe to call from any worker, not just the queue's own.
func (q *Queue) Push(e *Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stdheap.Push(&q.h, e)
}

// Pop removes and returns the earliest-ordered event, or ok=false if empty.
func (q *Queue) Pop() (e *Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil, false
	}
	return stdheap.Pop(&q.h).(*Event), true
}

// Peek returns the earliest-ordered event without removing it.
func (q *Queue) Peek() (e *Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil, false
	}
	return q.h[0], true
}

// Len reports the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// DrainDue removes and returns, in order, every event whose FireTime is
// strictly less than windowEnd — the set a worker is allowed to process in
// the current window.
func (q *Queue) DrainDue(windowEnd simtime.Time) []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*Event
	for len(q.h) > 0 && q.h[0].FireTime < windowEnd {
		due = append(due, stdheap.Pop(&q.h).(*Event))
	}
	return due
}
