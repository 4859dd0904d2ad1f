package services

import (
	"sync"

	"wearlink/internal/core/domain"
)

// OutboundQueue is the single shared structure between the encode
// contexts (producers) and the send loop (consumer). All mutation happens
// under one mutex.
//
// Insertion contract: high-priority envelopes are inserted at the head,
// normal-priority appended at the tail. Head insertion means the most
// recently enqueued high-priority envelope drains first (LIFO among
// high). The gateway depends on seeing the newest video frame before
// older queued control messages, so this ordering is preserved
// deliberately; do not "fix" it to FIFO.
//
// Overflow: when the normal-priority backlog exceeds the watermark it is
// trimmed from the oldest end down to the floor, discarding stale audio
// and telemetry instead of blocking the producer. High-priority
// envelopes are never trimmed.
type OutboundQueue struct {
	mu     sync.Mutex
	items  []*domain.Envelope
	closed bool

	watermark int
	floor     int

	signal chan struct{}

	// onTrim is invoked (outside the lock) with the number of envelopes
	// discarded by an overflow trim. Used for metrics.
	onTrim func(n int)
}

// NewOutboundQueue creates a bounded priority queue with the given
// overflow watermark and floor.
func NewOutboundQueue(watermark, floor int) *OutboundQueue {
	if watermark <= 0 {
		watermark = 15
	}
	if floor <= 0 || floor > watermark {
		floor = watermark * 2 / 3
	}
	return &OutboundQueue{
		watermark: watermark,
		floor:     floor,
		signal:    make(chan struct{}, 1),
	}
}

// OnTrim registers a callback for overflow trims.
func (q *OutboundQueue) OnTrim(fn func(n int)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onTrim = fn
}

// Push enqueues an envelope under the priority insertion rule, applies
// the overflow trim, then signals the send loop.
func (q *OutboundQueue) Push(env *domain.Envelope) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.ErrQueueClosed
	}

	if env.Priority == domain.PriorityHigh {
		q.items = append([]*domain.Envelope{env}, q.items...)
	} else {
		q.items = append(q.items, env)
	}

	trimmed := q.trimLocked()
	onTrim := q.onTrim
	q.mu.Unlock()

	if trimmed > 0 && onTrim != nil {
		onTrim(trimmed)
	}

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// trimLocked drops the oldest normal-priority envelopes once their count
// exceeds the watermark, down to the floor. Returns the number dropped.
func (q *OutboundQueue) trimLocked() int {
	normal := 0
	for _, e := range q.items {
		if e.Priority == domain.PriorityNormal {
			normal++
		}
	}
	if normal <= q.watermark {
		return 0
	}

	toDrop := normal - q.floor
	dropped := 0
	kept := q.items[:0]
	for _, e := range q.items {
		// Normal envelopes earlier in the slice are the oldest: normals
		// are tail-appended, so arrival order matches slice order.
		if e.Priority == domain.PriorityNormal && dropped < toDrop {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	q.items = kept
	return dropped
}

// Pop removes and returns the head envelope, or nil when empty.
func (q *OutboundQueue) Pop() *domain.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	env := q.items[0]
	q.items = q.items[1:]
	return env
}

// Signal returns the channel pulsed on every push; the send loop waits
// on it between drains.
func (q *OutboundQueue) Signal() <-chan struct{} {
	return q.signal
}

// Len returns the queued envelope count.
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed. Queued envelopes remain poppable so a
// reconnect can flush backlog accumulated while disconnected.
func (q *OutboundQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Reopen re-enables pushes after a Close, keeping queued contents in
// their established order.
func (q *OutboundQueue) Reopen() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = false
}
