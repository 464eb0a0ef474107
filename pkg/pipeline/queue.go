package pipeline

import (
	"sync"

	"github.com/iotworks/go-iot-ingest/pkg/telemetry"
)

// BoundedQueue is a fixed-capacity FIFO buffer of normalized records. It is
// the only state shared between the receive path and the flush path, so
// Offer and DrainUpTo are mutually atomic: a record is either still queued or
// delivered to exactly one batch, never both, never neither.
//
// A full queue signals that the sink is the bottleneck. Offer rejects new
// records instead of blocking, which keeps the transport callback responsive
// and makes backpressure observable through the dropped counter rather than
// through unbounded memory growth.
type BoundedQueue struct {
	mu   sync.Mutex
	data []*telemetry.Record
	cap  int
}

// NewBoundedQueue creates a queue holding at most capacity records.
func NewBoundedQueue(capacity int) *BoundedQueue {
	return &BoundedQueue{
		data: make([]*telemetry.Record, 0, capacity),
		cap:  capacity,
	}
}

// Offer enqueues the record if capacity remains. It returns false and leaves
// the record untouched when the queue is full; counting the drop is the
// caller's responsibility. Offer never blocks.
func (q *BoundedQueue) Offer(r *telemetry.Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		return false
	}
	q.data = append(q.data, r)
	return true
}

// DrainUpTo atomically removes and returns between 0 and max records in FIFO
// order. It returns nil when the queue is empty.
func (q *BoundedQueue) DrainUpTo(max int) []*telemetry.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 || max <= 0 {
		return nil
	}
	if max > len(q.data) {
		max = len(q.data)
	}
	out := make([]*telemetry.Record, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

// Len reports current occupancy.
func (q *BoundedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}
