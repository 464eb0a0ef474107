package telemetry

import "sync/atomic"

// Stats holds the pipeline's process-wide counters. All fields are updated
// atomically so the hot receive path never takes a lock, and Snapshot can be
// called concurrently with pipeline operation.
//
// Every counter is monotonically non-decreasing except QueueSize, which
// tracks current occupancy.
type Stats struct {
	queueSize     atomic.Int64
	totalReceived atomic.Int64
	totalIngested atomic.Int64
	totalErrors   atomic.Int64
	totalBatches  atomic.Int64
	totalDropped  atomic.Int64
}

// Snapshot is a point-in-time, read-only copy of the pipeline counters.
type Snapshot struct {
	QueueSize     int64   `json:"queue_size"`
	TotalReceived int64   `json:"total_received"`
	TotalIngested int64   `json:"total_ingested"`
	TotalErrors   int64   `json:"total_errors"`
	TotalBatches  int64   `json:"total_batches"`
	TotalDropped  int64   `json:"total_dropped"`
	SuccessRate   float64 `json:"success_rate"`
}

// NewStats creates a zeroed counter set.
func NewStats() *Stats {
	return &Stats{}
}

// SetQueueSize records the current queue occupancy.
func (s *Stats) SetQueueSize(n int) { s.queueSize.Store(int64(n)) }

// IncReceived counts one message handed to the Normalizer.
func (s *Stats) IncReceived() { s.totalReceived.Add(1) }

// AddIngested counts records committed to the sink.
func (s *Stats) AddIngested(n int) { s.totalIngested.Add(int64(n)) }

// AddErrors counts records rejected at normalization or permanently failed
// at write.
func (s *Stats) AddErrors(n int) { s.totalErrors.Add(int64(n)) }

// IncBatches counts one flush attempt.
func (s *Stats) IncBatches() { s.totalBatches.Add(1) }

// AddDropped counts records discarded due to backpressure or shutdown.
func (s *Stats) AddDropped(n int) { s.totalDropped.Add(int64(n)) }

// Snapshot returns a consistent-enough view of the counters for monitoring.
// SuccessRate is defined as 1.0 when nothing has been received yet.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		QueueSize:     s.queueSize.Load(),
		TotalReceived: s.totalReceived.Load(),
		TotalIngested: s.totalIngested.Load(),
		TotalErrors:   s.totalErrors.Load(),
		TotalBatches:  s.totalBatches.Load(),
		TotalDropped:  s.totalDropped.Load(),
	}
	if snap.TotalReceived == 0 {
		snap.SuccessRate = 1.0
	} else {
		snap.SuccessRate = float64(snap.TotalIngested) / float64(snap.TotalReceived)
	}
	return snap
}
