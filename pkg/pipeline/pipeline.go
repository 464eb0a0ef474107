package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/iotworks/go-iot-ingest/pkg/metrics"
	"github.com/iotworks/go-iot-ingest/pkg/telemetry"
)

// Config holds the tuning knobs for an IngestionPipeline.
type Config struct {
	// BatchSize is the flush granularity: occupancy reaching this drains a
	// batch immediately.
	BatchSize int
	// BatchTimeout bounds how long a partial batch may wait before flushing.
	BatchTimeout time.Duration
	// QueueMaxSize bounds memory and defines the drop threshold.
	QueueMaxSize int
	// RetryAttempts is the total number of write attempts per batch before it
	// is abandoned.
	RetryAttempts int
	// RetryBackoff is the base delay between attempts; it doubles each retry.
	RetryBackoff time.Duration
	// ShutdownGrace bounds the final drain on Stop. Records still queued when
	// it expires are counted as dropped.
	ShutdownGrace time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 1 * time.Second
	}
	if c.QueueMaxSize <= 0 {
		c.QueueMaxSize = 10000
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 250 * time.Millisecond
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
}

// CommitHook is invoked after a batch has been durably committed, with the
// committed records. Hooks must be fast and must not retain the slice.
type CommitHook func(records []*telemetry.Record)

// IngestionPipeline owns the full ingest flow: it normalizes raw transport
// messages, buffers them in a bounded queue, and flushes them to the sink in
// batches. Two paths run concurrently: the receive path (Ingest, non-blocking,
// bounded work per call) and the flush path (a single loop draining the queue
// on size or time triggers, one write in flight at a time).
type IngestionPipeline struct {
	cfg        Config
	queue      *BoundedQueue
	sink       BatchSink
	normalizer *telemetry.Normalizer
	stats      *telemetry.Stats
	logger     zerolog.Logger

	// kick wakes the flush loop when the size trigger fires. Buffered so the
	// receive path never blocks on it.
	kick chan struct{}

	accepting atomic.Bool
	onCommit  CommitHook

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

// New creates a pipeline writing to sink. The sink's lifecycle is owned by the
// pipeline from this point: Stop closes it.
func New(cfg Config, sink BatchSink, logger zerolog.Logger) (*IngestionPipeline, error) {
	if sink == nil {
		return nil, errors.New("pipeline: sink cannot be nil")
	}
	cfg.applyDefaults()

	stats := telemetry.NewStats()
	return &IngestionPipeline{
		cfg:        cfg,
		queue:      NewBoundedQueue(cfg.QueueMaxSize),
		sink:       sink,
		normalizer: telemetry.NewNormalizer(stats, logger),
		stats:      stats,
		logger:     logger.With().Str("component", "IngestionPipeline").Logger(),
		kick:       make(chan struct{}, 1),
		loopDone:   make(chan struct{}),
	}, nil
}

// OnCommit registers a hook called after each successful batch commit. It
// must be set before Start.
func (p *IngestionPipeline) OnCommit(hook CommitHook) {
	p.onCommit = hook
}

// Start launches the flush loop and begins accepting records. The passed
// context bounds the pipeline's lifetime; cancelling it is equivalent to Stop
// without a grace guarantee, so prefer calling Stop.
func (p *IngestionPipeline) Start(ctx context.Context) error {
	p.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		p.cancel = cancel
		p.accepting.Store(true)
		go p.flushLoop(loopCtx)
		p.logger.Info().
			Int("batch_size", p.cfg.BatchSize).
			Dur("batch_timeout", p.cfg.BatchTimeout).
			Int("queue_max_size", p.cfg.QueueMaxSize).
			Msg("Ingestion pipeline started.")
	})
	return nil
}

// Stop ceases admission, gives the flush loop one bounded opportunity to
// drain the residual queue, then closes the sink. The passed context bounds
// how long Stop itself waits for the loop to finish.
func (p *IngestionPipeline) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		p.logger.Info().Msg("Stopping ingestion pipeline...")
		p.accepting.Store(false)
		if p.cancel != nil {
			p.cancel()
		}

		select {
		case <-p.loopDone:
			p.logger.Info().Msg("Flush loop drained and stopped.")
		case <-ctx.Done():
			p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for flush loop to stop.")
			err = ctx.Err()
		}

		if closeErr := p.sink.Close(); closeErr != nil {
			p.logger.Error().Err(closeErr).Msg("Error closing sink.")
			if err == nil {
				err = closeErr
			}
		}
		p.logger.Info().Msg("Ingestion pipeline stopped.")
	})
	return err
}

// Ingest is the receive path: one call per transport message. It normalizes,
// offers to the queue, and returns; it never blocks on the sink or the flush
// loop, so a slow store can never stall the transport callback. Malformed
// input and backpressure drops are absorbed here and surface only through
// counters and logs.
func (p *IngestionPipeline) Ingest(topic string, raw []byte) {
	record, err := p.normalizer.Normalize(topic, raw)
	if err != nil {
		metrics.RecordRejected(rejectReason(err))
		return
	}
	metrics.RecordReceived(record.DeviceType)

	if !p.accepting.Load() || !p.queue.Offer(record) {
		p.stats.AddDropped(1)
		metrics.RecordDropped(1)
		p.logger.Debug().Str("device_id", record.DeviceID).Msg("Queue full, record dropped.")
		return
	}

	occupancy := p.queue.Len()
	p.stats.SetQueueSize(occupancy)
	metrics.SetQueueDepth(occupancy)
	if occupancy >= p.cfg.BatchSize {
		p.kickFlush()
	}
}

// Stats returns a read-only snapshot of the pipeline counters. Safe to call
// at any time, including while the pipeline is running.
func (p *IngestionPipeline) Stats() telemetry.Snapshot {
	return p.stats.Snapshot()
}

// QueueLen reports current queue occupancy.
func (p *IngestionPipeline) QueueLen() int {
	return p.queue.Len()
}

func (p *IngestionPipeline) kickFlush() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// flushLoop is the flush path: it waits for a size or time trigger, drains up
// to one batch, and writes it before draining the next. A single in-flight
// write prevents write amplification and out-of-order commits; a retried
// batch is retried in place, never interleaved with a newer one.
func (p *IngestionPipeline) flushLoop(ctx context.Context) {
	defer close(p.loopDone)

	ticker := time.NewTicker(p.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.finalDrain()
			return
		case <-p.kick:
		case <-ticker.C:
		}
		p.flushOnce(ctx)
		ticker.Reset(p.cfg.BatchTimeout)
	}
}

// flushOnce drains and writes at most one batch. An empty queue is a no-op.
func (p *IngestionPipeline) flushOnce(ctx context.Context) {
	batch := p.queue.DrainUpTo(p.cfg.BatchSize)
	occupancy := p.queue.Len()
	p.stats.SetQueueSize(occupancy)
	metrics.SetQueueDepth(occupancy)
	if len(batch) == 0 {
		return
	}

	p.stats.IncBatches()
	start := time.Now()
	err := p.writeWithRetry(ctx, batch)
	metrics.ObserveFlush(len(batch), time.Since(start), err == nil)

	if err != nil {
		// The batch is abandoned; a single bad batch is never fatal.
		p.stats.AddErrors(len(batch))
		p.logger.Error().Err(err).
			Int("batch_size", len(batch)).
			Int("attempts", p.cfg.RetryAttempts).
			Msg("Batch permanently failed after exhausting retries, records lost.")
	} else {
		p.stats.AddIngested(len(batch))
		p.logger.Debug().Int("batch_size", len(batch)).Msg("Batch committed.")
		if p.onCommit != nil {
			p.onCommit(batch)
		}
	}

	// More than a full batch may have accumulated while the write was in
	// flight; keep draining without waiting for the next trigger.
	if p.queue.Len() >= p.cfg.BatchSize {
		p.kickFlush()
	}
}

// writeWithRetry performs one bulk write with bounded retries and exponential
// backoff. The returned error is the last attempt's error once the budget is
// exhausted or the context is cancelled.
func (p *IngestionPipeline) writeWithRetry(ctx context.Context, batch []*telemetry.Record) error {
	backoff := p.cfg.RetryBackoff
	var err error
	for attempt := 1; ; attempt++ {
		err = p.sink.InsertBatch(ctx, batch)
		if err == nil {
			return nil
		}
		if attempt >= p.cfg.RetryAttempts || ctx.Err() != nil {
			return err
		}
		p.logger.Warn().Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Batch write failed, retrying.")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return err
		}
		backoff *= 2
	}
}

// finalDrain flushes whatever is still queued at shutdown, bounded by the
// configured grace period. Records that cannot be written in time are counted
// as dropped rather than blocked on indefinitely.
func (p *IngestionPipeline) finalDrain() {
	graceCtx, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownGrace)
	defer cancel()

	for {
		batch := p.queue.DrainUpTo(p.cfg.BatchSize)
		if len(batch) == 0 {
			break
		}
		if graceCtx.Err() != nil {
			p.stats.AddDropped(len(batch))
			metrics.RecordDropped(len(batch))
			p.logger.Error().Int("count", len(batch)).Msg("Shutdown grace exceeded, dropping queued records.")
			continue
		}

		p.stats.IncBatches()
		start := time.Now()
		err := p.writeWithRetry(graceCtx, batch)
		metrics.ObserveFlush(len(batch), time.Since(start), err == nil)
		if err != nil {
			p.stats.AddErrors(len(batch))
			p.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Final flush failed, records lost.")
		} else {
			p.stats.AddIngested(len(batch))
			if p.onCommit != nil {
				p.onCommit(batch)
			}
		}
	}
	p.stats.SetQueueSize(0)
	metrics.SetQueueDepth(0)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, telemetry.ErrMalformedTopic):
		return "malformed_topic"
	case errors.Is(err, telemetry.ErrMalformedPayload):
		return "malformed_payload"
	default:
		return "unknown"
	}
}
