package pipeline

import (
	"context"

	"github.com/iotworks/go-iot-ingest/pkg/telemetry"
)

// BatchSink is the storage collaborator. It abstracts the destination store
// (Postgres in production, mocks in tests) so the pipeline stays modular and
// testable.
type BatchSink interface {
	// InsertBatch persists the whole batch as one atomic bulk write. An error
	// means the entire batch failed; partial commits are never assumed.
	InsertBatch(ctx context.Context, records []*telemetry.Record) error
	// Close releases the sink's resources.
	Close() error
}
