package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/iotworks/go-iot-ingest/pkg/pipeline"
	"github.com/iotworks/go-iot-ingest/pkg/telemetry"
)

// DefaultTable is the telemetry table name.
const DefaultTable = "device_telemetry"

// PostgresInserter implements pipeline.BatchSink for a Postgres table with a
// JSONB payload column. Each batch becomes a single multi-row INSERT, so the
// whole batch commits or fails as one statement.
type PostgresInserter struct {
	db     *sql.DB
	table  string
	logger zerolog.Logger
}

var _ pipeline.BatchSink = (*PostgresInserter)(nil)

// NewPostgresInserter creates an inserter writing to table (DefaultTable when
// empty). The *sql.DB lifecycle is managed externally by the service that
// opened it.
func NewPostgresInserter(db *sql.DB, table string, logger zerolog.Logger) *PostgresInserter {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresInserter{
		db:     db,
		table:  table,
		logger: logger.With().Str("component", "PostgresInserter").Str("table", table).Logger(),
	}
}

// InsertBatch writes all records as one multi-row INSERT. Device timestamps
// arrive as epoch milliseconds and are converted in the statement; payloads
// are stored verbatim as JSONB.
func (i *PostgresInserter) InsertBatch(ctx context.Context, records []*telemetry.Record) error {
	if len(records) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(i.table)
	b.WriteString(" (device_id, device_type, topic, timestamp, payload, created_at) VALUES ")

	args := make([]any, 0, len(records)*6)
	for n, r := range records {
		if n > 0 {
			b.WriteString(",")
		}
		base := len(args)
		fmt.Fprintf(&b, "($%d,$%d,$%d,to_timestamp($%d/1000.0),$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6)

		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload for device %s: %w", r.DeviceID, err)
		}

		args = append(args,
			r.DeviceID,
			r.DeviceType,
			r.Topic,
			r.Timestamp,
			payload,
			r.ReceivedAt,
		)
	}

	if _, err := i.db.ExecContext(ctx, b.String(), args...); err != nil {
		i.logger.Error().Err(err).Int("batch_size", len(records)).Msg("Failed to insert batch into Postgres.")
		return fmt.Errorf("postgres batch insert failed: %w", err)
	}

	i.logger.Debug().Int("batch_size", len(records)).Msg("Successfully inserted batch into Postgres.")
	return nil
}

// Close is a no-op for this implementation; the underlying *sql.DB is shared
// with the query service and closed by the owning service.
func (i *PostgresInserter) Close() error {
	i.logger.Info().Msg("PostgresInserter.Close() called; database lifecycle is managed externally.")
	return nil
}
