package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS device_telemetry (
		id SERIAL PRIMARY KEY,
		device_id VARCHAR(255) NOT NULL,
		device_type VARCHAR(100),
		topic VARCHAR(255),
		timestamp TIMESTAMPTZ,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_device_telemetry_device_id
		ON device_telemetry(device_id)`,
	`CREATE INDEX IF NOT EXISTS idx_device_telemetry_timestamp
		ON device_telemetry(timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_device_telemetry_device_type
		ON device_telemetry(device_type)`,
	`CREATE INDEX IF NOT EXISTS idx_device_telemetry_created_at
		ON device_telemetry(created_at DESC)`,
}

// EnsureSchema creates the telemetry table and its indexes if they do not
// exist. Called once at service startup.
func EnsureSchema(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure telemetry schema: %w", err)
		}
	}
	logger.Info().Msg("Telemetry table and indexes ready.")
	return nil
}
