package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("pgstore: not found")

// StoredRecord is one persisted telemetry row as served by the query API.
type StoredRecord struct {
	ID         int64          `json:"id"`
	DeviceID   string         `json:"device_id"`
	DeviceType string         `json:"device_type"`
	Topic      string         `json:"topic"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DeviceInfo summarizes one device's stored activity.
type DeviceInfo struct {
	DeviceID     string    `json:"device_id"`
	DeviceType   string    `json:"device_type"`
	LastSeen     time.Time `json:"last_seen"`
	MessageCount int64     `json:"message_count"`
}

// StorageStats aggregates the stored dataset.
type StorageStats struct {
	TotalMessages int64            `json:"total_messages"`
	TotalDevices  int64            `json:"total_devices"`
	DeviceTypes   map[string]int64 `json:"device_types"`
	OldestMessage *time.Time       `json:"oldest_message,omitempty"`
	NewestMessage *time.Time       `json:"newest_message,omitempty"`
}

// TelemetryFilter narrows a telemetry listing.
type TelemetryFilter struct {
	DeviceID   string
	DeviceType string
	Limit      int
	Offset     int
}

// QueryService provides read and retention operations over stored telemetry.
// It shares the *sql.DB with the ingestion sink.
type QueryService struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewQueryService creates a query service over db.
func NewQueryService(db *sql.DB, logger zerolog.Logger) *QueryService {
	return &QueryService{
		db:     db,
		logger: logger.With().Str("component", "QueryService").Logger(),
	}
}

const recordColumns = "id, device_id, device_type, topic, timestamp, payload, created_at"

// Telemetry lists stored records, newest first, with optional device filters.
func (s *QueryService) Telemetry(ctx context.Context, filter TelemetryFilter) ([]StoredRecord, error) {
	query := "SELECT " + recordColumns + " FROM device_telemetry WHERE 1=1"
	args := make([]any, 0, 4)

	if filter.DeviceID != "" {
		args = append(args, filter.DeviceID)
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}
	if filter.DeviceType != "" {
		args = append(args, filter.DeviceType)
		query += fmt.Sprintf(" AND device_type = $%d", len(args))
	}

	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query telemetry: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// Devices lists all devices with their latest activity, most recent first.
func (s *QueryService) Devices(ctx context.Context) ([]DeviceInfo, error) {
	const query = `
		SELECT device_id, device_type, MAX(timestamp) AS last_seen, COUNT(*) AS message_count
		FROM device_telemetry
		GROUP BY device_id, device_type
		ORDER BY last_seen DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var devices []DeviceInfo
	for rows.Next() {
		var d DeviceInfo
		var deviceType sql.NullString
		if err := rows.Scan(&d.DeviceID, &deviceType, &d.LastSeen, &d.MessageCount); err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		d.DeviceType = deviceType.String
		if d.DeviceType == "" {
			d.DeviceType = "unknown"
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Latest returns the most recent record for a device, or ErrNotFound.
func (s *QueryService) Latest(ctx context.Context, deviceID string) (*StoredRecord, error) {
	query := "SELECT " + recordColumns + ` FROM device_telemetry
		WHERE device_id = $1 ORDER BY timestamp DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, deviceID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest for %s: %w", deviceID, err)
	}
	return rec, nil
}

// History returns a device's records from the past N hours, newest first.
func (s *QueryService) History(ctx context.Context, deviceID string, hours int) ([]StoredRecord, error) {
	query := "SELECT " + recordColumns + ` FROM device_telemetry
		WHERE device_id = $1 AND timestamp >= NOW() - ($2 * INTERVAL '1 hour')
		ORDER BY timestamp DESC`

	rows, err := s.db.QueryContext(ctx, query, deviceID, hours)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", deviceID, err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// Stats aggregates counts and the stored timestamp range.
func (s *QueryService) Stats(ctx context.Context) (*StorageStats, error) {
	const totalsQuery = `
		SELECT COUNT(*), COUNT(DISTINCT device_id), MIN(timestamp), MAX(timestamp)
		FROM device_telemetry`

	stats := &StorageStats{DeviceTypes: make(map[string]int64)}
	var oldest, newest sql.NullTime
	err := s.db.QueryRowContext(ctx, totalsQuery).
		Scan(&stats.TotalMessages, &stats.TotalDevices, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("query storage totals: %w", err)
	}
	if oldest.Valid {
		stats.OldestMessage = &oldest.Time
	}
	if newest.Valid {
		stats.NewestMessage = &newest.Time
	}

	const typesQuery = `
		SELECT COALESCE(device_type, 'unknown'), COUNT(*)
		FROM device_telemetry GROUP BY device_type`

	rows, err := s.db.QueryContext(ctx, typesQuery)
	if err != nil {
		return nil, fmt.Errorf("query device type breakdown: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var deviceType string
		var count int64
		if err := rows.Scan(&deviceType, &count); err != nil {
			return nil, fmt.Errorf("scan device type row: %w", err)
		}
		stats.DeviceTypes[deviceType] = count
	}
	return stats, rows.Err()
}

// DeleteOlderThan removes records older than the given number of days and
// returns how many were deleted.
func (s *QueryService) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	const query = `
		DELETE FROM device_telemetry
		WHERE created_at < NOW() - ($1 * INTERVAL '1 day')`

	res, err := s.db.ExecContext(ctx, query, days)
	if err != nil {
		return 0, fmt.Errorf("delete old telemetry: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	s.logger.Info().Int64("deleted", deleted).Int("older_than_days", days).Msg("Retention delete completed.")
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*StoredRecord, error) {
	var r StoredRecord
	var deviceType sql.NullString
	var payload []byte
	if err := row.Scan(&r.ID, &r.DeviceID, &deviceType, &r.Topic, &r.Timestamp, &payload, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.DeviceType = deviceType.String
	if err := json.Unmarshal(payload, &r.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal stored payload: %w", err)
	}
	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]StoredRecord, error) {
	var records []StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan telemetry row: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}
