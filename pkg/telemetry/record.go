package telemetry

import "time"

// Record is the canonical, normalized representation of one device event.
// It is created exactly once by the Normalizer and is immutable afterwards:
// the queue, the flush loop, and the sink only ever pass it along.
type Record struct {
	// DeviceID is extracted from the source topic segment and is never empty.
	DeviceID string `json:"device_id"`

	// DeviceType comes from the payload body and defaults to "unknown".
	DeviceType string `json:"device_type"`

	// Topic is the full source topic, retained for audit and debugging.
	Topic string `json:"topic"`

	// Timestamp is the device-reported event time in epoch milliseconds. If
	// the payload carried no usable "ts" field, this is the receive time.
	Timestamp int64 `json:"timestamp"`

	// Payload is the parsed message body, stored verbatim. The pipeline never
	// coerces, drops, or renames payload fields.
	Payload map[string]any `json:"payload"`

	// ReceivedAt is assigned by the Normalizer at ingestion time.
	ReceivedAt time.Time `json:"received_at"`
}
