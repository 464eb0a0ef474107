package telemetry

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Reject reasons returned by Normalize. Callers handle them locally: a bad
// message increments counters and is discarded, it never surfaces past the
// receive callback.
var (
	// ErrMalformedTopic means the topic did not match devices/{device_id}/telemetry.
	ErrMalformedTopic = errors.New("telemetry: malformed topic")
	// ErrMalformedPayload means the payload was not a valid JSON object.
	ErrMalformedPayload = errors.New("telemetry: malformed payload")
)

const (
	topicPrefix = "devices"
	topicSuffix = "telemetry"

	// Sanity window for device-reported timestamps. Values outside
	// [now-maxTimestampAge, now+maxTimestampSkew] are replaced by the receive
	// time; the record is still accepted.
	maxTimestampAge  = 7 * 24 * time.Hour
	maxTimestampSkew = 5 * time.Minute
)

// Normalizer turns raw (topic, payload) pairs from the transport into
// canonical Records. It performs no I/O beyond incrementing counters.
type Normalizer struct {
	stats  *Stats
	logger zerolog.Logger
	now    func() time.Time
}

// NewNormalizer creates a Normalizer that records its outcomes on stats.
func NewNormalizer(stats *Stats, logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		stats:  stats,
		logger: logger.With().Str("component", "Normalizer").Logger(),
		now:    time.Now,
	}
}

// Normalize parses one raw message into a Record. Every call counts as
// received; failures additionally count as errors. A single parsing algorithm
// covers all device types: the payload is kept verbatim and only device_type
// and ts are read from it.
func (n *Normalizer) Normalize(topic string, raw []byte) (*Record, error) {
	n.stats.IncReceived()

	deviceID, ok := deviceIDFromTopic(topic)
	if !ok {
		n.stats.AddErrors(1)
		n.logger.Warn().Str("topic", topic).Msg("Rejected message with malformed topic.")
		return nil, ErrMalformedTopic
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		n.stats.AddErrors(1)
		n.logger.Warn().Str("topic", topic).Msg("Rejected message with unparseable payload.")
		return nil, ErrMalformedPayload
	}

	receivedAt := n.now().UTC()

	deviceType := "unknown"
	if dt, ok := payload["device_type"].(string); ok && dt != "" {
		deviceType = dt
	}

	timestamp := receivedAt.UnixMilli()
	if ts, ok := numericField(payload, "ts"); ok {
		if n.withinSanityWindow(ts, receivedAt) {
			timestamp = ts
		} else {
			n.logger.Warn().
				Str("device_id", deviceID).
				Int64("ts", ts).
				Msg("Device timestamp outside sanity window, using receive time.")
		}
	}

	return &Record{
		DeviceID:   deviceID,
		DeviceType: deviceType,
		Topic:      topic,
		Timestamp:  timestamp,
		Payload:    payload,
		ReceivedAt: receivedAt,
	}, nil
}

func (n *Normalizer) withinSanityWindow(ts int64, receivedAt time.Time) bool {
	earliest := receivedAt.Add(-maxTimestampAge).UnixMilli()
	latest := receivedAt.Add(maxTimestampSkew).UnixMilli()
	return ts >= earliest && ts <= latest
}

// deviceIDFromTopic extracts the device segment from the fixed pattern
// devices/{device_id}/telemetry.
func deviceIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != topicPrefix || parts[2] != topicSuffix || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// numericField reads an epoch-millisecond field from a decoded JSON object.
// encoding/json decodes all JSON numbers as float64.
func numericField(payload map[string]any, key string) (int64, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}
