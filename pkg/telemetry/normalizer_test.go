package telemetry_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotworks/go-iot-ingest/pkg/telemetry"
)

func newTestNormalizer(t *testing.T) (*telemetry.Normalizer, *telemetry.Stats) {
	t.Helper()
	stats := telemetry.NewStats()
	return telemetry.NewNormalizer(stats, zerolog.Nop()), stats
}

func TestNormalize_ValidMessage(t *testing.T) {
	n, stats := newTestNormalizer(t)

	ts := time.Now().Add(-1 * time.Hour).UnixMilli()
	payload := fmt.Sprintf(`{"device_type":"esp32","ts":%d,"sensors":{"temperature":22.5}}`, ts)

	rec, err := n.Normalize("devices/dev-42/telemetry", []byte(payload))
	require.NoError(t, err)

	assert.Equal(t, "dev-42", rec.DeviceID)
	assert.Equal(t, "esp32", rec.DeviceType)
	assert.Equal(t, "devices/dev-42/telemetry", rec.Topic)
	assert.Equal(t, ts, rec.Timestamp, "in-window device timestamp should be preserved")
	assert.False(t, rec.ReceivedAt.IsZero())

	// Payload is retained verbatim.
	sensors, ok := rec.Payload["sensors"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 22.5, sensors["temperature"])

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.TotalReceived)
	assert.Equal(t, int64(0), snap.TotalErrors)
}

func TestNormalize_MalformedTopic(t *testing.T) {
	n, stats := newTestNormalizer(t)

	badTopics := []string{
		"devices/telemetry",
		"devices//telemetry",
		"sensors/dev-1/telemetry",
		"devices/dev-1/status",
		"devices/dev-1/telemetry/extra",
		"",
	}
	for _, topic := range badTopics {
		_, err := n.Normalize(topic, []byte(`{"v":1}`))
		assert.ErrorIs(t, err, telemetry.ErrMalformedTopic, "topic %q", topic)
	}

	snap := stats.Snapshot()
	assert.Equal(t, int64(len(badTopics)), snap.TotalReceived)
	assert.Equal(t, int64(len(badTopics)), snap.TotalErrors)
}

func TestNormalize_MalformedPayload(t *testing.T) {
	n, stats := newTestNormalizer(t)

	for _, raw := range [][]byte{[]byte("not json"), []byte(""), []byte("null"), []byte("[1,2]")} {
		_, err := n.Normalize("devices/dev-1/telemetry", raw)
		assert.ErrorIs(t, err, telemetry.ErrMalformedPayload, "payload %q", raw)
	}

	snap := stats.Snapshot()
	assert.Equal(t, snap.TotalReceived, snap.TotalErrors)
}

func TestNormalize_DeviceTypeDefaultsToUnknown(t *testing.T) {
	n, _ := newTestNormalizer(t)

	rec, err := n.Normalize("devices/dev-1/telemetry", []byte(`{"v":1}`))
	require.NoError(t, err)
	assert.Equal(t, "unknown", rec.DeviceType)
}

func TestNormalize_MissingTimestampUsesReceiveTime(t *testing.T) {
	n, _ := newTestNormalizer(t)

	rec, err := n.Normalize("devices/dev-1/telemetry", []byte(`{"device_type":"pico"}`))
	require.NoError(t, err)
	assert.Equal(t, rec.ReceivedAt.UnixMilli(), rec.Timestamp)
}

func TestNormalize_OutOfWindowTimestampCorrected(t *testing.T) {
	n, stats := newTestNormalizer(t)

	cases := map[string]int64{
		"too old":       time.Now().Add(-8 * 24 * time.Hour).UnixMilli(),
		"too far ahead": time.Now().Add(10 * time.Minute).UnixMilli(),
		"negative":      -1,
	}
	for name, ts := range cases {
		payload := fmt.Sprintf(`{"ts":%d}`, ts)
		rec, err := n.Normalize("devices/dev-1/telemetry", []byte(payload))
		require.NoError(t, err, name)
		assert.Equal(t, rec.ReceivedAt.UnixMilli(), rec.Timestamp,
			"%s: out-of-window ts should be replaced by receive time", name)
	}

	// Clock skew never drops a record.
	snap := stats.Snapshot()
	assert.Equal(t, int64(0), snap.TotalErrors)
}

func TestNormalize_NonNumericTimestampIgnored(t *testing.T) {
	n, _ := newTestNormalizer(t)

	rec, err := n.Normalize("devices/dev-1/telemetry", []byte(`{"ts":"yesterday"}`))
	require.NoError(t, err)
	assert.Equal(t, rec.ReceivedAt.UnixMilli(), rec.Timestamp)
}
