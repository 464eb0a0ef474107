package mqttingest_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotworks/go-iot-ingest/pkg/mqttingest"
)

func TestLoadMQTTClientConfigFromEnv(t *testing.T) {
	t.Run("default values are set correctly", func(t *testing.T) {
		cfg := mqttingest.LoadMQTTClientConfigFromEnv()
		require.NotNil(t, cfg)
		assert.Equal(t, "tcp://mosquitto:1883", cfg.BrokerURL)
		assert.Equal(t, "devices/+/telemetry", cfg.Topic)
		assert.Equal(t, "telemetry-ingest-", cfg.ClientIDPrefix)
		assert.Equal(t, 60*time.Second, cfg.KeepAlive)
		assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	})

	t.Run("values are loaded from environment", func(t *testing.T) {
		t.Setenv(mqttingest.MqttBrokerURL, "tls://broker.example.com:8883")
		t.Setenv(mqttingest.MqttTopic, "plant-a/devices/+/telemetry")
		t.Setenv(mqttingest.MqttKeepAliveSeconds, "30")
		t.Setenv(mqttingest.MqttConnectTimeoutSeconds, "5")
		t.Setenv(mqttingest.MqttSkipVerify, "true")

		cfg := mqttingest.LoadMQTTClientConfigFromEnv()
		require.NotNil(t, cfg)
		assert.Equal(t, "tls://broker.example.com:8883", cfg.BrokerURL)
		assert.Equal(t, "plant-a/devices/+/telemetry", cfg.Topic)
		assert.Equal(t, 30*time.Second, cfg.KeepAlive)
		assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
		assert.True(t, cfg.InsecureSkipVerify)
	})

	t.Run("invalid duration values fall back to defaults", func(t *testing.T) {
		t.Setenv(mqttingest.MqttKeepAliveSeconds, "not-a-number")
		t.Setenv(mqttingest.MqttConnectTimeoutSeconds, "invalid")

		cfg := mqttingest.LoadMQTTClientConfigFromEnv()
		require.NotNil(t, cfg)
		assert.Equal(t, 60*time.Second, cfg.KeepAlive, "KeepAlive should default if env var is invalid")
		assert.Equal(t, 10*time.Second, cfg.ConnectTimeout, "ConnectTimeout should default if env var is invalid")
	})
}
