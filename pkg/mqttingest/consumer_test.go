package mqttingest_test

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotworks/go-iot-ingest/pkg/mqttingest"
)

// --- Mocks for Paho MQTT Client ---

type mockToken struct{ err error }

func (m *mockToken) Wait() bool                       { return true }
func (m *mockToken) WaitTimeout(_ time.Duration) bool { return true }
func (m *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (m *mockToken) Error() error { return m.err }

type mockMqttMessage struct {
	topic   string
	payload []byte
}

func (m *mockMqttMessage) Topic() string     { return m.topic }
func (m *mockMqttMessage) Payload() []byte   { return m.payload }
func (m *mockMqttMessage) MessageID() uint16 { return 1 }
func (m *mockMqttMessage) Duplicate() bool   { return false }
func (m *mockMqttMessage) Qos() byte         { return 1 }
func (m *mockMqttMessage) Retained() bool    { return false }
func (m *mockMqttMessage) Ack()              {}

type mockMqttClient struct {
	mu                sync.Mutex
	isConnected       bool
	disconnectCalled  bool
	subscribedTopic   string
	unsubscribedTopic string
	messageHandler    mqtt.MessageHandler
}

func (m *mockMqttClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isConnected
}
func (m *mockMqttClient) IsConnectionOpen() bool { return m.IsConnected() }
func (m *mockMqttClient) Connect() mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isConnected = true
	return &mockToken{}
}
func (m *mockMqttClient) Disconnect(_ uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isConnected = false
	m.disconnectCalled = true
}
func (m *mockMqttClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribedTopic = topic
	m.messageHandler = callback
	return &mockToken{}
}
func (m *mockMqttClient) Unsubscribe(topics ...string) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(topics) > 0 {
		m.unsubscribedTopic = topics[0]
	}
	return &mockToken{}
}

// Stubs for unused methods to satisfy the interface.
func (m *mockMqttClient) Publish(_ string, _ byte, _ bool, _ interface{}) mqtt.Token {
	return &mockToken{}
}
func (m *mockMqttClient) SubscribeMultiple(_ map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	return &mockToken{}
}
func (m *mockMqttClient) AddRoute(_ string, _ mqtt.MessageHandler) {}
func (m *mockMqttClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func (m *mockMqttClient) handler() mqtt.MessageHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messageHandler
}

// --- Test Cases ---

func TestIngestConsumer_StartSubscribesAndDeliversMessages(t *testing.T) {
	cfg := &mqttingest.MQTTClientConfig{
		BrokerURL:      "tcp://localhost:1883",
		Topic:          "devices/+/telemetry",
		ConnectTimeout: 2 * time.Second,
	}
	mockClient := &mockMqttClient{}

	var mu sync.Mutex
	var gotTopic string
	var gotPayload []byte
	handler := func(topic string, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		gotTopic = topic
		gotPayload = payload
	}

	consumer, err := mqttingest.NewIngestConsumer(mockClient, cfg, handler, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, consumer.Start(ctx))

	assert.Equal(t, cfg.Topic, mockClient.subscribedTopic)
	require.NotNil(t, mockClient.handler())
	assert.True(t, consumer.IsConnected())

	raw := []byte(`{"device_type":"esp32","ts":1}`)
	mockClient.handler()(mockClient, &mockMqttMessage{topic: "devices/dev-1/telemetry", payload: raw})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "devices/dev-1/telemetry", gotTopic)
	assert.Equal(t, raw, gotPayload)
}

func TestIngestConsumer_HandlerReceivesPayloadCopy(t *testing.T) {
	cfg := &mqttingest.MQTTClientConfig{BrokerURL: "tcp://localhost:1883", Topic: "devices/+/telemetry"}
	mockClient := &mockMqttClient{}

	var got []byte
	consumer, err := mqttingest.NewIngestConsumer(mockClient, cfg, func(_ string, payload []byte) {
		got = payload
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, consumer.Start(ctx))

	original := []byte(`{"v":1}`)
	mockClient.handler()(mockClient, &mockMqttMessage{topic: "devices/dev-1/telemetry", payload: original})

	// Mutating the broker's buffer must not affect the delivered payload.
	original[0] = 'X'
	assert.Equal(t, []byte(`{"v":1}`), got)
}

func TestIngestConsumer_Stop(t *testing.T) {
	cfg := &mqttingest.MQTTClientConfig{BrokerURL: "tcp://localhost:1883", Topic: "devices/+/telemetry"}
	mockClient := &mockMqttClient{}
	consumer, err := mqttingest.NewIngestConsumer(mockClient, cfg, func(string, []byte) {}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, consumer.Start(ctx))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(stopCancel)
	require.NoError(t, consumer.Stop(stopCtx))

	assert.True(t, mockClient.disconnectCalled, "Disconnect should have been called on the client")
	assert.Equal(t, cfg.Topic, mockClient.unsubscribedTopic)
	select {
	case <-consumer.Done():
		// Success, channel is closed.
	default:
		t.Fatal("Done() channel should be closed after Stop()")
	}
}

func TestIngestConsumer_ConstructorValidation(t *testing.T) {
	cfg := &mqttingest.MQTTClientConfig{Topic: "devices/+/telemetry"}
	nop := func(string, []byte) {}

	_, err := mqttingest.NewIngestConsumer(nil, cfg, nop, zerolog.Nop())
	assert.Error(t, err)

	_, err = mqttingest.NewIngestConsumer(&mockMqttClient{}, &mqttingest.MQTTClientConfig{}, nop, zerolog.Nop())
	assert.Error(t, err)

	_, err = mqttingest.NewIngestConsumer(&mockMqttClient{}, cfg, nil, zerolog.Nop())
	assert.Error(t, err)
}
