package mqttingest

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MQTTClientConfig holds all necessary configuration for the Paho MQTT client:
// connection parameters, security settings, and the telemetry topic
// subscription.
type MQTTClientConfig struct {
	// BrokerURL is the full URL of the MQTT broker, e.g. "tcp://mosquitto:1883"
	// or "tls://mqtt.example.com:8883".
	BrokerURL string
	// Topic is the subscription filter for device telemetry. The wildcard
	// segment matches the device ID: devices/+/telemetry.
	Topic string
	// ClientIDPrefix is prefixed to a generated unique suffix; most brokers
	// require client IDs to be unique.
	ClientIDPrefix string
	// Username and Password authenticate with the broker. Both may be empty
	// for anonymous brokers.
	Username string
	Password string
	// KeepAlive is the interval of client keep-alive pings.
	KeepAlive time.Duration
	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration
	// ReconnectWaitMax caps the Paho client's reconnect backoff.
	ReconnectWaitMax time.Duration
	// CACertFile is an optional CA certificate for verifying the broker.
	CACertFile string
	// ClientCertFile and ClientKeyFile enable mTLS when both are set.
	ClientCertFile string
	ClientKeyFile  string
	// InsecureSkipVerify skips TLS certificate verification. Not recommended
	// outside local development.
	InsecureSkipVerify bool
}

// Env constants for MQTT settings.
const (
	MqttBrokerURL             = "MQTT_BROKER_URL"
	MqttTopic                 = "MQTT_TOPIC"
	MqttClientIDPrefix        = "MQTT_CLIENT_ID_PREFIX"
	MqttUsername              = "MQTT_USERNAME"
	MqttPassword              = "MQTT_PASSWORD"
	MqttSkipVerify            = "MQTT_INSECURE_SKIP_VERIFY"
	MqttKeepAliveSeconds      = "MQTT_KEEP_ALIVE_SECONDS"
	MqttConnectTimeoutSeconds = "MQTT_CONNECT_TIMEOUT_SECONDS"
)

// LoadMQTTClientConfigFromEnv loads MQTT configuration from environment
// variables, populating timeouts and the topic filter with sensible defaults
// when unset.
func LoadMQTTClientConfigFromEnv() *MQTTClientConfig {
	cfg := &MQTTClientConfig{
		BrokerURL:        "tcp://mosquitto:1883",
		Topic:            "devices/+/telemetry",
		ClientIDPrefix:   "telemetry-ingest-",
		KeepAlive:        60 * time.Second,
		ConnectTimeout:   10 * time.Second,
		ReconnectWaitMax: 120 * time.Second,
	}

	if v := os.Getenv(MqttBrokerURL); v != "" {
		cfg.BrokerURL = v
	}
	if v := os.Getenv(MqttTopic); v != "" {
		cfg.Topic = v
	}
	if v := os.Getenv(MqttClientIDPrefix); v != "" {
		cfg.ClientIDPrefix = v
	}
	cfg.Username = os.Getenv(MqttUsername)
	cfg.Password = os.Getenv(MqttPassword)
	if os.Getenv(MqttSkipVerify) == "true" {
		cfg.InsecureSkipVerify = true
	}

	if ka := os.Getenv(MqttKeepAliveSeconds); ka != "" {
		s, err := time.ParseDuration(ka + "s")
		if err == nil {
			cfg.KeepAlive = s
		} else {
			log.Printf("mqttingest: error parsing keepAlive seconds: %s, using default", err)
		}
	}
	if ct := os.Getenv(MqttConnectTimeoutSeconds); ct != "" {
		s, err := time.ParseDuration(ct + "s")
		if err == nil {
			cfg.ConnectTimeout = s
		} else {
			log.Printf("mqttingest: error parsing connect timeout seconds: %s, using default", err)
		}
	}

	return cfg
}

// NewPahoClient assembles a Paho client from the config. The client is not
// connected; IngestConsumer.Start performs the connection.
func NewPahoClient(cfg *MQTTClientConfig, logger zerolog.Logger) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(fmt.Sprintf("%s%s", cfg.ClientIDPrefix, uuid.NewString()[:8]))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(cfg.ReconnectWaitMax)
	// Re-establish the telemetry subscription after a reconnect.
	opts.SetCleanSession(false)
	opts.SetResumeSubs(true)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info().Str("broker", cfg.BrokerURL).Msg("Paho client connected to MQTT broker.")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error().Err(err).Msg("Paho client lost MQTT connection.")
	})

	if strings.HasPrefix(strings.ToLower(cfg.BrokerURL), "tls://") {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create TLS config, proceeding without it.")
		} else {
			opts.SetTLSConfig(tlsConfig)
			logger.Info().Msg("TLS configured for MQTT client.")
		}
	}

	return mqtt.NewClient(opts)
}

// newTLSConfig is a helper to create a tls.Config from file-based settings.
func newTLSConfig(cfg *MQTTClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
