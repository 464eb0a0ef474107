// devicesim generates synthetic device telemetry for load and smoke testing
// the ingest service. It is a pure traffic generator and not part of the
// ingestion pipeline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var deviceTypes = []string{"esp32", "arduino", "pico", "stm32"}

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	devices := flag.Int("devices", 3, "number of simulated devices")
	interval := flag.Duration("interval", 5*time.Second, "publish interval per device")
	username := flag.String("username", "", "MQTT username")
	password := flag.String("password", "", "MQTT password")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "devicesim").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < *devices; i++ {
		deviceID := fmt.Sprintf("sim-%s", uuid.NewString()[:8])
		deviceType := deviceTypes[i%len(deviceTypes)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			runDevice(ctx, *broker, *username, *password, deviceID, deviceType, *interval, logger)
		}()
	}

	logger.Info().Int("devices", *devices).Str("broker", *broker).Msg("Simulators running, Ctrl-C to stop.")
	wg.Wait()
	logger.Info().Msg("All simulators stopped.")
}

func runDevice(ctx context.Context, broker, username, password, deviceID, deviceType string, interval time.Duration, logger zerolog.Logger) {
	logger = logger.With().Str("device_id", deviceID).Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(deviceID)
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectRetry(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("Disconnected, Paho will reconnect.")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		logger.Error().Err(token.Error()).Msg("Initial connect failed, client retries in the background.")
	}
	defer client.Disconnect(500)

	topic := fmt.Sprintf("devices/%s/telemetry", deviceID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			payload, _ := json.Marshal(map[string]any{
				"device_type": deviceType,
				"ts":          time.Now().UnixMilli(),
				"seq":         seq,
				"sensors": map[string]float64{
					"temperature": roundTo(20+rand.Float64()*10, 2),
					"humidity":    roundTo(40+rand.Float64()*15, 2),
					"voltage":     roundTo(3.1+rand.Float64()*0.6, 2),
				},
			})
			if token := client.Publish(topic, 1, false, payload); token.WaitTimeout(5*time.Second) && token.Error() != nil {
				logger.Warn().Err(token.Error()).Msg("Publish failed.")
			} else {
				logger.Debug().Int("seq", seq).Msg("Telemetry sent.")
			}
		}
	}
}

func roundTo(v float64, places int) float64 {
	shift := 1.0
	for i := 0; i < places; i++ {
		shift *= 10
	}
	return float64(int64(v*shift+0.5)) / shift
}
