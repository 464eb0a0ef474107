package pipeline

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Env variable names for the pipeline tuning knobs.
const (
	EnvBatchSize            = "BATCH_SIZE"
	EnvBatchTimeoutMs       = "BATCH_TIMEOUT_MS"
	EnvQueueMaxSize         = "QUEUE_MAX_SIZE"
	EnvRetryAttempts        = "RETRY_ATTEMPTS"
	EnvRetryBackoffMs       = "RETRY_BACKOFF_MS"
	EnvShutdownGraceSeconds = "SHUTDOWN_GRACE_SECONDS"
)

// LoadConfigFromEnv loads pipeline configuration from environment variables,
// falling back to the documented defaults when a variable is unset or
// unparseable.
func LoadConfigFromEnv() Config {
	cfg := Config{
		BatchSize:     100,
		BatchTimeout:  1 * time.Second,
		QueueMaxSize:  10000,
		RetryAttempts: 3,
		RetryBackoff:  250 * time.Millisecond,
		ShutdownGrace: 10 * time.Second,
	}

	if v, ok := intFromEnv(EnvBatchSize); ok {
		cfg.BatchSize = v
	}
	if v, ok := intFromEnv(EnvBatchTimeoutMs); ok {
		cfg.BatchTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := intFromEnv(EnvQueueMaxSize); ok {
		cfg.QueueMaxSize = v
	}
	if v, ok := intFromEnv(EnvRetryAttempts); ok {
		cfg.RetryAttempts = v
	}
	if v, ok := intFromEnv(EnvRetryBackoffMs); ok {
		cfg.RetryBackoff = time.Duration(v) * time.Millisecond
	}
	if v, ok := intFromEnv(EnvShutdownGraceSeconds); ok {
		cfg.ShutdownGrace = time.Duration(v) * time.Second
	}

	return cfg
}

func intFromEnv(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Printf("pipeline: invalid value %q for %s, using default", raw, key)
		return 0, false
	}
	return v, true
}
