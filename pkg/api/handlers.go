// Package api exposes the HTTP query surface over stored telemetry and the
// live ingestion pipeline counters.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/iotworks/go-iot-ingest/pkg/cache"
	"github.com/iotworks/go-iot-ingest/pkg/metrics"
	"github.com/iotworks/go-iot-ingest/pkg/pgstore"
	"github.com/iotworks/go-iot-ingest/pkg/telemetry"
)

// Store is the query backend, implemented by pgstore.QueryService.
type Store interface {
	Telemetry(ctx context.Context, filter pgstore.TelemetryFilter) ([]pgstore.StoredRecord, error)
	Devices(ctx context.Context) ([]pgstore.DeviceInfo, error)
	Latest(ctx context.Context, deviceID string) (*pgstore.StoredRecord, error)
	History(ctx context.Context, deviceID string, hours int) ([]pgstore.StoredRecord, error)
	Stats(ctx context.Context) (*pgstore.StorageStats, error)
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// PipelineStats exposes the live pipeline counters, implemented by
// pipeline.IngestionPipeline.
type PipelineStats interface {
	Stats() telemetry.Snapshot
}

// API wires the query store, the running pipeline, and the latest-reading
// cache into HTTP handlers.
type API struct {
	store    Store
	pipeline PipelineStats
	latest   cache.Cache[string, telemetry.Record]
	logger   zerolog.Logger
}

// New creates the API. The latest cache may be nil; lookups then always go to
// the store.
func New(store Store, pipeline PipelineStats, latest cache.Cache[string, telemetry.Record], logger zerolog.Logger) *API {
	return &API{
		store:    store,
		pipeline: pipeline,
		latest:   latest,
		logger:   logger.With().Str("component", "API").Logger(),
	}
}

// Register mounts all query routes on mux, each wrapped with request metrics.
func (a *API) Register(mux *http.ServeMux) {
	routes := map[string]http.HandlerFunc{
		"GET /api/v1/telemetry":                  a.handleTelemetry,
		"GET /api/v1/devices":                    a.handleDevices,
		"GET /api/v1/device/{device_id}/latest":  a.handleLatest,
		"GET /api/v1/device/{device_id}/history": a.handleHistory,
		"GET /api/v1/stats":                      a.handleStats,
		"DELETE /api/v1/telemetry":               a.handleDelete,
		"GET /api/v1/pipeline/stats":             a.handlePipelineStats,
	}
	for pattern, handler := range routes {
		mux.Handle(pattern, metrics.Middleware(handler))
	}
}

func (a *API) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	limit, err := intQueryParam(r, "limit", 100, 1, 1000)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	offset, err := intQueryParam(r, "offset", 0, 0, 1<<31-1)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	records, err := a.store.Telemetry(r.Context(), pgstore.TelemetryFilter{
		DeviceID:   r.URL.Query().Get("device_id"),
		DeviceType: r.URL.Query().Get("device_type"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		a.serverError(w, err)
		return
	}
	if records == nil {
		records = []pgstore.StoredRecord{}
	}
	a.writeJSON(w, http.StatusOK, records)
}

func (a *API) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := a.store.Devices(r.Context())
	if err != nil {
		a.serverError(w, err)
		return
	}
	if devices == nil {
		devices = []pgstore.DeviceInfo{}
	}
	a.writeJSON(w, http.StatusOK, devices)
}

func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	if a.latest != nil {
		if rec, err := a.latest.Fetch(r.Context(), deviceID); err == nil {
			a.writeJSON(w, http.StatusOK, rec)
			return
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			a.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Latest-reading cache lookup failed, falling back to store.")
		}
	}

	stored, err := a.store.Latest(r.Context(), deviceID)
	if errors.Is(err, pgstore.ErrNotFound) {
		a.writeError(w, http.StatusNotFound, fmt.Errorf("device %s not found", deviceID))
		return
	}
	if err != nil {
		a.serverError(w, err)
		return
	}

	rec := telemetry.Record{
		DeviceID:   stored.DeviceID,
		DeviceType: stored.DeviceType,
		Topic:      stored.Topic,
		Timestamp:  stored.Timestamp.UnixMilli(),
		Payload:    stored.Payload,
		ReceivedAt: stored.CreatedAt,
	}
	if a.latest != nil {
		if err := a.latest.Write(r.Context(), deviceID, rec); err != nil {
			a.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to backfill latest-reading cache.")
		}
	}
	a.writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	hours, err := intQueryParam(r, "hours", 24, 1, 168)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	records, err := a.store.History(r.Context(), deviceID, hours)
	if err != nil {
		a.serverError(w, err)
		return
	}
	if records == nil {
		records = []pgstore.StoredRecord{}
	}
	a.writeJSON(w, http.StatusOK, records)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.store.Stats(r.Context())
	if err != nil {
		a.serverError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	days, err := intQueryParam(r, "days", 30, 1, 365)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	deleted, err := a.store.DeleteOlderThan(r.Context(), days)
	if err != nil {
		a.serverError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "success",
		"deleted_records": deleted,
		"older_than_days": days,
	})
}

func (a *API) handlePipelineStats(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.pipeline.Stats())
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error().Err(err).Msg("Failed to encode API response.")
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJSON(w, status, map[string]any{
		"detail":      err.Error(),
		"status_code": status,
	})
}

func (a *API) serverError(w http.ResponseWriter, err error) {
	a.logger.Error().Err(err).Msg("Query failed.")
	a.writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
}

func intQueryParam(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s must be between %d and %d", name, min, max)
	}
	return v, nil
}
