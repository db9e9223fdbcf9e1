package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/afroash/device-hub/internal/storage"
	"github.com/rs/zerolog"
)

// defaultArchiveLimit bounds archive queries without an explicit limit
const defaultArchiveLimit = 500

// APIHandler serves the read-only debug HTTP API
type APIHandler struct {
	hub     DeviceQuerier
	archive ArchiveReader
	version string
	logger  zerolog.Logger

	components map[string]StatsFunc
}

// ArchiveSummary is the body of GET /api/archive
type ArchiveSummary struct {
	*storage.StorageStats
	Devices []string `json:"devices"`
}

// HealthReport is the body of GET /health
type HealthReport struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version"`
	Components map[string]interface{} `json:"components,omitempty"`
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(hub DeviceQuerier, version string, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		hub:        hub,
		version:    version,
		logger:     logger,
		components: make(map[string]StatsFunc),
	}
}

// Report adds a component whose counters are included in /health.
// Call it before the handler starts serving.
func (api *APIHandler) Report(name string, stats StatsFunc) {
	api.components[name] = stats
}

// NewAPIHandlerWithArchive creates an API handler that can also serve the
// persistent telemetry archive
func NewAPIHandlerWithArchive(hub DeviceQuerier, archive ArchiveReader, version string, logger zerolog.Logger) *APIHandler {
	api := NewAPIHandler(hub, version, logger)
	api.archive = archive
	return api
}

// Register mounts the API routes on mux
func (api *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/devices", api.HandleDevices)
	mux.HandleFunc("GET /api/telemetry/{deviceId}", api.HandleTelemetry)
	mux.HandleFunc("GET /api/stats", api.HandleStats)
	mux.HandleFunc("GET /api/archive/{deviceId}", api.HandleArchive)
	mux.HandleFunc("GET /api/archive", api.HandleArchiveStats)
	mux.HandleFunc("GET /health", api.HandleHealth)
}

// HandleDevices returns the current device list
func (api *APIHandler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, api.hub.Devices())
}

// HandleTelemetry returns recent in-memory telemetry for a device
func (api *APIHandler) HandleTelemetry(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceId")
	limit := queryInt(r, "limit", 50)

	api.writeJSON(w, http.StatusOK, api.hub.History(deviceID, limit))
}

// HandleStats returns hub statistics
func (api *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, api.hub.Stats())
}

// HandleArchive returns archived telemetry for a device.
// Query: since (RFC3339, default 24h ago), limit (default 500).
func (api *APIHandler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	if api.archive == nil {
		http.Error(w, "Archive not enabled", http.StatusNotFound)
		return
	}

	deviceID := r.PathValue("deviceId")
	since := time.Now().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			http.Error(w, "Invalid since: expected RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	limit := queryInt(r, "limit", defaultArchiveLimit)

	records, err := api.archive.GetTelemetrySince(deviceID, since, limit)
	if err != nil {
		api.logger.Error().Err(err).Str("device_id", deviceID).Msg("Archive query failed")
		http.Error(w, "Archive query failed", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*storage.TelemetryRecord{}
	}

	api.writeJSON(w, http.StatusOK, records)
}

// HandleArchiveStats returns archive database statistics and the archived
// device ids
func (api *APIHandler) HandleArchiveStats(w http.ResponseWriter, r *http.Request) {
	if api.archive == nil {
		http.Error(w, "Archive not enabled", http.StatusNotFound)
		return
	}

	stats, err := api.archive.GetStorageStats()
	if err != nil {
		api.logger.Error().Err(err).Msg("Archive stats failed")
		http.Error(w, "Archive stats failed", http.StatusInternalServerError)
		return
	}
	ids, err := api.archive.GetDeviceIDs()
	if err != nil {
		api.logger.Error().Err(err).Msg("Archive device list failed")
		http.Error(w, "Archive stats failed", http.StatusInternalServerError)
		return
	}
	api.writeJSON(w, http.StatusOK, ArchiveSummary{StorageStats: stats, Devices: ids})
}

// HandleHealth reports liveness of the process and the counters of every
// reported component
func (api *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := HealthReport{Status: "ok", Version: api.version}
	if len(api.components) > 0 {
		report.Components = make(map[string]interface{}, len(api.components))
		for name, stats := range api.components {
			report.Components[name] = stats()
		}
	}
	api.writeJSON(w, http.StatusOK, report)
}

func (api *APIHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn().Err(err).Msg("Failed to write response")
	}
}

// queryInt reads a positive integer query parameter, falling back to def
func queryInt(r *http.Request, key string, def int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}
