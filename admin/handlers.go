package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/maxpert/sqlrunner/runner"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Engine is the runner surface the admin endpoints read from
type Engine interface {
	State() runner.WorkerState
	PendingRequestCount() int
	Throttled() bool
	LiveQueries() int64
	OpenDatabaseCount() int
	Databases() []runner.DatabaseInfo
}

// AdminHandlers serves read-only runner introspection
type AdminHandlers struct {
	engine  Engine
	started time.Time
	logger  zerolog.Logger
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(engine Engine) *AdminHandlers {
	return &AdminHandlers{
		engine:  engine,
		started: time.Now(),
		logger:  log.With().Str("component", "admin").Logger(),
	}
}

// handleStatus returns worker state and counters
func (h *AdminHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"state":            h.engine.State().String(),
		"pending_requests": h.engine.PendingRequestCount(),
		"throttled":        h.engine.Throttled(),
		"live_queries":     h.engine.LiveQueries(),
		"open_databases":   h.engine.OpenDatabaseCount(),
		"uptime_seconds":   int64(time.Since(h.started).Seconds()),
	}
	writeJSONResponse(w, response)
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"data": data,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
