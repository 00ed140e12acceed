package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports database reachability.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Connection reports event bus connectivity.
type Connection interface {
	IsConnected() bool
}

// HealthInfo names the configured backends. Provider is called per
// request because the active embedding provider can change at runtime.
type HealthInfo struct {
	Provider     func() string
	IndexBackend string
}

// HealthHandler provides the health endpoint. db and bus may be nil when
// the service runs without them.
type HealthHandler struct {
	db        Pinger
	bus       Connection
	info      HealthInfo
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db Pinger, bus Connection, info HealthInfo) *HealthHandler {
	return &HealthHandler{
		db:        db,
		bus:       bus,
		info:      info,
		startTime: time.Now(),
	}
}

// Health returns the service health status.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	database := "disabled"
	if h.db != nil {
		database = "connected"
		if err := h.db.HealthCheck(r.Context()); err != nil {
			database = "disconnected"
			status = "degraded"
		}
	}

	nats := "disabled"
	if h.bus != nil {
		nats = "disconnected"
		if h.bus.IsConnected() {
			nats = "connected"
		}
	}

	provider := ""
	if h.info.Provider != nil {
		provider = h.info.Provider()
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"status":             status,
		"embedding_provider": provider,
		"vector_index":       h.info.IndexBackend,
		"database":           database,
		"nats":               nats,
		"uptime_seconds":     int(time.Since(h.startTime).Seconds()),
	})
}
