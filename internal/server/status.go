package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/desertthunder/spotbridge/internal/canvas"
	"github.com/desertthunder/spotbridge/internal/models"
)

const recentEvents = 20

// Auditor exposes the control lease and recent control history.
type Auditor interface {
	Lease() models.Lease
	History(limit int) []models.ControlEvent
}

// Health is the /healthz payload.
type Health struct {
	Status    string                `json:"status"`
	Playback  models.Status         `json:"playback"`
	Version   uint64                `json:"version"`
	Uptime    string                `json:"uptime"`
	Sessions  []SessionInfo         `json:"sessions"`
	Lease     models.Lease          `json:"lease"`
	Canvas    *canvas.Stats         `json:"canvas,omitempty"`
	Events    []models.ControlEvent `json:"recent_events"`
	CheckedAt time.Time             `json:"checked_at"`
}

// StatusHandler serves the read-only HTTP endpoints: the extrapolated playback state and a health summary.
type StatusHandler struct {
	engine   Engine
	registry *Registry
	audit    Auditor
	canvas   func() canvas.Stats
	started  time.Time
	now      func() time.Time
}

// NewStatusHandler creates the status endpoints. stats may be nil when canvas lookup is disabled.
func NewStatusHandler(engine Engine, registry *Registry, audit Auditor, stats func() canvas.Stats) *StatusHandler {
	return &StatusHandler{
		engine:   engine,
		registry: registry,
		audit:    audit,
		canvas:   stats,
		started:  time.Now(),
		now:      time.Now,
	}
}

// Routes returns the status paths.
func (h *StatusHandler) Routes() []string {
	return []string{"/state", "/healthz"}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch r.URL.Path {
	case "/state":
		writeJSON(w, http.StatusOK, h.engine.Current())
	case "/healthz":
		health := h.health()
		code := http.StatusOK
		if health.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	default:
		http.NotFound(w, r)
	}
}

func (h *StatusHandler) health() Health {
	st := h.engine.Current()
	now := h.now()

	health := Health{
		Status:    "ok",
		Playback:  st.Status,
		Version:   st.Version,
		Uptime:    now.Sub(h.started).Round(time.Second).String(),
		Sessions:  h.registry.Sessions(),
		Lease:     h.audit.Lease(),
		Events:    h.audit.History(recentEvents),
		CheckedAt: now,
	}
	if st.Status == models.StatusDisconnected {
		health.Status = "degraded"
	}
	if h.canvas != nil {
		stats := h.canvas()
		health.Canvas = &stats
	}
	return health
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
