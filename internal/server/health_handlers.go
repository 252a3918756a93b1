package server

import (
	"net/http"
	"time"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Database  string                 `json:"database"`
	Rooms     int                    `json:"roomCount"`
	Sessions  int                    `json:"activeSessions"`
	Songs     int                    `json:"songCount"`
	Uptime    string                 `json:"uptime"`
	PublicURL string                 `json:"publicUrl"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck returns basic liveness + dependency checks.
func (s *RoomServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()
	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: now,
		Database:  "ok",
		Rooms:     len(s.hub.List()),
		Sessions:  s.sessions.Count(),
		Songs:     s.library.Count(),
		Uptime:    now.Sub(s.startedAt).Round(time.Second).String(),
		PublicURL: s.PublicURL(),
		Details:   make(map[string]interface{}),
	}

	if s.db == nil {
		health.Database = "disabled"
	} else if err := s.db.Ping(); err != nil {
		health.Status = "unhealthy"
		health.Database = "error"
		health.Details["database_error"] = err.Error()
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}
