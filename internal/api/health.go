package api

import (
	"net/http"
	"time"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	provider  string
	transcode func() bool
	version   string
	startTime time.Time
}

func NewHealthHandler(provider string, transcode func() bool, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		provider:  provider,
		transcode: transcode,
		version:   version,
		startTime: startTime,
	}
}

// ServeHTTP reports liveness. A missing transcoder degrades the service
// (only WAV uploads work) but does not make it unhealthy.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"provider": h.provider,
	}
	status := "healthy"

	if h.transcode != nil && h.transcode() {
		checks["transcoder"] = "available"
	} else {
		checks["transcoder"] = "unavailable"
		status = "degraded"
	}

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
