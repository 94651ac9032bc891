package handlers

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

// HealthResponse represents the health check response structure.
type HealthResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

// HealthCheck handles GET /health
// Returns the daemon's health status and how many chat sessions are open.
func HealthCheck(sessions func() int, started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Message:  "Talkie chat daemon is running",
			Sessions: sessions(),
			Uptime:   humanize.RelTime(started, time.Now(), "", ""),
		})
	}
}
