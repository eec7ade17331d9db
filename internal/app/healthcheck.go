package app

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// healthHandler reports process liveness.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// statsHandler serves the driver's scheduling counters as JSON.
func (a *App) statsHandler(w http.ResponseWriter, _ *http.Request) {
	stats := a.driver.Stats()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"queued":    stats.Queued,
		"in_flight": stats.InFlight,
		"resident":  stats.Resident,
		"completed": stats.Completed,
		"deferred":  stats.Deferred,
		"retried":   stats.Retried,
		"failed":    stats.Failed,
	}); err != nil {
		a.logger.Error("Encoding stats failed.", "error", err)
	}
}

// startHealthcheckServer initializes and runs the health check HTTP server.
func (a *App) startHealthcheckServer(port int) {
	a.logger.Debug("Configuring health check server.")
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.HandleFunc("/stats", a.statsHandler)

	addr := fmt.Sprintf(":%d", port)

	go func() {
		a.logger.Info("🩺 Health check server starting", "address", fmt.Sprintf("http://localhost%s/health", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			a.logger.Error("Health check server failed", "error", err)
		}
	}()
}
