package handlers

import (
	"context"
	"net/http"
	"time"
)

// Health reports liveness. When a readiness probe is configured it is run
// with a short deadline and a failure answers 503.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if a.Ready == nil {
		a.json(w, http.StatusOK, map[string]string{"status": "ok", "service": "dubber"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.Ready(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("health: dependency unavailable")
		a.json(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "service": "dubber"})
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok", "service": "dubber"})
}
