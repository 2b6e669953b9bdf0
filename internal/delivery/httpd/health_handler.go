package httpd

import (
	"context"
	"net/http"
	"time"

	"github.com/abdulalimswe/FairMark/internal/models"
)

// HealthCheck reports configuration presence. With ?deep=true it also
// checks the Canvas credentials.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.HealthCheckResponse{
		OK:               true,
		Service:          "fairmark-watcher",
		Version:          h.health.Version,
		CanvasBaseURLSet: h.health.CanvasBaseURLSet,
		CanvasTokenSet:   h.health.CanvasTokenSet,
		PolicyTextSet:    h.health.PolicyTextSet,
		LateRulesLoaded:  h.health.LateRulesLoaded,
		LedgerBackend:    h.health.LedgerBackend,
		WatcherRunning:   h.watcher.IsRunning(),
		Timestamp:        time.Now().UTC(),
	}

	if !getBoolQueryParam(r, "deep") || h.credentials == nil {
		writeJSON(w, http.StatusOK, response)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	profile, err := h.credentials.GetSelf(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Canvas credential check failed")
		response.OK = false
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"health":       response,
			"canvas_error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"health":      response,
		"canvas_user": profile.Name,
	})
}
