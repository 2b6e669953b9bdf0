package httpd

import (
	"errors"
	"net/http"

	"github.com/abdulalimswe/FairMark/internal/models"
	"github.com/abdulalimswe/FairMark/internal/service"
	"github.com/abdulalimswe/FairMark/internal/service/analyzer"
	"github.com/abdulalimswe/FairMark/pkg/utils"
)

// Evaluate runs the pipeline for one submission on demand. The submission is
// fetched fresh and the ledger is left untouched.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req models.EvaluateRequest
	if err := utils.ReadJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := req.Identity()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	response, err := h.watcher.Evaluate(r.Context(), id)
	if err != nil {
		h.handleEvaluationError(w, id, err)
		return
	}

	if !response.Result.Succeeded() {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   http.StatusText(http.StatusBadGateway),
			"message": response.Result.Reason,
			"data":    response,
		})
		return
	}

	writeSuccess(w, response)
}

func (h *Handler) handleEvaluationError(w http.ResponseWriter, id models.SubmissionIdentity, err error) {
	h.logger.Warn().Err(err).Str("identity", id.String()).Msg("Manual evaluation rejected")

	switch {
	case errors.Is(err, service.ErrNotEligible):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrSubmissionLookup):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, analyzer.ErrIndeterminate):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Evaluation failed")
	}
}
