package httpd

import (
	"errors"
	"net/http"
	"sort"

	"github.com/abdulalimswe/FairMark/internal/models"
	"github.com/abdulalimswe/FairMark/internal/service"
	"github.com/abdulalimswe/FairMark/internal/worker"
)

func (h *Handler) GetWatcherStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.watcher.Status(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get watcher status")
		writeError(w, http.StatusInternalServerError, "Failed to get watcher status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) ListTrackedSubmissions(w http.ResponseWriter, r *http.Request) {
	tracked, err := h.watcher.Tracked(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to snapshot ledger")
		writeError(w, http.StatusInternalServerError, "Failed to list tracked submissions")
		return
	}

	response := models.TrackedSubmissionsResponse{
		Submissions: make([]models.TrackedSubmission, 0, len(tracked)),
	}
	for id, fps := range tracked {
		response.Submissions = append(response.Submissions, models.TrackedSubmission{
			CourseID:     id.CourseID,
			AssignmentID: id.AssignmentID,
			UserID:       id.UserID,
			Attempts:     fps,
		})
		response.TotalTracked += len(fps)
	}
	sort.Slice(response.Submissions, func(i, j int) bool {
		a, b := response.Submissions[i], response.Submissions[j]
		if a.CourseID != b.CourseID {
			return a.CourseID < b.CourseID
		}
		if a.AssignmentID != b.AssignmentID {
			return a.AssignmentID < b.AssignmentID
		}
		return a.UserID < b.UserID
	})

	writeJSON(w, http.StatusOK, response)
}

// TriggerScan runs one cycle synchronously.
func (h *Handler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	result := h.watcher.RunCycle(r.Context())
	if errors.Is(result.Err, worker.ErrCycleInProgress) {
		writeError(w, http.StatusConflict, result.Err.Error())
		return
	}

	writeSuccess(w, result.Summary())
}

func (h *Handler) ListEvaluations(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "course_id, assignment_id and user_id must be positive integers")
		return
	}

	ctx := r.Context()
	response, err := h.reports.ListEvaluations(ctx, id, getIntQueryParam(r, "limit", 20))
	if err != nil {
		if errors.Is(err, service.ErrReportsDisabled) {
			response = &models.IdentityEvaluationsResponse{Identity: id}
		} else {
			h.logger.Error().Err(err).Str("identity", id.String()).Msg("Failed to list evaluations")
			writeError(w, http.StatusInternalServerError, "Failed to list evaluations")
			return
		}
	}

	tracked, err := h.watcher.Tracked(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to snapshot ledger")
		writeError(w, http.StatusInternalServerError, "Failed to list evaluations")
		return
	}
	response.Fingerprints = tracked[id]
	if response.Fingerprints == nil {
		response.Fingerprints = []models.AttemptFingerprint{}
	}

	writeSuccess(w, response)
}
