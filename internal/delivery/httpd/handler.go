package httpd

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/abdulalimswe/FairMark/internal/models"
	"github.com/abdulalimswe/FairMark/internal/service"
	"github.com/abdulalimswe/FairMark/internal/worker"
	"github.com/abdulalimswe/FairMark/pkg/utils"
)

// Watcher is the part of the submission watcher exposed over HTTP.
type Watcher interface {
	IsRunning() bool
	RunCycle(ctx context.Context) worker.CycleResult
	Status(ctx context.Context) (*models.WatcherStatus, error)
	Tracked(ctx context.Context) (map[models.SubmissionIdentity][]models.AttemptFingerprint, error)
	Evaluate(ctx context.Context, id models.SubmissionIdentity) (*models.EvaluateResponse, error)
}

// CredentialChecker verifies the configured Canvas token.
type CredentialChecker interface {
	GetSelf(ctx context.Context) (*models.UserProfile, error)
}

// HealthInfo is static configuration reported by /health.
type HealthInfo struct {
	Version          string
	CanvasBaseURLSet bool
	CanvasTokenSet   bool
	PolicyTextSet    bool
	LateRulesLoaded  bool
	LedgerBackend    string
}

type Handler struct {
	watcher     Watcher
	reports     service.ReportService
	credentials CredentialChecker
	health      HealthInfo
	logger      zerolog.Logger
}

func NewHandler(
	watcher Watcher,
	reports service.ReportService,
	credentials CredentialChecker,
	health HealthInfo,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		watcher:     watcher,
		reports:     reports,
		credentials: credentials,
		health:      health,
		logger:      logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.HealthCheck)

	router.Route("/watcher", func(r chi.Router) {
		r.Get("/status", h.GetWatcherStatus)
		r.Post("/scan", h.TriggerScan)
		r.Get("/submissions", h.ListTrackedSubmissions)
		r.Get("/submissions/{course_id}/{assignment_id}/{user_id}/evaluations", h.ListEvaluations)
	})

	router.Route("/api/v1", func(api chi.Router) {
		api.Post("/evaluate", h.Evaluate)
	})
}

func identityFromPath(r *http.Request) (models.SubmissionIdentity, bool) {
	var ids [3]int64
	for i, key := range []string{"course_id", "assignment_id", "user_id"} {
		n, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
		if err != nil || n <= 0 {
			return models.SubmissionIdentity{}, false
		}
		ids[i] = n
	}
	return models.SubmissionIdentity{CourseID: ids[0], AssignmentID: ids[1], UserID: ids[2]}, true
}

func getIntQueryParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func getBoolQueryParam(r *http.Request, key string) bool {
	value, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && value
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	_ = utils.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	utils.ErrorResponse(w, status, message)
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	utils.SuccessResponse(w, data)
}
