package models

import (
	"fmt"
	"time"
)

type TrackedSubmission struct {
	CourseID     int64                `json:"course_id"`
	AssignmentID int64                `json:"assignment_id"`
	UserID       int64                `json:"user_id"`
	Attempts     []AttemptFingerprint `json:"attempts"`
}

type TrackedSubmissionsResponse struct {
	TotalTracked int                 `json:"total_tracked"`
	Submissions  []TrackedSubmission `json:"submissions"`
}

type CycleSummary struct {
	ID            string        `json:"id"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
	Courses       int           `json:"courses"`
	Assignments   int           `json:"assignments"`
	Submissions   int           `json:"submissions"`
	Evaluated     int           `json:"evaluated"`
	Skipped       int           `json:"skipped"`
	Unchanged     int           `json:"unchanged"`
	Indeterminate int           `json:"indeterminate"`
	Failed        int           `json:"failed"`
	Error         string        `json:"error,omitempty"`
}

type WatcherStatus struct {
	IsRunning         bool                   `json:"is_running"`
	State             string                 `json:"state"`
	CheckInterval     int                    `json:"check_interval"`
	LedgerBackend     string                 `json:"ledger_backend"`
	TrackedIdentities int                    `json:"tracked_identities"`
	TotalTracked      int                    `json:"total_submissions_tracked"`
	PerIdentity       map[string]int         `json:"fingerprints_per_identity"`
	TotalCycles       int                    `json:"total_cycles"`
	TotalEvaluated    int                    `json:"total_evaluated"`
	TotalFailed       int                    `json:"total_failed"`
	Pool              map[string]interface{} `json:"pool,omitempty"`
	LastCycle         *CycleSummary          `json:"last_cycle,omitempty"`
}

type HealthCheckResponse struct {
	OK               bool      `json:"ok"`
	Service          string    `json:"service"`
	Version          string    `json:"version"`
	CanvasBaseURLSet bool      `json:"canvas_base_url_set"`
	CanvasTokenSet   bool      `json:"canvas_token_set"`
	PolicyTextSet    bool      `json:"policy_text_set"`
	LateRulesLoaded  bool      `json:"late_rules_loaded"`
	LedgerBackend    string    `json:"ledger_backend"`
	WatcherRunning   bool      `json:"watcher_running"`
	Timestamp        time.Time `json:"timestamp"`
}

// EvaluateRequest is the body of the manual evaluation trigger.
type EvaluateRequest struct {
	CourseID     int64 `json:"course_id"`
	AssignmentID int64 `json:"assignment_id"`
	UserID       int64 `json:"user_id"`
}

func (r EvaluateRequest) Identity() (SubmissionIdentity, error) {
	if r.CourseID <= 0 || r.AssignmentID <= 0 || r.UserID <= 0 {
		return SubmissionIdentity{}, fmt.Errorf("course_id, assignment_id and user_id must be positive")
	}
	return SubmissionIdentity{CourseID: r.CourseID, AssignmentID: r.AssignmentID, UserID: r.UserID}, nil
}

type EvaluateResponse struct {
	Identity SubmissionIdentity `json:"identity"`
	Attempt  int                `json:"attempt"`
	Result   EvaluationResult   `json:"result"`
}

type IdentityEvaluationsResponse struct {
	Identity     SubmissionIdentity   `json:"identity"`
	Fingerprints []AttemptFingerprint `json:"fingerprints"`
	Reports      []EvaluationReport   `json:"reports"`
	ArchiveKeys  []string             `json:"archive_keys"`
}
