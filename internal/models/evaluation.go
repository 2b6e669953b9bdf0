package models

import "time"

type EvaluationStatus string

const (
	EvaluationSucceeded EvaluationStatus = "success"
	EvaluationFailed    EvaluationStatus = "failure"
)

func (s EvaluationStatus) String() string {
	return string(s)
}

// EvaluationRequest is what the watcher hands to the orchestrator for one
// novel fingerprint.
type EvaluationRequest struct {
	Identity     SubmissionIdentity `json:"identity"`
	SubmissionID int64              `json:"submission_id"`
	Attempt      int                `json:"attempt"`
	SubmittedAt  string             `json:"submitted_at"`
	Attachment   Attachment         `json:"attachment"`
	Fingerprint  AttemptFingerprint `json:"fingerprint"`
}

type EvaluationResult struct {
	Status         EvaluationStatus `json:"status"`
	Reason         string           `json:"reason,omitempty"`
	CommentPreview string           `json:"comment_preview,omitempty"`
	Lateness       LatenessVerdict  `json:"lateness"`
	RubricFound    bool             `json:"rubric_found"`
	Duration       time.Duration    `json:"duration"`
}

func (r EvaluationResult) Succeeded() bool {
	return r.Status == EvaluationSucceeded
}

func EvaluationFailure(reason string) EvaluationResult {
	return EvaluationResult{Status: EvaluationFailed, Reason: reason}
}

// EvaluationPacket is the structured input sent to the external evaluator.
type EvaluationPacket struct {
	SubmissionMeta SubmissionMeta     `json:"submission_meta"`
	Course         PacketCourse       `json:"course"`
	Assignment     PacketAssignment   `json:"assignment"`
	Rubric         []PacketRubricItem `json:"rubric"`
	PolicyText     *string            `json:"policy_text"`
	Attachment     PacketAttachment   `json:"submission_attachment"`
}

type SubmissionMeta struct {
	SubmissionID   int64  `json:"submission_id"`
	UserID         int64  `json:"user_id"`
	Attempt        int    `json:"attempt"`
	SubmittedAt    string `json:"submitted_at"`
	DueAt          string `json:"due_at,omitempty"`
	Late           bool   `json:"late"`
	LateMinutes    int    `json:"late_minutes"`
	GraceApplied   bool   `json:"grace_applied"`
	PenaltyPercent int    `json:"penalty_percent"`
	ContentHash    string `json:"content_hash"`
}

type PacketCourse struct {
	CourseID int64 `json:"course_id"`
}

type PacketAssignment struct {
	AssignmentID     int64    `json:"assignment_id"`
	Title            string   `json:"title"`
	PointsPossible   *float64 `json:"points_possible"`
	InstructionsHTML string   `json:"instructions_html,omitempty"`
}

type PacketRubricItem struct {
	Name   string   `json:"name"`
	Points *float64 `json:"points"`
}

type PacketAttachment struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}
