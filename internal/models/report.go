package models

import (
	"encoding/json"
	"time"
)

// EvaluationReport is the persisted record of one evaluation attempt.
type EvaluationReport struct {
	ID               string          `json:"id" db:"id"`
	CourseID         int64           `json:"course_id" db:"course_id"`
	AssignmentID     int64           `json:"assignment_id" db:"assignment_id"`
	UserID           int64           `json:"user_id" db:"user_id"`
	SubmissionID     int64           `json:"submission_id" db:"submission_id"`
	Attempt          int             `json:"attempt" db:"attempt"`
	ContentHash      string          `json:"content_hash" db:"content_hash"`
	Status           string          `json:"status" db:"status"`
	Late             bool            `json:"late" db:"late"`
	LateMinutes      int             `json:"late_minutes" db:"late_minutes"`
	PenaltyPercent   int             `json:"penalty_percent" db:"penalty_percent"`
	ErrorMessage     *string         `json:"error_message,omitempty" db:"error_message"`
	CommentPreview   string          `json:"comment_preview,omitempty" db:"comment_preview"`
	ArchiveKey       *string         `json:"archive_key,omitempty" db:"archive_key"`
	Details          json.RawMessage `json:"details,omitempty" db:"details"`
	ProcessingTimeMs *int            `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

type ReportStatus string

const (
	ReportStatusProcessing ReportStatus = "processing"
	ReportStatusCompleted  ReportStatus = "completed"
	ReportStatusFailed     ReportStatus = "failed"
)

func (rs ReportStatus) String() string {
	return string(rs)
}
