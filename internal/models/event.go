package models

import (
	"time"
)

const (
	RoutingKeyEvaluationCompleted = "evaluation.completed"
	RoutingKeyEvaluationFailed    = "evaluation.failed"
)

type EvaluationCompletedEvent struct {
	EventID        string    `json:"event_id"`
	CourseID       int64     `json:"course_id"`
	AssignmentID   int64     `json:"assignment_id"`
	UserID         int64     `json:"user_id"`
	Attempt        int       `json:"attempt"`
	ContentHash    string    `json:"content_hash"`
	Late           bool      `json:"late"`
	PenaltyPercent int       `json:"penalty_percent"`
	ArchiveKey     string    `json:"archive_key,omitempty"`
	ProcessingTime int       `json:"processing_time_ms"`
	CompletedAt    time.Time `json:"completed_at"`
}

type EvaluationFailedEvent struct {
	EventID      string    `json:"event_id"`
	CourseID     int64     `json:"course_id"`
	AssignmentID int64     `json:"assignment_id"`
	UserID       int64     `json:"user_id"`
	Attempt      int       `json:"attempt"`
	ContentHash  string    `json:"content_hash"`
	Error        string    `json:"error"`
	FailedAt     time.Time `json:"failed_at"`
}
