package models

// Course, Assignment and Submission mirror the subset of the Canvas REST
// payloads the watcher reads. Optional fields stay zero when Canvas sends null.

type Course struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CourseCode string `json:"course_code,omitempty"`
}

type Assignment struct {
	ID             int64             `json:"id"`
	CourseID       int64             `json:"course_id,omitempty"`
	Name           string            `json:"name"`
	DueAt          string            `json:"due_at,omitempty"`
	PointsPossible *float64          `json:"points_possible,omitempty"`
	Description    string            `json:"description,omitempty"`
	Rubric         []RubricCriterion `json:"rubric,omitempty"`
}

type RubricCriterion struct {
	ID          string   `json:"id,omitempty"`
	Description string   `json:"description,omitempty"`
	Criterion   string   `json:"criterion,omitempty"`
	Points      *float64 `json:"points,omitempty"`
}

// Name returns the criterion label, falling back the way Canvas exports do.
func (c RubricCriterion) Name() string {
	if c.Description != "" {
		return c.Description
	}
	if c.Criterion != "" {
		return c.Criterion
	}
	return "Criterion"
}

const WorkflowStateSubmitted = "submitted"

type Submission struct {
	ID            int64        `json:"id"`
	UserID        int64        `json:"user_id"`
	AssignmentID  int64        `json:"assignment_id,omitempty"`
	WorkflowState string       `json:"workflow_state"`
	Attempt       *int         `json:"attempt"`
	SubmittedAt   string       `json:"submitted_at,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
}

// AttemptNumber defaults to 1 when Canvas omits the attempt counter.
func (s Submission) AttemptNumber() int {
	if s.Attempt == nil || *s.Attempt < 1 {
		return 1
	}
	return *s.Attempt
}

type Attachment struct {
	ID          int64  `json:"id,omitempty"`
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	DisplayName string `json:"display_name,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

func (a Attachment) Name() string {
	if a.Filename != "" {
		return a.Filename
	}
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return "submission"
}

type UserProfile struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	LoginID      string `json:"login_id,omitempty"`
	PrimaryEmail string `json:"primary_email,omitempty"`
}
