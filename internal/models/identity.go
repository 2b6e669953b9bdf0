package models

import (
	"fmt"
	"strconv"
	"strings"
)

// SubmissionIdentity identifies one student's work on one assignment.
type SubmissionIdentity struct {
	CourseID     int64 `json:"course_id"`
	AssignmentID int64 `json:"assignment_id"`
	UserID       int64 `json:"user_id"`
}

func (id SubmissionIdentity) String() string {
	return fmt.Sprintf("%d_%d_%d", id.CourseID, id.AssignmentID, id.UserID)
}

func ParseSubmissionIdentity(s string) (SubmissionIdentity, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 {
		return SubmissionIdentity{}, fmt.Errorf("invalid submission identity %q", s)
	}

	var nums [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return SubmissionIdentity{}, fmt.Errorf("invalid submission identity %q: %w", s, err)
		}
		nums[i] = n
	}

	return SubmissionIdentity{CourseID: nums[0], AssignmentID: nums[1], UserID: nums[2]}, nil
}

// AttemptFingerprint is the (attempt, content hash) pair recorded in the ledger.
type AttemptFingerprint struct {
	Attempt     int    `json:"attempt"`
	ContentHash string `json:"content_hash"`
}

func (f AttemptFingerprint) String() string {
	return fmt.Sprintf("%d:%s", f.Attempt, f.ContentHash)
}

// Prefix is the short hash form used in log lines.
func (f AttemptFingerprint) Prefix() string {
	if len(f.ContentHash) <= 8 {
		return f.ContentHash
	}
	return f.ContentHash[:8]
}

func ParseAttemptFingerprint(s string) (AttemptFingerprint, error) {
	attempt, hash, ok := strings.Cut(s, ":")
	if !ok || hash == "" {
		return AttemptFingerprint{}, fmt.Errorf("invalid fingerprint %q", s)
	}
	n, err := strconv.Atoi(attempt)
	if err != nil || n < 1 {
		return AttemptFingerprint{}, fmt.Errorf("invalid fingerprint attempt %q", s)
	}
	return AttemptFingerprint{Attempt: n, ContentHash: hash}, nil
}
