package models

// SkipReason explains why an enumerated submission was not fingerprinted.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipNotSubmitted    SkipReason = "not_submitted"
	SkipNoAttachments   SkipReason = "no_attachments"
	SkipNoSubmittedAt   SkipReason = "no_submitted_at"
	SkipNoAttachmentURL SkipReason = "no_attachment_url"
)

func (r SkipReason) String() string {
	return string(r)
}

// Eligibility applies the per-submission skip rules. Only the first
// attachment is considered.
func (s Submission) Eligibility() SkipReason {
	if s.WorkflowState != WorkflowStateSubmitted {
		return SkipNotSubmitted
	}
	if len(s.Attachments) == 0 {
		return SkipNoAttachments
	}
	if s.SubmittedAt == "" {
		return SkipNoSubmittedAt
	}
	if s.Attachments[0].URL == "" {
		return SkipNoAttachmentURL
	}
	return SkipNone
}
