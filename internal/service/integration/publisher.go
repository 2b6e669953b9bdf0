package integration

import (
	"context"

	"github.com/abdulalimswe/FairMark/internal/models"
)

// Publisher delivers a formatted comment to the student's submission.
type Publisher interface {
	Publish(ctx context.Context, id models.SubmissionIdentity, comment string) error
}

type canvasPublisher struct {
	canvas CanvasClient
}

func NewCanvasPublisher(canvas CanvasClient) Publisher {
	return &canvasPublisher{canvas: canvas}
}

func (p *canvasPublisher) Publish(ctx context.Context, id models.SubmissionIdentity, comment string) error {
	return p.canvas.PostSubmissionComment(ctx, id.CourseID, id.AssignmentID, id.UserID, comment)
}
