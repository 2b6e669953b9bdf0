package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/abdulalimswe/FairMark/internal/models"
)

// ErrInvalidMessage marks messages that will never succeed; they are dropped
// instead of requeued.
var ErrInvalidMessage = errors.New("invalid message")

// EvaluateFunc runs a manual evaluation for one identity.
type EvaluateFunc func(ctx context.Context, id models.SubmissionIdentity) (models.EvaluationResult, error)

type MessageHandler interface {
	HandleEvaluationRequest(ctx context.Context, request models.EvaluateRequest) error
	ProcessMessage(ctx context.Context, msg RabbitMQMessage) error
}

type messageHandler struct {
	evaluate EvaluateFunc
	logger   zerolog.Logger
}

func NewMessageHandler(evaluate EvaluateFunc, logger zerolog.Logger) MessageHandler {
	return &messageHandler{
		evaluate: evaluate,
		logger:   logger,
	}
}

func (h *messageHandler) HandleEvaluationRequest(ctx context.Context, request models.EvaluateRequest) error {
	id, err := request.Identity()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	h.logger.Info().
		Int64("course_id", id.CourseID).
		Int64("assignment_id", id.AssignmentID).
		Int64("user_id", id.UserID).
		Msg("Handling queued evaluation request")

	result, err := h.evaluate(ctx, id)
	if err != nil {
		return err
	}
	if !result.Succeeded() {
		return fmt.Errorf("evaluation failed: %s", result.Reason)
	}
	return nil
}

// ProcessMessage decodes one delivery and acknowledges it. Invalid payloads
// are rejected without requeue; evaluation failures are requeued once.
func (h *messageHandler) ProcessMessage(ctx context.Context, msg RabbitMQMessage) error {
	var request models.EvaluateRequest
	err := json.Unmarshal(msg.Body, &request)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	} else {
		err = h.HandleEvaluationRequest(ctx, request)
	}

	if err == nil {
		return msg.Ack(false)
	}

	requeue := !errors.Is(err, ErrInvalidMessage) && !msg.Redelivered
	h.logger.Error().
		Err(err).
		Str("routing_key", msg.RoutingKey).
		Bool("requeue", requeue).
		Msg("Failed to process message")

	if nackErr := msg.Nack(false, requeue); nackErr != nil {
		return fmt.Errorf("failed to nack message: %w", nackErr)
	}
	return err
}
