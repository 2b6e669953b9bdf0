package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulalimswe/FairMark/internal/models"
)

type recordedPublish struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	published []recordedPublish
	err       error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.published = append(c.published, recordedPublish{exchange: exchange, key: key, msg: msg})
	return nil
}

func TestPublisherRoutesEvents(t *testing.T) {
	ch := &fakeChannel{}
	p := newRabbitMQPublisher(ch, "fairmark_exchange", zerolog.Nop())

	require.NoError(t, p.PublishCompleted(context.Background(), models.EvaluationCompletedEvent{
		EventID: "e1", CourseID: 1, AssignmentID: 2, UserID: 3, Attempt: 1, ContentHash: "abcd",
	}))
	require.NoError(t, p.PublishFailed(context.Background(), models.EvaluationFailedEvent{
		EventID: "e2", Error: "evaluator unavailable",
	}))

	require.Len(t, ch.published, 2)
	assert.Equal(t, "fairmark_exchange", ch.published[0].exchange)
	assert.Equal(t, models.RoutingKeyEvaluationCompleted, ch.published[0].key)
	assert.Equal(t, models.RoutingKeyEvaluationFailed, ch.published[1].key)
	assert.Equal(t, amqp.Persistent, ch.published[0].msg.DeliveryMode)
	assert.Equal(t, "application/json", ch.published[0].msg.ContentType)

	var decoded models.EvaluationCompletedEvent
	require.NoError(t, json.Unmarshal(ch.published[0].msg.Body, &decoded))
	assert.Equal(t, "abcd", decoded.ContentHash)
}

func TestPublisherWrapsChannelError(t *testing.T) {
	p := newRabbitMQPublisher(&fakeChannel{err: amqp.ErrClosed}, "x", zerolog.Nop())

	err := p.PublishFailed(context.Background(), models.EvaluationFailedEvent{})
	require.Error(t, err)
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

type ackRecorder struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (r *ackRecorder) message(body string, redelivered bool) RabbitMQMessage {
	return RabbitMQMessage{
		Body:        []byte(body),
		RoutingKey:  "evaluation.requested",
		Redelivered: redelivered,
		Ack: func(bool) error {
			r.acked = true
			return nil
		},
		Nack: func(_ bool, requeue bool) error {
			r.nacked = true
			r.requeue = requeue
			return nil
		},
	}
}

func TestProcessMessage(t *testing.T) {
	okEval := func(context.Context, models.SubmissionIdentity) (models.EvaluationResult, error) {
		return models.EvaluationResult{Status: models.EvaluationSucceeded}, nil
	}
	failedEval := func(context.Context, models.SubmissionIdentity) (models.EvaluationResult, error) {
		return models.EvaluationFailure("publish failed"), nil
	}
	lookupErr := func(context.Context, models.SubmissionIdentity) (models.EvaluationResult, error) {
		return models.EvaluationResult{}, errors.New("canvas unavailable")
	}

	tests := []struct {
		name        string
		body        string
		redelivered bool
		evaluate    EvaluateFunc
		wantErr     bool
		wantAck     bool
		wantRequeue bool
	}{
		{name: "success", body: `{"course_id":1,"assignment_id":2,"user_id":3}`, evaluate: okEval, wantAck: true},
		{name: "malformed json", body: `not json`, evaluate: okEval, wantErr: true},
		{name: "invalid identity", body: `{"course_id":0,"assignment_id":2,"user_id":3}`, evaluate: okEval, wantErr: true},
		{name: "evaluation failure requeued", body: `{"course_id":1,"assignment_id":2,"user_id":3}`, evaluate: failedEval, wantErr: true, wantRequeue: true},
		{name: "lookup error requeued", body: `{"course_id":1,"assignment_id":2,"user_id":3}`, evaluate: lookupErr, wantErr: true, wantRequeue: true},
		{name: "redelivered failure dropped", body: `{"course_id":1,"assignment_id":2,"user_id":3}`, redelivered: true, evaluate: failedEval, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &ackRecorder{}
			h := NewMessageHandler(tt.evaluate, zerolog.Nop())

			err := h.ProcessMessage(context.Background(), rec.message(tt.body, tt.redelivered))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantAck, rec.acked)
			assert.Equal(t, !tt.wantAck, rec.nacked)
			assert.Equal(t, tt.wantRequeue, rec.requeue)
		})
	}
}

func TestHandleEvaluationRequestPassesIdentity(t *testing.T) {
	var got models.SubmissionIdentity
	h := NewMessageHandler(func(_ context.Context, id models.SubmissionIdentity) (models.EvaluationResult, error) {
		got = id
		return models.EvaluationResult{Status: models.EvaluationSucceeded}, nil
	}, zerolog.Nop())

	require.NoError(t, h.HandleEvaluationRequest(context.Background(), models.EvaluateRequest{CourseID: 7, AssignmentID: 8, UserID: 9}))
	assert.Equal(t, models.SubmissionIdentity{CourseID: 7, AssignmentID: 8, UserID: 9}, got)
}
