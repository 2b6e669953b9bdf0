package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulalimswe/FairMark/internal/models"
	"github.com/abdulalimswe/FairMark/internal/worker/queue"
)

type fakeConsumer struct {
	msgs      chan queue.RabbitMQMessage
	closeOnce sync.Once
}

func (c *fakeConsumer) Consume(context.Context) (<-chan queue.RabbitMQMessage, error) {
	return c.msgs, nil
}

func (c *fakeConsumer) Close() error {
	c.closeOnce.Do(func() { close(c.msgs) })
	return nil
}

func TestRequestWorker_DispatchesQueuedRequests(t *testing.T) {
	pool := NewWorkerPool(2, zerolog.Nop())
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	var evaluated atomic.Int32
	handler := queue.NewMessageHandler(func(_ context.Context, id models.SubmissionIdentity) (models.EvaluationResult, error) {
		evaluated.Add(1)
		if id.UserID == 99 {
			return models.EvaluationFailure("evaluator unavailable"), nil
		}
		return models.EvaluationResult{Status: models.EvaluationSucceeded}, nil
	}, zerolog.Nop())

	consumer := &fakeConsumer{msgs: make(chan queue.RabbitMQMessage)}
	rw := NewRequestWorker(pool, consumer, handler, zerolog.Nop())
	require.NoError(t, rw.Start(context.Background()))

	var acks, nacks atomic.Int32
	send := func(body string) {
		consumer.msgs <- queue.RabbitMQMessage{
			Body: []byte(body),
			Ack: func(bool) error {
				acks.Add(1)
				return nil
			},
			Nack: func(bool, bool) error {
				nacks.Add(1)
				return nil
			},
		}
	}
	send(`{"course_id":1,"assignment_id":2,"user_id":3}`)
	send(`{"course_id":1,"assignment_id":2,"user_id":4}`)
	send(`{"course_id":1,"assignment_id":2,"user_id":99}`)

	assert.Eventually(t, func() bool {
		stats := rw.GetStats()
		return stats.TotalProcessed == 2 && stats.FailedJobs == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, rw.Stop())
	assert.Equal(t, int32(3), evaluated.Load())
	assert.Equal(t, int32(2), acks.Load())
	assert.Equal(t, int32(1), nacks.Load())
}
