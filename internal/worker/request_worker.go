package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abdulalimswe/FairMark/internal/worker/queue"
)

// RequestWorker feeds queued evaluation requests into the worker pool.
type RequestWorker interface {
	Start(ctx context.Context) error
	Stop() error
	GetStats() RequestStats
}

type RequestStats struct {
	TotalProcessed int `json:"total_processed"`
	FailedJobs     int `json:"failed_jobs"`
}

type requestWorker struct {
	workerPool    *WorkerPool
	queueConsumer queue.RabbitMQConsumer
	handler       queue.MessageHandler
	logger        zerolog.Logger
	stats         RequestStats
	statsMutex    sync.RWMutex
	startTime     time.Time
	wg            sync.WaitGroup
}

// NewRequestWorker does not own the pool; the caller starts and stops it.
func NewRequestWorker(
	workerPool *WorkerPool,
	queueConsumer queue.RabbitMQConsumer,
	handler queue.MessageHandler,
	logger zerolog.Logger,
) RequestWorker {
	return &requestWorker{
		workerPool:    workerPool,
		queueConsumer: queueConsumer,
		handler:       handler,
		logger:        logger,
		startTime:     time.Now(),
	}
}

func (w *requestWorker) Start(ctx context.Context) error {
	msgs, err := w.queueConsumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	w.wg.Add(1)
	go w.processMessages(ctx, msgs)

	w.logger.Info().Msg("Evaluation request worker started")
	return nil
}

// Stop cancels the consumer and waits for the dispatch loop to drain.
func (w *requestWorker) Stop() error {
	if err := w.queueConsumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close queue consumer")
	}
	w.wg.Wait()

	stats := w.GetStats()
	w.logger.Info().
		Int("total_processed", stats.TotalProcessed).
		Int("failed_jobs", stats.FailedJobs).
		Dur("uptime", time.Since(w.startTime)).
		Msg("Evaluation request worker stopped")

	return nil
}

func (w *requestWorker) processMessages(ctx context.Context, msgs <-chan queue.RabbitMQMessage) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping message processing")
			return
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Warn().Msg("Message channel closed")
				return
			}

			err := w.workerPool.Submit(ctx, func() {
				w.processMessage(ctx, msg)
			})
			if err != nil {
				w.logger.Error().Err(err).Msg("Failed to dispatch message, requeueing")
				if nackErr := msg.Nack(false, true); nackErr != nil {
					w.logger.Error().Err(nackErr).Msg("Failed to nack message")
				}
			}
		}
	}
}

func (w *requestWorker) processMessage(ctx context.Context, msg queue.RabbitMQMessage) {
	err := w.handler.ProcessMessage(ctx, msg)

	w.statsMutex.Lock()
	defer w.statsMutex.Unlock()
	if err != nil {
		w.stats.FailedJobs++
		return
	}
	w.stats.TotalProcessed++
}

func (w *requestWorker) GetStats() RequestStats {
	w.statsMutex.RLock()
	defer w.statsMutex.RUnlock()
	return w.stats
}
