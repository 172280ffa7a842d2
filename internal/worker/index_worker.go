package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"docqa/internal/platform/rabbitmq"
)

// IndexRunner performs an index job. It owns status bookkeeping; the worker
// decides whether a failed job goes back to the queue and reports jobs it
// drops for good through FailIndexJob.
type IndexRunner interface {
	RunIndexJob(ctx context.Context, file, path string) error
	FailIndexJob(ctx context.Context, file string, cause error)
}

type IndexWorker struct {
	conn      *amqp.Connection
	runner    IndexRunner
	queueName string
	prefetch  int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIndexWorker(conn *amqp.Connection, runner IndexRunner, queueName string, prefetch int) *IndexWorker {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &IndexWorker{
		conn:      conn,
		runner:    runner,
		queueName: queueName,
		prefetch:  prefetch,
	}
}

func (w *IndexWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}
	if err := ch.Qos(w.prefetch, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.process(workerCtx, d)
			}
		}
	}()

	log.Info().Str("queue", w.queueName).Msg("index worker started")
	return nil
}

// process runs one delivery and settles it. A retryable failure is requeued
// once, and always while the worker is shutting down.
func (w *IndexWorker) process(ctx context.Context, d amqp.Delivery) {
	job, err := w.handle(ctx, d.Body)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error().Err(ackErr).Str("file", job.File).Msg("ack index job failed")
		}
		return
	}

	if ctx.Err() != nil || (errors.Is(err, rabbitmq.ErrRetryJob) && !d.Redelivered) {
		log.Warn().Err(err).Str("file", job.File).Msg("index job requeued")
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error().Err(nackErr).Str("file", job.File).Msg("requeue index job failed")
		}
		return
	}

	log.Error().Err(err).Str("queue", w.queueName).Str("file", job.File).Msg("index job failed")
	if job.File != "" && errors.Is(err, rabbitmq.ErrRetryJob) {
		w.runner.FailIndexJob(context.WithoutCancel(ctx), job.File, err)
	}
	if nackErr := d.Nack(false, false); nackErr != nil {
		log.Error().Err(nackErr).Str("file", job.File).Msg("drop index job failed")
	}
}

func (w *IndexWorker) handle(ctx context.Context, body []byte) (rabbitmq.IndexJob, error) {
	var job rabbitmq.IndexJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("decode index job failed: %w", err)
	}
	if job.File == "" || job.Path == "" {
		return job, fmt.Errorf("index job missing file or path")
	}
	return job, w.runner.RunIndexJob(ctx, job.File, job.Path)
}

func (w *IndexWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
