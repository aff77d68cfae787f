/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package deleteworker drains the delete queue: unregister from the
// scheduler, hard-delete the task row, publish TaskDeleted. Every step is
// safe to repeat so redelivered messages converge on the same final state.
package deleteworker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iLLeniumStudios/cron-observer/internal/deletequeue"
	"github.com/iLLeniumStudios/cron-observer/internal/events"
	"github.com/iLLeniumStudios/cron-observer/internal/metrics"
	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

// DefaultPollInterval is how often an idle worker checks the queue
const DefaultPollInterval = 1 * time.Second

// TaskUnregisterer is the minimal scheduler interface needed for the delete worker.
type TaskUnregisterer interface {
	Unregister(taskUUID string)
}

// Worker processes delete messages: stops scheduling, hard-deletes the
// task, publishes TaskDeleted.
type Worker struct {
	store     store.Store
	queue     *deletequeue.Queue
	scheduler TaskUnregisterer // optional; nil-safe
	publisher events.Publisher
	logger    zerolog.Logger
	interval  time.Duration
}

// NewWorker creates a delete worker with the given dependencies
func NewWorker(st store.Store, queue *deletequeue.Queue, scheduler TaskUnregisterer, publisher events.Publisher, logger zerolog.Logger) *Worker {
	return &Worker{
		store:     st,
		queue:     queue,
		scheduler: scheduler,
		publisher: publisher,
		logger:    logger.With().Str("component", "deleteworker").Logger(),
		interval:  DefaultPollInterval,
	}
}

// SetPollInterval changes the idle poll interval
func (w *Worker) SetPollInterval(d time.Duration) {
	w.interval = d
}

// Start runs the drain loop until ctx is cancelled. The message in flight
// is always settled (ack or nack) before the loop exits.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().Dur("poll_interval", w.interval).Msg("delete worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("delete worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain processes messages until the queue is empty or ctx is cancelled
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := w.queue.Receive(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to receive from delete queue")
			return
		}
		if msg == nil {
			w.updateDepthGauge(ctx)
			return
		}

		// The in-flight message is settled even when ctx was cancelled
		// mid-processing: a processing error nacks for redelivery.
		if err := w.Process(ctx, msg); err != nil {
			w.logger.Error().Err(err).
				Str("task", msg.TaskUUID).
				Int("attempts", msg.Attempts).
				Msg("delete processing failed, nacking")
			if nackErr := w.queue.Nack(context.WithoutCancel(ctx), msg.ID); nackErr != nil {
				w.logger.Error().Err(nackErr).Int64("message", msg.ID).Msg("failed to nack")
			}
			metrics.RecordDeleteProcessed("nack")
			continue
		}

		if ackErr := w.queue.Ack(context.WithoutCancel(ctx), msg.ID); ackErr != nil {
			w.logger.Error().Err(ackErr).Int64("message", msg.ID).Msg("failed to ack")
		}
		metrics.RecordDeleteProcessed("ack")
	}
}

// Process performs the delete workflow for one message. Idempotent and
// retryable: returns nil to ack, non-nil to trigger redelivery/DLQ.
func (w *Worker) Process(ctx context.Context, msg *deletequeue.DeleteTaskMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	task, err := w.store.GetTaskByUUID(ctx, msg.TaskUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.logger.Info().Str("task", msg.TaskUUID).Msg("task already deleted, acking")
			return nil
		}
		return err
	}

	w.logger.Info().
		Str("task", task.UUID).
		Str("name", task.Name).
		Msg("starting task delete")

	if w.scheduler != nil {
		w.scheduler.Unregister(task.UUID)
	}

	if err := w.store.DeleteTask(ctx, task.UUID); err != nil {
		// Mark as DELETE_FAILED for observability; the nack retries later.
		if updateErr := w.store.UpdateTaskStatus(ctx, task.UUID, store.TaskStatusDeleteFailed); updateErr != nil {
			w.logger.Error().Err(updateErr).Str("task", task.UUID).Msg("failed to mark task DELETE_FAILED")
		}
		return err
	}

	if w.publisher != nil {
		w.publisher.Publish(events.Event{
			Type:    events.TaskDeleted,
			Payload: events.TaskDeletedPayload{TaskUUID: task.UUID},
		})
	}

	w.logger.Info().Str("task", task.UUID).Msg("task deleted")
	return nil
}

func (w *Worker) updateDepthGauge(ctx context.Context) {
	depth, err := w.queue.Depth(ctx)
	if err != nil {
		return
	}
	metrics.SetDeleteQueueDepth(depth)
}
