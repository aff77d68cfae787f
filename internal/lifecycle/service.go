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

// Package lifecycle implements the execution status state machine, log
// ingestion and the timeout watchdog.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iLLeniumStudios/cron-observer/internal/errs"
	"github.com/iLLeniumStudios/cron-observer/internal/events"
	"github.com/iLLeniumStudios/cron-observer/internal/metrics"
	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

const (
	// MaxLogsPerExecution caps the total log entries kept per execution
	MaxLogsPerExecution = 10000
	// MaxLogsPerBatch caps a single append call
	MaxLogsPerBatch = 1000

	timeoutError = "timeout"
)

// allowedTransitions is the execution status machine. Absent pairs are
// rejected with InvalidStateTransition.
var allowedTransitions = map[store.ExecutionStatus]map[store.ExecutionStatus]bool{
	store.ExecutionStatusPending: {
		store.ExecutionStatusRunning:   true,
		store.ExecutionStatusCancelled: true,
	},
	store.ExecutionStatusRunning: {
		store.ExecutionStatusSuccess:   true,
		store.ExecutionStatusFailed:    true,
		store.ExecutionStatusCancelled: true,
	},
}

// CanTransition reports whether from -> to is a legal status change
func CanTransition(from, to store.ExecutionStatus) bool {
	return allowedTransitions[from][to]
}

// Triggerer is the minimal scheduler interface needed for manual triggers
type Triggerer interface {
	Trigger(ctx context.Context, taskUUID string) (*store.Execution, error)
}

// StatusPayload carries the optional fields of a status update
type StatusPayload struct {
	ResponseStatus *int
	Error          string
}

// Service validates status transitions, stamps timestamps, appends logs and
// publishes terminal-transition events for the aggregator.
type Service struct {
	store     store.Store
	bus       events.Publisher
	triggerer Triggerer
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates a lifecycle service
func NewService(st store.Store, bus events.Publisher, triggerer Triggerer, logger zerolog.Logger) *Service {
	return &Service{
		store:     st,
		bus:       bus,
		triggerer: triggerer,
		logger:    logger.With().Str("component", "lifecycle").Logger(),
		now:       time.Now,
	}
}

// ClaimPending returns PENDING executions for a task ordered by
// scheduled_at ASC. Read-only: the executor transitions them to RUNNING
// explicitly.
func (s *Service) ClaimPending(ctx context.Context, taskUUID string, limit int) ([]store.Execution, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	if _, err := s.store.GetTaskByUUID(ctx, taskUUID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.Newf(errs.KindNotFound, "task %s not found", taskUUID)
		}
		return nil, err
	}

	return s.store.GetPendingExecutions(ctx, taskUUID, limit)
}

// UpdateStatus validates and applies a status transition with optimistic
// concurrency: compare-and-set against the status just read, retried once
// on a concurrent change. A SUCCESS or FAILED report past the task's
// timeout is forced to FAILED; a CANCELLED report is kept as CANCELLED.
func (s *Service) UpdateStatus(ctx context.Context, executionUUID string, newStatus store.ExecutionStatus, payload StatusPayload) (*store.Execution, error) {
	for attempt := 0; attempt < 2; attempt++ {
		exec, err := s.store.GetExecutionByUUID(ctx, executionUUID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errs.Newf(errs.KindNotFound, "execution %s not found", executionUUID)
			}
			return nil, err
		}

		if !CanTransition(exec.Status, newStatus) {
			return nil, errs.Newf(errs.KindInvalidStateTransition,
				"invalid status transition %s -> %s for execution %s", exec.Status, newStatus, executionUUID)
		}

		target := newStatus
		upd, forcedTimeout := s.buildUpdate(ctx, exec, &target, payload)

		ok, err := s.store.UpdateExecutionStatusCAS(ctx, executionUUID, exec.Status, target, upd)
		if err != nil {
			return nil, fmt.Errorf("updating execution %s status: %w", executionUUID, err)
		}
		if !ok {
			// Someone transitioned concurrently; re-read and retry once.
			continue
		}

		updated, err := s.store.GetExecutionByUUID(ctx, executionUUID)
		if err != nil {
			return nil, err
		}

		metrics.RecordTransition(string(target))
		s.publishTerminal(updated)
		if forcedTimeout {
			s.logger.Warn().
				Str("execution", executionUUID).
				Msg("terminal report past task timeout, forced FAILED")
		}
		return updated, nil
	}

	return nil, errs.Newf(errs.KindConflict,
		"execution %s status changed concurrently", executionUUID)
}

// buildUpdate computes the stamped fields for a transition. It may rewrite
// the target status to FAILED when the task timeout has elapsed.
func (s *Service) buildUpdate(ctx context.Context, exec *store.Execution, target *store.ExecutionStatus, payload StatusPayload) (store.ExecutionStatusUpdate, bool) {
	now := s.now().UTC()
	upd := store.ExecutionStatusUpdate{}
	forcedTimeout := false

	if exec.Status == store.ExecutionStatusPending && *target == store.ExecutionStatusRunning {
		upd.StartedAt = &now
	}

	if target.IsTerminal() {
		upd.EndedAt = &now
		if exec.StartedAt != nil {
			duration := now.Sub(*exec.StartedAt).Milliseconds()
			upd.DurationMillis = &duration

			if *target == store.ExecutionStatusSuccess || *target == store.ExecutionStatusFailed {
				if timedOut, timeoutMsg := s.taskTimedOut(ctx, exec, now); timedOut {
					*target = store.ExecutionStatusFailed
					upd.Error = &timeoutMsg
					forcedTimeout = true
				}
			}
		}
	}

	if !forcedTimeout {
		if *target == store.ExecutionStatusFailed && payload.Error != "" {
			errMsg := payload.Error
			upd.Error = &errMsg
		}
	}
	if payload.ResponseStatus != nil {
		upd.ResponseStatus = payload.ResponseStatus
	}

	return upd, forcedTimeout
}

// taskTimedOut reports whether the execution ran longer than its task's
// timeout_seconds
func (s *Service) taskTimedOut(ctx context.Context, exec *store.Execution, now time.Time) (bool, string) {
	if exec.StartedAt == nil {
		return false, ""
	}
	task, err := s.store.GetTaskByUUID(ctx, exec.TaskUUID)
	if err != nil || task.TimeoutSeconds <= 0 {
		return false, ""
	}
	if now.Sub(*exec.StartedAt) > time.Duration(task.TimeoutSeconds)*time.Second {
		return true, timeoutError
	}
	return false, ""
}

// ForceTimeout fails a RUNNING execution whose timeout has elapsed. Used by
// the watchdog; a no-op if the execution is no longer RUNNING.
func (s *Service) ForceTimeout(ctx context.Context, exec *store.Execution, timeoutSeconds int) error {
	now := s.now().UTC()
	errMsg := timeoutError
	upd := store.ExecutionStatusUpdate{
		EndedAt: &now,
		Error:   &errMsg,
	}
	if exec.StartedAt != nil {
		duration := now.Sub(*exec.StartedAt).Milliseconds()
		upd.DurationMillis = &duration
	}

	ok, err := s.store.UpdateExecutionStatusCAS(ctx, exec.UUID, store.ExecutionStatusRunning, store.ExecutionStatusFailed, upd)
	if err != nil {
		return fmt.Errorf("forcing timeout on execution %s: %w", exec.UUID, err)
	}
	if !ok {
		return nil
	}

	metrics.RecordTransition(string(store.ExecutionStatusFailed))

	updated, err := s.store.GetExecutionByUUID(ctx, exec.UUID)
	if err != nil {
		return err
	}
	s.publishTerminal(updated)
	s.bus.Publish(events.Event{
		Type: events.ExecutionTimedOut,
		Payload: events.ExecutionTimedOutPayload{
			ExecutionUUID:  exec.UUID,
			TaskUUID:       exec.TaskUUID,
			TimeoutSeconds: timeoutSeconds,
			DetectedAt:     now,
		},
	})

	s.logger.Warn().
		Str("execution", exec.UUID).
		Str("task", exec.TaskUUID).
		Int("timeout_seconds", timeoutSeconds).
		Msg("execution timed out")
	return nil
}

// AppendLogs appends entries to a non-terminal execution, preserving
// caller-supplied timestamps and stamping missing ones
func (s *Service) AppendLogs(ctx context.Context, executionUUID string, entries []store.ExecutionLog) error {
	if len(entries) == 0 {
		return nil
	}
	if len(entries) > MaxLogsPerBatch {
		return errs.Newf(errs.KindValidation, "log batch exceeds %d entries", MaxLogsPerBatch)
	}

	exec, err := s.store.GetExecutionByUUID(ctx, executionUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.Newf(errs.KindNotFound, "execution %s not found", executionUUID)
		}
		return err
	}
	if exec.Status.IsTerminal() {
		return errs.Newf(errs.KindInvalidStateTransition,
			"execution %s is %s, logs are closed", executionUUID, exec.Status)
	}

	count, err := s.store.CountExecutionLogs(ctx, executionUUID)
	if err != nil {
		return err
	}
	if count+int64(len(entries)) > MaxLogsPerExecution {
		return errs.Newf(errs.KindValidation,
			"execution %s log limit of %d entries reached", executionUUID, MaxLogsPerExecution)
	}

	now := s.now().UTC()
	for i := range entries {
		if entries[i].Timestamp.IsZero() {
			entries[i].Timestamp = now
		}
		if entries[i].Level == "" {
			entries[i].Level = store.LogLevelInfo
		}
		if !store.ValidLogLevel(entries[i].Level) {
			return errs.Newf(errs.KindValidation, "invalid log level %q", entries[i].Level)
		}
	}

	return s.store.AppendExecutionLogs(ctx, executionUUID, entries)
}

// TriggerManual defers to the schedule engine's Trigger
func (s *Service) TriggerManual(ctx context.Context, taskUUID string) (*store.Execution, error) {
	return s.triggerer.Trigger(ctx, taskUUID)
}

func (s *Service) publishTerminal(exec *store.Execution) {
	switch exec.Status {
	case store.ExecutionStatusSuccess:
		s.bus.Publish(events.Event{
			Type:    events.ExecutionSucceeded,
			Payload: events.ExecutionResultPayload{Execution: exec},
		})
	case store.ExecutionStatusFailed:
		s.bus.Publish(events.Event{
			Type:    events.ExecutionFailed,
			Payload: events.ExecutionResultPayload{Execution: exec},
		})
	}
}
