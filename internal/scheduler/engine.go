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

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iLLeniumStudios/cron-observer/internal/cronexpr"
	"github.com/iLLeniumStudios/cron-observer/internal/errs"
	"github.com/iLLeniumStudios/cron-observer/internal/events"
	"github.com/iLLeniumStudios/cron-observer/internal/metrics"
	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

const (
	defaultInsertRetries = 3
	defaultRetryBackoff  = 100 * time.Millisecond
	defaultRequeueDelay  = 1 * time.Second
	defaultStateInterval = 1 * time.Minute
)

// Engine owns the firing heap and produces PENDING executions for every
// ACTIVE task at each of its scheduled firings. A single loop goroutine
// sleeps until the heap root is due; Register/Unregister signal it awake.
// The mutex guards only the heap, never persistence I/O.
type Engine struct {
	store  store.Store
	bus    *events.Bus
	logger zerolog.Logger

	// eventCh is subscribed at construction, so task events published
	// before Start are queued rather than lost.
	eventCh <-chan events.Event

	mu   sync.Mutex
	heap *firingHeap

	wake chan struct{}
	now  func() time.Time

	insertRetries int
	retryBackoff  time.Duration
	requeueDelay  time.Duration
	stateInterval time.Duration
}

// NewEngine creates a schedule engine
func NewEngine(st store.Store, bus *events.Bus, logger zerolog.Logger) *Engine {
	return &Engine{
		store:         st,
		bus:           bus,
		logger:        logger.With().Str("component", "scheduler").Logger(),
		eventCh:       bus.Subscribe(events.TaskCreated, events.TaskUpdated, events.TaskDeleted, events.TaskGroupUpdated, events.TaskGroupDeleted),
		heap:          newFiringHeap(),
		wake:          make(chan struct{}, 1),
		now:           time.Now,
		insertRetries: defaultInsertRetries,
		retryBackoff:  defaultRetryBackoff,
		requeueDelay:  defaultRequeueDelay,
		stateInterval: defaultStateInterval,
	}
}

// SetStateRefreshInterval changes how often group window states are recomputed
func (e *Engine) SetStateRefreshInterval(d time.Duration) {
	e.stateInterval = d
}

// Start runs the scheduler loop until ctx is cancelled. It also starts the
// event listener and the group-state refresher.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info().Msg("scheduler started")

	go e.listenEvents(ctx, e.eventCh)
	go e.refreshLoop(ctx)

	for {
		e.mu.Lock()
		root := e.heap.peek()
		e.mu.Unlock()

		var timer *time.Timer
		var timerC <-chan time.Time
		if root != nil {
			wait := root.FireAt.Sub(e.now())
			if wait <= 0 {
				e.tick(ctx)
				continue
			}
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			e.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-e.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
			e.tick(ctx)
		}
	}
}

// LoadActiveTasks registers every ACTIVE task from the store, for startup
func (e *Engine) LoadActiveTasks(ctx context.Context) error {
	tasks, err := e.store.GetAllActiveTasks(ctx)
	if err != nil {
		return fmt.Errorf("loading active tasks: %w", err)
	}

	e.logger.Info().Int("count", len(tasks)).Msg("loading active tasks into scheduler")

	for i := range tasks {
		task := tasks[i]
		if err := e.Register(&task); err != nil {
			e.logger.Error().Err(err).Str("task", task.UUID).Msg("failed to register task")
		}
	}
	return nil
}

// Register computes the task's next firing from now and inserts it into the
// heap. Idempotent: an existing entry for the task is replaced.
func (e *Engine) Register(task *store.Task) error {
	if task.Status != store.TaskStatusActive {
		return nil
	}
	if task.ScheduleConfig.CronExpression == "" {
		return nil
	}

	next, err := cronexpr.NextAfter(task.ScheduleConfig.CronExpression, task.ScheduleConfig.Timezone, e.now())
	if err != nil {
		return fmt.Errorf("registering task %s: %w", task.UUID, err)
	}

	e.push(&firing{TaskUUID: task.UUID, ScheduledAt: next, FireAt: next})
	e.logger.Debug().
		Str("task", task.UUID).
		Time("next", next).
		Str("cron", task.ScheduleConfig.CronExpression).
		Msg("registered task")
	return nil
}

// Unregister removes the task's heap entry; safe if absent
func (e *Engine) Unregister(taskUUID string) {
	e.mu.Lock()
	removed := e.heap.remove(taskUUID)
	size := e.heap.Len()
	e.mu.Unlock()

	metrics.SetHeapSize(size)
	if removed {
		e.signal()
		e.logger.Debug().Str("task", taskUUID).Msg("unregistered task")
	}
}

// Registered reports whether the task currently has a heap entry
func (e *Engine) Registered(taskUUID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.heap.contains(taskUUID)
}

// Trigger synthesizes a MANUAL PENDING execution immediately, bypassing the
// schedule but still honoring status gates.
func (e *Engine) Trigger(ctx context.Context, taskUUID string) (*store.Execution, error) {
	task, err := e.store.GetTaskByUUID(ctx, taskUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.Newf(errs.KindNotFound, "task %s not found", taskUUID)
		}
		return nil, err
	}
	if task.Status != store.TaskStatusActive {
		return nil, errs.Newf(errs.KindValidation, "task %s is not ACTIVE", taskUUID)
	}

	now := e.now().UTC()
	exec := &store.Execution{
		UUID:        uuid.New().String(),
		TaskUUID:    task.UUID,
		ProjectUUID: task.ProjectUUID,
		Status:      store.ExecutionStatusPending,
		TriggerType: store.TriggerTypeManual,
		ScheduledAt: now,
	}
	exec.DedupeKey = exec.UUID

	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("creating manual execution for task %s: %w", taskUUID, err)
	}

	metrics.RecordExecutionCreated(string(store.TriggerTypeManual))
	e.logger.Info().
		Str("task", task.UUID).
		Str("execution", exec.UUID).
		Msg("manual execution created")
	return exec, nil
}

// StartGroup manually registers all ACTIVE tasks in a group and marks the
// group and its tasks RUNNING
func (e *Engine) StartGroup(ctx context.Context, groupUUID string) error {
	group, err := e.store.GetTaskGroupByUUID(ctx, groupUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.Newf(errs.KindNotFound, "task group %s not found", groupUUID)
		}
		return err
	}
	if group.Status != store.TaskGroupStatusActive {
		return errs.Newf(errs.KindValidation, "task group %s is not ACTIVE", groupUUID)
	}

	tasks, err := e.store.GetTasksByGroupUUID(ctx, groupUUID)
	if err != nil {
		return err
	}

	e.logger.Info().Str("group", groupUUID).Int("tasks", len(tasks)).Msg("manually starting group")

	if err := e.store.UpdateTaskGroupState(ctx, groupUUID, store.RunStateRunning); err != nil {
		e.logger.Error().Err(err).Str("group", groupUUID).Msg("failed to update group state")
	}

	for i := range tasks {
		task := tasks[i]
		if task.Status != store.TaskStatusActive {
			continue
		}
		if err := e.Register(&task); err != nil {
			e.logger.Error().Err(err).Str("task", task.UUID).Msg("failed to register group task")
			continue
		}
		if err := e.store.UpdateTaskState(ctx, task.UUID, store.RunStateRunning); err != nil {
			e.logger.Error().Err(err).Str("task", task.UUID).Msg("failed to update task state")
		}
	}
	return nil
}

// StopGroup manually unregisters all tasks in a group and marks the group
// and its tasks NOT_RUNNING
func (e *Engine) StopGroup(ctx context.Context, groupUUID string) error {
	group, err := e.store.GetTaskGroupByUUID(ctx, groupUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.Newf(errs.KindNotFound, "task group %s not found", groupUUID)
		}
		return err
	}

	tasks, err := e.store.GetTasksByGroupUUID(ctx, group.UUID)
	if err != nil {
		return err
	}

	e.logger.Info().Str("group", groupUUID).Int("tasks", len(tasks)).Msg("manually stopping group")

	if err := e.store.UpdateTaskGroupState(ctx, groupUUID, store.RunStateNotRunning); err != nil {
		e.logger.Error().Err(err).Str("group", groupUUID).Msg("failed to update group state")
	}

	for i := range tasks {
		e.Unregister(tasks[i].UUID)
		if err := e.store.UpdateTaskState(ctx, tasks[i].UUID, store.RunStateNotRunning); err != nil {
			e.logger.Error().Err(err).Str("task", tasks[i].UUID).Msg("failed to update task state")
		}
	}
	return nil
}

// push inserts or replaces a heap entry and wakes the loop
func (e *Engine) push(f *firing) {
	e.mu.Lock()
	e.heap.upsert(f)
	size := e.heap.Len()
	e.mu.Unlock()

	metrics.SetHeapSize(size)
	e.signal()
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// tick processes every due heap entry in heap order. Entries are popped one
// at a time so the mutex is never held across persistence calls.
func (e *Engine) tick(ctx context.Context) {
	for {
		now := e.now()

		e.mu.Lock()
		f := e.heap.popDue(now)
		size := e.heap.Len()
		e.mu.Unlock()

		if f == nil {
			return
		}
		metrics.SetHeapSize(size)

		e.processFiring(ctx, f)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// processFiring runs one firing through the gates and creates the PENDING
// execution. The task row is reloaded to guard against a stale registration
// after a mutation.
func (e *Engine) processFiring(ctx context.Context, f *firing) {
	task, err := e.store.GetTaskByUUID(ctx, f.TaskUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.RecordFiringDropped("task_gone")
			return
		}
		e.logger.Error().Err(err).Str("task", f.TaskUUID).Msg("failed to reload task, requeueing firing")
		e.push(&firing{TaskUUID: f.TaskUUID, ScheduledAt: f.ScheduledAt, FireAt: e.now().Add(e.requeueDelay)})
		return
	}

	if task.Status != store.TaskStatusActive {
		metrics.RecordFiringDropped("status")
		return
	}

	if task.TaskGroupUUID != nil {
		group, err := e.store.GetTaskGroupByUUID(ctx, *task.TaskGroupUUID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			e.logger.Error().Err(err).Str("task", task.UUID).Msg("failed to load task group, requeueing firing")
			e.push(&firing{TaskUUID: f.TaskUUID, ScheduledAt: f.ScheduledAt, FireAt: e.now().Add(e.requeueDelay)})
			return
		}
		if group != nil {
			if group.Status != store.TaskGroupStatusActive {
				metrics.RecordFiringDropped("group_status")
				e.reschedule(task, f.ScheduledAt)
				return
			}
			if !InGroupWindow(group, f.ScheduledAt) {
				metrics.RecordFiringDropped("window")
				e.logger.Debug().
					Str("task", task.UUID).
					Time("firing", f.ScheduledAt).
					Msg("firing outside group window, skipping")
				e.reschedule(task, f.ScheduledAt)
				return
			}
		}
	}

	if !dayAllowed(&task.ScheduleConfig, f.ScheduledAt) || dateExcluded(&task.ScheduleConfig, f.ScheduledAt) {
		metrics.RecordFiringDropped("calendar")
		e.reschedule(task, f.ScheduledAt)
		return
	}

	if e.createScheduledExecution(ctx, task, f) {
		e.reschedule(task, f.ScheduledAt)
	}
}

// createScheduledExecution inserts the PENDING execution with retries.
// Returns true when the firing is settled (created or deduped) and the task
// should be rescheduled; false when the firing was requeued.
func (e *Engine) createScheduledExecution(ctx context.Context, task *store.Task, f *firing) bool {
	exec := &store.Execution{
		UUID:        uuid.New().String(),
		TaskUUID:    task.UUID,
		ProjectUUID: task.ProjectUUID,
		Status:      store.ExecutionStatusPending,
		TriggerType: store.TriggerTypeScheduled,
		ScheduledAt: f.ScheduledAt.UTC(),
		DedupeKey:   store.ScheduledDedupeKey(task.UUID, f.ScheduledAt),
	}

	var err error
	for attempt := 0; attempt < e.insertRetries; attempt++ {
		err = e.store.CreateExecution(ctx, exec)
		if err == nil {
			metrics.RecordExecutionCreated(string(store.TriggerTypeScheduled))
			e.logger.Info().
				Str("task", task.UUID).
				Str("execution", exec.UUID).
				Time("scheduled_at", exec.ScheduledAt).
				Msg("scheduled execution created")
			return true
		}
		if errors.Is(err, store.ErrDuplicate) {
			metrics.RecordFiringDropped("duplicate")
			e.logger.Warn().
				Str("task", task.UUID).
				Time("scheduled_at", exec.ScheduledAt).
				Msg("duplicate scheduled execution, dropping firing")
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		time.Sleep(e.retryBackoff)
	}

	e.logger.Error().Err(err).
		Str("task", task.UUID).
		Time("scheduled_at", f.ScheduledAt).
		Msg("failed to create execution, requeueing firing")
	e.push(&firing{TaskUUID: f.TaskUUID, ScheduledAt: f.ScheduledAt, FireAt: e.now().Add(e.requeueDelay)})
	return false
}

// reschedule registers the next firing strictly after the one just
// processed, so closely spaced firings are never skipped. One-off tasks are
// not rescheduled.
func (e *Engine) reschedule(task *store.Task, after time.Time) {
	if task.ScheduleType == store.ScheduleTypeOneOff {
		return
	}

	next, err := cronexpr.NextAfter(task.ScheduleConfig.CronExpression, task.ScheduleConfig.Timezone, after)
	if err != nil {
		e.logger.Error().Err(err).Str("task", task.UUID).Msg("failed to compute next firing")
		return
	}
	e.push(&firing{TaskUUID: task.UUID, ScheduledAt: next, FireAt: next})
}

// listenEvents invalidates heap registrations on task and group mutations
func (e *Engine) listenEvents(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			e.handleEvent(ctx, ev)
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev events.Event) {
	switch ev.Type {
	case events.TaskCreated:
		payload, ok := ev.Payload.(events.TaskPayload)
		if !ok {
			e.logger.Error().Str("type", string(ev.Type)).Msg("invalid event payload")
			return
		}
		if err := e.Register(payload.Task); err != nil {
			e.logger.Error().Err(err).Str("task", payload.Task.UUID).Msg("failed to register created task")
		}

	case events.TaskUpdated:
		payload, ok := ev.Payload.(events.TaskPayload)
		if !ok {
			e.logger.Error().Str("type", string(ev.Type)).Msg("invalid event payload")
			return
		}
		e.Unregister(payload.Task.UUID)
		if err := e.Register(payload.Task); err != nil {
			e.logger.Error().Err(err).Str("task", payload.Task.UUID).Msg("failed to register updated task")
		}

	case events.TaskDeleted:
		payload, ok := ev.Payload.(events.TaskDeletedPayload)
		if !ok {
			e.logger.Error().Str("type", string(ev.Type)).Msg("invalid event payload")
			return
		}
		e.Unregister(payload.TaskUUID)

	case events.TaskGroupUpdated, events.TaskGroupDeleted:
		// Window gating is evaluated per firing; only the derived states
		// need a refresh.
		e.refreshGroupStates(ctx)
	}
}

// refreshLoop periodically recomputes group and member task run states from
// their windows
func (e *Engine) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(e.stateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshGroupStates(ctx)
		}
	}
}

func (e *Engine) refreshGroupStates(ctx context.Context) {
	groups, err := e.store.GetActiveTaskGroupsWithWindows(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to list groups for state refresh")
		return
	}

	now := e.now()
	for i := range groups {
		group := groups[i]
		want := store.RunStateNotRunning
		if InGroupWindow(&group, now) {
			want = store.RunStateRunning
		}
		if group.State == want {
			continue
		}

		if err := e.store.UpdateTaskGroupState(ctx, group.UUID, want); err != nil {
			e.logger.Error().Err(err).Str("group", group.UUID).Msg("failed to update group state")
			continue
		}

		tasks, err := e.store.GetTasksByGroupUUID(ctx, group.UUID)
		if err != nil {
			e.logger.Error().Err(err).Str("group", group.UUID).Msg("failed to list group tasks")
			continue
		}
		for j := range tasks {
			if tasks[j].Status != store.TaskStatusActive {
				continue
			}
			if err := e.store.UpdateTaskState(ctx, tasks[j].UUID, want); err != nil {
				e.logger.Error().Err(err).Str("task", tasks[j].UUID).Msg("failed to update task state")
			}
		}

		e.logger.Info().
			Str("group", group.UUID).
			Str("state", string(want)).
			Msg("group window state changed")
	}
}
