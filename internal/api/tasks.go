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

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/iLLeniumStudios/cron-observer/internal/cronexpr"
	"github.com/iLLeniumStudios/cron-observer/internal/errs"
	"github.com/iLLeniumStudios/cron-observer/internal/events"
	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

// validateTaskRequest checks the shared invariants of create and update.
// Only ACTIVE and DISABLED are accepted from clients; PENDING_DELETE and
// DELETE_FAILED are backend-only.
func (h *Handlers) validateTaskRequest(r *http.Request, project *store.Project, req *TaskRequest) error {
	if req.Name == "" {
		return errs.New(errs.KindValidation, "name is required")
	}
	if len(req.Name) > 255 {
		return errs.New(errs.KindValidation, "name must be at most 255 characters")
	}
	if req.ScheduleType != store.ScheduleTypeRecurring && req.ScheduleType != store.ScheduleTypeOneOff {
		return errs.Newf(errs.KindValidation, "invalid schedule_type %q", req.ScheduleType)
	}
	if req.Status != "" && req.Status != store.TaskStatusActive && req.Status != store.TaskStatusDisabled {
		return errs.Newf(errs.KindValidation, "invalid status %q", req.Status)
	}
	if err := cronexpr.ValidateTimezone(req.ScheduleConfig.Timezone); err != nil {
		return errs.Wrap(errs.KindValidation, "invalid timezone", err)
	}
	if req.ScheduleConfig.CronExpression != "" {
		if err := cronexpr.Validate(req.ScheduleConfig.CronExpression); err != nil {
			return errs.Wrap(errs.KindValidation, "invalid cron expression", err)
		}
	} else if req.Status == "" || req.Status == store.TaskStatusActive {
		return errs.New(errs.KindValidation, "cron_expression is required for ACTIVE tasks")
	}
	for _, d := range req.ScheduleConfig.DaysOfWeek {
		if d < 0 || d > 6 {
			return errs.Newf(errs.KindValidation, "invalid day_of_week %d", d)
		}
	}
	for _, ex := range req.ScheduleConfig.Exclusions {
		if _, err := time.Parse("2006-01-02", ex); err != nil {
			return errs.Newf(errs.KindValidation, "invalid exclusion date %q", ex)
		}
	}
	if req.TimeoutSeconds < 0 {
		return errs.New(errs.KindValidation, "timeout_seconds must be non-negative")
	}
	if req.TriggerConfig != nil {
		if req.TriggerConfig.Type != store.TriggerKindHTTP {
			return errs.Newf(errs.KindValidation, "unsupported trigger type %q", req.TriggerConfig.Type)
		}
		if req.TriggerConfig.HTTP == nil || req.TriggerConfig.HTTP.URL == "" {
			return errs.New(errs.KindValidation, "http trigger requires a url")
		}
	} else if project.ExecutionEndpoint == "" {
		return errs.New(errs.KindValidation, "trigger_config is required when the project has no execution_endpoint")
	}
	if req.TaskGroupUUID != "" {
		group, err := h.store.GetTaskGroupByUUID(r.Context(), req.TaskGroupUUID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errs.Newf(errs.KindValidation, "task group %s not found", req.TaskGroupUUID)
			}
			return err
		}
		if group.ProjectUUID != project.UUID {
			return errs.Newf(errs.KindValidation, "task group %s belongs to another project", req.TaskGroupUUID)
		}
	}
	return nil
}

// loadTask resolves the task_uuid path parameter and checks project ownership
func (h *Handlers) loadTask(w http.ResponseWriter, r *http.Request, project *store.Project) (*store.Task, bool) {
	taskUUID := chi.URLParam(r, "task_uuid")
	task, err := h.store.GetTaskByUUID(r.Context(), taskUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "task "+taskUUID+" not found")
		} else {
			respondError(w, err)
		}
		return nil, false
	}
	if task.ProjectUUID != project.UUID {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "task "+taskUUID+" not found in project")
		return nil, false
	}
	return task, true
}

// ListTasks handles GET /api/v1/projects/{project_uuid}/tasks
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	page, pageSize, err := parsePagination(r)
	if err != nil {
		respondError(w, err)
		return
	}

	tasks, total, err := h.store.ListTasks(r.Context(), project.UUID, pageSize, (page-1)*pageSize)
	if err != nil {
		respondError(w, err)
		return
	}

	items := make([]TaskResponse, 0, len(tasks))
	for i := range tasks {
		items = append(items, toTaskResponse(&tasks[i]))
	}

	writeJSON(w, http.StatusOK, paginated(items, page, pageSize, total))
}

// CreateTask handles POST /api/v1/projects/{project_uuid}/tasks
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	if !h.requireProjectAdmin(w, r, project) {
		return
	}

	var req TaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := h.validateTaskRequest(r, project, &req); err != nil {
		respondError(w, err)
		return
	}

	status := req.Status
	if status == "" {
		status = store.TaskStatusActive
	}

	task := &store.Task{
		UUID:           uuid.New().String(),
		ProjectUUID:    project.UUID,
		Name:           req.Name,
		Description:    req.Description,
		ScheduleType:   req.ScheduleType,
		Status:         status,
		State:          store.RunStateNotRunning,
		TimeoutSeconds: req.TimeoutSeconds,
		Metadata:       string(req.Metadata),
	}
	if req.TaskGroupUUID != "" {
		groupUUID := req.TaskGroupUUID
		task.TaskGroupUUID = &groupUUID
	}
	applyScheduleConfig(&task.ScheduleConfig, &req.ScheduleConfig)
	applyTriggerConfig(&task.TriggerConfig, req.TriggerConfig)

	if err := h.store.CreateTask(r.Context(), task); err != nil {
		respondError(w, err)
		return
	}

	h.bus.Publish(events.Event{
		Type:    events.TaskCreated,
		Payload: events.TaskPayload{Task: task},
	})

	writeJSON(w, http.StatusCreated, toTaskResponse(task))
}

// UpdateTask handles PUT /api/v1/projects/{project_uuid}/tasks/{task_uuid}
func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	if !h.requireProjectAdmin(w, r, project) {
		return
	}
	existing, ok := h.loadTask(w, r, project)
	if !ok {
		return
	}

	// A task scheduled for deletion accepts no further user mutations.
	if existing.Status == store.TaskStatusPendingDelete {
		writeError(w, http.StatusConflict, "CONFLICT", "task "+existing.UUID+" is pending deletion")
		return
	}

	var req TaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := h.validateTaskRequest(r, project, &req); err != nil {
		respondError(w, err)
		return
	}

	status := req.Status
	if status == "" {
		status = existing.Status
	}

	task := *existing
	task.Name = req.Name
	task.Description = req.Description
	task.ScheduleType = req.ScheduleType
	task.Status = status
	task.TimeoutSeconds = req.TimeoutSeconds
	task.Metadata = string(req.Metadata)
	task.UpdatedAt = time.Now().UTC()
	if req.TaskGroupUUID != "" {
		groupUUID := req.TaskGroupUUID
		task.TaskGroupUUID = &groupUUID
	}
	applyScheduleConfig(&task.ScheduleConfig, &req.ScheduleConfig)
	if req.TriggerConfig != nil {
		applyTriggerConfig(&task.TriggerConfig, req.TriggerConfig)
	}
	if status == store.TaskStatusDisabled {
		task.State = store.RunStateNotRunning
	}

	if err := h.store.UpdateTask(r.Context(), &task); err != nil {
		respondError(w, err)
		return
	}

	// The scheduler re-registers from the event; DISABLED unregisters.
	h.bus.Publish(events.Event{
		Type:    events.TaskUpdated,
		Payload: events.TaskPayload{Task: &task},
	})

	writeJSON(w, http.StatusOK, toTaskResponse(&task))
}

// UpdateTaskStatus handles PATCH /api/v1/projects/{project_uuid}/tasks/{task_uuid}/status
func (h *Handlers) UpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	if !h.requireProjectAdmin(w, r, project) {
		return
	}
	task, ok := h.loadTask(w, r, project)
	if !ok {
		return
	}

	var req TaskStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Status != store.TaskStatusActive && req.Status != store.TaskStatusDisabled {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "status must be ACTIVE or DISABLED")
		return
	}
	if task.Status == store.TaskStatusPendingDelete {
		writeError(w, http.StatusConflict, "CONFLICT", "task "+task.UUID+" is pending deletion")
		return
	}

	if task.Status == req.Status {
		writeJSON(w, http.StatusOK, toTaskResponse(task))
		return
	}

	task.Status = req.Status
	if req.Status == store.TaskStatusDisabled {
		task.State = store.RunStateNotRunning
	}
	task.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateTask(r.Context(), task); err != nil {
		respondError(w, err)
		return
	}

	if req.Status == store.TaskStatusDisabled {
		h.scheduler.Unregister(task.UUID)
	} else if err := h.scheduler.Register(task); err != nil {
		h.logger.Error().Err(err).Str("task", task.UUID).Msg("failed to register task after status change")
	}

	h.bus.Publish(events.Event{
		Type:    events.TaskUpdated,
		Payload: events.TaskPayload{Task: task},
	})

	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

// DeleteTask handles DELETE /api/v1/projects/{project_uuid}/tasks/{task_uuid}.
// Deletion is asynchronous: the task is marked PENDING_DELETE and a message
// is enqueued for the delete worker. Responds 202.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	if !h.requireProjectAdmin(w, r, project) {
		return
	}

	ctx := r.Context()
	taskUUID := chi.URLParam(r, "task_uuid")

	// Idempotent: if the task is already gone, treat as success.
	task, err := h.store.GetTaskByUUID(ctx, taskUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusAccepted, DeleteTaskResponse{
				Status:   "ALREADY_DELETED",
				TaskUUID: taskUUID,
				Message:  "Task already deleted or not found",
			})
			return
		}
		respondError(w, err)
		return
	}
	if task.ProjectUUID != project.UUID {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "task "+taskUUID+" not found in project")
		return
	}

	previousStatus := task.Status
	if err := h.store.UpdateTaskStatus(ctx, taskUUID, store.TaskStatusPendingDelete); err != nil {
		respondError(w, err)
		return
	}

	if err := h.deleteQueue.Publish(ctx, task.UUID, project.UUID, time.Now().UTC()); err != nil {
		h.logger.Error().Err(err).Str("task", taskUUID).Msg("failed to enqueue delete message")
		// Roll the status back so the task stays usable.
		_ = h.store.UpdateTaskStatus(ctx, taskUUID, previousStatus)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to enqueue delete job")
		return
	}

	writeJSON(w, http.StatusAccepted, DeleteTaskResponse{
		Status:   string(store.TaskStatusPendingDelete),
		TaskUUID: taskUUID,
		Message:  "Task deletion has been scheduled",
	})
}

// TriggerTask handles POST /api/v1/projects/{project_uuid}/tasks/{task_uuid}/trigger
func (h *Handlers) TriggerTask(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	task, ok := h.loadTask(w, r, project)
	if !ok {
		return
	}

	exec, err := h.lifecycle.TriggerManual(r.Context(), task.UUID)
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, DataResponse{Data: TriggerResponse{
		ExecutionUUID: exec.UUID,
		TaskUUID:      task.UUID,
		Status:        string(exec.Status),
		TriggerType:   string(exec.TriggerType),
		ScheduledAt:   exec.ScheduledAt.UTC(),
		Message:       "Execution created successfully",
	}})
}
