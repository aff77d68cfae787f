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

// validateTaskGroupRequest checks the shared invariants of create and update
func validateTaskGroupRequest(req *TaskGroupRequest) error {
	if req.Name == "" {
		return errs.New(errs.KindValidation, "name is required")
	}
	if len(req.Name) > 255 {
		return errs.New(errs.KindValidation, "name must be at most 255 characters")
	}
	if err := cronexpr.ValidateTimezone(req.Timezone); err != nil {
		return errs.Wrap(errs.KindValidation, "invalid timezone", err)
	}
	if req.Status != "" && req.Status != store.TaskGroupStatusActive && req.Status != store.TaskGroupStatusDisabled {
		return errs.Newf(errs.KindValidation, "invalid status %q", req.Status)
	}
	if (req.StartTime == "") != (req.EndTime == "") {
		return errs.New(errs.KindValidation, "start_time and end_time must be set together")
	}
	for _, t := range []string{req.StartTime, req.EndTime} {
		if t == "" {
			continue
		}
		if _, err := time.Parse("15:04", t); err != nil {
			return errs.Newf(errs.KindValidation, "invalid HH:MM time %q", t)
		}
	}
	return nil
}

// loadTaskGroup resolves the group_uuid path parameter and checks project ownership
func (h *Handlers) loadTaskGroup(w http.ResponseWriter, r *http.Request, project *store.Project) (*store.TaskGroup, bool) {
	groupUUID := chi.URLParam(r, "group_uuid")
	group, err := h.store.GetTaskGroupByUUID(r.Context(), groupUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "task group "+groupUUID+" not found")
		} else {
			respondError(w, err)
		}
		return nil, false
	}
	if group.ProjectUUID != project.UUID {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "task group "+groupUUID+" not found in project")
		return nil, false
	}
	return group, true
}

// ListTaskGroups handles GET /api/v1/projects/{project_uuid}/task-groups
func (h *Handlers) ListTaskGroups(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	page, pageSize, err := parsePagination(r)
	if err != nil {
		respondError(w, err)
		return
	}

	groups, total, err := h.store.ListTaskGroups(r.Context(), project.UUID, pageSize, (page-1)*pageSize)
	if err != nil {
		respondError(w, err)
		return
	}

	items := make([]TaskGroupResponse, 0, len(groups))
	for i := range groups {
		items = append(items, toTaskGroupResponse(&groups[i]))
	}

	writeJSON(w, http.StatusOK, paginated(items, page, pageSize, total))
}

// CreateTaskGroup handles POST /api/v1/projects/{project_uuid}/task-groups
func (h *Handlers) CreateTaskGroup(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	if !h.requireProjectAdmin(w, r, project) {
		return
	}

	var req TaskGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := validateTaskGroupRequest(&req); err != nil {
		respondError(w, err)
		return
	}

	status := req.Status
	if status == "" {
		status = store.TaskGroupStatusActive
	}

	group := &store.TaskGroup{
		UUID:        uuid.New().String(),
		ProjectUUID: project.UUID,
		Name:        req.Name,
		Description: req.Description,
		Status:      status,
		State:       store.RunStateNotRunning,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Timezone:    req.Timezone,
	}

	if err := h.store.CreateTaskGroup(r.Context(), group); err != nil {
		respondError(w, err)
		return
	}

	h.bus.Publish(events.Event{
		Type:    events.TaskGroupCreated,
		Payload: events.TaskGroupPayload{TaskGroup: group},
	})

	writeJSON(w, http.StatusCreated, toTaskGroupResponse(group))
}

// UpdateTaskGroup handles PUT /api/v1/projects/{project_uuid}/task-groups/{group_uuid}
func (h *Handlers) UpdateTaskGroup(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	if !h.requireProjectAdmin(w, r, project) {
		return
	}
	group, ok := h.loadTaskGroup(w, r, project)
	if !ok {
		return
	}

	var req TaskGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := validateTaskGroupRequest(&req); err != nil {
		respondError(w, err)
		return
	}

	group.Name = req.Name
	group.Description = req.Description
	if req.Status != "" {
		group.Status = req.Status
	}
	group.StartTime = req.StartTime
	group.EndTime = req.EndTime
	group.Timezone = req.Timezone
	if group.Status == store.TaskGroupStatusDisabled {
		group.State = store.RunStateNotRunning
	}

	if err := h.store.UpdateTaskGroup(r.Context(), group); err != nil {
		respondError(w, err)
		return
	}

	h.bus.Publish(events.Event{
		Type:    events.TaskGroupUpdated,
		Payload: events.TaskGroupPayload{TaskGroup: group},
	})

	writeJSON(w, http.StatusOK, toTaskGroupResponse(group))
}

// DeleteTaskGroup handles DELETE /api/v1/projects/{project_uuid}/task-groups/{group_uuid}
func (h *Handlers) DeleteTaskGroup(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	if !h.requireProjectAdmin(w, r, project) {
		return
	}
	group, ok := h.loadTaskGroup(w, r, project)
	if !ok {
		return
	}

	if err := h.store.DeleteTaskGroup(r.Context(), group.UUID); err != nil {
		respondError(w, err)
		return
	}

	h.bus.Publish(events.Event{
		Type:    events.TaskGroupDeleted,
		Payload: events.TaskGroupDeletedPayload{TaskGroupUUID: group.UUID},
	})

	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "group_uuid": group.UUID})
}

// StartTaskGroup handles POST /api/v1/projects/{project_uuid}/task-groups/{group_uuid}/start
func (h *Handlers) StartTaskGroup(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	if !h.requireProjectAdmin(w, r, project) {
		return
	}
	group, ok := h.loadTaskGroup(w, r, project)
	if !ok {
		return
	}

	if err := h.scheduler.StartGroup(r.Context(), group.UUID); err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"group_uuid": group.UUID, "state": store.RunStateRunning})
}

// StopTaskGroup handles POST /api/v1/projects/{project_uuid}/task-groups/{group_uuid}/stop
func (h *Handlers) StopTaskGroup(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	if !h.requireProjectAdmin(w, r, project) {
		return
	}
	group, ok := h.loadTaskGroup(w, r, project)
	if !ok {
		return
	}

	if err := h.scheduler.StopGroup(r.Context(), group.UUID); err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"group_uuid": group.UUID, "state": store.RunStateNotRunning})
}
