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
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iLLeniumStudios/cron-observer/internal/lifecycle"
	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

// sdkProject pulls the API-key-resolved project from the request context
func sdkProject(w http.ResponseWriter, r *http.Request) (*store.Project, bool) {
	project, ok := ProjectFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing API key context")
		return nil, false
	}
	return project, true
}

// GetPendingExecutions handles GET /api/v1/sdk/tasks/{task_uuid}/executions/pending.
// Returns claim candidates ordered by scheduled_at; the executor transitions
// each to RUNNING explicitly via the status endpoint.
func (h *Handlers) GetPendingExecutions(w http.ResponseWriter, r *http.Request) {
	project, ok := sdkProject(w, r)
	if !ok {
		return
	}

	taskUUID := chi.URLParam(r, "task_uuid")
	task, err := h.store.GetTaskByUUID(r.Context(), taskUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "task "+taskUUID+" not found")
		} else {
			respondError(w, err)
		}
		return
	}
	if task.ProjectUUID != project.UUID {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "task "+taskUUID+" belongs to another project")
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, perr := strconv.Atoi(raw)
		if perr != nil || parsed < 1 || parsed > 100 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be in [1,100]")
			return
		}
		limit = parsed
	}

	execs, err := h.lifecycle.ClaimPending(r.Context(), task.UUID, limit)
	if err != nil {
		respondError(w, err)
		return
	}

	items := make([]ExecutionResponse, 0, len(execs))
	for i := range execs {
		items = append(items, toExecutionResponse(&execs[i]))
	}

	writeJSON(w, http.StatusOK, DataResponse{Data: items})
}

// sdkExecution resolves the execution_uuid path parameter and checks the
// project scope of the presented API key
func (h *Handlers) sdkExecution(w http.ResponseWriter, r *http.Request, project *store.Project) (*store.Execution, bool) {
	executionUUID := chi.URLParam(r, "execution_uuid")
	exec, err := h.store.GetExecutionByUUID(r.Context(), executionUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "execution "+executionUUID+" not found")
		} else {
			respondError(w, err)
		}
		return nil, false
	}
	if exec.ProjectUUID != project.UUID {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "execution "+executionUUID+" belongs to another project")
		return nil, false
	}
	return exec, true
}

// UpdateExecutionStatus handles PUT /api/v1/sdk/executions/{execution_uuid}/status
func (h *Handlers) UpdateExecutionStatus(w http.ResponseWriter, r *http.Request) {
	project, ok := sdkProject(w, r)
	if !ok {
		return
	}
	exec, ok := h.sdkExecution(w, r, project)
	if !ok {
		return
	}

	var req ExecutionStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	switch req.Status {
	case store.ExecutionStatusRunning, store.ExecutionStatusSuccess,
		store.ExecutionStatusFailed, store.ExecutionStatusCancelled:
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid status "+string(req.Status))
		return
	}

	updated, err := h.lifecycle.UpdateStatus(r.Context(), exec.UUID, req.Status, lifecycle.StatusPayload{
		ResponseStatus: req.Result,
		Error:          req.Error,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DataResponse{Data: toExecutionResponse(updated)})
}

// AppendExecutionLogs handles POST /api/v1/sdk/executions/{execution_uuid}/logs
func (h *Handlers) AppendExecutionLogs(w http.ResponseWriter, r *http.Request) {
	project, ok := sdkProject(w, r)
	if !ok {
		return
	}
	exec, ok := h.sdkExecution(w, r, project)
	if !ok {
		return
	}

	var req AppendLogsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if len(req.Logs) == 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "logs must not be empty")
		return
	}

	entries := make([]store.ExecutionLog, 0, len(req.Logs))
	for _, l := range req.Logs {
		entry := store.ExecutionLog{
			Level:    l.Level,
			Message:  l.Message,
			Metadata: string(l.Metadata),
		}
		if l.Timestamp != nil {
			entry.Timestamp = l.Timestamp.UTC()
		}
		entries = append(entries, entry)
	}

	if err := h.lifecycle.AppendLogs(r.Context(), exec.UUID, entries); err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"appended": len(entries)})
}
