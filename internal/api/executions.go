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
	"net/http"
	"time"

	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

// ListTaskExecutions handles
// GET /api/v1/projects/{project_uuid}/tasks/{task_uuid}/executions
func (h *Handlers) ListTaskExecutions(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	task, ok := h.loadTask(w, r, project)
	if !ok {
		return
	}

	page, pageSize, err := parsePagination(r)
	if err != nil {
		respondError(w, err)
		return
	}

	date := r.URL.Query().Get("date")
	if date != "" {
		if _, perr := time.Parse("2006-01-02", date); perr != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "date must be YYYY-MM-DD")
			return
		}
	}

	execs, total, err := h.store.ListExecutionsByTask(r.Context(), task.UUID, store.ExecutionQuery{
		Date:   date,
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	items := make([]ExecutionResponse, 0, len(execs))
	for i := range execs {
		items = append(items, toExecutionResponse(&execs[i]))
	}

	writeJSON(w, http.StatusOK, paginated(items, page, pageSize, total))
}

// statsSince returns the YYYY-MM-DD lower bound for a days window ending today (UTC)
func statsSince(days int) string {
	return time.Now().UTC().AddDate(0, 0, -(days - 1)).Format("2006-01-02")
}

// GetFailedStats handles GET /api/v1/projects/{project_uuid}/executions/failed-stats
func (h *Handlers) GetFailedStats(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	days, err := parseDays(r)
	if err != nil {
		respondError(w, err)
		return
	}

	stats, err := h.store.GetDailyStats(r.Context(), project.UUID, statsSince(days))
	if err != nil {
		respondError(w, err)
		return
	}

	rows := make([]FailedStatsRow, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, FailedStatsRow{Date: s.Date, Count: s.Failures})
	}

	writeJSON(w, http.StatusOK, DataResponse{Data: StatsEnvelope{Stats: rows}})
}

// GetStats handles GET /api/v1/projects/{project_uuid}/executions/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	days, err := parseDays(r)
	if err != nil {
		respondError(w, err)
		return
	}

	stats, err := h.store.GetDailyStats(r.Context(), project.UUID, statsSince(days))
	if err != nil {
		respondError(w, err)
		return
	}

	rows := make([]StatsRow, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, StatsRow{
			Date:     s.Date,
			Success:  s.Success,
			Failures: s.Failures,
			Total:    s.Total,
		})
	}

	writeJSON(w, http.StatusOK, DataResponse{Data: StatsEnvelope{Stats: rows}})
}
