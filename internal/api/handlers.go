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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iLLeniumStudios/cron-observer/internal/deletequeue"
	"github.com/iLLeniumStudios/cron-observer/internal/errs"
	"github.com/iLLeniumStudios/cron-observer/internal/events"
	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

// Version is the service version (set at build time)
var Version = "dev"

const (
	defaultPageSize = 100
	maxPageSize     = 100
	defaultDays     = 7
	maxDays         = 90
)

// Handlers contains all API handlers
type Handlers struct {
	store       store.Store
	scheduler   SchedulerPort
	lifecycle   LifecyclePort
	deleteQueue deletequeue.Publisher
	bus         events.Publisher
	superAdmins map[string]bool
	startTime   time.Time
	logger      zerolog.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(st store.Store, sched SchedulerPort, lc LifecyclePort, dq deletequeue.Publisher, bus events.Publisher, superAdmins []string, startTime time.Time, logger zerolog.Logger) *Handlers {
	adminMap := make(map[string]bool)
	for _, admin := range superAdmins {
		normalized := strings.ToLower(strings.TrimSpace(admin))
		if normalized != "" {
			adminMap[normalized] = true
		}
	}

	return &Handlers{
		store:       st,
		scheduler:   sched,
		lifecycle:   lc,
		deleteQueue: dq,
		bus:         bus,
		superAdmins: adminMap,
		startTime:   startTime,
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// respondError maps a domain error to its HTTP status
func respondError(w http.ResponseWriter, err error) {
	// Raw persistence sentinels surface as their natural codes.
	if errs.KindOf(err) == errs.KindInternal {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "CONFLICT", err.Error())
			return
		}
	}

	switch errs.KindOf(err) {
	case errs.KindValidation:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errs.KindNotFound:
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errs.KindConflict:
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errs.KindInvalidStateTransition:
		writeError(w, http.StatusConflict, "INVALID_STATE_TRANSITION", err.Error())
	case errs.KindUnauthorized:
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case errs.KindForbidden:
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// decodeJSON decodes a request body, rejecting malformed payloads
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errs.Wrap(errs.KindValidation, "invalid request body", err)
	}
	return nil
}

// parsePagination reads page/page_size query parameters
func parsePagination(r *http.Request) (page, pageSize int, err error) {
	page = 1
	pageSize = defaultPageSize

	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, perr := strconv.Atoi(raw)
		if perr != nil || parsed < 1 {
			return 0, 0, errs.Newf(errs.KindValidation, "page must be an integer >= 1")
		}
		page = parsed
	}
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		parsed, perr := strconv.Atoi(raw)
		if perr != nil || parsed < 1 || parsed > maxPageSize {
			return 0, 0, errs.Newf(errs.KindValidation, "page_size must be in [1,%d]", maxPageSize)
		}
		pageSize = parsed
	}
	return page, pageSize, nil
}

// paginated builds the standard list envelope
func paginated(data any, page, pageSize int, total int64) PaginatedResponse {
	totalPages := total / int64(pageSize)
	if total%int64(pageSize) != 0 {
		totalPages++
	}
	return PaginatedResponse{
		Data:       data,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: totalPages,
	}
}

// parseDays reads the days query parameter for stats endpoints
func parseDays(r *http.Request) (int, error) {
	days := defaultDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxDays {
			return 0, errs.Newf(errs.KindValidation, "days must be in [1,%d]", maxDays)
		}
		days = parsed
	}
	return days, nil
}

// loadProject resolves the project_uuid path parameter
func (h *Handlers) loadProject(w http.ResponseWriter, r *http.Request) (*store.Project, bool) {
	projectUUID := chi.URLParam(r, "project_uuid")
	project, err := h.store.GetProjectByUUID(r.Context(), projectUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "project "+projectUUID+" not found")
		} else {
			respondError(w, err)
		}
		return nil, false
	}
	return project, true
}

// requireProjectAdmin enforces the admin role when the authenticating proxy
// forwarded a caller identity. Requests without an identity pass through;
// super admins always pass.
func (h *Handlers) requireProjectAdmin(w http.ResponseWriter, r *http.Request, project *store.Project) bool {
	email := UserEmailFromContext(r.Context())
	if email == "" || h.superAdmins[email] {
		return true
	}

	var users []store.ProjectUser
	if project.ProjectUsers != "" {
		_ = json.Unmarshal([]byte(project.ProjectUsers), &users)
	}
	for _, u := range users {
		if strings.EqualFold(u.Email, email) && u.Role == store.ProjectRoleAdmin {
			return true
		}
	}

	writeError(w, http.StatusForbidden, "FORBIDDEN", "admin role required for project "+project.UUID)
	return false
}

// GetHealth handles GET /api/v1/health
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storageStatus := "connected"
	if err := h.store.Health(ctx); err != nil {
		storageStatus = "error: " + err.Error()
	}

	resp := HealthResponse{
		Status:  "healthy",
		Storage: storageStatus,
		Version: Version,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
	}

	writeJSON(w, http.StatusOK, resp)
}
