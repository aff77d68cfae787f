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
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/iLLeniumStudios/cron-observer/internal/errs"
	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

// validateProjectRequest checks the shared invariants of create and update
func validateProjectRequest(req *ProjectRequest) error {
	if req.Name == "" {
		return errs.New(errs.KindValidation, "name is required")
	}
	if len(req.Name) > 255 {
		return errs.New(errs.KindValidation, "name must be at most 255 characters")
	}
	for _, u := range req.ProjectUsers {
		if u.Email == "" {
			return errs.New(errs.KindValidation, "project_users entries require an email")
		}
		if u.Role != store.ProjectRoleAdmin && u.Role != store.ProjectRoleReadonly {
			return errs.Newf(errs.KindValidation, "invalid project user role %q", u.Role)
		}
	}
	return nil
}

// newAPIKey generates a project API key
func newAPIKey() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	return "co_" + hex.EncodeToString(buf)
}

// ListProjects handles GET /api/v1/projects
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := parsePagination(r)
	if err != nil {
		respondError(w, err)
		return
	}

	projects, total, err := h.store.ListProjects(r.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		respondError(w, err)
		return
	}

	items := make([]ProjectResponse, 0, len(projects))
	for i := range projects {
		items = append(items, toProjectResponse(&projects[i]))
	}

	writeJSON(w, http.StatusOK, paginated(items, page, pageSize, total))
}

// CreateProject handles POST /api/v1/projects
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := validateProjectRequest(&req); err != nil {
		respondError(w, err)
		return
	}

	project := &store.Project{
		UUID:              uuid.New().String(),
		Name:              req.Name,
		APIKey:            newAPIKey(),
		ExecutionEndpoint: req.ExecutionEndpoint,
	}
	project.SetAlertEmails(req.AlertEmails)
	if len(req.ProjectUsers) > 0 {
		raw, _ := json.Marshal(req.ProjectUsers)
		project.ProjectUsers = string(raw)
	}

	if err := h.store.CreateProject(r.Context(), project); err != nil {
		respondError(w, err)
		return
	}

	h.logger.Info().Str("project", project.UUID).Str("name", project.Name).Msg("project created")
	writeJSON(w, http.StatusCreated, toProjectResponse(project))
}

// UpdateProject handles PUT /api/v1/projects/{project_uuid}
func (h *Handlers) UpdateProject(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	if !h.requireProjectAdmin(w, r, project) {
		return
	}

	var req ProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := validateProjectRequest(&req); err != nil {
		respondError(w, err)
		return
	}

	project.Name = req.Name
	project.ExecutionEndpoint = req.ExecutionEndpoint
	project.SetAlertEmails(req.AlertEmails)
	if req.ProjectUsers != nil {
		raw, _ := json.Marshal(req.ProjectUsers)
		project.ProjectUsers = string(raw)
	}

	if err := h.store.UpdateProject(r.Context(), project); err != nil {
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProjectResponse(project))
}
