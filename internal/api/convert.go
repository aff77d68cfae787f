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
	"time"

	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

func toProjectResponse(p *store.Project) ProjectResponse {
	var users []store.ProjectUser
	if p.ProjectUsers != "" {
		_ = json.Unmarshal([]byte(p.ProjectUsers), &users)
	}
	return ProjectResponse{
		UUID:              p.UUID,
		Name:              p.Name,
		APIKey:            p.APIKey,
		ExecutionEndpoint: p.ExecutionEndpoint,
		AlertEmails:       p.GetAlertEmails(),
		ProjectUsers:      users,
		CreatedAt:         p.CreatedAt.UTC(),
		UpdatedAt:         p.UpdatedAt.UTC(),
	}
}

func toTaskGroupResponse(g *store.TaskGroup) TaskGroupResponse {
	return TaskGroupResponse{
		UUID:        g.UUID,
		ProjectUUID: g.ProjectUUID,
		Name:        g.Name,
		Description: g.Description,
		Status:      g.Status,
		State:       g.State,
		StartTime:   g.StartTime,
		EndTime:     g.EndTime,
		Timezone:    g.Timezone,
		CreatedAt:   g.CreatedAt.UTC(),
		UpdatedAt:   g.UpdatedAt.UTC(),
	}
}

func toScheduleConfigDTO(c *store.ScheduleConfig) ScheduleConfigDTO {
	dto := ScheduleConfigDTO{
		Timezone:       c.Timezone,
		CronExpression: c.CronExpression,
		Exclusions:     c.GetExclusions(),
	}
	for _, d := range c.GetDaysOfWeek() {
		dto.DaysOfWeek = append(dto.DaysOfWeek, int(d))
	}
	if c.TimeRangeStart != "" || c.TimeRangeEnd != "" {
		dto.TimeRange = &TimeRangeDTO{Start: c.TimeRangeStart, End: c.TimeRangeEnd}
	}
	return dto
}

func toTriggerConfigDTO(c *store.TriggerConfig) *TriggerConfigDTO {
	if c.Type == "" {
		return nil
	}
	dto := &TriggerConfigDTO{Type: c.Type}
	if c.Type == store.TriggerKindHTTP {
		var headers map[string]string
		if c.HTTPHeaders != "" {
			_ = json.Unmarshal([]byte(c.HTTPHeaders), &headers)
		}
		dto.HTTP = &HTTPTriggerDTO{
			URL:            c.HTTPURL,
			Method:         c.HTTPMethod,
			Headers:        headers,
			TimeoutSeconds: c.HTTPTimeout,
		}
		if len(c.HTTPBody) > 0 {
			dto.HTTP.Body = json.RawMessage(c.HTTPBody)
		}
	}
	return dto
}

func toTaskResponse(t *store.Task) TaskResponse {
	resp := TaskResponse{
		UUID:           t.UUID,
		ProjectUUID:    t.ProjectUUID,
		TaskGroupUUID:  t.TaskGroupUUID,
		Name:           t.Name,
		Description:    t.Description,
		ScheduleType:   t.ScheduleType,
		ScheduleConfig: toScheduleConfigDTO(&t.ScheduleConfig),
		TriggerConfig:  toTriggerConfigDTO(&t.TriggerConfig),
		Status:         t.Status,
		State:          t.State,
		TimeoutSeconds: t.TimeoutSeconds,
		CreatedAt:      t.CreatedAt.UTC(),
		UpdatedAt:      t.UpdatedAt.UTC(),
	}
	if t.Metadata != "" {
		resp.Metadata = json.RawMessage(t.Metadata)
	}
	return resp
}

func toExecutionResponse(e *store.Execution) ExecutionResponse {
	resp := ExecutionResponse{
		UUID:           e.UUID,
		TaskUUID:       e.TaskUUID,
		ProjectUUID:    e.ProjectUUID,
		Status:         e.Status,
		TriggerType:    e.TriggerType,
		ScheduledAt:    e.ScheduledAt.UTC(),
		DurationMillis: e.DurationMillis,
		ResponseStatus: e.ResponseStatus,
		Error:          e.Error,
		CreatedAt:      e.CreatedAt.UTC(),
		UpdatedAt:      e.UpdatedAt.UTC(),
	}
	if e.StartedAt != nil {
		t := e.StartedAt.UTC()
		resp.StartedAt = &t
	}
	if e.EndedAt != nil {
		t := e.EndedAt.UTC()
		resp.EndedAt = &t
	}
	return resp
}

// applyScheduleConfig writes a DTO into the model representation
func applyScheduleConfig(dst *store.ScheduleConfig, dto *ScheduleConfigDTO) {
	dst.Timezone = dto.Timezone
	dst.CronExpression = dto.CronExpression
	if dto.TimeRange != nil {
		dst.TimeRangeStart = dto.TimeRange.Start
		dst.TimeRangeEnd = dto.TimeRange.End
	} else {
		dst.TimeRangeStart = ""
		dst.TimeRangeEnd = ""
	}
	days := make([]time.Weekday, 0, len(dto.DaysOfWeek))
	for _, d := range dto.DaysOfWeek {
		days = append(days, time.Weekday(d))
	}
	dst.SetDaysOfWeek(days)
	dst.SetExclusions(dto.Exclusions)
}

// applyTriggerConfig writes a DTO into the model representation
func applyTriggerConfig(dst *store.TriggerConfig, dto *TriggerConfigDTO) {
	if dto == nil {
		*dst = store.TriggerConfig{}
		return
	}
	dst.Type = dto.Type
	if dto.HTTP != nil {
		dst.HTTPURL = dto.HTTP.URL
		dst.HTTPMethod = dto.HTTP.Method
		dst.HTTPBody = []byte(dto.HTTP.Body)
		dst.HTTPTimeout = dto.HTTP.TimeoutSeconds
		if len(dto.HTTP.Headers) > 0 {
			raw, _ := json.Marshal(dto.HTTP.Headers)
			dst.HTTPHeaders = string(raw)
		} else {
			dst.HTTPHeaders = ""
		}
	}
}
