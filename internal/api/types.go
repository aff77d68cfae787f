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

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// PaginatedResponse is the envelope for paginated list endpoints
type PaginatedResponse struct {
	Data       any   `json:"data"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalCount int64 `json:"total_count"`
	TotalPages int64 `json:"total_pages"`
}

// DataResponse wraps a single payload
type DataResponse struct {
	Data any `json:"data"`
}

// HealthResponse is the response for GET /api/v1/health
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ProjectRequest is the create/update payload for a project
type ProjectRequest struct {
	Name              string              `json:"name"`
	ExecutionEndpoint string              `json:"execution_endpoint,omitempty"`
	AlertEmails       []string            `json:"alert_emails,omitempty"`
	ProjectUsers      []store.ProjectUser `json:"project_users,omitempty"`
}

// ProjectResponse is the JSON shape of a project
type ProjectResponse struct {
	UUID              string              `json:"uuid"`
	Name              string              `json:"name"`
	APIKey            string              `json:"api_key"`
	ExecutionEndpoint string              `json:"execution_endpoint,omitempty"`
	AlertEmails       []string            `json:"alert_emails,omitempty"`
	ProjectUsers      []store.ProjectUser `json:"project_users,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// TaskGroupRequest is the create/update payload for a task group
type TaskGroupRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Status      store.TaskGroupStatus `json:"status,omitempty"`
	StartTime   string                `json:"start_time,omitempty"`
	EndTime     string                `json:"end_time,omitempty"`
	Timezone    string                `json:"timezone"`
}

// TaskGroupResponse is the JSON shape of a task group
type TaskGroupResponse struct {
	UUID        string                `json:"uuid"`
	ProjectUUID string                `json:"project_uuid"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Status      store.TaskGroupStatus `json:"status"`
	State       store.RunState        `json:"state"`
	StartTime   string                `json:"start_time,omitempty"`
	EndTime     string                `json:"end_time,omitempty"`
	Timezone    string                `json:"timezone"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// TimeRangeDTO is the optional time-range part of a schedule config
type TimeRangeDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ScheduleConfigDTO is the JSON shape of a task's schedule config
type ScheduleConfigDTO struct {
	Timezone       string        `json:"timezone"`
	CronExpression string        `json:"cron_expression,omitempty"`
	TimeRange      *TimeRangeDTO `json:"time_range,omitempty"`
	DaysOfWeek     []int         `json:"days_of_week,omitempty"`
	Exclusions     []string      `json:"exclusions,omitempty"`
}

// HTTPTriggerDTO is the HTTP variant of a trigger config. Body is opaque
// JSON passed through to the executor.
type HTTPTriggerDTO struct {
	URL            string            `json:"url"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           json.RawMessage   `json:"body,omitempty"`
	TimeoutSeconds int               `json:"timeout,omitempty"`
}

// TriggerConfigDTO is the tagged trigger variant
type TriggerConfigDTO struct {
	Type string          `json:"type"`
	HTTP *HTTPTriggerDTO `json:"http,omitempty"`
}

// TaskRequest is the create/update payload for a task
type TaskRequest struct {
	Name           string             `json:"name"`
	Description    string             `json:"description,omitempty"`
	TaskGroupUUID  string             `json:"task_group_uuid,omitempty"`
	ScheduleType   store.ScheduleType `json:"schedule_type"`
	ScheduleConfig ScheduleConfigDTO  `json:"schedule_config"`
	TriggerConfig  *TriggerConfigDTO  `json:"trigger_config,omitempty"`
	Status         store.TaskStatus   `json:"status,omitempty"`
	TimeoutSeconds int                `json:"timeout_seconds,omitempty"`
	Metadata       json.RawMessage    `json:"metadata,omitempty"`
}

// TaskResponse is the JSON shape of a task
type TaskResponse struct {
	UUID           string             `json:"uuid"`
	ProjectUUID    string             `json:"project_uuid"`
	TaskGroupUUID  *string            `json:"task_group_uuid,omitempty"`
	Name           string             `json:"name"`
	Description    string             `json:"description,omitempty"`
	ScheduleType   store.ScheduleType `json:"schedule_type"`
	ScheduleConfig ScheduleConfigDTO  `json:"schedule_config"`
	TriggerConfig  *TriggerConfigDTO  `json:"trigger_config,omitempty"`
	Status         store.TaskStatus   `json:"status"`
	State          store.RunState     `json:"state"`
	TimeoutSeconds int                `json:"timeout_seconds,omitempty"`
	Metadata       json.RawMessage    `json:"metadata,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// TaskStatusRequest is the PATCH status payload. Only ACTIVE and DISABLED
// are accepted; PENDING_DELETE and DELETE_FAILED are backend-only.
type TaskStatusRequest struct {
	Status store.TaskStatus `json:"status"`
}

// DeleteTaskResponse is the 202 payload of the async task delete
type DeleteTaskResponse struct {
	Status   string `json:"status"`
	TaskUUID string `json:"task_uuid"`
	Message  string `json:"message"`
}

// TriggerResponse is the payload of a manual trigger
type TriggerResponse struct {
	ExecutionUUID string    `json:"execution_uuid"`
	TaskUUID      string    `json:"task_uuid"`
	Status        string    `json:"status"`
	TriggerType   string    `json:"trigger_type"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	Message       string    `json:"message"`
}

// ExecutionResponse is the JSON shape of an execution
type ExecutionResponse struct {
	UUID           string                `json:"uuid"`
	TaskUUID       string                `json:"task_uuid"`
	ProjectUUID    string                `json:"project_uuid"`
	Status         store.ExecutionStatus `json:"status"`
	TriggerType    store.TriggerType     `json:"trigger_type"`
	ScheduledAt    time.Time             `json:"scheduled_at"`
	StartedAt      *time.Time            `json:"started_at,omitempty"`
	EndedAt        *time.Time            `json:"ended_at,omitempty"`
	DurationMillis *int64                `json:"duration_ms,omitempty"`
	ResponseStatus *int                  `json:"response_status,omitempty"`
	Error          string                `json:"error,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// ExecutionStatusRequest is the SDK status report payload. Result is the
// executor's opaque response status integer.
type ExecutionStatusRequest struct {
	Status store.ExecutionStatus `json:"status"`
	Result *int                  `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// LogEntryDTO is one SDK-pushed log entry
type LogEntryDTO struct {
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Level     store.LogLevel  `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// AppendLogsRequest is the SDK log push payload
type AppendLogsRequest struct {
	Logs []LogEntryDTO `json:"logs"`
}

// StatsRow is one daily stats entry
type StatsRow struct {
	Date     string `json:"date"`
	Success  int64  `json:"success"`
	Failures int64  `json:"failures"`
	Total    int64  `json:"total"`
}

// FailedStatsRow is one daily failure-count entry
type FailedStatsRow struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// StatsEnvelope wraps stats rows under data.stats
type StatsEnvelope struct {
	Stats any `json:"stats"`
}
