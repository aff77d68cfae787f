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

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned on unique-constraint violations, in particular
// a second SCHEDULED execution for the same (task_uuid, scheduled_at).
var ErrDuplicate = errors.New("duplicate record")

// ExecutionStatusUpdate carries the fields stamped alongside a status CAS.
// Nil fields are left untouched.
type ExecutionStatusUpdate struct {
	StartedAt      *time.Time
	EndedAt        *time.Time
	DurationMillis *int64
	ResponseStatus *int
	Error          *string
}

// ExecutionQuery contains parameters for listing executions of a task
type ExecutionQuery struct {
	Date   string // YYYY-MM-DD filter on scheduled_at (UTC); empty for all
	Limit  int
	Offset int
}

// Store is the persistence port the core depends on
type Store interface {
	// Init initializes the store (creates tables, connections, etc.)
	Init() error

	// Close closes the store and releases resources
	Close() error

	// Health checks if the store is healthy
	Health(ctx context.Context) error

	// Projects
	CreateProject(ctx context.Context, p *Project) error
	GetProjectByUUID(ctx context.Context, uuid string) (*Project, error)
	GetProjectByAPIKey(ctx context.Context, apiKey string) (*Project, error)
	ListProjects(ctx context.Context, limit, offset int) ([]Project, int64, error)
	UpdateProject(ctx context.Context, p *Project) error

	// Task groups
	CreateTaskGroup(ctx context.Context, g *TaskGroup) error
	GetTaskGroupByUUID(ctx context.Context, uuid string) (*TaskGroup, error)
	ListTaskGroups(ctx context.Context, projectUUID string, limit, offset int) ([]TaskGroup, int64, error)
	UpdateTaskGroup(ctx context.Context, g *TaskGroup) error
	UpdateTaskGroupState(ctx context.Context, uuid string, state RunState) error
	DeleteTaskGroup(ctx context.Context, uuid string) error
	GetActiveTaskGroupsWithWindows(ctx context.Context) ([]TaskGroup, error)

	// Tasks
	CreateTask(ctx context.Context, t *Task) error
	GetTaskByUUID(ctx context.Context, uuid string) (*Task, error)
	ListTasks(ctx context.Context, projectUUID string, limit, offset int) ([]Task, int64, error)
	GetTasksByGroupUUID(ctx context.Context, groupUUID string) ([]Task, error)
	GetAllActiveTasks(ctx context.Context) ([]Task, error)
	UpdateTask(ctx context.Context, t *Task) error
	// UpdateTaskStatus sets the status unconditionally.
	UpdateTaskStatus(ctx context.Context, uuid string, status TaskStatus) error
	// UpdateTaskStatusCAS sets the status only if it currently equals from;
	// returns false without error when the comparison fails.
	UpdateTaskStatusCAS(ctx context.Context, uuid string, from, to TaskStatus) (bool, error)
	UpdateTaskState(ctx context.Context, uuid string, state RunState) error
	// DeleteTask hard-deletes the task and cascades its executions and logs.
	DeleteTask(ctx context.Context, uuid string) error

	// Executions
	// CreateExecution fails with ErrDuplicate when the dedupe key collides.
	CreateExecution(ctx context.Context, e *Execution) error
	GetExecutionByUUID(ctx context.Context, uuid string) (*Execution, error)
	ListExecutionsByTask(ctx context.Context, taskUUID string, q ExecutionQuery) ([]Execution, int64, error)
	// GetPendingExecutions returns PENDING executions ordered by scheduled_at ASC.
	GetPendingExecutions(ctx context.Context, taskUUID string, limit int) ([]Execution, error)
	ListRunningExecutions(ctx context.Context) ([]Execution, error)
	// UpdateExecutionStatusCAS transitions status from -> to atomically;
	// returns false without error when the current status is not from.
	UpdateExecutionStatusCAS(ctx context.Context, uuid string, from, to ExecutionStatus, upd ExecutionStatusUpdate) (bool, error)

	// Execution logs
	// AppendExecutionLogs appends entries atomically (batch insert).
	AppendExecutionLogs(ctx context.Context, executionUUID string, logs []ExecutionLog) error
	CountExecutionLogs(ctx context.Context, executionUUID string) (int64, error)
	GetExecutionLogs(ctx context.Context, executionUUID string, limit, offset int) ([]ExecutionLog, error)

	// Daily stats
	// UpsertDailyStat atomically increments the counters for (project, date).
	UpsertDailyStat(ctx context.Context, projectUUID, date string, successDelta, failureDelta int64) error
	// GetDailyStats returns stats for dates >= since, newest first.
	GetDailyStats(ctx context.Context, projectUUID, since string) ([]DailyStat, error)
}
