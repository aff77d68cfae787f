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
	"context"

	"github.com/iLLeniumStudios/cron-observer/internal/lifecycle"
	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

// SchedulerPort is the schedule engine surface the handlers need
type SchedulerPort interface {
	Register(task *store.Task) error
	Unregister(taskUUID string)
	StartGroup(ctx context.Context, groupUUID string) error
	StopGroup(ctx context.Context, groupUUID string) error
}

// LifecyclePort is the execution lifecycle surface the handlers need
type LifecyclePort interface {
	ClaimPending(ctx context.Context, taskUUID string, limit int) ([]store.Execution, error)
	UpdateStatus(ctx context.Context, executionUUID string, newStatus store.ExecutionStatus, payload lifecycle.StatusPayload) (*store.Execution, error)
	AppendLogs(ctx context.Context, executionUUID string, entries []store.ExecutionLog) error
	TriggerManual(ctx context.Context, taskUUID string) (*store.Execution, error)
}
