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
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLLeniumStudios/cron-observer/internal/deleteworker"
	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

func createProject(t *testing.T, env *testEnv) ProjectResponse {
	t.Helper()
	rec := env.ui(t, http.MethodPost, "/api/v1/projects", ProjectRequest{
		Name:              "checkout",
		ExecutionEndpoint: "https://executor.internal/run",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ProjectResponse](t, rec)
}

func taskBody(name string) TaskRequest {
	return TaskRequest{
		Name:         name,
		ScheduleType: store.ScheduleTypeRecurring,
		ScheduleConfig: ScheduleConfigDTO{
			Timezone:       "UTC",
			CronExpression: "*/5 * * * *",
		},
		TriggerConfig: &TriggerConfigDTO{
			Type: store.TriggerKindHTTP,
			HTTP: &HTTPTriggerDTO{URL: "https://example.com/hook", Method: "POST"},
		},
	}
}

func createTask(t *testing.T, env *testEnv, projectUUID string, req TaskRequest) TaskResponse {
	t.Helper()
	rec := env.ui(t, http.MethodPost, "/api/v1/projects/"+projectUUID+"/tasks", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[TaskResponse](t, rec)
}

func TestCreateProject_ReturnsAPIKey(t *testing.T) {
	env := newTestEnv(t)

	project := createProject(t, env)
	assert.NotEmpty(t, project.UUID)
	assert.NotEmpty(t, project.APIKey)
	assert.Equal(t, "checkout", project.Name)
}

func TestCreateProject_Validation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.ui(t, http.MethodPost, "/api/v1/projects", ProjectRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.ui(t, http.MethodPost, "/api/v1/projects", ProjectRequest{
		Name: "x",
		ProjectUsers: []store.ProjectUser{
			{Email: "a@b.c", Role: "owner"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateProject_Users(t *testing.T) {
	env := newTestEnv(t)
	project := createProject(t, env)

	rec := env.ui(t, http.MethodPut, "/api/v1/projects/"+project.UUID, ProjectRequest{
		Name: "checkout-renamed",
		ProjectUsers: []store.ProjectUser{
			{Email: "admin@example.com", Role: store.ProjectRoleAdmin},
			{Email: "viewer@example.com", Role: store.ProjectRoleReadonly},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[ProjectResponse](t, rec)
	assert.Equal(t, "checkout-renamed", resp.Name)
	require.Len(t, resp.ProjectUsers, 2)
}

func TestCreateTask_Validation(t *testing.T) {
	env := newTestEnv(t)
	project := createProject(t, env)
	base := "/api/v1/projects/" + project.UUID + "/tasks"

	bad := taskBody("bad-cron")
	bad.ScheduleConfig.CronExpression = "not a cron"
	rec := env.ui(t, http.MethodPost, base, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad = taskBody("bad-tz")
	bad.ScheduleConfig.Timezone = "Not/AZone"
	rec = env.ui(t, http.MethodPost, base, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad = taskBody("missing-tz")
	bad.ScheduleConfig.Timezone = ""
	rec = env.ui(t, http.MethodPost, base, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad = taskBody("backend-only-status")
	bad.Status = store.TaskStatusPendingDelete
	rec = env.ui(t, http.MethodPost, base, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad = taskBody("bad-group")
	bad.TaskGroupUUID = "no-such-group"
	rec = env.ui(t, http.MethodPost, base, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTask_RegistersInScheduler(t *testing.T) {
	env := newTestEnv(t)
	project := createProject(t, env)

	task := createTask(t, env, project.UUID, taskBody("sync-orders"))
	assert.Equal(t, store.TaskStatusActive, task.Status)

	require.Eventually(t, func() bool {
		return env.engine.Registered(task.UUID)
	}, time.Second, 10*time.Millisecond)
}

func TestUpdateTaskStatus_DisableUnregisters(t *testing.T) {
	env := newTestEnv(t)
	project := createProject(t, env)
	task := createTask(t, env, project.UUID, taskBody("sync-orders"))

	require.Eventually(t, func() bool {
		return env.engine.Registered(task.UUID)
	}, time.Second, 10*time.Millisecond)

	rec := env.ui(t, http.MethodPatch,
		"/api/v1/projects/"+project.UUID+"/tasks/"+task.UUID+"/status",
		TaskStatusRequest{Status: store.TaskStatusDisabled})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[TaskResponse](t, rec)
	assert.Equal(t, store.TaskStatusDisabled, resp.Status)
	assert.Equal(t, store.RunStateNotRunning, resp.State)
	assert.False(t, env.engine.Registered(task.UUID))

	// Invalid client status is rejected.
	rec = env.ui(t, http.MethodPatch,
		"/api/v1/projects/"+project.UUID+"/tasks/"+task.UUID+"/status",
		TaskStatusRequest{Status: store.TaskStatusPendingDelete})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerTask_TwoManualExecutions(t *testing.T) {
	env := newTestEnv(t)
	project := createProject(t, env)
	task := createTask(t, env, project.UUID, taskBody("sync-orders"))

	path := "/api/v1/projects/" + project.UUID + "/tasks/" + task.UUID + "/trigger"

	rec := env.ui(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.ui(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	list := env.ui(t, http.MethodGet,
		"/api/v1/projects/"+project.UUID+"/tasks/"+task.UUID+"/executions", nil)
	require.Equal(t, http.StatusOK, list.Code)

	resp := decodeBody[struct {
		Data       []ExecutionResponse `json:"data"`
		TotalCount int64               `json:"total_count"`
	}](t, list)
	assert.Equal(t, int64(2), resp.TotalCount)
	for _, e := range resp.Data {
		assert.Equal(t, store.TriggerTypeManual, e.TriggerType)
		assert.Equal(t, store.ExecutionStatusPending, e.Status)
	}
}

func TestTriggerTask_RejectsDisabled(t *testing.T) {
	env := newTestEnv(t)
	project := createProject(t, env)
	body := taskBody("sync-orders")
	body.Status = store.TaskStatusDisabled
	task := createTask(t, env, project.UUID, body)

	rec := env.ui(t, http.MethodPost,
		"/api/v1/projects/"+project.UUID+"/tasks/"+task.UUID+"/trigger", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSDKFlow_ClaimRunSucceed(t *testing.T) {
	env := newTestEnv(t)
	project := createProject(t, env)
	task := createTask(t, env, project.UUID, taskBody("sync-orders"))

	// Manual trigger seeds a PENDING execution.
	rec := env.ui(t, http.MethodPost,
		"/api/v1/projects/"+project.UUID+"/tasks/"+task.UUID+"/trigger", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Claim it via the SDK.
	claim := env.sdk(t, http.MethodGet,
		"/api/v1/sdk/tasks/"+task.UUID+"/executions/pending?limit=5", nil, project.APIKey)
	require.Equal(t, http.StatusOK, claim.Code, claim.Body.String())

	claimed := decodeBody[struct {
		Data []ExecutionResponse `json:"data"`
	}](t, claim)
	require.Len(t, claimed.Data, 1)
	execUUID := claimed.Data[0].UUID

	// PENDING -> RUNNING stamps started_at.
	statusPath := "/api/v1/sdk/executions/" + execUUID + "/status"
	rec = env.sdk(t, http.MethodPut, statusPath,
		ExecutionStatusRequest{Status: store.ExecutionStatusRunning}, project.APIKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	running := decodeBody[struct {
		Data ExecutionResponse `json:"data"`
	}](t, rec)
	require.NotNil(t, running.Data.StartedAt)

	// Push logs while running.
	rec = env.sdk(t, http.MethodPost, "/api/v1/sdk/executions/"+execUUID+"/logs",
		AppendLogsRequest{Logs: []LogEntryDTO{
			{Level: store.LogLevelInfo, Message: "starting sync"},
			{Level: store.LogLevelDebug, Message: "fetched 42 rows"},
		}}, project.APIKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// RUNNING -> SUCCESS stamps ended_at and duration.
	result := 200
	rec = env.sdk(t, http.MethodPut, statusPath,
		ExecutionStatusRequest{Status: store.ExecutionStatusSuccess, Result: &result}, project.APIKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decodeBody[struct {
		Data ExecutionResponse `json:"data"`
	}](t, rec)
	assert.Equal(t, store.ExecutionStatusSuccess, done.Data.Status)
	require.NotNil(t, done.Data.EndedAt)
	require.NotNil(t, done.Data.DurationMillis)
	require.NotNil(t, done.Data.ResponseStatus)
	assert.Equal(t, 200, *done.Data.ResponseStatus)
	assert.False(t, done.Data.EndedAt.Before(*done.Data.StartedAt))
}

func TestSDKFlow_InvalidTransitionAndLateLogs(t *testing.T) {
	env := newTestEnv(t)
	project := createProject(t, env)
	task := createTask(t, env, project.UUID, taskBody("sync-orders"))

	rec := env.ui(t, http.MethodPost,
		"/api/v1/projects/"+project.UUID+"/tasks/"+task.UUID+"/trigger", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	trigger := decodeBody[struct {
		Data TriggerResponse `json:"data"`
	}](t, rec)
	execUUID := trigger.Data.ExecutionUUID

	statusPath := "/api/v1/sdk/executions/" + execUUID + "/status"
	rec = env.sdk(t, http.MethodPut, statusPath,
		ExecutionStatusRequest{Status: store.ExecutionStatusRunning}, project.APIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.sdk(t, http.MethodPut, statusPath,
		ExecutionStatusRequest{Status: store.ExecutionStatusFailed, Error: "exit 1"}, project.APIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	// Terminal executions reject further transitions...
	rec = env.sdk(t, http.MethodPut, statusPath,
		ExecutionStatusRequest{Status: store.ExecutionStatusRunning}, project.APIKey)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// ...and reject log appends.
	rec = env.sdk(t, http.MethodPost, "/api/v1/sdk/executions/"+execUUID+"/logs",
		AppendLogsRequest{Logs: []LogEntryDTO{{Level: store.LogLevelInfo, Message: "late"}}},
		project.APIKey)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSDK_CrossProjectForbidden(t *testing.T) {
	env := newTestEnv(t)
	project := createProject(t, env)
	task := createTask(t, env, project.UUID, taskBody("sync-orders"))

	rec := env.ui(t, http.MethodPost, "/api/v1/projects", ProjectRequest{Name: "other"})
	require.Equal(t, http.StatusCreated, rec.Code)
	other := decodeBody[ProjectResponse](t, rec)

	rec = env.sdk(t, http.MethodGet,
		"/api/v1/sdk/tasks/"+task.UUID+"/executions/pending", nil, other.APIKey)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAsyncDelete_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	project := createProject(t, env)
	task := createTask(t, env, project.UUID, taskBody("doomed"))

	require.Eventually(t, func() bool {
		return env.engine.Registered(task.UUID)
	}, time.Second, 10*time.Millisecond)

	path := "/api/v1/projects/" + project.UUID + "/tasks/" + task.UUID
	rec := env.ui(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decodeBody[DeleteTaskResponse](t, rec)
	assert.Equal(t, string(store.TaskStatusPendingDelete), resp.Status)

	// The task is gated while PENDING_DELETE.
	rec = env.ui(t, http.MethodPut, path, taskBody("renamed"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Drain the queue like the worker does.
	worker := deleteworker.NewWorker(env.store, env.queue, env.engine, env.bus, zerolog.Nop())
	msg, err := env.queue.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.NoError(t, worker.Process(ctx, msg))
	require.NoError(t, env.queue.Ack(ctx, msg.ID))

	// Gone from persistence and from the scheduler heap.
	_, err = env.store.GetTaskByUUID(ctx, task.UUID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.Eventually(t, func() bool {
		return !env.engine.Registered(task.UUID)
	}, time.Second, 10*time.Millisecond)

	// Deleting again reports ALREADY_DELETED with 202.
	rec = env.ui(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp = decodeBody[DeleteTaskResponse](t, rec)
	assert.Equal(t, "ALREADY_DELETED", resp.Status)
}

func TestFailureStats_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	project := createProject(t, env)
	task := createTask(t, env, project.UUID, taskBody("flaky"))

	// Two executions fail today.
	for i := 0; i < 2; i++ {
		rec := env.ui(t, http.MethodPost,
			"/api/v1/projects/"+project.UUID+"/tasks/"+task.UUID+"/trigger", nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		trigger := decodeBody[struct {
			Data TriggerResponse `json:"data"`
		}](t, rec)

		statusPath := "/api/v1/sdk/executions/" + trigger.Data.ExecutionUUID + "/status"
		rec = env.sdk(t, http.MethodPut, statusPath,
			ExecutionStatusRequest{Status: store.ExecutionStatusRunning}, project.APIKey)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = env.sdk(t, http.MethodPut, statusPath,
			ExecutionStatusRequest{Status: store.ExecutionStatusFailed, Error: "boom"}, project.APIKey)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	today := time.Now().UTC().Format("2006-01-02")

	// The aggregator consumes bus events asynchronously.
	require.Eventually(t, func() bool {
		rec := env.ui(t, http.MethodGet,
			"/api/v1/projects/"+project.UUID+"/executions/failed-stats?days=7", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		resp := decodeBody[struct {
			Data struct {
				Stats []FailedStatsRow `json:"stats"`
			} `json:"data"`
		}](t, rec)
		return len(resp.Data.Stats) == 1 &&
			resp.Data.Stats[0].Date == today &&
			resp.Data.Stats[0].Count == 2
	}, 2*time.Second, 20*time.Millisecond)

	// The full stats endpoint reports the same totals.
	rec := env.ui(t, http.MethodGet,
		"/api/v1/projects/"+project.UUID+"/executions/stats?days=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[struct {
		Data struct {
			Stats []StatsRow `json:"stats"`
		} `json:"data"`
	}](t, rec)
	require.Len(t, stats.Data.Stats, 1)
	assert.Equal(t, int64(2), stats.Data.Stats[0].Failures)
	assert.Equal(t, int64(2), stats.Data.Stats[0].Total)
}

func TestPaginationValidation(t *testing.T) {
	env := newTestEnv(t)
	project := createProject(t, env)

	rec := env.ui(t, http.MethodGet,
		"/api/v1/projects/"+project.UUID+"/tasks?page=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.ui(t, http.MethodGet,
		"/api/v1/projects/"+project.UUID+"/tasks?page_size=1000", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.ui(t, http.MethodGet,
		"/api/v1/projects/"+project.UUID+"/tasks?page=1&page_size=10", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTaskGroupLifecycle(t *testing.T) {
	env := newTestEnv(t)
	project := createProject(t, env)
	base := "/api/v1/projects/" + project.UUID + "/task-groups"

	rec := env.ui(t, http.MethodPost, base, TaskGroupRequest{
		Name:      "nightly",
		StartTime: "10:00",
		EndTime:   "11:00",
		Timezone:  "Asia/Dhaka",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	group := decodeBody[TaskGroupResponse](t, rec)
	assert.Equal(t, store.TaskGroupStatusActive, group.Status)

	// Window times must come in pairs.
	rec = env.ui(t, http.MethodPost, base, TaskGroupRequest{
		Name: "broken", StartTime: "10:00", Timezone: "UTC",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Manual start/stop flips the derived state.
	rec = env.ui(t, http.MethodPost, base+"/"+group.UUID+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err := env.store.GetTaskGroupByUUID(context.Background(), group.UUID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStateRunning, got.State)

	rec = env.ui(t, http.MethodPost, base+"/"+group.UUID+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got, err = env.store.GetTaskGroupByUUID(context.Background(), group.UUID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStateNotRunning, got.State)

	// Delete detaches and removes.
	rec = env.ui(t, http.MethodDelete, base+"/"+group.UUID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err = env.store.GetTaskGroupByUUID(context.Background(), group.UUID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProjectRoleEnforcement(t *testing.T) {
	env := newTestEnv(t)
	project := createProject(t, env)

	// Attach a readonly user.
	rec := env.ui(t, http.MethodPut, "/api/v1/projects/"+project.UUID, ProjectRequest{
		Name: "checkout",
		ProjectUsers: []store.ProjectUser{
			{Email: "viewer@example.com", Role: store.ProjectRoleReadonly},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// A forwarded readonly identity cannot mutate.
	rec = env.do(t, http.MethodPost, "/api/v1/projects/"+project.UUID+"/tasks",
		taskBody("nope"), map[string]string{
			"Authorization": "Bearer " + testToken,
			"X-User-Email":  "viewer@example.com",
		})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
