// Package testutil provides shared test utilities and mock implementations
// for use across the cron-observer test suites.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

// ============================================================================
// Mock Store Implementation
// ============================================================================

// MockStore is a configurable in-memory implementation of store.Store for
// testing. Error injection fields are optional - set only what your test
// needs. Thread-safe for concurrent access in scheduler tests.
type MockStore struct {
	mu sync.Mutex

	Projects   map[string]*store.Project
	TaskGroups map[string]*store.TaskGroup
	Tasks      map[string]*store.Task
	Executions map[string]*store.Execution
	Logs       map[string][]store.ExecutionLog
	Stats      map[string]*store.DailyStat // key: project_uuid + "|" + date

	// Error injection - set these to simulate failures
	HealthError            error
	GetTaskError           error
	CreateExecutionError   error
	DeleteTaskError        error
	UpdateTaskStatusError  error
	UpsertDailyStatError   error
	AppendLogsError        error
	ListRunningError       error
	GetPendingError        error
	UpdateExecutionCASFail bool // force CAS mismatch without error

	// Call tracking
	DeletedTasks       []string
	CreatedExecutions  []store.Execution
	StatusUpdates      []string // "uuid:status"
	UpsertedStats      []string // "project|date:+success,+failures"
	AppendedLogBatches int
}

// NewMockStore creates an empty mock store
func NewMockStore() *MockStore {
	return &MockStore{
		Projects:   make(map[string]*store.Project),
		TaskGroups: make(map[string]*store.TaskGroup),
		Tasks:      make(map[string]*store.Task),
		Executions: make(map[string]*store.Execution),
		Logs:       make(map[string][]store.ExecutionLog),
		Stats:      make(map[string]*store.DailyStat),
	}
}

// Init implements store.Store
func (m *MockStore) Init() error { return nil }

// Close implements store.Store
func (m *MockStore) Close() error { return nil }

// Health implements store.Store
func (m *MockStore) Health(_ context.Context) error { return m.HealthError }

// CreateProject implements store.Store
func (m *MockStore) CreateProject(_ context.Context, p *store.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.Projects[p.UUID] = &cp
	return nil
}

// GetProjectByUUID implements store.Store
func (m *MockStore) GetProjectByUUID(_ context.Context, uuid string) (*store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Projects[uuid]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// GetProjectByAPIKey implements store.Store
func (m *MockStore) GetProjectByAPIKey(_ context.Context, apiKey string) (*store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Projects {
		if p.APIKey == apiKey {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// ListProjects implements store.Store
func (m *MockStore) ListProjects(_ context.Context, limit, offset int) ([]store.Project, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]store.Project, 0, len(m.Projects))
	for _, p := range m.Projects {
		all = append(all, *p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UUID < all[j].UUID })
	return slicePage(all, limit, offset), int64(len(all)), nil
}

// UpdateProject implements store.Store
func (m *MockStore) UpdateProject(_ context.Context, p *store.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.Projects[p.UUID] = &cp
	return nil
}

// CreateTaskGroup implements store.Store
func (m *MockStore) CreateTaskGroup(_ context.Context, g *store.TaskGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.TaskGroups[g.UUID] = &cp
	return nil
}

// GetTaskGroupByUUID implements store.Store
func (m *MockStore) GetTaskGroupByUUID(_ context.Context, uuid string) (*store.TaskGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.TaskGroups[uuid]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

// ListTaskGroups implements store.Store
func (m *MockStore) ListTaskGroups(_ context.Context, projectUUID string, limit, offset int) ([]store.TaskGroup, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]store.TaskGroup, 0)
	for _, g := range m.TaskGroups {
		if g.ProjectUUID == projectUUID {
			all = append(all, *g)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UUID < all[j].UUID })
	return slicePage(all, limit, offset), int64(len(all)), nil
}

// UpdateTaskGroup implements store.Store
func (m *MockStore) UpdateTaskGroup(_ context.Context, g *store.TaskGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.TaskGroups[g.UUID] = &cp
	return nil
}

// UpdateTaskGroupState implements store.Store
func (m *MockStore) UpdateTaskGroupState(_ context.Context, uuid string, state store.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.TaskGroups[uuid]
	if !ok {
		return store.ErrNotFound
	}
	g.State = state
	return nil
}

// DeleteTaskGroup implements store.Store
func (m *MockStore) DeleteTaskGroup(_ context.Context, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.TaskGroups[uuid]; !ok {
		return store.ErrNotFound
	}
	delete(m.TaskGroups, uuid)
	for _, t := range m.Tasks {
		if t.TaskGroupUUID != nil && *t.TaskGroupUUID == uuid {
			t.TaskGroupUUID = nil
		}
	}
	return nil
}

// GetActiveTaskGroupsWithWindows implements store.Store
func (m *MockStore) GetActiveTaskGroupsWithWindows(_ context.Context) ([]store.TaskGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.TaskGroup, 0)
	for _, g := range m.TaskGroups {
		if g.Status == store.TaskGroupStatusActive && g.HasWindow() {
			out = append(out, *g)
		}
	}
	return out, nil
}

// CreateTask implements store.Store
func (m *MockStore) CreateTask(_ context.Context, t *store.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.Tasks[t.UUID] = &cp
	return nil
}

// GetTaskByUUID implements store.Store
func (m *MockStore) GetTaskByUUID(_ context.Context, uuid string) (*store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetTaskError != nil {
		return nil, m.GetTaskError
	}
	t, ok := m.Tasks[uuid]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListTasks implements store.Store
func (m *MockStore) ListTasks(_ context.Context, projectUUID string, limit, offset int) ([]store.Task, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]store.Task, 0)
	for _, t := range m.Tasks {
		if t.ProjectUUID == projectUUID {
			all = append(all, *t)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UUID < all[j].UUID })
	return slicePage(all, limit, offset), int64(len(all)), nil
}

// GetTasksByGroupUUID implements store.Store
func (m *MockStore) GetTasksByGroupUUID(_ context.Context, groupUUID string) ([]store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Task, 0)
	for _, t := range m.Tasks {
		if t.TaskGroupUUID != nil && *t.TaskGroupUUID == groupUUID {
			out = append(out, *t)
		}
	}
	return out, nil
}

// GetAllActiveTasks implements store.Store
func (m *MockStore) GetAllActiveTasks(_ context.Context) ([]store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Task, 0)
	for _, t := range m.Tasks {
		if t.Status == store.TaskStatusActive {
			out = append(out, *t)
		}
	}
	return out, nil
}

// UpdateTask implements store.Store
func (m *MockStore) UpdateTask(_ context.Context, t *store.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.Tasks[t.UUID] = &cp
	return nil
}

// UpdateTaskStatus implements store.Store
func (m *MockStore) UpdateTaskStatus(_ context.Context, uuid string, status store.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateTaskStatusError != nil {
		return m.UpdateTaskStatusError
	}
	t, ok := m.Tasks[uuid]
	if !ok {
		return store.ErrNotFound
	}
	t.Status = status
	m.StatusUpdates = append(m.StatusUpdates, uuid+":"+string(status))
	return nil
}

// UpdateTaskStatusCAS implements store.Store
func (m *MockStore) UpdateTaskStatusCAS(_ context.Context, uuid string, from, to store.TaskStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tasks[uuid]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	m.StatusUpdates = append(m.StatusUpdates, uuid+":"+string(to))
	return true, nil
}

// UpdateTaskState implements store.Store
func (m *MockStore) UpdateTaskState(_ context.Context, uuid string, state store.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tasks[uuid]
	if !ok {
		return store.ErrNotFound
	}
	t.State = state
	return nil
}

// DeleteTask implements store.Store
func (m *MockStore) DeleteTask(_ context.Context, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteTaskError != nil {
		return m.DeleteTaskError
	}
	delete(m.Tasks, uuid)
	for execUUID, e := range m.Executions {
		if e.TaskUUID == uuid {
			delete(m.Executions, execUUID)
			delete(m.Logs, execUUID)
		}
	}
	m.DeletedTasks = append(m.DeletedTasks, uuid)
	return nil
}

// CreateExecution implements store.Store
func (m *MockStore) CreateExecution(_ context.Context, e *store.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateExecutionError != nil {
		return m.CreateExecutionError
	}
	for _, existing := range m.Executions {
		if existing.DedupeKey == e.DedupeKey {
			return store.ErrDuplicate
		}
	}
	cp := *e
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.Executions[e.UUID] = &cp
	m.CreatedExecutions = append(m.CreatedExecutions, cp)
	return nil
}

// GetExecutionByUUID implements store.Store
func (m *MockStore) GetExecutionByUUID(_ context.Context, uuid string) (*store.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Executions[uuid]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// ListExecutionsByTask implements store.Store
func (m *MockStore) ListExecutionsByTask(_ context.Context, taskUUID string, q store.ExecutionQuery) ([]store.Execution, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]store.Execution, 0)
	for _, e := range m.Executions {
		if e.TaskUUID != taskUUID {
			continue
		}
		if q.Date != "" && e.ScheduledAt.UTC().Format("2006-01-02") != q.Date {
			continue
		}
		all = append(all, *e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ScheduledAt.After(all[j].ScheduledAt) })
	return slicePage(all, q.Limit, q.Offset), int64(len(all)), nil
}

// GetPendingExecutions implements store.Store
func (m *MockStore) GetPendingExecutions(_ context.Context, taskUUID string, limit int) ([]store.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetPendingError != nil {
		return nil, m.GetPendingError
	}
	all := make([]store.Execution, 0)
	for _, e := range m.Executions {
		if e.TaskUUID == taskUUID && e.Status == store.ExecutionStatusPending {
			all = append(all, *e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ScheduledAt.Before(all[j].ScheduledAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ListRunningExecutions implements store.Store
func (m *MockStore) ListRunningExecutions(_ context.Context) ([]store.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListRunningError != nil {
		return nil, m.ListRunningError
	}
	out := make([]store.Execution, 0)
	for _, e := range m.Executions {
		if e.Status == store.ExecutionStatusRunning {
			out = append(out, *e)
		}
	}
	return out, nil
}

// UpdateExecutionStatusCAS implements store.Store
func (m *MockStore) UpdateExecutionStatusCAS(_ context.Context, uuid string, from, to store.ExecutionStatus, upd store.ExecutionStatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateExecutionCASFail {
		return false, nil
	}
	e, ok := m.Executions[uuid]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	e.UpdatedAt = time.Now()
	if upd.StartedAt != nil {
		e.StartedAt = upd.StartedAt
	}
	if upd.EndedAt != nil {
		e.EndedAt = upd.EndedAt
	}
	if upd.DurationMillis != nil {
		e.DurationMillis = upd.DurationMillis
	}
	if upd.ResponseStatus != nil {
		e.ResponseStatus = upd.ResponseStatus
	}
	if upd.Error != nil {
		e.Error = *upd.Error
	}
	return true, nil
}

// AppendExecutionLogs implements store.Store
func (m *MockStore) AppendExecutionLogs(_ context.Context, executionUUID string, logs []store.ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendLogsError != nil {
		return m.AppendLogsError
	}
	for i := range logs {
		logs[i].ExecutionUUID = executionUUID
	}
	m.Logs[executionUUID] = append(m.Logs[executionUUID], logs...)
	m.AppendedLogBatches++
	return nil
}

// CountExecutionLogs implements store.Store
func (m *MockStore) CountExecutionLogs(_ context.Context, executionUUID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.Logs[executionUUID])), nil
}

// GetExecutionLogs implements store.Store
func (m *MockStore) GetExecutionLogs(_ context.Context, executionUUID string, limit, offset int) ([]store.ExecutionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slicePage(m.Logs[executionUUID], limit, offset), nil
}

// UpsertDailyStat implements store.Store
func (m *MockStore) UpsertDailyStat(_ context.Context, projectUUID, date string, successDelta, failureDelta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertDailyStatError != nil {
		return m.UpsertDailyStatError
	}
	key := projectUUID + "|" + date
	stat, ok := m.Stats[key]
	if !ok {
		stat = &store.DailyStat{ProjectUUID: projectUUID, Date: date}
		m.Stats[key] = stat
	}
	stat.Success += successDelta
	stat.Failures += failureDelta
	stat.Total += successDelta + failureDelta
	m.UpsertedStats = append(m.UpsertedStats, key)
	return nil
}

// GetDailyStats implements store.Store
func (m *MockStore) GetDailyStats(_ context.Context, projectUUID, since string) ([]store.DailyStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.DailyStat, 0)
	for key, s := range m.Stats {
		if !strings.HasPrefix(key, projectUUID+"|") {
			continue
		}
		if s.Date >= since {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

func slicePage[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

// ============================================================================
// Mock Scheduler
// ============================================================================

// MockScheduler records scheduler calls for worker and handler tests
type MockScheduler struct {
	mu           sync.Mutex
	Registered   []string
	Unregistered []string
}

// Register implements the scheduler port
func (m *MockScheduler) Register(task *store.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Registered = append(m.Registered, task.UUID)
	return nil
}

// Unregister implements the scheduler port
func (m *MockScheduler) Unregister(taskUUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Unregistered = append(m.Unregistered, taskUUID)
}

// UnregisterCount returns how many times taskUUID was unregistered
func (m *MockScheduler) UnregisterCount(taskUUID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.Unregistered {
		if u == taskUUID {
			n++
		}
	}
	return n
}
