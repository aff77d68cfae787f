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
	"fmt"
	"time"

	"github.com/glebarez/sqlite" // Pure Go SQLite driver (no CGO required)
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore implements Store using GORM
type GormStore struct {
	db      *gorm.DB
	dialect string
}

// ConnectionPoolConfig holds connection pool settings
type ConnectionPoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewGormStore creates a new GORM-based store
func NewGormStore(dialect string, dsn string) (*GormStore, error) {
	return NewGormStoreWithPool(dialect, dsn, ConnectionPoolConfig{})
}

// NewGormStoreWithPool creates a new GORM-based store with connection pool settings
func NewGormStoreWithPool(dialect string, dsn string, pool ConnectionPoolConfig) (*GormStore, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for non-SQLite databases
	if dialect != "sqlite" && (pool.MaxIdleConns > 0 || pool.MaxOpenConns > 0 || pool.ConnMaxLifetime > 0 || pool.ConnMaxIdleTime > 0) {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB for pool config: %w", err)
		}

		if pool.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
		}
		if pool.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
		}
		if pool.ConnMaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
		}
	}

	return &GormStore{db: db, dialect: dialect}, nil
}

// DB exposes the underlying handle for components that share the database,
// such as the delete queue.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Init initializes the store (creates tables via auto-migration)
func (s *GormStore) Init() error {
	return s.db.AutoMigrate(
		&Project{},
		&TaskGroup{},
		&Task{},
		&Execution{},
		&ExecutionLog{},
		&DailyStat{},
		&DeleteMessage{},
	)
}

// Close closes the store and releases resources
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the store is healthy
func (s *GormStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

// =============================================================================
// Projects
// =============================================================================

// CreateProject stores a new project
func (s *GormStore) CreateProject(ctx context.Context, p *Project) error {
	return translate(s.db.WithContext(ctx).Create(p).Error)
}

// GetProjectByUUID returns a project by its uuid
func (s *GormStore) GetProjectByUUID(ctx context.Context, uuid string) (*Project, error) {
	var p Project
	if err := s.db.WithContext(ctx).Where("uuid = ?", uuid).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// GetProjectByAPIKey returns the project owning the given API key
func (s *GormStore) GetProjectByAPIKey(ctx context.Context, apiKey string) (*Project, error) {
	var p Project
	if err := s.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// ListProjects returns projects with database-level pagination
func (s *GormStore) ListProjects(ctx context.Context, limit, offset int) ([]Project, int64, error) {
	var items []Project
	var total int64

	query := s.db.WithContext(ctx).Model(&Project{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&items).Error
	return items, total, err
}

// UpdateProject saves a full project row
func (s *GormStore) UpdateProject(ctx context.Context, p *Project) error {
	return translate(s.db.WithContext(ctx).Save(p).Error)
}

// =============================================================================
// Task groups
// =============================================================================

// CreateTaskGroup stores a new task group
func (s *GormStore) CreateTaskGroup(ctx context.Context, g *TaskGroup) error {
	return translate(s.db.WithContext(ctx).Create(g).Error)
}

// GetTaskGroupByUUID returns a task group by its uuid
func (s *GormStore) GetTaskGroupByUUID(ctx context.Context, uuid string) (*TaskGroup, error) {
	var g TaskGroup
	if err := s.db.WithContext(ctx).Where("uuid = ?", uuid).First(&g).Error; err != nil {
		return nil, translate(err)
	}
	return &g, nil
}

// ListTaskGroups returns a project's task groups with pagination
func (s *GormStore) ListTaskGroups(ctx context.Context, projectUUID string, limit, offset int) ([]TaskGroup, int64, error) {
	var items []TaskGroup
	var total int64

	query := s.db.WithContext(ctx).Model(&TaskGroup{}).Where("project_uuid = ?", projectUUID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&items).Error
	return items, total, err
}

// UpdateTaskGroup saves a full task group row
func (s *GormStore) UpdateTaskGroup(ctx context.Context, g *TaskGroup) error {
	return translate(s.db.WithContext(ctx).Save(g).Error)
}

// UpdateTaskGroupState sets the system-computed state of a task group
func (s *GormStore) UpdateTaskGroupState(ctx context.Context, uuid string, state RunState) error {
	res := s.db.WithContext(ctx).Model(&TaskGroup{}).
		Where("uuid = ?", uuid).
		Update("state", state)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTaskGroup removes a task group row; member tasks keep their rows
// and fall back to ungrouped scheduling.
func (s *GormStore) DeleteTaskGroup(ctx context.Context, uuid string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Task{}).
			Where("task_group_uuid = ?", uuid).
			Update("task_group_uuid", nil).Error; err != nil {
			return err
		}
		res := tx.Where("uuid = ?", uuid).Delete(&TaskGroup{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetActiveTaskGroupsWithWindows returns ACTIVE groups that define a window
func (s *GormStore) GetActiveTaskGroupsWithWindows(ctx context.Context) ([]TaskGroup, error) {
	var items []TaskGroup
	err := s.db.WithContext(ctx).
		Where("status = ? AND start_time != '' AND end_time != ''", TaskGroupStatusActive).
		Find(&items).Error
	return items, err
}

// =============================================================================
// Tasks
// =============================================================================

// CreateTask stores a new task
func (s *GormStore) CreateTask(ctx context.Context, t *Task) error {
	return translate(s.db.WithContext(ctx).Create(t).Error)
}

// GetTaskByUUID returns a task by its uuid
func (s *GormStore) GetTaskByUUID(ctx context.Context, uuid string) (*Task, error) {
	var t Task
	if err := s.db.WithContext(ctx).Where("uuid = ?", uuid).First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// ListTasks returns a project's tasks with pagination
func (s *GormStore) ListTasks(ctx context.Context, projectUUID string, limit, offset int) ([]Task, int64, error) {
	var items []Task
	var total int64

	query := s.db.WithContext(ctx).Model(&Task{}).Where("project_uuid = ?", projectUUID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&items).Error
	return items, total, err
}

// GetTasksByGroupUUID returns all tasks attached to a group
func (s *GormStore) GetTasksByGroupUUID(ctx context.Context, groupUUID string) ([]Task, error) {
	var items []Task
	err := s.db.WithContext(ctx).Where("task_group_uuid = ?", groupUUID).Find(&items).Error
	return items, err
}

// GetAllActiveTasks returns every ACTIVE task, for startup registration
func (s *GormStore) GetAllActiveTasks(ctx context.Context) ([]Task, error) {
	var items []Task
	err := s.db.WithContext(ctx).Where("status = ?", TaskStatusActive).Find(&items).Error
	return items, err
}

// UpdateTask saves a full task row
func (s *GormStore) UpdateTask(ctx context.Context, t *Task) error {
	return translate(s.db.WithContext(ctx).Save(t).Error)
}

// UpdateTaskStatus sets the status unconditionally
func (s *GormStore) UpdateTaskStatus(ctx context.Context, uuid string, status TaskStatus) error {
	res := s.db.WithContext(ctx).Model(&Task{}).
		Where("uuid = ?", uuid).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTaskStatusCAS sets the status only if it currently equals from
func (s *GormStore) UpdateTaskStatusCAS(ctx context.Context, uuid string, from, to TaskStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Task{}).
		Where("uuid = ? AND status = ?", uuid, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateTaskState sets the system-computed state of a task
func (s *GormStore) UpdateTaskState(ctx context.Context, uuid string, state RunState) error {
	res := s.db.WithContext(ctx).Model(&Task{}).
		Where("uuid = ?", uuid).
		Update("state", state)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask hard-deletes a task and cascades its executions and their logs
func (s *GormStore) DeleteTask(ctx context.Context, uuid string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var execUUIDs []string
		if err := tx.Model(&Execution{}).
			Where("task_uuid = ?", uuid).
			Pluck("uuid", &execUUIDs).Error; err != nil {
			return err
		}
		if len(execUUIDs) > 0 {
			if err := tx.Where("execution_uuid IN ?", execUUIDs).Delete(&ExecutionLog{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("task_uuid = ?", uuid).Delete(&Execution{}).Error; err != nil {
			return err
		}
		return tx.Where("uuid = ?", uuid).Delete(&Task{}).Error
	})
}

// =============================================================================
// Executions
// =============================================================================

// CreateExecution stores a new execution; ErrDuplicate on dedupe collision
func (s *GormStore) CreateExecution(ctx context.Context, e *Execution) error {
	return translate(s.db.WithContext(ctx).Create(e).Error)
}

// GetExecutionByUUID returns an execution by its uuid
func (s *GormStore) GetExecutionByUUID(ctx context.Context, uuid string) (*Execution, error) {
	var e Execution
	if err := s.db.WithContext(ctx).Where("uuid = ?", uuid).First(&e).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

// ListExecutionsByTask returns executions with filtering and pagination,
// newest scheduled first
func (s *GormStore) ListExecutionsByTask(ctx context.Context, taskUUID string, q ExecutionQuery) ([]Execution, int64, error) {
	var items []Execution
	var total int64

	query := s.db.WithContext(ctx).Model(&Execution{}).Where("task_uuid = ?", taskUUID)

	if q.Date != "" {
		day, err := time.Parse("2006-01-02", q.Date)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid date filter %q: %w", q.Date, err)
		}
		query = query.Where("scheduled_at >= ? AND scheduled_at < ?", day, day.AddDate(0, 0, 1))
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("scheduled_at DESC").Limit(q.Limit).Offset(q.Offset).Find(&items).Error
	return items, total, err
}

// GetPendingExecutions returns PENDING executions ordered by scheduled_at ASC
func (s *GormStore) GetPendingExecutions(ctx context.Context, taskUUID string, limit int) ([]Execution, error) {
	var items []Execution
	err := s.db.WithContext(ctx).
		Where("task_uuid = ? AND status = ?", taskUUID, ExecutionStatusPending).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// ListRunningExecutions returns every RUNNING execution, for the watchdog
func (s *GormStore) ListRunningExecutions(ctx context.Context) ([]Execution, error) {
	var items []Execution
	err := s.db.WithContext(ctx).
		Where("status = ?", ExecutionStatusRunning).
		Find(&items).Error
	return items, err
}

// UpdateExecutionStatusCAS transitions status from -> to atomically
func (s *GormStore) UpdateExecutionStatusCAS(ctx context.Context, uuid string, from, to ExecutionStatus, upd ExecutionStatusUpdate) (bool, error) {
	fields := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if upd.StartedAt != nil {
		fields["started_at"] = *upd.StartedAt
	}
	if upd.EndedAt != nil {
		fields["ended_at"] = *upd.EndedAt
	}
	if upd.DurationMillis != nil {
		fields["duration_ms"] = *upd.DurationMillis
	}
	if upd.ResponseStatus != nil {
		fields["response_status"] = *upd.ResponseStatus
	}
	if upd.Error != nil {
		fields["error"] = *upd.Error
	}

	res := s.db.WithContext(ctx).Model(&Execution{}).
		Where("uuid = ? AND status = ?", uuid, from).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// =============================================================================
// Execution logs
// =============================================================================

// AppendExecutionLogs appends log entries in one batch insert
func (s *GormStore) AppendExecutionLogs(ctx context.Context, executionUUID string, logs []ExecutionLog) error {
	if len(logs) == 0 {
		return nil
	}
	for i := range logs {
		logs[i].ExecutionUUID = executionUUID
	}
	return s.db.WithContext(ctx).Create(&logs).Error
}

// CountExecutionLogs returns the number of log entries for an execution
func (s *GormStore) CountExecutionLogs(ctx context.Context, executionUUID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ExecutionLog{}).
		Where("execution_uuid = ?", executionUUID).
		Count(&count).Error
	return count, err
}

// GetExecutionLogs returns log entries in append order
func (s *GormStore) GetExecutionLogs(ctx context.Context, executionUUID string, limit, offset int) ([]ExecutionLog, error) {
	var items []ExecutionLog
	err := s.db.WithContext(ctx).
		Where("execution_uuid = ?", executionUUID).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&items).Error
	return items, err
}

// =============================================================================
// Daily stats
// =============================================================================

// UpsertDailyStat atomically increments the counters for (project, date)
func (s *GormStore) UpsertDailyStat(ctx context.Context, projectUUID, date string, successDelta, failureDelta int64) error {
	stat := DailyStat{
		ProjectUUID: projectUUID,
		Date:        date,
		Success:     successDelta,
		Failures:    failureDelta,
		Total:       successDelta + failureDelta,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "project_uuid"}, {Name: "date"}},
			DoUpdates: clause.Assignments(map[string]any{
				"success":  gorm.Expr("success + ?", successDelta),
				"failures": gorm.Expr("failures + ?", failureDelta),
				"total":    gorm.Expr("total + ?", successDelta+failureDelta),
			}),
		}).Create(&stat).Error
}

// GetDailyStats returns stats for dates >= since, newest first
func (s *GormStore) GetDailyStats(ctx context.Context, projectUUID, since string) ([]DailyStat, error) {
	var items []DailyStat
	err := s.db.WithContext(ctx).
		Where("project_uuid = ? AND date >= ?", projectUUID, since).
		Order("date DESC").
		Find(&items).Error
	return items, err
}
