package store

import (
	"strconv"
	"strings"
	"time"
)

// ProjectRole is the role of a user within a project
type ProjectRole string

const (
	ProjectRoleAdmin    ProjectRole = "admin"
	ProjectRoleReadonly ProjectRole = "readonly"
)

// TaskStatus is the user-controlled status of a task
type TaskStatus string

const (
	TaskStatusActive        TaskStatus = "ACTIVE"
	TaskStatusDisabled      TaskStatus = "DISABLED"
	TaskStatusPendingDelete TaskStatus = "PENDING_DELETE"
	TaskStatusDeleteFailed  TaskStatus = "DELETE_FAILED"
)

// TaskGroupStatus is the user-controlled status of a task group
type TaskGroupStatus string

const (
	TaskGroupStatusActive   TaskGroupStatus = "ACTIVE"
	TaskGroupStatusDisabled TaskGroupStatus = "DISABLED"
)

// RunState is the system-computed state of a task or task group
type RunState string

const (
	RunStateRunning    RunState = "RUNNING"
	RunStateNotRunning RunState = "NOT_RUNNING"
)

// ScheduleType distinguishes recurring from one-off tasks
type ScheduleType string

const (
	ScheduleTypeRecurring ScheduleType = "RECURRING"
	ScheduleTypeOneOff    ScheduleType = "ONEOFF"
)

// ExecutionStatus is the lifecycle status of an execution
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusSuccess   ExecutionStatus = "SUCCESS"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
	ExecutionStatusCancelled ExecutionStatus = "CANCELLED"
)

// IsTerminal reports whether the status is terminal
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// TriggerType distinguishes engine-created from user-initiated executions
type TriggerType string

const (
	TriggerTypeScheduled TriggerType = "SCHEDULED"
	TriggerTypeManual    TriggerType = "MANUAL"
)

// LogLevel is the severity of an execution log entry
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// ValidLogLevel reports whether l is a known log level
func ValidLogLevel(l LogLevel) bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// Project is the top-level container for task groups and tasks (GORM model)
type Project struct {
	ID                int64     `gorm:"primaryKey;autoIncrement"`
	UUID              string    `gorm:"column:uuid;size:36;not null;uniqueIndex"`
	Name              string    `gorm:"column:name;size:255;not null"`
	APIKey            string    `gorm:"column:api_key;size:64;not null;uniqueIndex"`
	ExecutionEndpoint string    `gorm:"column:execution_endpoint;size:2048"`
	AlertEmails       string    `gorm:"column:alert_emails;type:text"`  // Comma-separated
	ProjectUsers      string    `gorm:"column:project_users;type:text"` // JSON array of {email, role}
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for Project
func (*Project) TableName() string {
	return "projects"
}

// GetAlertEmails returns the alert emails as a slice
func (p *Project) GetAlertEmails() []string {
	return splitCSV(p.AlertEmails)
}

// SetAlertEmails sets the alert emails from a slice
func (p *Project) SetAlertEmails(emails []string) {
	p.AlertEmails = strings.Join(emails, ",")
}

// ProjectUser is one entry in a project's user set
type ProjectUser struct {
	Email string      `json:"email"`
	Role  ProjectRole `json:"role"`
}

// TaskGroup groups tasks under an optional daily time-of-day window (GORM model)
type TaskGroup struct {
	ID          int64           `gorm:"primaryKey;autoIncrement"`
	UUID        string          `gorm:"column:uuid;size:36;not null;uniqueIndex"`
	ProjectUUID string          `gorm:"column:project_uuid;size:36;not null;index"`
	Name        string          `gorm:"column:name;size:255;not null"`
	Description string          `gorm:"column:description;type:text"`
	Status      TaskGroupStatus `gorm:"column:status;size:20;not null"`
	State       RunState        `gorm:"column:state;size:20;not null"`
	StartTime   string          `gorm:"column:start_time;size:5"` // HH:MM
	EndTime     string          `gorm:"column:end_time;size:5"`   // HH:MM
	Timezone    string          `gorm:"column:timezone;size:64;not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for TaskGroup
func (*TaskGroup) TableName() string {
	return "task_groups"
}

// HasWindow reports whether the group defines a daily time window
func (g *TaskGroup) HasWindow() bool {
	return g.StartTime != "" && g.EndTime != ""
}

// ScheduleConfig describes when a task fires (embedded in Task)
type ScheduleConfig struct {
	Timezone       string `gorm:"column:timezone;size:64;not null"`
	CronExpression string `gorm:"column:cron_expression;size:255"`
	TimeRangeStart string `gorm:"column:time_range_start;size:5"` // HH:MM
	TimeRangeEnd   string `gorm:"column:time_range_end;size:5"`   // HH:MM
	DaysOfWeek     string `gorm:"column:days_of_week;size:32"`    // Comma-separated weekday numbers, 0=Sunday
	Exclusions     string `gorm:"column:exclusions;type:text"`    // Comma-separated YYYY-MM-DD dates
}

// GetDaysOfWeek returns the configured weekdays as a slice
func (c *ScheduleConfig) GetDaysOfWeek() []time.Weekday {
	parts := splitCSV(c.DaysOfWeek)
	days := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 6 {
			continue
		}
		days = append(days, time.Weekday(n))
	}
	return days
}

// SetDaysOfWeek sets the configured weekdays from a slice
func (c *ScheduleConfig) SetDaysOfWeek(days []time.Weekday) {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	c.DaysOfWeek = strings.Join(parts, ",")
}

// GetExclusions returns the excluded dates as a slice of YYYY-MM-DD strings
func (c *ScheduleConfig) GetExclusions() []string {
	return splitCSV(c.Exclusions)
}

// SetExclusions sets the excluded dates from a slice
func (c *ScheduleConfig) SetExclusions(dates []string) {
	c.Exclusions = strings.Join(dates, ",")
}

// TriggerKindHTTP is the only trigger variant the core understands today.
// The variant tag is the extension point for future trigger kinds.
const TriggerKindHTTP = "HTTP"

// TriggerConfig describes how a task is triggered (embedded in Task).
// Body is opaque bytes the executor interprets; the core never decodes it.
type TriggerConfig struct {
	Type        string `gorm:"column:trigger_kind;size:20"`
	HTTPURL     string `gorm:"column:http_url;size:2048"`
	HTTPMethod  string `gorm:"column:http_method;size:10"`
	HTTPHeaders string `gorm:"column:http_headers;type:text"` // JSON object
	HTTPBody    []byte `gorm:"column:http_body"`
	HTTPTimeout int    `gorm:"column:http_timeout_secs"`
}

// Task is the unit of scheduling (GORM model)
type Task struct {
	ID             int64          `gorm:"primaryKey;autoIncrement"`
	UUID           string         `gorm:"column:uuid;size:36;not null;uniqueIndex"`
	ProjectUUID    string         `gorm:"column:project_uuid;size:36;not null;index:idx_task_project,priority:1"`
	TaskGroupUUID  *string        `gorm:"column:task_group_uuid;size:36;index"`
	Name           string         `gorm:"column:name;size:255;not null"`
	Description    string         `gorm:"column:description;type:text"`
	ScheduleType   ScheduleType   `gorm:"column:schedule_type;size:20;not null"`
	ScheduleConfig ScheduleConfig `gorm:"embedded"`
	TriggerConfig  TriggerConfig  `gorm:"embedded"`
	Status         TaskStatus     `gorm:"column:status;size:20;not null;index:idx_task_project,priority:2"`
	State          RunState       `gorm:"column:state;size:20;not null"`
	TimeoutSeconds int            `gorm:"column:timeout_seconds"`
	Metadata       string         `gorm:"column:metadata;type:text"` // Opaque JSON, interpreted by the executor
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for Task
func (*Task) TableName() string {
	return "tasks"
}

// Execution is one attempted firing of a task (GORM model).
// DedupeKey enforces at most one SCHEDULED execution per (task, scheduled_at);
// MANUAL executions use their own uuid so repeated triggers never collide.
type Execution struct {
	ID             int64           `gorm:"primaryKey;autoIncrement"`
	UUID           string          `gorm:"column:uuid;size:36;not null;uniqueIndex"`
	TaskUUID       string          `gorm:"column:task_uuid;size:36;not null;index:idx_exec_task_sched,priority:1"`
	ProjectUUID    string          `gorm:"column:project_uuid;size:36;not null;index:idx_exec_project_time,priority:1"`
	Status         ExecutionStatus `gorm:"column:status;size:20;not null;index"`
	TriggerType    TriggerType     `gorm:"column:trigger_type;size:20;not null"`
	DedupeKey      string          `gorm:"column:dedupe_key;size:80;not null;uniqueIndex"`
	ScheduledAt    time.Time       `gorm:"column:scheduled_at;not null;index:idx_exec_task_sched,priority:2;index:idx_exec_project_time,priority:2"`
	StartedAt      *time.Time      `gorm:"column:started_at"`
	EndedAt        *time.Time      `gorm:"column:ended_at"`
	DurationMillis *int64          `gorm:"column:duration_ms"`
	ResponseStatus *int            `gorm:"column:response_status"`
	Error          string          `gorm:"column:error;type:text"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for Execution
func (*Execution) TableName() string {
	return "executions"
}

// ScheduledDedupeKey builds the dedupe key for a SCHEDULED firing
func ScheduledDedupeKey(taskUUID string, scheduledAt time.Time) string {
	return taskUUID + "@" + scheduledAt.UTC().Format(time.RFC3339)
}

// ExecutionLog is one append-only log entry of an execution (GORM model)
type ExecutionLog struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	ExecutionUUID string    `gorm:"column:execution_uuid;size:36;not null;index"`
	Timestamp     time.Time `gorm:"column:timestamp;not null"`
	Level         LogLevel  `gorm:"column:level;size:10;not null"`
	Message       string    `gorm:"column:message;type:text"`
	Metadata      string    `gorm:"column:metadata;type:text"` // Opaque JSON
}

// TableName specifies the table name for ExecutionLog
func (*ExecutionLog) TableName() string {
	return "execution_logs"
}

// DailyStat holds per-project per-day execution counters (GORM model)
type DailyStat struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	ProjectUUID string `gorm:"column:project_uuid;size:36;not null;uniqueIndex:idx_stat_project_date,priority:1"`
	Date        string `gorm:"column:date;size:10;not null;uniqueIndex:idx_stat_project_date,priority:2"` // YYYY-MM-DD in UTC
	Success     int64  `gorm:"column:success;default:0"`
	Failures    int64  `gorm:"column:failures;default:0"`
	Total       int64  `gorm:"column:total;default:0"`
}

// TableName specifies the table name for DailyStat
func (*DailyStat) TableName() string {
	return "daily_stats"
}

// DeleteMessageState is the queue state of a delete message
type DeleteMessageState string

const (
	DeleteMessagePending DeleteMessageState = "PENDING"
	DeleteMessageDead    DeleteMessageState = "DEAD"
)

// DeleteMessage is one durable delete-queue entry (GORM model).
// FIFO order is the autoincrement id; a claimed message stays PENDING with
// visible_at pushed past the visibility timeout so redelivery is automatic.
type DeleteMessage struct {
	ID          int64              `gorm:"primaryKey;autoIncrement"`
	TaskUUID    string             `gorm:"column:task_uuid;size:36;not null;index"`
	ProjectUUID string             `gorm:"column:project_uuid;size:36;not null"`
	RequestedAt time.Time          `gorm:"column:requested_at;not null"`
	Attempts    int                `gorm:"column:attempts;default:0"`
	VisibleAt   time.Time          `gorm:"column:visible_at;not null;index:idx_delete_visible,priority:2"`
	State       DeleteMessageState `gorm:"column:state;size:10;not null;index:idx_delete_visible,priority:1"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for DeleteMessage
func (*DeleteMessage) TableName() string {
	return "delete_queue"
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
