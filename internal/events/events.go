package events

import (
	"time"

	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

// EventType defines the type of event
type EventType string

const (
	TaskCreated        EventType = "task.created"
	TaskUpdated        EventType = "task.updated"
	TaskDeleted        EventType = "task.deleted" // Published after a task is hard-deleted (e.g. by the delete worker); scheduler unregisters it.
	TaskGroupCreated   EventType = "taskgroup.created"
	TaskGroupUpdated   EventType = "taskgroup.updated"
	TaskGroupDeleted   EventType = "taskgroup.deleted"
	ExecutionSucceeded EventType = "execution.succeeded"
	ExecutionFailed    EventType = "execution.failed"
	ExecutionTimedOut  EventType = "execution.timed_out"
)

// Event represents an event in the system
type Event struct {
	Type    EventType
	Payload interface{}
}

// TaskPayload contains the task data for created/updated events
type TaskPayload struct {
	Task *store.Task
}

// TaskDeletedPayload contains the task UUID for TaskDeleted events.
// Subscribers must tolerate seeing the same deletion more than once.
type TaskDeletedPayload struct {
	TaskUUID string
}

// TaskGroupPayload contains the task group data for created/updated events
type TaskGroupPayload struct {
	TaskGroup *store.TaskGroup
}

// TaskGroupDeletedPayload contains the task group UUID for deleted events
type TaskGroupDeletedPayload struct {
	TaskGroupUUID string
}

// ExecutionResultPayload contains the execution for terminal-transition events
type ExecutionResultPayload struct {
	Execution *store.Execution
}

// ExecutionTimedOutPayload contains execution UUID and timeout information
type ExecutionTimedOutPayload struct {
	ExecutionUUID  string
	TaskUUID       string
	TimeoutSeconds int
	DetectedAt     time.Time
}
