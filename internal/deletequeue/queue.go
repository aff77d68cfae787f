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

// Package deletequeue is the durable FIFO between the task delete API and
// the delete worker. Messages are rows in the shared database; a claimed
// message becomes invisible for the visibility timeout and is redelivered
// automatically if neither acked nor nacked, giving at-least-once delivery.
package deletequeue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

const (
	// DefaultVisibilityTimeout hides a claimed message from other consumers
	DefaultVisibilityTimeout = 30 * time.Second
	// DefaultMaxAttempts before a message is dead-lettered
	DefaultMaxAttempts = 5
	// DefaultNackBackoff delays redelivery of a nacked message
	DefaultNackBackoff = 5 * time.Second
)

// DeleteTaskMessage is the envelope between API and worker
type DeleteTaskMessage struct {
	ID          int64
	TaskUUID    string
	ProjectUUID string
	RequestedAt time.Time
	Attempts    int
}

// Publisher is the minimal interface the API needs
type Publisher interface {
	Publish(ctx context.Context, taskUUID, projectUUID string, requestedAt time.Time) error
}

// Queue is a database-backed durable FIFO with ack/nack semantics
type Queue struct {
	db                *gorm.DB
	visibilityTimeout time.Duration
	maxAttempts       int
	nackBackoff       time.Duration
	now               func() time.Time
}

// Option configures a Queue
type Option func(*Queue)

// WithVisibilityTimeout sets how long a claimed message stays invisible
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) { q.visibilityTimeout = d }
}

// WithMaxAttempts sets the dead-letter threshold
func WithMaxAttempts(n int) Option {
	return func(q *Queue) { q.maxAttempts = n }
}

// WithNackBackoff sets the redelivery delay after a nack
func WithNackBackoff(d time.Duration) Option {
	return func(q *Queue) { q.nackBackoff = d }
}

// NewQueue creates a queue over the shared database handle
func NewQueue(db *gorm.DB, opts ...Option) *Queue {
	q := &Queue{
		db:                db,
		visibilityTimeout: DefaultVisibilityTimeout,
		maxAttempts:       DefaultMaxAttempts,
		nackBackoff:       DefaultNackBackoff,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Publish enqueues a delete message. The insert is atomic: a cancelled
// request either enqueues the message or leaves the queue untouched.
func (q *Queue) Publish(ctx context.Context, taskUUID, projectUUID string, requestedAt time.Time) error {
	msg := store.DeleteMessage{
		TaskUUID:    taskUUID,
		ProjectUUID: projectUUID,
		RequestedAt: requestedAt.UTC(),
		VisibleAt:   q.now().UTC(),
		State:       store.DeleteMessagePending,
	}
	if err := q.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return fmt.Errorf("enqueueing delete message for task %s: %w", taskUUID, err)
	}
	return nil
}

// Receive claims the oldest visible message, hiding it for the visibility
// timeout. Returns (nil, nil) when the queue is empty. Concurrent consumers
// are serialized by the compare-and-set on visible_at.
func (q *Queue) Receive(ctx context.Context) (*DeleteTaskMessage, error) {
	for {
		var row store.DeleteMessage
		err := q.db.WithContext(ctx).
			Where("state = ? AND visible_at <= ?", store.DeleteMessagePending, q.now().UTC()).
			Order("id ASC").
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res := q.db.WithContext(ctx).Model(&store.DeleteMessage{}).
			Where("id = ? AND state = ? AND visible_at = ?", row.ID, store.DeleteMessagePending, row.VisibleAt).
			Updates(map[string]any{
				"visible_at": q.now().UTC().Add(q.visibilityTimeout),
				"attempts":   gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the claim race; try the next message.
			continue
		}

		return &DeleteTaskMessage{
			ID:          row.ID,
			TaskUUID:    row.TaskUUID,
			ProjectUUID: row.ProjectUUID,
			RequestedAt: row.RequestedAt,
			Attempts:    row.Attempts + 1,
		}, nil
	}
}

// Ack removes a processed message. Idempotent: acking a gone message is a
// no-op.
func (q *Queue) Ack(ctx context.Context, id int64) error {
	return q.db.WithContext(ctx).Where("id = ?", id).Delete(&store.DeleteMessage{}).Error
}

// Nack schedules redelivery, or dead-letters the message once attempts
// reach the maximum. Idempotent on a gone message.
func (q *Queue) Nack(ctx context.Context, id int64) error {
	var row store.DeleteMessage
	err := q.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if row.Attempts >= q.maxAttempts {
		return q.db.WithContext(ctx).Model(&store.DeleteMessage{}).
			Where("id = ?", id).
			Update("state", store.DeleteMessageDead).Error
	}

	return q.db.WithContext(ctx).Model(&store.DeleteMessage{}).
		Where("id = ?", id).
		Update("visible_at", q.now().UTC().Add(q.nackBackoff)).Error
}

// Depth returns the number of pending messages
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&store.DeleteMessage{}).
		Where("state = ?", store.DeleteMessagePending).
		Count(&count).Error
	return count, err
}

// DeadCount returns the number of dead-lettered messages
func (q *Queue) DeadCount(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&store.DeleteMessage{}).
		Where("state = ?", store.DeleteMessageDead).
		Count(&count).Error
	return count, err
}
