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

package deletequeue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

func testQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	gs, err := store.NewGormStore("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, gs.Init())
	t.Cleanup(func() { _ = gs.Close() })
	return NewQueue(gs.DB(), opts...)
}

func TestQueue_PublishReceiveAck(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	requested := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, q.Publish(ctx, "t1", "p1", requested))

	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "t1", msg.TaskUUID)
	assert.Equal(t, "p1", msg.ProjectUUID)
	assert.Equal(t, requested, msg.RequestedAt.UTC())
	assert.Equal(t, 1, msg.Attempts)

	require.NoError(t, q.Ack(ctx, msg.ID))

	empty, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	for _, uuid := range []string{"first", "second", "third"} {
		require.NoError(t, q.Publish(ctx, uuid, "p1", time.Now()))
	}

	var order []string
	for i := 0; i < 3; i++ {
		msg, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, msg)
		order = append(order, msg.TaskUUID)
		require.NoError(t, q.Ack(ctx, msg.ID))
	}
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestQueue_VisibilityTimeoutHidesClaimed(t *testing.T) {
	q := testQueue(t, WithVisibilityTimeout(30*time.Second))
	ctx := context.Background()

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return clock }

	require.NoError(t, q.Publish(ctx, "t1", "p1", clock))

	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	// Claimed but unacked: invisible to a second consumer.
	hidden, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, hidden)

	// After the visibility timeout it is redelivered with a higher
	// attempt count.
	clock = clock.Add(31 * time.Second)
	redelivered, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, "t1", redelivered.TaskUUID)
	assert.Equal(t, 2, redelivered.Attempts)
}

func TestQueue_NackSchedulesRedelivery(t *testing.T) {
	q := testQueue(t, WithNackBackoff(5*time.Second))
	ctx := context.Background()

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return clock }

	require.NoError(t, q.Publish(ctx, "t1", "p1", clock))

	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.NoError(t, q.Nack(ctx, msg.ID))

	// Not yet visible.
	hidden, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, hidden)

	clock = clock.Add(6 * time.Second)
	redelivered, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, 2, redelivered.Attempts)
}

func TestQueue_DeadLetterAfterMaxAttempts(t *testing.T) {
	q := testQueue(t, WithMaxAttempts(3), WithNackBackoff(time.Millisecond))
	ctx := context.Background()

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return clock }

	require.NoError(t, q.Publish(ctx, "t1", "p1", clock))

	for i := 0; i < 3; i++ {
		msg, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, msg, "attempt %d", i+1)
		require.NoError(t, q.Nack(ctx, msg.ID))
		clock = clock.Add(time.Second)
	}

	// The third nack dead-letters the message.
	gone, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, gone)

	dead, err := q.DeadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)
}

func TestQueue_AckNackIdempotentOnGoneMessage(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "t1", "p1", time.Now()))
	msg, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	require.NoError(t, q.Ack(ctx, msg.ID))
	require.NoError(t, q.Ack(ctx, msg.ID))
	require.NoError(t, q.Nack(ctx, msg.ID))
}

func TestQueue_DepthCountsPendingOnly(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "t1", "p1", time.Now()))
	require.NoError(t, q.Publish(ctx, "t2", "p1", time.Now()))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}
