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

package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLLeniumStudios/cron-observer/internal/events"
	"github.com/iLLeniumStudios/cron-observer/internal/store"
	"github.com/iLLeniumStudios/cron-observer/internal/testutil"
)

func resultEvent(eventType events.EventType, projectUUID string, scheduledAt time.Time) events.Event {
	return events.Event{
		Type: eventType,
		Payload: events.ExecutionResultPayload{
			Execution: &store.Execution{
				UUID:        "e-" + scheduledAt.Format("150405"),
				TaskUUID:    "t1",
				ProjectUUID: projectUUID,
				ScheduledAt: scheduledAt,
			},
		},
	}
}

func TestAggregator_CountsFailuresPerDay(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMockStore()
	bus := events.NewBus(zerolog.Nop(), 8)
	defer bus.Close()
	agg := New(st, bus, zerolog.Nop())

	day := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	agg.handle(ctx, resultEvent(events.ExecutionFailed, "p1", day))
	agg.handle(ctx, resultEvent(events.ExecutionFailed, "p1", day.Add(2*time.Hour)))

	stats, err := st.GetDailyStats(ctx, "p1", "2025-06-01")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "2025-06-01", stats[0].Date)
	assert.Equal(t, int64(2), stats[0].Failures)
	assert.Equal(t, int64(0), stats[0].Success)
	assert.Equal(t, int64(2), stats[0].Total)
}

func TestAggregator_MixedResults(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMockStore()
	bus := events.NewBus(zerolog.Nop(), 8)
	defer bus.Close()
	agg := New(st, bus, zerolog.Nop())

	day := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	agg.handle(ctx, resultEvent(events.ExecutionSucceeded, "p1", day))
	agg.handle(ctx, resultEvent(events.ExecutionSucceeded, "p1", day))
	agg.handle(ctx, resultEvent(events.ExecutionFailed, "p1", day))

	stats, err := st.GetDailyStats(ctx, "p1", "2025-06-01")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(2), stats[0].Success)
	assert.Equal(t, int64(1), stats[0].Failures)
	assert.Equal(t, int64(3), stats[0].Total)
}

func TestAggregator_BucketsByScheduledAtUTCDate(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMockStore()
	bus := events.NewBus(zerolog.Nop(), 8)
	defer bus.Close()
	agg := New(st, bus, zerolog.Nop())

	// 23:30 and next day 00:30 land in different buckets.
	agg.handle(ctx, resultEvent(events.ExecutionFailed, "p1", time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)))
	agg.handle(ctx, resultEvent(events.ExecutionFailed, "p1", time.Date(2025, 6, 2, 0, 30, 0, 0, time.UTC)))

	stats, err := st.GetDailyStats(ctx, "p1", "2025-06-01")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	// Newest first.
	assert.Equal(t, "2025-06-02", stats[0].Date)
	assert.Equal(t, "2025-06-01", stats[1].Date)
}

func TestAggregator_ProjectsAreIndependent(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMockStore()
	bus := events.NewBus(zerolog.Nop(), 8)
	defer bus.Close()
	agg := New(st, bus, zerolog.Nop())

	day := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	agg.handle(ctx, resultEvent(events.ExecutionFailed, "p1", day))
	agg.handle(ctx, resultEvent(events.ExecutionFailed, "p2", day))

	statsP1, err := st.GetDailyStats(ctx, "p1", "2025-06-01")
	require.NoError(t, err)
	require.Len(t, statsP1, 1)
	assert.Equal(t, int64(1), statsP1[0].Failures)
}

func TestAggregator_ConsumesFromBus(t *testing.T) {
	st := testutil.NewMockStore()
	bus := events.NewBus(zerolog.Nop(), 8)
	defer bus.Close()
	agg := New(st, bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = agg.Start(ctx)
		close(done)
	}()

	// Give the subscription a moment, then publish and wait for the upsert.
	time.Sleep(10 * time.Millisecond)
	bus.Publish(resultEvent(events.ExecutionFailed, "p1", time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)))

	require.Eventually(t, func() bool {
		stats, err := st.GetDailyStats(context.Background(), "p1", "2025-06-01")
		return err == nil && len(stats) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
