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

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

func dhakaGroup(start, end string) *store.TaskGroup {
	return &store.TaskGroup{
		UUID:      "g1",
		Status:    store.TaskGroupStatusActive,
		StartTime: start,
		EndTime:   end,
		Timezone:  "Asia/Dhaka",
	}
}

func TestInGroupWindow_InsideWindow(t *testing.T) {
	group := dhakaGroup("10:00", "11:00")

	// 04:30 UTC is 10:30 in Dhaka (UTC+6).
	at := time.Date(2025, 6, 1, 4, 30, 0, 0, time.UTC)
	assert.True(t, InGroupWindow(group, at))
}

func TestInGroupWindow_OutsideWindow(t *testing.T) {
	group := dhakaGroup("10:00", "11:00")

	// 12:00 UTC is 18:00 in Dhaka.
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.False(t, InGroupWindow(group, at))
}

func TestInGroupWindow_Boundaries(t *testing.T) {
	group := dhakaGroup("10:00", "11:00")

	// Start is inclusive: 04:00 UTC == 10:00 Dhaka.
	assert.True(t, InGroupWindow(group, time.Date(2025, 6, 1, 4, 0, 0, 0, time.UTC)))
	// End is exclusive: 05:00 UTC == 11:00 Dhaka.
	assert.False(t, InGroupWindow(group, time.Date(2025, 6, 1, 5, 0, 0, 0, time.UTC)))
}

func TestInGroupWindow_NoWindowAlwaysInside(t *testing.T) {
	group := &store.TaskGroup{UUID: "g1", Timezone: "UTC"}
	assert.True(t, InGroupWindow(group, time.Now()))
}

func TestInGroupWindow_BadTimezone(t *testing.T) {
	group := dhakaGroup("10:00", "11:00")
	group.Timezone = "Not/AZone"
	assert.False(t, InGroupWindow(group, time.Now()))
}

func TestDayAllowed(t *testing.T) {
	cfg := &store.ScheduleConfig{Timezone: "UTC"}
	cfg.SetDaysOfWeek([]time.Weekday{time.Monday, time.Wednesday})

	monday := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	tuesday := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)

	assert.True(t, dayAllowed(cfg, monday))
	assert.False(t, dayAllowed(cfg, tuesday))
}

func TestDayAllowed_EmptyAllowsAll(t *testing.T) {
	cfg := &store.ScheduleConfig{Timezone: "UTC"}
	assert.True(t, dayAllowed(cfg, time.Now()))
}

func TestDayAllowed_EvaluatedInTaskTimezone(t *testing.T) {
	cfg := &store.ScheduleConfig{Timezone: "Asia/Dhaka"}
	cfg.SetDaysOfWeek([]time.Weekday{time.Monday})

	// 2025-06-01 22:00 UTC is already Monday 04:00 in Dhaka.
	sundayUTC := time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC)
	require.Equal(t, time.Sunday, sundayUTC.Weekday())
	assert.True(t, dayAllowed(cfg, sundayUTC))
}

func TestDateExcluded(t *testing.T) {
	cfg := &store.ScheduleConfig{Timezone: "UTC"}
	cfg.SetExclusions([]string{"2025-06-01", "2025-12-25"})

	assert.True(t, dateExcluded(cfg, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)))
	assert.False(t, dateExcluded(cfg, time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)))
}
