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
	"time"

	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

// InGroupWindow reports whether t falls inside the group's daily time
// window, evaluated in the group's timezone. A group without a window is
// always inside.
func InGroupWindow(group *store.TaskGroup, t time.Time) bool {
	if !group.HasWindow() {
		return true
	}

	loc, err := time.LoadLocation(group.Timezone)
	if err != nil {
		return false
	}

	start, err := parseTimeInLocation(group.StartTime, loc, t)
	if err != nil {
		return false
	}
	end, err := parseTimeInLocation(group.EndTime, loc, t)
	if err != nil {
		return false
	}

	local := t.In(loc)
	current := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, loc)

	return !current.Before(start) && current.Before(end)
}

// dayAllowed reports whether the firing weekday (in the task's timezone) is
// permitted by the days_of_week restriction. An empty restriction allows
// every day.
func dayAllowed(cfg *store.ScheduleConfig, t time.Time) bool {
	days := cfg.GetDaysOfWeek()
	if len(days) == 0 {
		return true
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return false
	}
	weekday := t.In(loc).Weekday()

	for _, d := range days {
		if d == weekday {
			return true
		}
	}
	return false
}

// dateExcluded reports whether the firing date (in the task's timezone) is
// listed in the exclusions
func dateExcluded(cfg *store.ScheduleConfig, t time.Time) bool {
	exclusions := cfg.GetExclusions()
	if len(exclusions) == 0 {
		return false
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return false
	}
	date := t.In(loc).Format("2006-01-02")

	for _, ex := range exclusions {
		if ex == date {
			return true
		}
	}
	return false
}

// parseTimeInLocation resolves an HH:MM string to the instant on the same
// day as reference, in the given location
func parseTimeInLocation(timeStr string, loc *time.Location, reference time.Time) (time.Time, error) {
	t, err := time.Parse("15:04", timeStr)
	if err != nil {
		return time.Time{}, err
	}

	ref := reference.In(loc)
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}
