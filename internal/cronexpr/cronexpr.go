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

// Package cronexpr evaluates standard 5-field cron expressions
// (minute hour dom month dow) in IANA timezones. Pure functions, no I/O.
package cronexpr

import (
	"fmt"
	"time"

	cron "github.com/robfig/cron/v3"
)

// parser accepts the standard 5-field grammar: *, integers, a-b ranges,
// a,b,c lists and */n steps.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Validate reports whether expr parses as a 5-field cron expression
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// ValidateTimezone reports whether tz is a loadable IANA zone identifier
func ValidateTimezone(tz string) error {
	if tz == "" {
		return fmt.Errorf("timezone is required")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return nil
}

// NextAfter returns the smallest instant strictly greater than ref at which
// expr holds in the given zone. Local times skipped by a DST spring-forward
// are not fired: the result is the next matching local time that exists (for
// a daily 02:30 job, 02:30 on the following day). A local time repeated by a
// fall-back fires only on its first occurrence.
func NextAfter(expr, tz string, ref time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	t := ref.In(loc)
	for {
		next := sched.Next(t)
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("cron expression %q has no upcoming firing after %s", expr, ref.Format(time.RFC3339))
		}
		// Within the first (old offset - new offset) after a fall-back
		// transition, local times are second occurrences; skip them.
		start, _ := next.ZoneBounds()
		_, offNow := next.Zone()
		_, offPrev := start.Add(-time.Second).Zone()
		repeat := time.Duration(offPrev-offNow) * time.Second
		if start.IsZero() || repeat <= 0 || !next.Before(start.Add(repeat)) {
			return next, nil
		}
		t = next
	}
}
