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

// Package aggregator materializes per-project per-day success/failure
// counters from execution terminal-transition events.
package aggregator

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/iLLeniumStudios/cron-observer/internal/events"
	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

// Aggregator subscribes to execution results and upserts daily stats.
// The date bucket is scheduled_at's date in UTC.
type Aggregator struct {
	store  store.Store
	bus    *events.Bus
	ch     <-chan events.Event
	logger zerolog.Logger
}

// New creates a failure aggregator. It subscribes to execution results
// here, so results published before Start are queued rather than lost.
func New(st store.Store, bus *events.Bus, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:  st,
		bus:    bus,
		ch:     bus.Subscribe(events.ExecutionSucceeded, events.ExecutionFailed),
		logger: logger.With().Str("component", "aggregator").Logger(),
	}
}

// Start consumes execution result events until ctx is cancelled
func (a *Aggregator) Start(ctx context.Context) error {
	a.logger.Info().Msg("failure aggregator started")

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("failure aggregator stopped")
			return ctx.Err()
		case ev, ok := <-a.ch:
			if !ok {
				return nil
			}
			a.handle(ctx, ev)
		}
	}
}

func (a *Aggregator) handle(ctx context.Context, ev events.Event) {
	payload, ok := ev.Payload.(events.ExecutionResultPayload)
	if !ok || payload.Execution == nil {
		a.logger.Error().Str("type", string(ev.Type)).Msg("invalid event payload")
		return
	}

	exec := payload.Execution
	date := exec.ScheduledAt.UTC().Format("2006-01-02")

	var successDelta, failureDelta int64
	switch ev.Type {
	case events.ExecutionSucceeded:
		successDelta = 1
	case events.ExecutionFailed:
		failureDelta = 1
	default:
		return
	}

	if err := a.store.UpsertDailyStat(ctx, exec.ProjectUUID, date, successDelta, failureDelta); err != nil {
		a.logger.Error().Err(err).
			Str("project", exec.ProjectUUID).
			Str("date", date).
			Msg("failed to upsert daily stat")
		return
	}

	a.logger.Debug().
		Str("project", exec.ProjectUUID).
		Str("date", date).
		Str("execution", exec.UUID).
		Str("result", string(ev.Type)).
		Msg("daily stat updated")
}
