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

package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

// Watchdog periodically checks RUNNING executions against their task's
// timeout_seconds and force-fails the ones that ran too long
type Watchdog struct {
	store    store.Store
	service  *Service
	logger   zerolog.Logger
	interval time.Duration
	stopCh   chan struct{}
	running  bool
	mu       sync.Mutex
	now      func() time.Time
}

// NewWatchdog creates a timeout watchdog
func NewWatchdog(st store.Store, svc *Service, logger zerolog.Logger) *Watchdog {
	return &Watchdog{
		store:    st,
		service:  svc,
		logger:   logger.With().Str("component", "watchdog").Logger(),
		interval: 1 * time.Minute,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// SetInterval changes the check interval
func (w *Watchdog) SetInterval(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.interval = d
}

// Start begins the watchdog loop
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	interval := w.interval
	w.mu.Unlock()

	w.logger.Info().Dur("interval", interval).Msg("starting timeout watchdog")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// Stop halts the watchdog
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stopCh)
		w.running = false
	}
}

func (w *Watchdog) check(ctx context.Context) {
	execs, err := w.store.ListRunningExecutions(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to list running executions")
		return
	}

	now := w.now()
	for i := range execs {
		exec := execs[i]
		if exec.StartedAt == nil {
			continue
		}

		task, err := w.store.GetTaskByUUID(ctx, exec.TaskUUID)
		if err != nil {
			continue
		}
		if task.TimeoutSeconds <= 0 {
			continue
		}

		runningFor := now.Sub(*exec.StartedAt)
		if runningFor <= time.Duration(task.TimeoutSeconds)*time.Second {
			continue
		}

		w.logger.Info().
			Str("execution", exec.UUID).
			Str("task", task.UUID).
			Dur("running_for", runningFor).
			Int("timeout_seconds", task.TimeoutSeconds).
			Msg("found timed out execution")

		if err := w.service.ForceTimeout(ctx, &exec, task.TimeoutSeconds); err != nil {
			w.logger.Error().Err(err).Str("execution", exec.UUID).Msg("failed to force timeout")
		}
	}
}
