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

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iLLeniumStudios/cron-observer/internal/config"
	"github.com/iLLeniumStudios/cron-observer/internal/deletequeue"
	"github.com/iLLeniumStudios/cron-observer/internal/events"
	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

// Server is the REST + SDK API server
type Server struct {
	store     store.Store
	scheduler SchedulerPort
	lifecycle LifecyclePort
	queue     deletequeue.Publisher
	bus       events.Publisher
	config    *config.Config
	logger    zerolog.Logger
	startTime time.Time
	server    *http.Server
}

// ServerOptions contains options for creating the server
type ServerOptions struct {
	Store     store.Store
	Scheduler SchedulerPort
	Lifecycle LifecyclePort
	Queue     deletequeue.Publisher
	Bus       events.Publisher
	Config    *config.Config
	Logger    zerolog.Logger
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	return &Server{
		store:     opts.Store,
		scheduler: opts.Scheduler,
		lifecycle: opts.Lifecycle,
		queue:     opts.Queue,
		bus:       opts.Bus,
		config:    opts.Config,
		logger:    opts.Logger,
		startTime: time.Now(),
	}
}

// Start starts the API server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	router := s.Routes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info().Int("port", s.config.Server.Port).Msg("starting API server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	<-ctx.Done()

	s.logger.Info().Msg("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Routes configures the router
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	r.Use(zerologMiddleware(s.logger))
	r.Use(corsMiddleware)

	h := NewHandlers(s.store, s.scheduler, s.lifecycle, s.queue, s.bus,
		s.config.Auth.SuperAdmins, s.startTime, s.logger)

	limiter := newKeyLimiter(s.config.Limits.SDKRatePerSecond, s.config.Limits.SDKBurst)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.GetHealth)

		// UI routes, bearer-token authenticated
		r.Group(func(r chi.Router) {
			r.Use(bearerAuth(s.config.Auth.Tokens))

			r.Get("/projects", h.ListProjects)
			r.Post("/projects", h.CreateProject)

			r.Route("/projects/{project_uuid}", func(r chi.Router) {
				r.Put("/", h.UpdateProject)

				r.Get("/task-groups", h.ListTaskGroups)
				r.Post("/task-groups", h.CreateTaskGroup)
				r.Route("/task-groups/{group_uuid}", func(r chi.Router) {
					r.Put("/", h.UpdateTaskGroup)
					r.Delete("/", h.DeleteTaskGroup)
					r.Post("/start", h.StartTaskGroup)
					r.Post("/stop", h.StopTaskGroup)
				})

				r.Get("/tasks", h.ListTasks)
				r.Post("/tasks", h.CreateTask)
				r.Route("/tasks/{task_uuid}", func(r chi.Router) {
					r.Put("/", h.UpdateTask)
					r.Delete("/", h.DeleteTask)
					r.Patch("/status", h.UpdateTaskStatus)
					r.Post("/trigger", h.TriggerTask)
					r.Get("/executions", h.ListTaskExecutions)
				})

				r.Get("/executions/failed-stats", h.GetFailedStats)
				r.Get("/executions/stats", h.GetStats)
			})
		})

		// SDK routes, API-key authenticated and rate limited
		r.Route("/sdk", func(r chi.Router) {
			r.Use(apiKeyAuth(s.store, limiter))

			r.Get("/tasks/{task_uuid}/executions/pending", h.GetPendingExecutions)
			r.Put("/executions/{execution_uuid}/status", h.UpdateExecutionStatus)
			r.Post("/executions/{execution_uuid}/logs", h.AppendExecutionLogs)
		})
	})

	return r
}
