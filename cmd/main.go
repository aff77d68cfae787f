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

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/iLLeniumStudios/cron-observer/internal/aggregator"
	"github.com/iLLeniumStudios/cron-observer/internal/api"
	"github.com/iLLeniumStudios/cron-observer/internal/config"
	"github.com/iLLeniumStudios/cron-observer/internal/deletequeue"
	"github.com/iLLeniumStudios/cron-observer/internal/deleteworker"
	"github.com/iLLeniumStudios/cron-observer/internal/events"
	"github.com/iLLeniumStudios/cron-observer/internal/lifecycle"
	"github.com/iLLeniumStudios/cron-observer/internal/scheduler"
	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

func main() {
	// Set up pflags
	flags := pflag.NewFlagSet("cron-observer", pflag.ExitOnError)
	config.BindFlags(flags)

	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(flags)
	if err != nil {
		bootstrapLogger := zerolog.New(os.Stderr)
		bootstrapLogger.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	// Set up zerolog with configured log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	if cfg.ConfigFileUsed() != "" {
		logger.Info().Str("file", cfg.ConfigFileUsed()).Str("level", cfg.LogLevel).Msg("configuration loaded")
	} else {
		logger.Info().Str("level", cfg.LogLevel).Msg("no config file found, using defaults and flags")
	}

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("service exited with error")
		os.Exit(1)
	}
}

// run wires the components in one composition root and blocks until shutdown
func run(cfg *config.Config, logger zerolog.Logger) error {
	// Initialize the storage backend
	dsn, err := cfg.Storage.DSN()
	if err != nil {
		return err
	}

	dataStore, err := store.NewGormStore(cfg.Storage.Type, dsn)
	if err != nil {
		return err
	}
	if err := dataStore.Init(); err != nil {
		return err
	}
	defer func() { _ = dataStore.Close() }()
	logger.Info().Str("type", cfg.Storage.Type).Msg("initialized store")

	// In-process event bus
	bus := events.NewBus(logger, events.DefaultBufferSize)
	defer bus.Close()

	// Durable delete queue over the shared database
	queue := deletequeue.NewQueue(dataStore.DB(),
		deletequeue.WithVisibilityTimeout(cfg.DeleteQueue.VisibilityTimeout),
		deletequeue.WithMaxAttempts(cfg.DeleteQueue.MaxAttempts),
		deletequeue.WithNackBackoff(cfg.DeleteQueue.NackBackoff),
	)

	// Schedule engine
	engine := scheduler.NewEngine(dataStore, bus, logger)
	engine.SetStateRefreshInterval(cfg.Scheduler.StateRefreshInterval)

	// Execution lifecycle service and timeout watchdog
	lifecycleSvc := lifecycle.NewService(dataStore, bus, engine, logger)
	watchdog := lifecycle.NewWatchdog(dataStore, lifecycleSvc, logger)
	watchdog.SetInterval(cfg.Scheduler.WatchdogInterval)

	// Failure aggregator
	agg := aggregator.New(dataStore, bus, logger)

	// API server
	apiServer := api.NewServer(api.ServerOptions{
		Store:     dataStore,
		Scheduler: engine,
		Lifecycle: lifecycleSvc,
		Queue:     queue,
		Bus:       bus,
		Config:    cfg,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Register all ACTIVE tasks before the loop starts ticking
	if err := engine.LoadActiveTasks(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("component", name).Msg("component stopped with error")
				stop()
			}
		}()
	}

	start("scheduler", engine.Start)
	start("aggregator", agg.Start)
	start("watchdog", watchdog.Start)
	for i := 0; i < cfg.DeleteQueue.Workers; i++ {
		worker := deleteworker.NewWorker(dataStore, queue, engine, bus, logger)
		worker.SetPollInterval(cfg.DeleteQueue.PollInterval)
		start("deleteworker", worker.Start)
	}
	start("api", apiServer.Start)

	logger.Info().Msg("cron-observer started")
	<-ctx.Done()
	wg.Wait()
	logger.Info().Msg("cron-observer stopped")
	return nil
}
