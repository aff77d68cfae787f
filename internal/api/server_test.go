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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLLeniumStudios/cron-observer/internal/aggregator"
	"github.com/iLLeniumStudios/cron-observer/internal/config"
	"github.com/iLLeniumStudios/cron-observer/internal/deletequeue"
	"github.com/iLLeniumStudios/cron-observer/internal/events"
	"github.com/iLLeniumStudios/cron-observer/internal/lifecycle"
	"github.com/iLLeniumStudios/cron-observer/internal/scheduler"
	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

const testToken = "test-token"

// testEnv wires the real components against an in-memory SQLite store
type testEnv struct {
	store  *store.GormStore
	bus    *events.Bus
	queue  *deletequeue.Queue
	engine *scheduler.Engine
	svc    *lifecycle.Service
	router chi.Router
	cancel context.CancelFunc
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	gs, err := store.NewGormStore("sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, gs.Init())
	t.Cleanup(func() { _ = gs.Close() })

	bus := events.NewBus(zerolog.Nop(), 16)
	t.Cleanup(bus.Close)

	queue := deletequeue.NewQueue(gs.DB())
	engine := scheduler.NewEngine(gs, bus, zerolog.Nop())
	svc := lifecycle.NewService(gs, bus, engine, zerolog.Nop())

	cfg := config.DefaultConfig()
	cfg.Auth.Tokens = []string{testToken}

	srv := NewServer(ServerOptions{
		Store:     gs,
		Scheduler: engine,
		Lifecycle: svc,
		Queue:     queue,
		Bus:       bus,
		Config:    cfg,
		Logger:    zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = engine.Start(ctx) }()
	agg := aggregator.New(gs, bus, zerolog.Nop())
	go func() { _ = agg.Start(ctx) }()
	t.Cleanup(cancel)

	return &testEnv{
		store:  gs,
		bus:    bus,
		queue:  queue,
		engine: engine,
		svc:    svc,
		router: srv.Routes(),
		cancel: cancel,
	}
}

// do performs a request against the router. A non-nil body is JSON-encoded.
func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// ui performs an authenticated UI request
func (e *testEnv) ui(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	return e.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + testToken})
}

// sdk performs an SDK request with the given API key
func (e *testEnv) sdk(t *testing.T, method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	return e.do(t, method, path, body, map[string]string{"X-API-Key": apiKey})
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestHealth_NoAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "connected", resp.Storage)
}

func TestMetricsEndpointExposed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUIRoutes_RequireBearerToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/projects", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/projects", nil, map[string]string{
		"Authorization": "Bearer wrong-token",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.ui(t, http.MethodGet, "/api/v1/projects", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSDKRoutes_RequireAPIKey(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/sdk/tasks/x/executions/pending", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.sdk(t, http.MethodGet, "/api/v1/sdk/tasks/x/executions/pending", nil, "bogus-key")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
