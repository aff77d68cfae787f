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
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/iLLeniumStudios/cron-observer/internal/store"
)

type contextKey string

const (
	ctxKeyProject   contextKey = "project"
	ctxKeyUserEmail contextKey = "user-email"
)

// ProjectFromContext returns the project resolved by APIKeyAuth
func ProjectFromContext(ctx context.Context) (*store.Project, bool) {
	p, ok := ctx.Value(ctxKeyProject).(*store.Project)
	return p, ok
}

// UserEmailFromContext returns the caller email forwarded by the
// authenticating proxy, if any
func UserEmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(ctxKeyUserEmail).(string)
	return email
}

// zerologMiddleware is a chi middleware that logs requests using zerolog
func zerologMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Str("remote", r.RemoteAddr).
					Msg("http request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// corsMiddleware allows the external UI to call the API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-User-Email")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerAuth guards UI routes with the configured static tokens. Session
// issuance is external; the service only verifies presentation. The
// authenticating proxy may forward the caller identity in X-User-Email for
// project role checks.
func bearerAuth(tokens []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}
			presented := strings.TrimPrefix(header, "Bearer ")

			valid := false
			for _, t := range tokens {
				if subtle.ConstantTimeCompare([]byte(t), []byte(presented)) == 1 {
					valid = true
					break
				}
			}
			if !valid {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
				return
			}

			ctx := r.Context()
			if email := strings.TrimSpace(strings.ToLower(r.Header.Get("X-User-Email"))); email != "" {
				ctx = context.WithValue(ctx, ctxKeyUserEmail, email)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// keyLimiter tracks one rate limiter per API key
type keyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newKeyLimiter(rps float64, burst int) *keyLimiter {
	return &keyLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (k *keyLimiter) get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(k.rps, k.burst)
		k.limiters[key] = l
	}
	return l
}

// apiKeyAuth guards SDK routes: resolves the project owning X-API-Key,
// applies the per-key rate limit and stores the project in the context
func apiKeyAuth(st store.Store, limiter *keyLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing API key")
				return
			}

			project, err := st.GetProjectByAPIKey(r.Context(), key)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
					return
				}
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to resolve API key")
				return
			}

			if limiter != nil && !limiter.get(key).Allow() {
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "SDK rate limit exceeded")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyProject, project)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
