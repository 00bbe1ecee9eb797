// Copyright 2025 The Lighthouse Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// AgentHeader carries the caller's agent id; the bearer token must be
// bound to the same agent or the bridge rejects the call.
const AgentHeader = "X-Agent-ID"

type contextKey string

const identityKey contextKey = "identity"

type identity struct {
	token   string
	agentID string
}

// requireIdentity extracts the bearer token and agent id. Actual token
// verification happens in the bridge; this middleware only refuses
// requests that cannot even name a caller.
func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authz, "Bearer ")
		agentID := r.Header.Get(AgentHeader)
		if !ok || token == "" || agentID == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "missing bearer token or " + AgentHeader + " header",
				"kind":  "auth",
			})
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, identity{token: token, agentID: agentID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerOf(r *http.Request) identity {
	id, _ := r.Context().Value(identityKey).(identity)
	return id
}

// statusWriter captures the response code for the access log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0)
	})
}
