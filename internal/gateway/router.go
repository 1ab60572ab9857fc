// Copyright 2025 Tom Barlow
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

package gateway

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	applog "github.com/rig-run/rig/internal/log"
	"github.com/rig-run/rig/pkg/registry"
	"github.com/rig-run/rig/pkg/runtime"
)

// Server is the RGP HTTP surface: a thin shell around a Registry and a
// Runtime that knows nothing about tool execution itself.
type Server struct {
	registry *registry.Registry
	runtime  *runtime.Runtime
	logger   *slog.Logger
	jwtSecret string

	mux *http.ServeMux
}

// Config configures the gateway's HTTP surface.
type Config struct {
	Registry  *registry.Registry
	Runtime   *runtime.Runtime
	Logger    *slog.Logger
	JWTSecret string // empty disables bearer-JWT auth entirely
}

// NewServer builds the routed handler for the RGP surface.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}

	s := &Server{
		registry:  cfg.Registry,
		runtime:   cfg.Runtime,
		logger:    logger,
		jwtSecret: cfg.JWTSecret,
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/tools", s.handleListTools)
	s.mux.HandleFunc("GET /v1/tools/{name}", s.handleGetTool)
	s.mux.HandleFunc("POST /v1/tools/{name}", withSuffix(":call", "name", s.handleCallTool))
	s.mux.HandleFunc("POST /v1/approvals/{token}", withSuffix(":approve", "token", s.handleApprove))
	s.mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// withSuffix serves "{wildcard}<suffix>" routes; ServeMux wildcards must fill a whole segment.
func withSuffix(suffix, wildcard string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if v, ok := strings.CutSuffix(r.PathValue(wildcard), suffix); ok {
			r.SetPathValue(wildcard, v)
			h(w, r)
			return
		}
		http.NotFound(w, r)
	}
}

// ServeHTTP implements http.Handler. Every route except /v1/health and
// /metrics passes through bearer-JWT auth when a secret is configured; all
// routes pass through correlation ID handling and request logging.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var handler http.Handler = s.mux
	if s.jwtSecret != "" && r.URL.Path != "/v1/health" && r.URL.Path != "/metrics" {
		handler = bearerAuthMiddleware(s.jwtSecret)(handler)
	}
	chain(handler, correlationMiddleware, requestLoggingMiddleware(s.logger)).ServeHTTP(w, r)
}
