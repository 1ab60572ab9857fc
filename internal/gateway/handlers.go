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
	"encoding/json"
	"net/http"

	"github.com/rig-run/rig/internal/httputil"
	"github.com/rig-run/rig/pkg/rtp"
)

// callRequest is the body of POST /v1/tools/{name}:call.
type callRequest struct {
	Args    json.RawMessage  `json:"args"`
	Context *callRequestCtx  `json:"context"`
}

type callRequestCtx struct {
	TenantID  string `json:"tenant_id"`
	RequestID string `json:"request_id"`
	Actor     string `json:"actor"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	def, ok := s.registry.Get(name)
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "unknown tool "+name)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, def)
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.Args == nil {
		httputil.WriteError(w, http.StatusBadRequest, "args is required")
		return
	}

	callCtx := rtp.CallContext{}
	if req.Context != nil {
		callCtx.TenantID = req.Context.TenantID
		callCtx.RequestID = req.Context.RequestID
		callCtx.Actor = req.Context.Actor
	}
	if callCtx.RequestID == "" {
		callCtx.RequestID = correlationFromContext(r.Context())
	}

	result := s.runtime.Call(r.Context(), name, req.Args, callCtx)
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	result := s.runtime.ApproveAndCall(r.Context(), token)
	httputil.WriteJSON(w, http.StatusOK, result)
}
