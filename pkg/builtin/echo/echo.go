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

// Package echo is the built-in demo pack: a single read-only tool that
// echoes its input back, used to exercise the gateway end to end without
// a vendor dependency.
package echo

import (
	"context"
	"encoding/json"

	"github.com/rig-run/rig/pkg/adapter"
	"github.com/rig-run/rig/pkg/rtp"
	"github.com/rig-run/rig/pkg/runtime"
)

// PackName and PackVersion identify this built-in pack in provenance
// fields, the same way an external pack's metadata would.
const (
	PackName    = "rig-pack-echo"
	PackVersion = "0.1.0"
)

// Definition returns the echo tool's immutable Tool Definition.
func Definition() rtp.ToolDefinition {
	return rtp.ToolDefinition{
		Name:        "echo",
		Description: "Echo back a message",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"message": {"type": "string"}},
			"required": ["message"],
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"message": {"type": "string"},
				"tenant_id": {"type": ["string", "null"]}
			},
			"required": ["message", "tenant_id"],
			"additionalProperties": false
		}`),
		ErrorSchema: json.RawMessage(`{"type": "object"}`),
		AuthSlots:   []string{},
		RiskClass:   rtp.RiskRead,
		Tags:        []string{"demo"},
	}
}

type echoOutput struct {
	Message  string  `json:"message"`
	TenantID *string `json:"tenant_id"`
}

type echoInput struct {
	Message string `json:"message"`
}

// Invoke implements adapter.Adapter. It never consults secrets; the empty
// auth_slots on Definition means the Runtime resolves nothing for it.
func Invoke(_ context.Context, args json.RawMessage, _ map[string]string, callCtx rtp.CallContext) (json.RawMessage, error) {
	var in echoInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, &rtp.ToolError{Type: rtp.ErrValidation, Message: "message must be a string"}
	}

	var tenantID *string
	if callCtx.TenantID != "" {
		t := callCtx.TenantID
		tenantID = &t
	}

	return json.Marshal(echoOutput{Message: in.Message, TenantID: tenantID})
}

// Register binds the echo implementation in rt. Definition must already be
// registered in rt's backing Registry; Register fails otherwise.
func Register(rt *runtime.Runtime) error {
	return rt.Register("echo", runtime.RegisteredTool{
		Impl:        adapter.Func(Invoke),
		Pack:        PackName,
		PackVersion: PackVersion,
	})
}
