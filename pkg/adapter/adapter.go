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

// Package adapter defines the contract a tool implementation satisfies,
// whether in-process or delegated to a remote side-car. The Runtime
// pipeline is the only consumer of this package.
package adapter

import (
	"context"
	"encoding/json"

	"github.com/rig-run/rig/pkg/rtp"
)

// Adapter is a function-shaped capability: (args, secrets, ctx) -> output.
// Two failure channels exist, matching spec.md §4.8:
//
//   - Typed failure: Invoke returns a *rtp.ToolError. The Runtime treats
//     this as final, surfaces it verbatim, and stamps a correlation id if
//     the adapter omitted one.
//   - Generic failure: Invoke returns any other error. The Runtime treats
//     this as a retry candidate, then an upstream_error after exhaustion.
type Adapter interface {
	Invoke(ctx context.Context, args json.RawMessage, secrets map[string]string, callCtx rtp.CallContext) (json.RawMessage, error)
}

// Func adapts a plain function to the Adapter interface. This is the
// shape every in-process, locally-registered tool implementation uses.
type Func func(ctx context.Context, args json.RawMessage, secrets map[string]string, callCtx rtp.CallContext) (json.RawMessage, error)

// Invoke implements Adapter.
func (f Func) Invoke(ctx context.Context, args json.RawMessage, secrets map[string]string, callCtx rtp.CallContext) (json.RawMessage, error) {
	return f(ctx, args, secrets, callCtx)
}
