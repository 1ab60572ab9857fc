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

// Package policy evaluates whether a named tool may be called and whether
// a risk class requires out-of-band approval before invocation.
package policy

import (
	"github.com/bmatcuk/doublestar/v4"

	"github.com/rig-run/rig/pkg/rtp"
)

// Policy is the configuration consulted by the Runtime pipeline on every
// call. A nil AllowedTools means everything is allowed.
type Policy struct {
	// AllowedTools, when non-nil, restricts calls to the named tools.
	// Entries may be glob patterns (e.g. "payments.*"); an absent map
	// means every tool is allowed.
	AllowedTools map[string]struct{}

	// RequireApprovalFor is the set of risk classes that must pass
	// through the Approval Store before invocation.
	RequireApprovalFor map[rtp.RiskClass]struct{}

	// TimeoutSeconds bounds a single invocation attempt.
	TimeoutSeconds int

	// Retries is the number of additional attempts permitted after the
	// first, for generic (untyped) adapter failures only.
	Retries int

	// RateLimitPerMinute is a reserved, unenforced slot. The Runtime
	// never consults it; it exists so a future policy layer has a place
	// to land without changing the Policy shape.
	RateLimitPerMinute int
}

// Default returns the policy defaults named in the specification:
// require_approval_for={money,infra,destructive}, timeout_seconds=30,
// retries=1, allowed_tools unset (everything allowed).
func Default() *Policy {
	return &Policy{
		AllowedTools: nil,
		RequireApprovalFor: map[rtp.RiskClass]struct{}{
			rtp.RiskMoney:       {},
			rtp.RiskInfra:       {},
			rtp.RiskDestructive: {},
		},
		TimeoutSeconds: 30,
		Retries:        1,
	}
}

// IsAllowed reports whether name may be called under this policy. An unset
// AllowedTools allows every name. A set AllowedTools (even empty) allows
// only names that match one of its entries exactly or as a doublestar
// glob pattern (e.g. "payments.*" matches "payments.charge").
func (p *Policy) IsAllowed(name string) bool {
	if p == nil || p.AllowedTools == nil {
		return true
	}
	if _, ok := p.AllowedTools[name]; ok {
		return true
	}
	for pattern := range p.AllowedTools {
		if pattern == name {
			continue
		}
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// NeedsApproval reports whether the given risk class is gated by this
// policy's RequireApprovalFor set.
func (p *Policy) NeedsApproval(risk rtp.RiskClass) bool {
	if p == nil {
		return false
	}
	_, ok := p.RequireApprovalFor[risk]
	return ok
}

// TimeoutSecondsOrDefault returns the configured per-attempt timeout,
// falling back to the specification default of 30 seconds.
func (p *Policy) TimeoutSecondsOrDefault() int {
	if p == nil || p.TimeoutSeconds <= 0 {
		return 30
	}
	return p.TimeoutSeconds
}

// RetriesOrDefault returns the configured retry count, falling back to the
// specification default of 1.
func (p *Policy) RetriesOrDefault() int {
	if p == nil {
		return 1
	}
	if p.Retries < 0 {
		return 0
	}
	return p.Retries
}
