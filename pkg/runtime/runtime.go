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

// Package runtime implements the Runtime execution pipeline: validate,
// policy-gate, approval-gate, secrets-resolve, invoke (with retries),
// validate output, audit. It depends on every other core package.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rig-run/rig/pkg/adapter"
	"github.com/rig-run/rig/pkg/approval"
	"github.com/rig-run/rig/pkg/audit"
	"github.com/rig-run/rig/pkg/policy"
	"github.com/rig-run/rig/pkg/registry"
	"github.com/rig-run/rig/pkg/rtp"
	"github.com/rig-run/rig/pkg/schema"
	"github.com/rig-run/rig/pkg/secrets"
)

// RegisteredTool pairs a Tool Definition with the implementation handle
// and provenance metadata the Runtime needs to invoke and account for it.
type RegisteredTool struct {
	Def         rtp.ToolDefinition
	Impl        adapter.Adapter
	Pack        string
	PackVersion string

	inputSchema  *schema.Compiled
	outputSchema *schema.Compiled
}

// Runtime executes named calls end to end against a fixed Policy,
// Secrets Resolver, and Audit Sink.
type Runtime struct {
	mu       sync.RWMutex
	reg      *registry.Registry
	tools    map[string]*RegisteredTool
	approvals *approval.Store
	policy   *policy.Policy
	secretsR secrets.Resolver
	auditS   audit.Sink

	interfaceHash  string
	packSetVersion string

	// now and newToken are substitutable for deterministic tests.
	now      func() time.Time
	newToken func() string
}

// Option configures optional Runtime behavior beyond New's required
// arguments.
type Option func(*Runtime)

// WithApprovalTTL overrides the Approval Store's default expiry window
// (approval.DefaultTTL) with ttl.
func WithApprovalTTL(ttl time.Duration) Option {
	return func(rt *Runtime) {
		rt.approvals = approval.NewWithTTL(ttl)
	}
}

// New constructs a Runtime bound to the given Registry, Policy, Secrets
// Resolver, and Audit Sink.
func New(reg *registry.Registry, pol *policy.Policy, secretsResolver secrets.Resolver, auditSink audit.Sink, opts ...Option) *Runtime {
	if pol == nil {
		pol = policy.Default()
	}
	rt := &Runtime{
		reg:       reg,
		tools:     make(map[string]*RegisteredTool),
		approvals: approval.New(),
		policy:    pol,
		secretsR:  secretsResolver,
		auditS:    auditSink,
		now:       time.Now,
		newToken:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// SetSnapshotMeta records the Registry's current Interface Hash and
// pack-set version, stamped onto every subsequent Result and Audit Event.
func (rt *Runtime) SetSnapshotMeta(interfaceHash, packSetVersion string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.interfaceHash = interfaceHash
	rt.packSetVersion = packSetVersion
}

// Register associates an implementation with a name already present in
// the Registry. It fails if the name is already registered with the
// Runtime or absent from the Registry.
func (rt *Runtime) Register(name string, reg RegisteredTool) error {
	def, ok := rt.reg.Get(name)
	if !ok {
		return fmt.Errorf("runtime: %q is not a known tool definition", name)
	}
	reg.Def = def

	inSchema, err := schema.Compile(def.InputSchema)
	if err != nil {
		return fmt.Errorf("runtime: compile input schema for %q: %w", name, err)
	}
	outSchema, err := schema.Compile(def.OutputSchema)
	if err != nil {
		return fmt.Errorf("runtime: compile output schema for %q: %w", name, err)
	}
	reg.inputSchema = inSchema
	reg.outputSchema = outSchema

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, exists := rt.tools[name]; exists {
		return fmt.Errorf("runtime: %q is already registered", name)
	}
	rt.tools[name] = &reg
	return nil
}

func (rt *Runtime) lookup(name string) (*RegisteredTool, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	r, ok := rt.tools[name]
	return r, ok
}

func (rt *Runtime) meta() (string, string) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.interfaceHash, rt.packSetVersion
}

func ptrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// provenance builds the always-present-on-known-tool provenance fields
// (spec.md §4.2: "the Result always carries pack, pack_version,
// interface_hash, pack_set_version when the tool was known").
func (rt *Runtime) provenance(reg *RegisteredTool) (pack, packVersion, interfaceHash, packSetVersion *string) {
	ih, psv := rt.meta()
	if reg != nil {
		pack = ptrOrNil(reg.Pack)
		packVersion = ptrOrNil(reg.PackVersion)
	}
	interfaceHash = ptrOrNil(ih)
	packSetVersion = ptrOrNil(psv)
	return
}

// Call executes tool name end to end: POLICY_CHECK, INPUT_VALIDATE,
// APPROVAL_CHECK, SECRETS_RESOLVE, INVOKE (with retry), output validate,
// audit. Exactly one audit event is written for the terminal outcome.
func (rt *Runtime) Call(ctx context.Context, name string, args json.RawMessage, callCtx rtp.CallContext) rtp.ToolResult {
	start := rt.now()
	runID := callCtx.RequestID
	if runID == "" {
		runID = rt.newToken()
	}
	callCtx.RequestID = runID

	reg, known := rt.lookup(name)
	if !known {
		result := rtp.ToolResult{
			OK:            false,
			Error:         &rtp.ToolError{Type: rtp.ErrNotFound, Message: fmt.Sprintf("unknown tool %q", name), CorrelationID: runID},
			CorrelationID: runID,
		}
		rt.audit(runID, callCtx.TenantID, name, args, rtp.OutcomeError, string(rtp.ErrNotFound), "", start, nil)
		return result
	}

	pack, packVersion, interfaceHash, packSetVersion := rt.provenance(reg)
	withProvenance := func(r rtp.ToolResult) rtp.ToolResult {
		r.Pack, r.PackVersion, r.InterfaceHash, r.PackSetVersion = pack, packVersion, interfaceHash, packSetVersion
		return r
	}

	if !rt.policy.IsAllowed(name) {
		result := withProvenance(rtp.ToolResult{
			OK:            false,
			Error:         &rtp.ToolError{Type: rtp.ErrPolicyBlocked, Message: fmt.Sprintf("tool %q is not in the allowed set", name), CorrelationID: runID},
			CorrelationID: runID,
		})
		rt.audit(runID, callCtx.TenantID, name, args, rtp.OutcomePolicyDenied, string(rtp.ErrPolicyBlocked), rt.authMarker(reg), start, reg)
		return result
	}

	if err := reg.inputSchema.Validate(args); err != nil {
		result := withProvenance(rtp.ToolResult{
			OK:            false,
			Error:         &rtp.ToolError{Type: rtp.ErrValidation, Message: err.Error(), CorrelationID: runID},
			CorrelationID: runID,
		})
		rt.audit(runID, callCtx.TenantID, name, args, rtp.OutcomeError, string(rtp.ErrValidation), rt.authMarker(reg), start, reg)
		return result
	}

	if rt.policy.NeedsApproval(reg.Def.RiskClass) {
		token := rt.approvals.Create(name, args, callCtx)
		result := withProvenance(rtp.ToolResult{
			OK: false,
			Error: &rtp.ToolError{
				Type:             rtp.ErrApprovalRequired,
				Message:          fmt.Sprintf("tool %q (risk class %q) requires approval", name, reg.Def.RiskClass),
				RemediationHints: []string{fmt.Sprintf("approve token: %s", token)},
				CorrelationID:    runID,
			},
			CorrelationID: runID,
		})
		rt.audit(runID, callCtx.TenantID, name, args, rtp.OutcomeApprovalRequired, string(rtp.ErrApprovalRequired), rt.authMarker(reg), start, reg)
		return result
	}

	return rt.resolveAndExecute(ctx, reg, args, callCtx, start, withProvenance)
}

// ApproveAndCall consumes a single-use approval token and, if present and
// unexpired, executes the originally requested call.
func (rt *Runtime) ApproveAndCall(ctx context.Context, token string) rtp.ToolResult {
	start := rt.now()
	rec, ok := rt.approvals.Pop(token)
	if !ok {
		runID := rt.newToken()
		result := rtp.ToolResult{
			OK:            false,
			Error:         &rtp.ToolError{Type: rtp.ErrNotFound, Message: "approval token not found or already consumed", CorrelationID: runID},
			CorrelationID: runID,
		}
		rt.audit(runID, "", "", nil, rtp.OutcomeError, string(rtp.ErrNotFound), "", start, nil)
		return result
	}

	runID := rec.Ctx.RequestID
	if runID == "" {
		runID = rt.newToken()
		rec.Ctx.RequestID = runID
	}

	reg, known := rt.lookup(rec.ToolName)
	if !known {
		result := rtp.ToolResult{
			OK:            false,
			Error:         &rtp.ToolError{Type: rtp.ErrNotFound, Message: fmt.Sprintf("tool %q was deregistered before approval", rec.ToolName), CorrelationID: runID},
			CorrelationID: runID,
		}
		rt.audit(runID, rec.Ctx.TenantID, rec.ToolName, rec.Args, rtp.OutcomeError, string(rtp.ErrNotFound), "", start, nil)
		return result
	}

	pack, packVersion, interfaceHash, packSetVersion := rt.provenance(reg)
	withProvenance := func(r rtp.ToolResult) rtp.ToolResult {
		r.Pack, r.PackVersion, r.InterfaceHash, r.PackSetVersion = pack, packVersion, interfaceHash, packSetVersion
		return r
	}

	return rt.resolveAndExecute(ctx, reg, rec.Args, rec.Ctx, start, withProvenance)
}

func (rt *Runtime) authMarker(reg *RegisteredTool) string {
	if reg == nil {
		return ""
	}
	return audit.RedactedAuthMarker(reg.Def.AuthSlots)
}

// resolveAndExecute runs SECRETS_RESOLVE, then INVOKE with retry, then
// output validation, then writes exactly one audit event.
func (rt *Runtime) resolveAndExecute(ctx context.Context, reg *RegisteredTool, args json.RawMessage, callCtx rtp.CallContext, start time.Time, withProvenance func(rtp.ToolResult) rtp.ToolResult) rtp.ToolResult {
	runID := callCtx.RequestID
	resolved, err := rt.secretsR.Resolve(ctx, reg.Def.AuthSlots, callCtx.TenantID)
	if err != nil {
		result := withProvenance(rtp.ToolResult{
			OK:            false,
			Error:         &rtp.ToolError{Type: rtp.ErrInternal, Message: fmt.Sprintf("secrets resolution failed: %v", err), CorrelationID: runID},
			CorrelationID: runID,
		})
		rt.audit(runID, callCtx.TenantID, reg.Def.Name, args, rtp.OutcomeError, string(rtp.ErrInternal), rt.authMarker(reg), start, reg)
		return result
	}

	out, toolErr := rt.invokeWithRetry(ctx, reg, args, resolved, callCtx)

	if toolErr != nil {
		result := withProvenance(rtp.ToolResult{OK: false, Error: toolErr, CorrelationID: runID})
		rt.audit(runID, callCtx.TenantID, reg.Def.Name, args, rtp.OutcomeError, string(toolErr.Type), rt.authMarker(reg), start, reg)
		return result
	}

	result := withProvenance(rtp.ToolResult{OK: true, Output: out, CorrelationID: runID})
	rt.audit(runID, callCtx.TenantID, reg.Def.Name, args, rtp.OutcomeOK, "", rt.authMarker(reg), start, reg)
	return result
}

// invokeWithRetry implements the INVOKE state: only generic (untyped)
// adapter failures are retried, with linear backoff 0.25*attempt seconds,
// up to policy.Retries additional attempts. A typed failure is final.
// Output-schema mismatch is internal_error and is never retried.
func (rt *Runtime) invokeWithRetry(ctx context.Context, reg *RegisteredTool, args json.RawMessage, resolvedSecrets map[string]string, callCtx rtp.CallContext) (json.RawMessage, *rtp.ToolError) {
	maxAttempts := rt.policy.RetriesOrDefault() + 1
	timeout := time.Duration(rt.policy.TimeoutSecondsOrDefault()) * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := reg.Impl.Invoke(attemptCtx, args, resolvedSecrets, callCtx)
		cancel()

		if err == nil {
			if verr := reg.outputSchema.Validate(out); verr != nil {
				return nil, &rtp.ToolError{Type: rtp.ErrInternal, Message: verr.Error(), CorrelationID: callCtx.RequestID}
			}
			return out, nil
		}

		if te, ok := err.(*rtp.ToolError); ok {
			if te.CorrelationID == "" {
				te.CorrelationID = callCtx.RequestID
			}
			te.Message = maskSecrets(te.Message, resolvedSecrets)
			return nil, te
		}

		lastErr = err
		if attempt < maxAttempts {
			select {
			case <-time.After(time.Duration(250*attempt) * time.Millisecond):
			case <-ctx.Done():
				return nil, &rtp.ToolError{Type: rtp.ErrTimeout, Message: "call cancelled during retry backoff", CorrelationID: callCtx.RequestID}
			}
		}
	}

	msg := maskSecrets(fmt.Sprintf("adapter failed after %d attempt(s): %v", maxAttempts, lastErr), resolvedSecrets)
	return nil, &rtp.ToolError{Type: rtp.ErrUpstream, Message: msg, Retryable: false, CorrelationID: callCtx.RequestID}
}

// maskSecrets scrubs every resolved auth-slot value out of msg before it is
// attached to a ToolError, so a misbehaving adapter that echoes request
// headers or signed payloads in its error text can't leak a secret into a
// Result the caller (or an audit consumer) can read.
func maskSecrets(msg string, resolvedSecrets map[string]string) string {
	if msg == "" || len(resolvedSecrets) == 0 {
		return msg
	}
	masker := secrets.NewMasker()
	for _, v := range resolvedSecrets {
		masker.AddSecret(v)
	}
	return masker.Mask(msg)
}

func (rt *Runtime) audit(runID, tenantID, tool string, args json.RawMessage, outcome rtp.AuditOutcome, errType, authMarker string, start time.Time, reg *RegisteredTool) {
	now := rt.now()
	callOutcomes.WithLabelValues(tool, string(outcome)).Inc()
	callDuration.WithLabelValues(tool).Observe(now.Sub(start).Seconds())

	if rt.auditS == nil {
		return
	}
	event := rtp.AuditEvent{
		Timestamp:          now.UTC().Format(time.RFC3339),
		TSUnix:             float64(now.UnixNano()) / 1e9,
		TenantID:           tenantID,
		RunID:              runID,
		Tool:               tool,
		InputHash:          audit.ComputeInputHash(args),
		Outcome:            outcome,
		DurationMs:         now.Sub(start).Milliseconds(),
		RedactedAuthMarker: authMarker,
		ErrorType:          errType,
	}
	if reg != nil {
		event.Pack = reg.Pack
		event.PackVersion = reg.PackVersion
	}
	ih, psv := rt.meta()
	event.InterfaceHash = ih
	event.PackSetVersion = psv

	// Audit writes must be durable before Call/ApproveAndCall returns;
	// a failure here is swallowed rather than surfaced in the Result,
	// since the caller's outcome has already been decided and the
	// specification does not define an audit-failure error channel.
	_ = rt.auditS.Write(event)
}
