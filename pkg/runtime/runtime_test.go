package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rig-run/rig/pkg/adapter"
	"github.com/rig-run/rig/pkg/audit"
	"github.com/rig-run/rig/pkg/policy"
	"github.com/rig-run/rig/pkg/registry"
	"github.com/rig-run/rig/pkg/rtp"
	"github.com/rig-run/rig/pkg/secrets"
)

// memSink is an in-memory audit.Sink double for asserting exactly-one
// terminal event per call without standing up SQLite.
type memSink struct {
	events []rtp.AuditEvent
}

func (m *memSink) Write(e rtp.AuditEvent) error {
	m.events = append(m.events, e)
	return nil
}
func (m *memSink) QueryByRunID(runID string) ([]rtp.AuditEvent, error) {
	var out []rtp.AuditEvent
	for _, e := range m.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}
func (m *memSink) QueryByTenantID(tenantID string, limit int) ([]rtp.AuditEvent, error) {
	return nil, nil
}
func (m *memSink) Close() error { return nil }

func echoDef() rtp.ToolDefinition {
	return rtp.ToolDefinition{
		Name:         "demo.echo",
		Description:  "echoes the message back",
		InputSchema:  json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"],"additionalProperties":false}`),
		OutputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"],"additionalProperties":false}`),
		AuthSlots:    []string{"demo_token"},
		RiskClass:    rtp.RiskRead,
	}
}

func newTestRuntime(t *testing.T, def rtp.ToolDefinition, pol *policy.Policy, impl adapter.Adapter) (*Runtime, *memSink) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(def))

	sink := &memSink{}
	rt := New(reg, pol, secrets.NewEnvResolver(), sink)
	require.NoError(t, rt.Register(def.Name, RegisteredTool{Impl: impl, Pack: "demo", PackVersion: "1.0.0"}))
	return rt, sink
}

func TestCall_Success(t *testing.T) {
	impl := adapter.Func(func(ctx context.Context, args json.RawMessage, secrets map[string]string, callCtx rtp.CallContext) (json.RawMessage, error) {
		return json.RawMessage(`{"message":"hi"}`), nil
	})
	rt, sink := newTestRuntime(t, echoDef(), policy.Default(), impl)

	result := rt.Call(context.Background(), "demo.echo", json.RawMessage(`{"message":"hi"}`), rtp.CallContext{TenantID: "t1"})
	require.True(t, result.OK)
	assert.JSONEq(t, `{"message":"hi"}`, string(result.Output))
	require.NotNil(t, result.Pack)
	assert.Equal(t, "demo", *result.Pack)

	require.Len(t, sink.events, 1)
	assert.Equal(t, rtp.OutcomeOK, sink.events[0].Outcome)
	assert.Equal(t, "env:demo_token", sink.events[0].RedactedAuthMarker)
}

func TestCall_UnknownTool(t *testing.T) {
	rt, sink := newTestRuntime(t, echoDef(), policy.Default(), adapter.Func(func(ctx context.Context, args json.RawMessage, s map[string]string, c rtp.CallContext) (json.RawMessage, error) {
		return nil, nil
	}))

	result := rt.Call(context.Background(), "does.not.exist", json.RawMessage(`{}`), rtp.CallContext{})
	require.False(t, result.OK)
	assert.Equal(t, rtp.ErrNotFound, result.Error.Type)
	require.Len(t, sink.events, 1)
	assert.Equal(t, rtp.OutcomeError, sink.events[0].Outcome)
}

func TestCall_PolicyBlocked(t *testing.T) {
	pol := policy.Default()
	pol.AllowedTools = map[string]struct{}{"other.tool": {}}
	rt, sink := newTestRuntime(t, echoDef(), pol, adapter.Func(func(ctx context.Context, args json.RawMessage, s map[string]string, c rtp.CallContext) (json.RawMessage, error) {
		return json.RawMessage(`{"message":"hi"}`), nil
	}))

	result := rt.Call(context.Background(), "demo.echo", json.RawMessage(`{"message":"hi"}`), rtp.CallContext{})
	require.False(t, result.OK)
	assert.Equal(t, rtp.ErrPolicyBlocked, result.Error.Type)
	require.Len(t, sink.events, 1)
	assert.Equal(t, rtp.OutcomePolicyDenied, sink.events[0].Outcome)
}

func TestCall_InputValidationFailure(t *testing.T) {
	rt, sink := newTestRuntime(t, echoDef(), policy.Default(), adapter.Func(func(ctx context.Context, args json.RawMessage, s map[string]string, c rtp.CallContext) (json.RawMessage, error) {
		t.Fatal("adapter should not be invoked when input validation fails")
		return nil, nil
	}))

	result := rt.Call(context.Background(), "demo.echo", json.RawMessage(`{"wrong_field":"hi"}`), rtp.CallContext{})
	require.False(t, result.OK)
	assert.Equal(t, rtp.ErrValidation, result.Error.Type)
	require.Len(t, sink.events, 1)
}

func TestCall_ApprovalRequiredThenApproved(t *testing.T) {
	def := echoDef()
	def.RiskClass = rtp.RiskMoney
	calls := 0
	impl := adapter.Func(func(ctx context.Context, args json.RawMessage, secrets map[string]string, callCtx rtp.CallContext) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"message":"hi"}`), nil
	})
	rt, sink := newTestRuntime(t, def, policy.Default(), impl)

	result := rt.Call(context.Background(), "demo.echo", json.RawMessage(`{"message":"hi"}`), rtp.CallContext{TenantID: "t1"})
	require.False(t, result.OK)
	assert.Equal(t, rtp.ErrApprovalRequired, result.Error.Type)
	require.Len(t, result.Error.RemediationHints, 1)
	assert.Equal(t, 0, calls)
	require.Len(t, sink.events, 1)
	assert.Equal(t, rtp.OutcomeApprovalRequired, sink.events[0].Outcome)

	token := result.Error.RemediationHints[0][len("approve token: "):]
	approved := rt.ApproveAndCall(context.Background(), token)
	require.True(t, approved.OK)
	assert.Equal(t, 1, calls)
	require.Len(t, sink.events, 2)
	assert.Equal(t, rtp.OutcomeOK, sink.events[1].Outcome)

	// Single-use: a second approval with the same token is not found.
	second := rt.ApproveAndCall(context.Background(), token)
	require.False(t, second.OK)
	assert.Equal(t, rtp.ErrNotFound, second.Error.Type)
}

func TestWithApprovalTTL_ExpiresPendingApproval(t *testing.T) {
	def := echoDef()
	def.RiskClass = rtp.RiskMoney
	impl := adapter.Func(func(ctx context.Context, args json.RawMessage, secrets map[string]string, callCtx rtp.CallContext) (json.RawMessage, error) {
		return json.RawMessage(`{"message":"hi"}`), nil
	})

	reg := registry.New()
	require.NoError(t, reg.Register(def))
	sink := &memSink{}
	rt := New(reg, policy.Default(), secrets.NewEnvResolver(), sink, WithApprovalTTL(-time.Second))
	require.NoError(t, rt.Register(def.Name, RegisteredTool{Impl: impl, Pack: "demo", PackVersion: "1.0.0"}))

	result := rt.Call(context.Background(), "demo.echo", json.RawMessage(`{"message":"hi"}`), rtp.CallContext{TenantID: "t1"})
	require.False(t, result.OK)
	token := result.Error.RemediationHints[0][len("approve token: "):]

	approved := rt.ApproveAndCall(context.Background(), token)
	require.False(t, approved.OK)
	assert.Equal(t, rtp.ErrNotFound, approved.Error.Type)
}

func TestCall_TypedFailureIsNotRetried(t *testing.T) {
	calls := 0
	impl := adapter.Func(func(ctx context.Context, args json.RawMessage, secrets map[string]string, callCtx rtp.CallContext) (json.RawMessage, error) {
		calls++
		return nil, &rtp.ToolError{Type: rtp.ErrAuth, Message: "bad credentials"}
	})
	pol := policy.Default()
	pol.Retries = 3
	rt, sink := newTestRuntime(t, echoDef(), pol, impl)

	result := rt.Call(context.Background(), "demo.echo", json.RawMessage(`{"message":"hi"}`), rtp.CallContext{})
	require.False(t, result.OK)
	assert.Equal(t, rtp.ErrAuth, result.Error.Type)
	assert.Equal(t, 1, calls, "typed failures must not be retried")
	require.Len(t, sink.events, 1)
}

func TestCall_GenericFailureRetriedThenUpstreamError(t *testing.T) {
	calls := 0
	impl := adapter.Func(func(ctx context.Context, args json.RawMessage, secrets map[string]string, callCtx rtp.CallContext) (json.RawMessage, error) {
		calls++
		return nil, errors.New("connection reset")
	})
	pol := policy.Default()
	pol.Retries = 2
	rt, sink := newTestRuntime(t, echoDef(), pol, impl)
	rt.now = func() time.Time { return time.Unix(0, 0) }

	result := rt.Call(context.Background(), "demo.echo", json.RawMessage(`{"message":"hi"}`), rtp.CallContext{})
	require.False(t, result.OK)
	assert.Equal(t, rtp.ErrUpstream, result.Error.Type)
	assert.Equal(t, 3, calls, "retries+1 total attempts")
	require.Len(t, sink.events, 1)
}

func TestCall_UpstreamErrorMasksResolvedSecrets(t *testing.T) {
	def := echoDef()
	def.AuthSlots = []string{"demo_token"}
	impl := adapter.Func(func(ctx context.Context, args json.RawMessage, secrets map[string]string, callCtx rtp.CallContext) (json.RawMessage, error) {
		return nil, fmt.Errorf("upstream rejected credential %s", secrets["demo_token"])
	})
	pol := policy.Default()
	pol.Retries = 0

	t.Setenv("demo_token", "tok-super-secret")
	rt, sink := newTestRuntime(t, def, pol, impl)

	result := rt.Call(context.Background(), "demo.echo", json.RawMessage(`{"message":"hi"}`), rtp.CallContext{TenantID: "t1"})
	require.False(t, result.OK)
	assert.Equal(t, rtp.ErrUpstream, result.Error.Type)
	assert.NotContains(t, result.Error.Message, "tok-super-secret")
	assert.Contains(t, result.Error.Message, "***")
	require.Len(t, sink.events, 1)
}

func TestCall_GenericFailureRecoversOnRetry(t *testing.T) {
	calls := 0
	impl := adapter.Func(func(ctx context.Context, args json.RawMessage, secrets map[string]string, callCtx rtp.CallContext) (json.RawMessage, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient blip")
		}
		return json.RawMessage(`{"message":"hi"}`), nil
	})
	pol := policy.Default()
	pol.Retries = 1
	rt, sink := newTestRuntime(t, echoDef(), pol, impl)

	result := rt.Call(context.Background(), "demo.echo", json.RawMessage(`{"message":"hi"}`), rtp.CallContext{})
	require.True(t, result.OK)
	assert.Equal(t, 2, calls)
	require.Len(t, sink.events, 1)
	assert.Equal(t, rtp.OutcomeOK, sink.events[0].Outcome)
}

func TestCall_OutputValidationFailureIsInternalError(t *testing.T) {
	impl := adapter.Func(func(ctx context.Context, args json.RawMessage, secrets map[string]string, callCtx rtp.CallContext) (json.RawMessage, error) {
		return json.RawMessage(`{"wrong_field":"oops"}`), nil
	})
	pol := policy.Default()
	pol.Retries = 0
	rt, sink := newTestRuntime(t, echoDef(), pol, impl)

	result := rt.Call(context.Background(), "demo.echo", json.RawMessage(`{"message":"hi"}`), rtp.CallContext{})
	require.False(t, result.OK)
	assert.Equal(t, rtp.ErrInternal, result.Error.Type)
	require.Len(t, sink.events, 1)
}

func TestComputeInputHash_UsedConsistently(t *testing.T) {
	h1 := audit.ComputeInputHash(json.RawMessage(`{"a":1,"b":2}`))
	h2 := audit.ComputeInputHash(json.RawMessage(`{"b":2,"a":1}`))
	assert.Equal(t, h1, h2)
}
