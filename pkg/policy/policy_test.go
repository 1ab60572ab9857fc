package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rig-run/rig/pkg/rtp"
)

func TestDefault(t *testing.T) {
	p := Default()
	require.Nil(t, p.AllowedTools)
	assert.True(t, p.IsAllowed("anything"))
	assert.Equal(t, 30, p.TimeoutSecondsOrDefault())
	assert.Equal(t, 1, p.RetriesOrDefault())
	assert.True(t, p.NeedsApproval(rtp.RiskDestructive))
	assert.True(t, p.NeedsApproval(rtp.RiskMoney))
	assert.True(t, p.NeedsApproval(rtp.RiskInfra))
	assert.False(t, p.NeedsApproval(rtp.RiskRead))
	assert.False(t, p.NeedsApproval(rtp.RiskWrite))
}

func TestIsAllowed_EmptySetDeniesEverything(t *testing.T) {
	p := &Policy{AllowedTools: map[string]struct{}{}}
	assert.False(t, p.IsAllowed("echo"))
}

func TestIsAllowed_ExactMatch(t *testing.T) {
	p := &Policy{AllowedTools: map[string]struct{}{"echo": {}}}
	assert.True(t, p.IsAllowed("echo"))
	assert.False(t, p.IsAllowed("delete_database"))
}

func TestIsAllowed_GlobMatch(t *testing.T) {
	p := &Policy{AllowedTools: map[string]struct{}{"payments.*": {}}}
	assert.True(t, p.IsAllowed("payments.charge"))
	assert.True(t, p.IsAllowed("payments.refund"))
	assert.False(t, p.IsAllowed("users.delete"))
}

func TestRetriesOrDefault_Zero(t *testing.T) {
	p := &Policy{Retries: 0}
	assert.Equal(t, 0, p.RetriesOrDefault())
}

func TestNeedsApproval_NilPolicy(t *testing.T) {
	var p *Policy
	assert.False(t, p.NeedsApproval(rtp.RiskDestructive))
}
