package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rig-run/rig/pkg/rtp"
)

func TestCreateAndPop(t *testing.T) {
	s := New()
	token := s.Create("delete_database", []byte(`{"database":"prod"}`), rtp.CallContext{TenantID: "t1", RequestID: "r1"})
	assert.NotEmpty(t, token)

	rec, ok := s.Pop(token)
	require.True(t, ok)
	assert.Equal(t, "delete_database", rec.ToolName)
	assert.Equal(t, "t1", rec.Ctx.TenantID)
}

func TestPop_SecondCallNotPresent(t *testing.T) {
	s := New()
	token := s.Create("echo", []byte(`{}`), rtp.CallContext{})

	_, ok := s.Pop(token)
	require.True(t, ok)

	_, ok = s.Pop(token)
	assert.False(t, ok)
}

func TestPop_UnknownToken(t *testing.T) {
	s := New()
	_, ok := s.Pop("not-a-real-token")
	assert.False(t, ok)
}

func TestPop_ExpiredTokenNotPresent(t *testing.T) {
	clock := time.Now()
	s := NewWithTTL(time.Hour)
	s.now = func() time.Time { return clock }

	token := s.Create("echo", []byte(`{}`), rtp.CallContext{})
	clock = clock.Add(2 * time.Hour)

	_, ok := s.Pop(token)
	assert.False(t, ok)
}
