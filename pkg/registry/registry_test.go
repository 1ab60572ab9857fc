package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rig-run/rig/pkg/rtp"
)

func echoTool(name string) rtp.ToolDefinition {
	return rtp.ToolDefinition{
		Name:         name,
		Description:  "echoes its input",
		InputSchema:  []byte(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"],"additionalProperties":false}`),
		OutputSchema: []byte(`{"type":"object","properties":{"message":{"type":"string"},"tenant_id":{"type":["string","null"]}},"required":["message","tenant_id"],"additionalProperties":false}`),
		ErrorSchema:  []byte(`{"type":"object"}`),
		RiskClass:    rtp.RiskRead,
		Tags:         []string{"demo"},
	}
}

func TestRegister_DuplicateRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(echoTool("echo")))
	err := r.Register(echoTool("echo"))
	require.Error(t, err)
	var dup *ErrDuplicateName
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "echo", dup.Name)
}

func TestList_Lexicographic(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(echoTool("zulu"), echoTool("alpha"), echoTool("mike")))
	names := make([]string, 0, 3)
	for _, d := range r.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"alpha", "mike", "zulu"}, names)
}

func TestGet_Absent(t *testing.T) {
	r := New()
	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestInterfaceHash_OrderIndependent(t *testing.T) {
	a := New()
	require.NoError(t, a.Register(echoTool("one"), echoTool("two"), echoTool("three")))

	b := New()
	require.NoError(t, b.Register(echoTool("three"), echoTool("one"), echoTool("two")))

	snapA := a.Snapshot()
	snapB := b.Snapshot()
	assert.Equal(t, snapA.InterfaceHash, snapB.InterfaceHash)
	assert.Len(t, snapA.InterfaceHash, 64)
}

func TestInterfaceHash_DifferentSchemaDifferentHash(t *testing.T) {
	a := New()
	require.NoError(t, a.Register(echoTool("echo")))

	b := New()
	other := echoTool("echo")
	other.Description = "something else entirely"
	other.InputSchema = []byte(`{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"]}`)
	require.NoError(t, b.Register(other))

	assert.NotEqual(t, a.Snapshot().InterfaceHash, b.Snapshot().InterfaceHash)
}

func TestInterfaceHash_KeyOrderAndWhitespaceIrrelevant(t *testing.T) {
	a := New()
	require.NoError(t, a.Register(rtp.ToolDefinition{
		Name:         "echo",
		InputSchema:  []byte(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`),
		OutputSchema: []byte(`{"type":"object"}`),
		ErrorSchema:  []byte(`{"type":"object"}`),
	}))

	b := New()
	require.NoError(t, b.Register(rtp.ToolDefinition{
		Name: "echo",
		InputSchema: []byte(`{
			"required": ["message"],
			"type": "object",
			"properties": {"message": {"type": "string"}}
		}`),
		OutputSchema: []byte(`{ "type" : "object" }`),
		ErrorSchema:  []byte(`{"type":"object"}`),
	}))

	assert.Equal(t, a.Snapshot().InterfaceHash, b.Snapshot().InterfaceHash)
}

func TestSnapshot_PackSetVersionCarried(t *testing.T) {
	r := New()
	r.SetPackSetVersion("2026.07.30")
	require.NoError(t, r.Register(echoTool("echo")))
	assert.Equal(t, "2026.07.30", r.Snapshot().PackSetVersion)
}
