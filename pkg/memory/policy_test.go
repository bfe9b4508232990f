package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCELPolicy(t *testing.T) {
	p, err := NewCELPolicy(`agent.startsWith("planner-") || agent == "auditor"`, []string{"summary"})
	require.NoError(t, err)

	assert.True(t, p.IsAllowed("planner-1"))
	assert.True(t, p.IsAllowed("auditor"))
	assert.False(t, p.IsAllowed("executor"))
	assert.Equal(t, `agent.startsWith("planner-") || agent == "auditor"`, p.Expression())

	in := map[string]any{"summary": "ok", "raw": "hidden"}
	assert.Equal(t, map[string]any{"summary": "ok"}, p.FilterPayload(in))
	assert.Len(t, in, 2)
}

func TestCELPolicy_CompileErrors(t *testing.T) {
	_, err := NewCELPolicy(`agent ==`, nil)
	assert.Error(t, err)

	_, err = NewCELPolicy(`agent + "x"`, nil)
	assert.Error(t, err)

	_, err = NewCELPolicy(`unknown_var == "x"`, nil)
	assert.Error(t, err)
}

func TestAllowListAndOpenPolicy(t *testing.T) {
	al := NewAllowList([]string{"a", "b"}, nil)
	assert.True(t, al.IsAllowed("a"))
	assert.False(t, al.IsAllowed("c"))

	in := map[string]any{"x": map[string]any{"y": 1}}
	out := al.FilterPayload(in)
	out["x"].(map[string]any)["y"] = 2
	assert.Equal(t, 1, in["x"].(map[string]any)["y"])

	var open OpenPolicy
	assert.True(t, open.IsAllowed("anyone"))
	assert.Equal(t, in, open.FilterPayload(in))
}

func TestRedacted(t *testing.T) {
	p := Redacted{Fields: FieldFilter{"summary"}}
	assert.True(t, p.IsAllowed("anyone"))
	assert.Equal(t, map[string]any{"summary": "s"}, p.FilterPayload(map[string]any{"summary": "s", "raw": "r"}))
}
