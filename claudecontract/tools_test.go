package claudecontract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolTarget(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		input string
		want  string
	}{
		{"bash command", ToolBash, `{"command":"npm install","description":"deps"}`, "npm install"},
		{"read file_path", ToolRead, `{"file_path":"/src/main.go"}`, "/src/main.go"},
		{"edit falls back to path", ToolEdit, `{"path":"a.txt"}`, "a.txt"},
		{"web fetch url", ToolWebFetch, `{"url":"https://example.com","prompt":"x"}`, "https://example.com"},
		{"notebook", ToolNotebookEdit, `{"notebook_path":"n.ipynb"}`, "n.ipynb"},
		{"unknown tool uses fallback", "mcp__srv__tool", `{"path":"/tmp"}`, "/tmp"},
		{"no target", ToolRead, `{"limit":10}`, ""},
		{"empty input", ToolRead, ``, ""},
		{"invalid json", ToolBash, `{"command":`, ""},
		{"non-string target ignored", ToolBash, `{"command":42}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToolTarget(tt.tool, json.RawMessage(tt.input)))
		})
	}
}

func TestCommandVerb(t *testing.T) {
	assert.Equal(t, "npm", CommandVerb("npm install --save x"))
	assert.Equal(t, "ls", CommandVerb("  ls\t-la"))
	assert.Equal(t, "", CommandVerb("   "))
}

func TestIsBookkeeping(t *testing.T) {
	assert.True(t, IsBookkeeping(ToolTodoWrite))
	assert.True(t, IsBookkeeping(ToolTodoRead))
	assert.True(t, IsBookkeeping(ToolExitPlanMode))
	assert.False(t, IsBookkeeping(ToolBash))
	assert.False(t, IsBookkeeping(ToolWrite))
}
