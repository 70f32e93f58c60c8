package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		inv  invocation
		want []string
	}{
		{
			name: "minimal",
			inv:  invocation{},
			want: []string{"--print", "--output-format", "stream-json", "--verbose", "--include-partial-messages"},
		},
		{
			name: "model and resume",
			opts: []Option{WithPartialMessages(false)},
			inv:  invocation{model: "opus", resumeID: "ext-1"},
			want: []string{"--print", "--output-format", "stream-json", "--verbose", "--model", "opus", "--resume", "ext-1"},
		},
		{
			name: "yolo wins over prompt tool",
			opts: []Option{WithPartialMessages(false), WithPermissionPromptTool("mcp__perm__ask", "/etc/mcp.json")},
			inv:  invocation{yolo: true},
			want: []string{"--print", "--output-format", "stream-json", "--verbose", "--dangerously-skip-permissions"},
		},
		{
			name: "prompt tool",
			opts: []Option{WithPartialMessages(false), WithPermissionPromptTool("mcp__perm__ask", "/etc/mcp.json")},
			inv:  invocation{},
			want: []string{"--print", "--output-format", "stream-json", "--verbose",
				"--mcp-config", "/etc/mcp.json", "--permission-prompt-tool", "mcp__perm__ask"},
		},
		{
			name: "plan mode and extra args",
			opts: []Option{WithPartialMessages(false), WithExtraArgs("--max-turns", "5")},
			inv:  invocation{planOnly: true},
			want: []string{"--print", "--output-format", "stream-json", "--verbose",
				"--permission-mode", "plan", "--max-turns", "5"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			for _, opt := range tt.opts {
				opt(&cfg)
			}
			assert.Equal(t, tt.want, cfg.buildArgs(tt.inv))
		})
	}
}

func TestBuildEnv(t *testing.T) {
	cfg := defaultConfig()
	WithDropBox("/var/lib/agentdeck", 0)(&cfg)
	WithEnv(map[string]string{"FOO": "bar"})(&cfg)

	env := cfg.buildEnv(invocation{sessionID: "s1", permDir: "/var/lib/agentdeck/s1"})
	assert.Contains(t, env, "AGENTDECK_SESSION_ID=s1")
	assert.Contains(t, env, "AGENTDECK_PERMISSION_DIR=/var/lib/agentdeck/s1")
	assert.Contains(t, env, "FOO=bar")

	cfg = defaultConfig()
	WithHTTPHook("http://127.0.0.1:7777/permission")(&cfg)
	env = cfg.buildEnv(invocation{sessionID: "s1"})
	assert.Contains(t, env, "AGENTDECK_PERMISSION_URL=http://127.0.0.1:7777/permission")
}

func TestComposePrompt(t *testing.T) {
	assert.Equal(t, "hello", composePrompt("hello", false, false))
	assert.Equal(t, "ultrathink: hello", composePrompt("hello", true, false))
	assert.Equal(t, PlanPrefix+"hello", composePrompt("hello", false, true))
	assert.Equal(t, ThinkingPrefix+PlanPrefix+"hello", composePrompt("hello", true, true))
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(8)
	_, _ = b.Write([]byte("0123456789"))
	_, _ = b.Write([]byte("ab\n"))
	assert.Equal(t, "56789ab", b.String())
}
