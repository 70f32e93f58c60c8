package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/agentdeck/config"
	"github.com/randalmurphal/agentdeck/supervisor"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommands(t *testing.T) {
	var names []string
	for _, c := range newRootCmd().Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "version", "schema", "config"})
}

func TestSchemaCommand(t *testing.T) {
	out, err := run(t, "schema", "fs-request")
	require.NoError(t, err)
	assert.Contains(t, out, `"toolName"`)

	out, err = run(t, "schema")
	require.NoError(t, err)
	for _, name := range schemaNames() {
		assert.Contains(t, out, `"`+name+`"`)
	}

	_, err = run(t, "schema", "nope")
	assert.Error(t, err)
}

func TestConfigCommand(t *testing.T) {
	out, err := run(t, "config")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	want := config.Default()
	assert.Equal(t, want.Agent, cfg.Agent)
	assert.Equal(t, want.Permission, cfg.Permission)
	assert.Equal(t, want.PriceTable(), cfg.Prices)

	out, err = run(t, "config", "--format", "toml")
	require.NoError(t, err)
	assert.Contains(t, out, "[agent]")

	_, err = run(t, "config", "--format", "ini")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version", "--binary", "/nonexistent/agent")
	require.NoError(t, err)
	assert.Contains(t, out, "agentdeck dev")
	assert.Contains(t, out, "not found")
}

type fakeLookup struct {
	sessions map[string]bool
	resume   map[string]string
}

func (f fakeLookup) Session(id string) (supervisor.Session, bool) {
	return supervisor.Session{ID: id}, f.sessions[id]
}

func (f fakeLookup) SessionForResumeID(resumeID string) (string, bool) {
	id, ok := f.resume[resumeID]
	return id, ok
}

func TestSessionResolver(t *testing.T) {
	resolve := sessionResolver(fakeLookup{
		sessions: map[string]bool{"s1": true},
		resume:   map[string]string{"ext-1": "s2"},
	})

	tests := []struct {
		ext    string
		want   string
		wantOK bool
	}{
		{"s1", "s1", true},
		{"ext-1", "s2", true},
		{"unknown", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			got, ok := resolve(tt.ext)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Binary = "/nonexistent/agent"
	cfg.API.Listen = "127.0.0.1:0"
	cfg.Permission.Transport = config.TransportHTTP
	cfg.Permission.HookListen = "127.0.0.1:0"
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}

func TestSupervisorOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Permission.DropBoxDir = t.TempDir()
	cfg.Agent.PromptTool = "mcp__agentdeck__approve"

	sup := supervisor.New(supervisorOptions(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil)...)
	defer sup.Cleanup()

	sess := sup.CreateSession(supervisor.SessionConfig{WorkDir: t.TempDir()})
	assert.NotEmpty(t, sess.PermissionDir, "fs transport gives each session a drop-box")
}
