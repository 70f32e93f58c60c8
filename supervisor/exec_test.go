package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentdeck/conversation"
	"github.com/randalmurphal/agentdeck/notify"
)

// writeScript creates an executable shell script standing in for the agent.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newExecSupervisor(t *testing.T, binary string) (*Supervisor, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := New(
		WithBinary(binary),
		WithNotifier(rec),
		WithLogger(discardLogger()),
		WithRestartDelay(0),
		WithStopGrace(200*time.Millisecond),
	)
	t.Cleanup(s.Cleanup)
	return s, rec
}

func TestExecAgentRun(t *testing.T) {
	bin := writeScript(t, `read -r line
echo '{"type":"system","subtype":"init","session_id":"ext-sh","model":"claude-haiku"}'
printf '{"type":"assistant","message":{"id":"m1","content":[{"type":"text","text":"%s"}]}}\n' "$line"
echo '{"type":"result","subtype":"success","usage":{"input_tokens":100,"output_tokens":10}}'
`)
	s, rec := newExecSupervisor(t, bin)
	sess := s.CreateSession(SessionConfig{WorkDir: t.TempDir()})

	require.NoError(t, s.SendMessage(context.Background(), sess.ID, "ping", SendOptions{}))

	got := waitIdle(t, s, sess.ID)
	assert.Equal(t, "ext-sh", got.ResumeID)
	require.Eventually(t, func() bool {
		return rec.hasMessage(sess.ID, conversation.TypeAssistant, "ping")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecAgentFailure(t *testing.T) {
	bin := writeScript(t, "echo 'boom' >&2\nexit 3\n")
	s, rec := newExecSupervisor(t, bin)
	sess := s.CreateSession(SessionConfig{WorkDir: t.TempDir()})

	require.NoError(t, s.SendMessage(context.Background(), sess.ID, "ping", SendOptions{}))

	require.Eventually(t, func() bool {
		return len(rec.kind(notify.KindError)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	payload := rec.kind(notify.KindError)[0].Payload.(ErrorPayload)
	assert.Equal(t, "boom", payload.Message)
	assert.Equal(t, 3, payload.ExitCode)
	waitIdle(t, s, sess.ID)
}

func TestExecAgentStop(t *testing.T) {
	bin := writeScript(t, "cat >/dev/null\nsleep 30\n")
	s, _ := newExecSupervisor(t, bin)
	sess := s.CreateSession(SessionConfig{WorkDir: t.TempDir()})

	require.NoError(t, s.SendMessage(context.Background(), sess.ID, "ping", SendOptions{}))
	require.True(t, s.StopSession(sess.ID))

	done := make(chan struct{})
	go func() {
		s.Cleanup()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cleanup did not finish")
	}
}
