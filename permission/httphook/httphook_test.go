package httphook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentdeck/permission"
)

type memStore struct {
	mu    sync.Mutex
	rules []permission.Rule
}

func (s *memStore) Rules(id string) ([]permission.Rule, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]permission.Rule(nil), s.rules...), "/work", id == "s1"
}

func (s *memStore) AddRule(_ string, r permission.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, r)
	return nil
}

type fixture struct {
	hook    *Hook
	decider *permission.PendingDecider
	store   *memStore
	server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := &memStore{}
	decider := permission.NewPendingDecider(nil)
	broker := permission.NewBroker(store, decider)
	hook := New(func(ext string) (string, bool) {
		if ext == "ext-1" {
			return "s1", true
		}
		return "", false
	})
	broker.Attach(hook)
	server := httptest.NewServer(hook.Handler())
	t.Cleanup(func() {
		server.Close()
		broker.Close()
	})
	return &fixture{hook: hook, decider: decider, store: store, server: server}
}

func (f *fixture) post(t *testing.T, body string) (int, Reply) {
	t.Helper()
	resp, err := http.Post(f.server.URL+DefaultPath, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var reply Reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	return resp.StatusCode, reply
}

func TestUnknownSessionRejected(t *testing.T) {
	f := newFixture(t)
	status, reply := f.post(t, `{"tool_name":"Bash","tool_input":{"command":"ls"},"context":{"session_id":"nope"}}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, DecisionDeny, reply.Decision)
	assert.Contains(t, reply.Reason, "unknown session")
	assert.Empty(t, f.decider.Pending())
}

func TestBadBody(t *testing.T) {
	f := newFixture(t)
	status, reply := f.post(t, `{"tool_name":`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, DecisionDeny, reply.Decision)

	status, _ = f.post(t, `{"context":{"session_id":"ext-1"}}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestBookkeepingApprovedImmediately(t *testing.T) {
	f := newFixture(t)
	status, reply := f.post(t, `{"tool_name":"TodoWrite","tool_input":{},"context":{"session_id":"ext-1"}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, DecisionApprove, reply.Decision)
}

func TestRuleApprovedImmediately(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.AddRule("s1", permission.Rule{Tool: "Read", Pattern: permission.AnyPattern, Allow: true}))
	status, reply := f.post(t, `{"tool_name":"Read","tool_input":{"file_path":"/etc/x"},"context":{"session_id":"ext-1"}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, DecisionApprove, reply.Decision)
	assert.Empty(t, f.decider.Pending())
}

func TestHumanDecision(t *testing.T) {
	f := newFixture(t)

	type result struct {
		status int
		reply  Reply
	}
	done := make(chan result, 1)
	go func() {
		s, r := f.post(t, `{"tool_name":"Bash","tool_input":{"command":"npm install foo"},"context":{"session_id":"ext-1"}}`)
		done <- result{s, r}
	}()

	require.Eventually(t, func() bool { return len(f.decider.Pending()) == 1 }, 2*time.Second, 5*time.Millisecond)
	req := f.decider.Pending()[0]
	assert.Equal(t, "s1", req.SessionID)
	assert.Equal(t, "npm install foo", req.Target)
	assert.Equal(t, TransportName, req.Transport)

	require.True(t, f.decider.Resolve(req.ID, permission.Verdict{Allow: true, Remember: true}))
	res := <-done
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, DecisionApprove, res.reply.Decision)
	assert.True(t, res.reply.AlwaysAllow)

	rules, _, _ := f.store.Rules("s1")
	require.Len(t, rules, 1)
	assert.Equal(t, "npm:*", rules[0].Pattern)
}

func TestPathOverridesExtractedTarget(t *testing.T) {
	f := newFixture(t)
	done := make(chan Reply, 1)
	go func() {
		_, r := f.post(t, `{"tool_name":"Edit","tool_input":{"file_path":"/a"},"path":"/b","context":{"session_id":"ext-1"}}`)
		done <- r
	}()
	require.Eventually(t, func() bool { return len(f.decider.Pending()) == 1 }, 2*time.Second, 5*time.Millisecond)
	req := f.decider.Pending()[0]
	assert.Equal(t, "/b", req.Target)
	require.True(t, f.decider.Resolve(req.ID, permission.Deny("not that file")))

	reply := <-done
	assert.Equal(t, DecisionDeny, reply.Decision)
	assert.Equal(t, "not that file", reply.Reason)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodOptions, f.server.URL+DefaultPath, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSchemaEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.server.URL + DefaultPath + "/schema")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"tool_name"`)
}

func TestClosedHookDenies(t *testing.T) {
	hook := New(func(string) (string, bool) { return "s1", true })
	server := httptest.NewServer(hook.Handler())
	defer server.Close()
	require.NoError(t, hook.Close())

	resp, err := http.Post(server.URL+DefaultPath, "application/json",
		bytes.NewBufferString(`{"tool_name":"Bash","context":{"session_id":"x"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, err = hook.Receive(context.Background())
	assert.ErrorIs(t, err, permission.ErrTransportClosed)
	assert.ErrorIs(t, hook.Respond(context.Background(), "missing", permission.Allow("")), permission.ErrUnknownRequest)
}
