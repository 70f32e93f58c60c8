package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentdeck/notify"
	"github.com/randalmurphal/agentdeck/permission"
	"github.com/randalmurphal/agentdeck/supervisor"
)

type failingSpawner struct{}

func (failingSpawner) Spawn(context.Context, supervisor.Command) (supervisor.Process, error) {
	return nil, errors.New("no agent binary in test")
}

type fixture struct {
	sup     *supervisor.Supervisor
	bus     *notify.Bus
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := notify.NewBus(64, logger)
	sup := supervisor.New(
		supervisor.WithSpawner(failingSpawner{}),
		supervisor.WithNotifier(bus),
		supervisor.WithLogger(logger),
	)
	t.Cleanup(sup.Cleanup)
	srv := New(sup, bus, WithLogger(logger),
		WithHandler("GET /extra", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})))
	return &fixture{sup: sup, bus: bus, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestSessionsCRUD(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = f.do(t, http.MethodPost, "/sessions", `{"workDir":"/src/app","model":"sonnet"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[supervisor.Session](t, w)
	assert.Equal(t, "app", created.Name)
	assert.True(t, created.Active)

	w = f.do(t, http.MethodGet, "/sessions/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decode[supervisor.Session](t, w).ID)

	w = f.do(t, http.MethodPatch, "/sessions/"+created.ID, `{"name":"renamed","modes":{"yolo":true}}`)
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[supervisor.Session](t, w)
	assert.Equal(t, "renamed", updated.Name)
	assert.True(t, updated.Modes.Yolo)

	other := f.do(t, http.MethodPost, "/sessions", `{"workDir":"/src/other"}`)
	require.Equal(t, http.StatusCreated, other.Code)
	otherID := decode[supervisor.Session](t, other).ID
	w = f.do(t, http.MethodPost, "/sessions/"+otherID+"/activate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[supervisor.Session](t, w).Active)

	w = f.do(t, http.MethodPost, "/sessions/"+created.ID+"/stop", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodDelete, "/sessions/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodGet, "/sessions/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestErrors(t *testing.T) {
	f := newFixture(t)
	sess := f.sup.CreateSession(supervisor.SessionConfig{WorkDir: "/src/app"})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad create body", http.MethodPost, "/sessions", "not json", http.StatusBadRequest},
		{"missing workdir", http.MethodPost, "/sessions", `{"name":"x"}`, http.StatusBadRequest},
		{"get unknown", http.MethodGet, "/sessions/nope", "", http.StatusNotFound},
		{"patch unknown", http.MethodPatch, "/sessions/nope", `{}`, http.StatusNotFound},
		{"delete unknown", http.MethodDelete, "/sessions/nope", "", http.StatusNotFound},
		{"activate unknown", http.MethodPost, "/sessions/nope/activate", "", http.StatusNotFound},
		{"stop unknown", http.MethodPost, "/sessions/nope/stop", "", http.StatusNotFound},
		{"send empty text", http.MethodPost, "/sessions/" + sess.ID + "/messages", `{"text":"  "}`, http.StatusBadRequest},
		{"send unknown", http.MethodPost, "/sessions/nope/messages", `{"text":"hi"}`, http.StatusNotFound},
		{"send spawn failure", http.MethodPost, "/sessions/" + sess.ID + "/messages", `{"text":"hi"}`, http.StatusInternalServerError},
		{"rule without tool", http.MethodPost, "/sessions/" + sess.ID + "/rules", `{"allow":true}`, http.StatusBadRequest},
		{"rule index not a number", http.MethodDelete, "/sessions/" + sess.ID + "/rules/x", "", http.StatusBadRequest},
		{"rule index out of range", http.MethodDelete, "/sessions/" + sess.ID + "/rules/3", "", http.StatusBadRequest},
		{"rules unknown", http.MethodGet, "/sessions/nope/rules", "", http.StatusNotFound},
		{"resolve unknown", http.MethodPost, "/permissions/req-1", `{"allow":true}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if w.Code >= 400 {
				assert.NotEmpty(t, decode[errorBody](t, w).Error)
			}
		})
	}
}

func TestRulesEndpoints(t *testing.T) {
	f := newFixture(t)
	sess := f.sup.CreateSession(supervisor.SessionConfig{WorkDir: "/src/app"})
	base := "/sessions/" + sess.ID + "/rules"

	w := f.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = f.do(t, http.MethodPost, base, `{"tool":"Bash","pattern":"npm:*","allow":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	f.do(t, http.MethodPost, base, `{"tool":"Read","allow":true}`)

	rules := decode[[]permission.Rule](t, f.do(t, http.MethodGet, base, ""))
	require.Len(t, rules, 2)
	assert.Equal(t, "npm:*", rules[0].Pattern)

	w = f.do(t, http.MethodDelete, base+"/0", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[supervisor.Session](t, w).Rules, 1)

	w = f.do(t, http.MethodDelete, base, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[supervisor.Session](t, w).Rules)
}

func TestPendingPermissionsEmpty(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/permissions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestCORSAndExtraHandlers(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodOptions, "/sessions", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusTeapot, f.do(t, http.MethodGet, "/extra", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").Code)
}

func TestAllowedOrigins(t *testing.T) {
	srv := New(nil, nil, WithAllowedOrigins("http://localhost:3000"))
	assert.True(t, srv.originAllowed("http://localhost:3000"))
	assert.False(t, srv.originAllowed("http://evil.example"))
	assert.True(t, New(nil, nil).originAllowed("http://anything"))
}

func dialWS(t *testing.T, f *fixture, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(f.handler)
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireNote struct {
	Kind      notify.Kind     `json:"kind"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

func readNote(t *testing.T, conn *websocket.Conn) wireNote {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var n wireNote
	require.NoError(t, conn.ReadJSON(&n))
	return n
}

func TestWebSocketStream(t *testing.T) {
	f := newFixture(t)
	existing := f.sup.CreateSession(supervisor.SessionConfig{WorkDir: "/src/app"})

	conn := dialWS(t, f, "")
	snap := readNote(t, conn)
	assert.Equal(t, KindSnapshot, snap.Kind)
	assert.Equal(t, existing.ID, snap.SessionID)

	require.Eventually(t, func() bool { return f.bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	created := f.sup.CreateSession(supervisor.SessionConfig{WorkDir: "/src/other"})
	n := readNote(t, conn)
	assert.Equal(t, notify.KindSessionCreated, n.Kind)
	assert.Equal(t, created.ID, n.SessionID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	n = readNote(t, conn)
	assert.Equal(t, notify.KindError, n.Kind)
	assert.Contains(t, string(n.Payload), "invalid command")

	require.NoError(t, conn.WriteJSON(Command{Type: CommandResolve, RequestID: "missing"}))
	n = readNote(t, conn)
	assert.Equal(t, notify.KindError, n.Kind)
	assert.Contains(t, string(n.Payload), "not pending")
}

func TestWebSocketSessionFilter(t *testing.T) {
	f := newFixture(t)
	a := f.sup.CreateSession(supervisor.SessionConfig{WorkDir: "/a"})
	b := f.sup.CreateSession(supervisor.SessionConfig{WorkDir: "/b"})

	conn := dialWS(t, f, "?session="+b.ID)
	snap := readNote(t, conn)
	assert.Equal(t, b.ID, snap.SessionID)

	require.Eventually(t, func() bool { return f.bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	f.sup.StopSession(a.ID)
	f.sup.StopSession(b.ID)

	n := readNote(t, conn)
	assert.Equal(t, b.ID, n.SessionID, "other sessions are filtered out")
}
