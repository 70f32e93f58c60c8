// Package httphook is the embedded HTTP permission transport.
//
// The permission hook of the supervised process POSTs
//
//	{"tool_name": "Bash", "tool_input": {...}, "path": "...", "context": {"session_id": "..."}}
//
// and blocks until the broker answers with
//
//	{"decision": "approve" | "deny", "reason": "...", "alwaysAllow": false}
//
// The session_id is the resumable conversation id the process reported; a
// Resolver maps it back to the owning session. Requests that cannot be
// attributed are refused with 404 and a deny body. The endpoint is CORS-open
// and unauthenticated; bind it to localhost.
package httphook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"

	"github.com/randalmurphal/agentdeck/claudecontract"
	"github.com/randalmurphal/agentdeck/permission"
)

// TransportName tags requests that arrived through a Hook.
const TransportName = "http"

// DefaultPath is the endpoint path when none is configured.
const DefaultPath = "/permission"

// Decisions in a Reply.
const (
	DecisionApprove = "approve"
	DecisionDeny    = "deny"
)

// HookRequest is the POST body.
type HookRequest struct {
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	Path      string          `json:"path,omitempty" jsonschema:"description=Target of the tool when the hook already extracted it"`
	Context   HookContext     `json:"context"`
}

// HookContext identifies the requesting conversation.
type HookContext struct {
	SessionID string `json:"session_id"`
}

// Reply is the response body.
type Reply struct {
	Decision    string `json:"decision"`
	Reason      string `json:"reason,omitempty"`
	AlwaysAllow bool   `json:"alwaysAllow"`
}

// Resolver maps an external conversation id to a session id.
type Resolver func(externalID string) (sessionID string, ok bool)

// Option configures a Hook.
type Option func(*Hook)

// WithPath sets the endpoint path.
func WithPath(path string) Option {
	return func(h *Hook) {
		if path != "" {
			h.path = path
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hook) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithIDGenerator sets the request id generator.
func WithIDGenerator(gen func() string) Option {
	return func(h *Hook) {
		if gen != nil {
			h.newID = gen
		}
	}
}

// Hook serves the permission endpoint and implements permission.Transport.
type Hook struct {
	path    string
	resolve Resolver
	logger  *slog.Logger
	newID   func() string
	now     func() time.Time

	reqs   chan permission.Request
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	waiters map[string]chan permission.Verdict
}

// New creates a Hook.
func New(resolve Resolver, opts ...Option) *Hook {
	h := &Hook{
		path:    DefaultPath,
		resolve: resolve,
		logger:  slog.Default(),
		newID:   uuid.NewString,
		now:     time.Now,
		reqs:    make(chan permission.Request),
		closed:  make(chan struct{}),
		waiters: make(map[string]chan permission.Verdict),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Path returns the endpoint path.
func (h *Hook) Path() string {
	return h.path
}

// Handler returns the HTTP handler for the endpoint and its schema.
func (h *Hook) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+h.path, h.handlePermission)
	mux.HandleFunc("GET "+h.path+"/schema", h.handleSchema)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Hook) handlePermission(w http.ResponseWriter, r *http.Request) {
	var body HookRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		h.logger.Warn("bad permission hook body", "err", err)
		writeReply(w, http.StatusBadRequest, Reply{Decision: DecisionDeny, Reason: "invalid request body: " + err.Error()})
		return
	}
	if body.ToolName == "" {
		writeReply(w, http.StatusBadRequest, Reply{Decision: DecisionDeny, Reason: "tool_name is required"})
		return
	}

	sessionID, ok := h.resolve(body.Context.SessionID)
	if !ok {
		h.logger.Warn("permission request for unknown session", "external_session", body.Context.SessionID, "tool", body.ToolName)
		writeReply(w, http.StatusNotFound, Reply{Decision: DecisionDeny, Reason: permission.ErrUnknownSession.Error()})
		return
	}

	target := body.Path
	if target == "" {
		target = claudecontract.ToolTarget(body.ToolName, body.ToolInput)
	}
	req := permission.Request{
		ID:        h.newID(),
		SessionID: sessionID,
		ToolName:  body.ToolName,
		Target:    target,
		Input:     body.ToolInput,
		CreatedAt: h.now(),
		Transport: TransportName,
		Abandoned: r.Context().Done(),
	}

	ch := make(chan permission.Verdict, 1)
	h.mu.Lock()
	h.waiters[req.ID] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.waiters, req.ID)
		h.mu.Unlock()
	}()

	select {
	case h.reqs <- req:
	case <-r.Context().Done():
		return
	case <-h.closed:
		writeReply(w, http.StatusServiceUnavailable, Reply{Decision: DecisionDeny, Reason: "permission endpoint closed"})
		return
	}

	select {
	case v := <-ch:
		writeReply(w, http.StatusOK, replyFor(v))
	case <-r.Context().Done():
		h.logger.Debug("permission requester went away", "request", req.ID)
	case <-h.closed:
		writeReply(w, http.StatusServiceUnavailable, Reply{Decision: DecisionDeny, Reason: "permission endpoint closed"})
	}
}

func replyFor(v permission.Verdict) Reply {
	reply := Reply{Decision: DecisionDeny, Reason: v.Reason, AlwaysAllow: v.Allow && v.Remember}
	if v.Allow {
		reply.Decision = DecisionApprove
	}
	return reply
}

func (h *Hook) handleSchema(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	if err := json.NewEncoder(w).Encode(RequestSchema()); err != nil {
		h.logger.Warn("writing schema", "err", err)
	}
}

// RequestSchema describes the POST body.
func RequestSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{DoNotReference: true}
	return r.Reflect(&HookRequest{})
}

func writeReply(w http.ResponseWriter, status int, reply Reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(reply)
}

// Receive returns the next request.
func (h *Hook) Receive(ctx context.Context) (permission.Request, error) {
	select {
	case req := <-h.reqs:
		return req, nil
	case <-ctx.Done():
		return permission.Request{}, ctx.Err()
	case <-h.closed:
		return permission.Request{}, permission.ErrTransportClosed
	}
}

// Respond completes the waiting HTTP call.
func (h *Hook) Respond(_ context.Context, id string, v permission.Verdict) error {
	h.mu.Lock()
	ch, ok := h.waiters[id]
	h.mu.Unlock()
	if !ok {
		return permission.ErrUnknownRequest
	}
	select {
	case ch <- v:
		return nil
	default:
		return errors.New("httphook: request already answered")
	}
}

// Close fails all waiting calls with a deny reply.
func (h *Hook) Close() error {
	h.once.Do(func() { close(h.closed) })
	return nil
}
