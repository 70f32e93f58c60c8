// Package api serves the supervisor to a UI over HTTP: JSON endpoints for
// session and permission operations and a websocket stream of
// notifications.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/randalmurphal/agentdeck/notify"
	"github.com/randalmurphal/agentdeck/permission"
	"github.com/randalmurphal/agentdeck/supervisor"
)

// Controller is the part of the supervisor the API drives.
type Controller interface {
	CreateSession(cfg supervisor.SessionConfig) supervisor.Session
	SwitchToSession(id string) (supervisor.Session, error)
	DeleteSession(id string) bool
	SendMessage(ctx context.Context, id, text string, opts supervisor.SendOptions) error
	StopSession(id string) bool
	UpdateSession(id string, u supervisor.SessionUpdate) (supervisor.Session, error)
	Sessions() []supervisor.Session
	Session(id string) (supervisor.Session, bool)

	PermissionRules(id string) ([]permission.Rule, error)
	AddPermissionRule(id string, rule permission.Rule) (supervisor.Session, error)
	RemovePermissionRule(id string, index int) (supervisor.Session, error)
	ClearPermissionRules(id string) (supervisor.Session, error)
	PendingPermissions() []permission.Request
	ResolvePermission(requestID string, v permission.Verdict) bool
}

// Subscriber hands out notification streams.
type Subscriber interface {
	Subscribe(sessionID string) (<-chan notify.Notification, func())
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAllowedOrigins restricts browser origins for CORS and websocket
// upgrades. No origins allows any.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, origins...) }
}

// WithHandler mounts an extra handler, such as a metrics endpoint.
func WithHandler(pattern string, h http.Handler) Option {
	return func(s *Server) { s.extra = append(s.extra, route{pattern, h}) }
}

type route struct {
	pattern string
	h       http.Handler
}

// Server is the HTTP surface.
type Server struct {
	ctl     Controller
	bus     Subscriber
	logger  *slog.Logger
	origins []string
	extra   []route
}

// New creates a Server.
func New(ctl Controller, bus Subscriber, opts ...Option) *Server {
	s := &Server{ctl: ctl, bus: bus, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PATCH /sessions/{id}", s.handleUpdateSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/activate", s.handleActivate)
	mux.HandleFunc("POST /sessions/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("POST /sessions/{id}/stop", s.handleStop)

	mux.HandleFunc("GET /sessions/{id}/rules", s.handleListRules)
	mux.HandleFunc("POST /sessions/{id}/rules", s.handleAddRule)
	mux.HandleFunc("DELETE /sessions/{id}/rules", s.handleClearRules)
	mux.HandleFunc("DELETE /sessions/{id}/rules/{index}", s.handleRemoveRule)

	mux.HandleFunc("GET /permissions", s.handlePendingPermissions)
	mux.HandleFunc("POST /permissions/{id}", s.handleResolvePermission)

	for _, r := range s.extra {
		mux.Handle(r.pattern, r.h)
	}
	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		} else if len(s.origins) == 0 {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.origins) == 0 {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Sessions())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var cfg supervisor.SessionConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	if strings.TrimSpace(cfg.WorkDir) == "" {
		writeError(w, http.StatusBadRequest, "workDir is required")
		return
	}
	writeJSON(w, http.StatusCreated, s.ctl.CreateSession(cfg))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ctl.Session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, supervisor.ErrSessionNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var u supervisor.SessionUpdate
	if !decodeBody(w, r, &u) {
		return
	}
	sess, err := s.ctl.UpdateSession(r.PathValue("id"), u)
	s.writeResult(w, sess, err)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.ctl.DeleteSession(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, supervisor.ErrSessionNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.ctl.SwitchToSession(r.PathValue("id"))
	s.writeResult(w, sess, err)
}

// SendRequest is the body of POST /sessions/{id}/messages.
type SendRequest struct {
	Text string `json:"text"`
	supervisor.SendOptions
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	id := r.PathValue("id")
	// The process outlives the request.
	if err := s.ctl.SendMessage(context.WithoutCancel(r.Context()), id, req.Text, req.SendOptions); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.ctl.StopSession(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, supervisor.ErrSessionNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.ctl.PermissionRules(r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if rules == nil {
		rules = []permission.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule permission.Rule
	if !decodeBody(w, r, &rule) {
		return
	}
	if rule.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}
	sess, err := s.ctl.AddPermissionRule(r.PathValue("id"), rule)
	s.writeResult(w, sess, err)
}

func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "rule index must be an integer")
		return
	}
	sess, err := s.ctl.RemovePermissionRule(r.PathValue("id"), index)
	s.writeResult(w, sess, err)
}

func (s *Server) handleClearRules(w http.ResponseWriter, r *http.Request) {
	sess, err := s.ctl.ClearPermissionRules(r.PathValue("id"))
	s.writeResult(w, sess, err)
}

func (s *Server) handlePendingPermissions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.PendingPermissions())
}

func (s *Server) handleResolvePermission(w http.ResponseWriter, r *http.Request) {
	var v permission.Verdict
	if !decodeBody(w, r, &v) {
		return
	}
	v.Expired = false
	if !s.ctl.ResolvePermission(r.PathValue("id"), v) {
		writeError(w, http.StatusNotFound, "permission request is not pending")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeResult(w http.ResponseWriter, sess supervisor.Session, err error) {
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("api request failed", "err", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrRuleIndex):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
