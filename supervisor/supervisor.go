package supervisor

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/randalmurphal/agentdeck/conversation"
	"github.com/randalmurphal/agentdeck/model"
	"github.com/randalmurphal/agentdeck/notify"
	"github.com/randalmurphal/agentdeck/permission"
	"github.com/randalmurphal/agentdeck/permission/fsbox"
)

// Supervisor owns the session table. All methods are safe for concurrent use.
type Supervisor struct {
	cfg     config
	logger  *slog.Logger
	acc     *conversation.Accumulator
	decider *permission.PendingDecider
	broker  *permission.Broker
	metrics *metrics

	mu      sync.Mutex
	records map[string]*record
	order   []string
	active  string
	closed  bool
}

// record is the supervisor-private state of one session.
type record struct {
	session Session

	// run is the attached process, nil when idle.
	run *run

	// gen increases on every send, stop and delete so a send that is still
	// starting can tell it has been superseded.
	gen uint64

	box        *fsbox.Box
	detachPerm func()
}

// StatePayload is the payload of a session-state-update notification.
type StatePayload struct {
	Processing bool `json:"isProcessing"`
}

// ErrorPayload is the payload of an error notification.
type ErrorPayload struct {
	Message  string `json:"message"`
	ExitCode int    `json:"exitCode,omitempty"`
}

// New creates a Supervisor.
func New(opts ...Option) *Supervisor {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Supervisor{
		cfg:     cfg,
		logger:  cfg.logger,
		records: make(map[string]*record),
		metrics: newMetrics(cfg.registerer),
	}
	s.acc = conversation.New(
		conversation.WithPrices(cfg.prices),
		conversation.WithClock(cfg.now),
		conversation.WithLogger(cfg.logger),
	)
	s.decider = permission.NewPendingDecider(s.onPermissionPending)
	s.broker = permission.NewBroker(ruleStore{s}, s.decider,
		permission.WithBrokerLogger(cfg.logger),
		permission.WithOnResolved(s.onPermissionResolved),
	)
	return s
}

// CreateSession registers a new session. The first session becomes active.
func (s *Supervisor) CreateSession(cfg SessionConfig) Session {
	id := s.cfg.newID()
	now := s.cfg.now()

	name := cfg.Name
	if name == "" {
		name = defaultName(cfg.WorkDir)
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = s.cfg.defaultModel
	}
	rec := &record{session: Session{
		ID:           id,
		Name:         name,
		WorkDir:      cfg.WorkDir,
		Model:        modelName,
		ResumeID:     cfg.ResumeID,
		Open:         true,
		Modes:        cfg.Modes,
		Rules:        append([]permission.Rule(nil), cfg.Rules...),
		CreatedAt:    now,
		LastActiveAt: now,
	}}

	if s.cfg.transport == TransportFS {
		s.openDropBox(rec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = rec
	s.order = append(s.order, id)
	if s.active == "" {
		s.active = id
		rec.session.Active = true
	}
	s.acc.SetModel(id, modelName)
	s.metrics.sessions.Set(float64(len(s.records)))

	s.logger.Info("session created", "session", id, "name", name, "workdir", cfg.WorkDir)
	s.emitLocked(notify.KindSessionCreated, id, rec.session.clone())
	return rec.session.clone()
}

func (s *Supervisor) openDropBox(rec *record) {
	id := rec.session.ID
	dir := filepath.Join(s.cfg.dropBoxRoot, id)
	box, err := fsbox.Open(dir, id, fsbox.WithTimeout(s.cfg.dropTimeout), fsbox.WithLogger(s.logger))
	if err != nil {
		s.logger.Error("opening permission drop-box", "session", id, "err", err)
		return
	}
	if err := fsbox.WriteRules(dir, rec.session.Rules); err != nil {
		s.logger.Warn("writing permission rules", "session", id, "err", err)
	}
	rec.box = box
	rec.session.PermissionDir = dir
	rec.detachPerm = s.broker.Attach(box)
}

func defaultName(workDir string) string {
	if workDir == "" {
		return "session"
	}
	base := filepath.Base(filepath.Clean(workDir))
	if base == "." || base == string(filepath.Separator) {
		return "session"
	}
	return base
}

// SwitchToSession makes id the active session.
func (s *Supervisor) SwitchToSession(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if s.active != "" && s.active != id {
		if prev, ok := s.records[s.active]; ok {
			prev.session.Active = false
			s.emitLocked(notify.KindSessionUpdated, prev.session.ID, prev.session.clone())
		}
	}
	s.active = id
	rec.session.Active = true
	rec.session.LastActiveAt = s.cfg.now()
	s.emitLocked(notify.KindSessionUpdated, id, rec.session.clone())
	return rec.session.clone(), nil
}

// DeleteSession stops the session's process, releases its permission
// channel, and forgets it. Another session becomes active if it was active.
func (s *Supervisor) DeleteSession(id string) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	rec.gen++
	old := s.detachRunLocked(id, rec)
	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.acc.RemoveSession(id)

	if s.active == id {
		s.active = ""
		if next := s.mostRecentLocked(); next != nil {
			s.active = next.session.ID
			next.session.Active = true
			s.emitLocked(notify.KindSessionUpdated, next.session.ID, next.session.clone())
		}
	}
	s.metrics.sessions.Set(float64(len(s.records)))
	s.emitLocked(notify.KindSessionDeleted, id, nil)
	detach := rec.detachPerm
	rec.detachPerm = nil
	s.mu.Unlock()

	s.logger.Info("session deleted", "session", id)
	if old != nil {
		go s.terminate(id, old)
	}
	if detach != nil {
		detach()
	}
	for _, req := range s.decider.PendingFor(id) {
		s.decider.Resolve(req.ID, permission.Deny("session deleted"))
	}
	return true
}

func (s *Supervisor) mostRecentLocked() *record {
	var best *record
	for _, id := range s.order {
		rec := s.records[id]
		if best == nil || rec.session.LastActiveAt.After(best.session.LastActiveAt) {
			best = rec
		}
	}
	return best
}

// Sessions returns every session in creation order.
func (s *Supervisor) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].session.clone())
	}
	return out
}

// Session returns one session.
func (s *Supervisor) Session(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Session{}, false
	}
	return rec.session.clone(), true
}

// ActiveSession returns the active session, if any.
func (s *Supervisor) ActiveSession() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[s.active]
	if !ok {
		return Session{}, false
	}
	return rec.session.clone(), true
}

// SessionUpdate changes session settings. Nil fields are left alone.
type SessionUpdate struct {
	Name  *string `json:"name,omitempty"`
	Model *string `json:"model,omitempty"`
	Modes *Modes  `json:"modes,omitempty"`
	Open  *bool   `json:"isOpen,omitempty"`
}

// UpdateSession applies u to the session. Changes take effect on the next send.
func (s *Supervisor) UpdateSession(id string, u SessionUpdate) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if u.Name != nil && *u.Name != "" {
		rec.session.Name = *u.Name
	}
	if u.Model != nil {
		rec.session.Model = *u.Model
		s.acc.SetModel(id, *u.Model)
	}
	if u.Modes != nil {
		rec.session.Modes = *u.Modes
	}
	if u.Open != nil {
		rec.session.Open = *u.Open
	}
	s.emitLocked(notify.KindSessionUpdated, id, rec.session.clone())
	return rec.session.clone(), nil
}

// SessionForResumeID maps the agent's resumable conversation id to a session.
func (s *Supervisor) SessionForResumeID(resumeID string) (string, bool) {
	if resumeID == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Forked sessions may share a resume id; prefer the one running, then
	// the oldest.
	first := ""
	for _, id := range s.order {
		rec := s.records[id]
		if rec.session.ResumeID != resumeID {
			continue
		}
		if rec.run != nil {
			return id, true
		}
		if first == "" {
			first = id
		}
	}
	return first, first != ""
}

// Cleanup stops every process and the permission broker. The supervisor
// rejects further sends.
func (s *Supervisor) Cleanup() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	type stopped struct {
		id string
		r  *run
	}
	var runs []stopped
	for id, rec := range s.records {
		rec.gen++
		if r := s.detachRunLocked(id, rec); r != nil {
			runs = append(runs, stopped{id, r})
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, st := range runs {
		wg.Add(1)
		go func(st stopped) {
			defer wg.Done()
			s.terminate(st.id, st.r)
		}(st)
	}
	wg.Wait()

	if err := s.broker.Close(); err != nil {
		s.logger.Warn("closing permission broker", "err", err)
	}
	s.logger.Info("supervisor stopped", "processes", len(runs))
}

func (s *Supervisor) emitLocked(kind notify.Kind, sessionID string, payload any) {
	s.cfg.sink.Notify(notify.Notification{
		Kind:      kind,
		SessionID: sessionID,
		Time:      s.cfg.now(),
		Payload:   payload,
	})
}

// applyLocked folds accumulator updates into the session and publishes them.
func (s *Supervisor) applyLocked(rec *record, updates []conversation.Update) {
	id := rec.session.ID
	for _, u := range updates {
		switch u.Kind {
		case conversation.KindMessage:
			s.emitLocked(notify.KindMessage, id, u.Message)
		case conversation.KindMessageUpdate:
			s.emitLocked(notify.KindMessageUpdate, id, u.Message)
		case conversation.KindSessionMeta:
			if u.ResumeID != "" {
				rec.session.ResumeID = u.ResumeID
			}
			s.emitLocked(notify.KindSessionUpdated, id, rec.session.clone())
		case conversation.KindSessionState:
			if rec.session.Processing != u.Processing {
				rec.session.Processing = u.Processing
				s.emitLocked(notify.KindSessionState, id, StatePayload{Processing: u.Processing})
			}
		case conversation.KindStats:
			if u.Stats == nil {
				continue
			}
			rec.session.CostUSD = model.Round4(rec.session.CostUSD + u.Stats.CostUSD)
			rec.session.InputTokens += u.Stats.InputTokens
			rec.session.OutputTokens += u.Stats.OutputTokens
			s.metrics.costUSD.Add(u.Stats.CostUSD)
			s.emitLocked(notify.KindStats, id, u.Stats)
		}
	}
}
