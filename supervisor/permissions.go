package supervisor

import (
	"context"

	"github.com/randalmurphal/agentdeck/conversation"
	"github.com/randalmurphal/agentdeck/notify"
	"github.com/randalmurphal/agentdeck/permission"
	"github.com/randalmurphal/agentdeck/permission/fsbox"
)

// PermissionResolved is the payload of a permission-resolved notification.
type PermissionResolved struct {
	RequestID string `json:"requestId"`
	ToolName  string `json:"toolName"`
	Target    string `json:"target,omitempty"`
	Allow     bool   `json:"allow"`
	Reason    string `json:"reason,omitempty"`
	Expired   bool   `json:"expired,omitempty"`
	Source    string `json:"source"`
}

// ruleStore exposes session rules to the broker.
type ruleStore struct {
	s *Supervisor
}

func (r ruleStore) Rules(sessionID string) ([]permission.Rule, string, bool) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.records[sessionID]
	if !ok {
		return nil, "", false
	}
	return append([]permission.Rule(nil), rec.session.Rules...), rec.session.WorkDir, true
}

func (r ruleStore) AddRule(sessionID string, rule permission.Rule) error {
	_, err := r.s.AddPermissionRule(sessionID, rule)
	return err
}

// AttachTransport serves requests arriving on t until the returned detach
// function is called or the supervisor is cleaned up.
func (s *Supervisor) AttachTransport(t permission.Transport) (detach func()) {
	return s.broker.Attach(t)
}

// EvaluatePermission answers req without a transport, for in-process callers.
func (s *Supervisor) EvaluatePermission(ctx context.Context, req permission.Request) permission.Verdict {
	return s.broker.Evaluate(ctx, req)
}

// PendingPermissions returns requests waiting for a human, oldest first.
func (s *Supervisor) PendingPermissions() []permission.Request {
	return s.decider.Pending()
}

// ResolvePermission answers a pending request. It reports whether the
// request was still pending.
func (s *Supervisor) ResolvePermission(requestID string, v permission.Verdict) bool {
	return s.decider.Resolve(requestID, v)
}

// PermissionRules returns the session's rules.
func (s *Supervisor) PermissionRules(id string) ([]permission.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return append([]permission.Rule(nil), rec.session.Rules...), nil
}

// AddPermissionRule appends a rule. A rule with the same tool and pattern
// is replaced.
func (s *Supervisor) AddPermissionRule(id string, rule permission.Rule) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = s.cfg.now()
	}
	if rule.Pattern == "" {
		rule.Pattern = permission.AnyPattern
	}
	rules := rec.session.Rules[:0:0]
	for _, r := range rec.session.Rules {
		if r.Tool == rule.Tool && r.Pattern == rule.Pattern {
			continue
		}
		rules = append(rules, r)
	}
	rec.session.Rules = append(rules, rule)
	s.rulesChangedLocked(rec)
	return rec.session.clone(), nil
}

// RemovePermissionRule removes the rule at index.
func (s *Supervisor) RemovePermissionRule(id string, index int) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if index < 0 || index >= len(rec.session.Rules) {
		return Session{}, ErrRuleIndex
	}
	rules := append([]permission.Rule(nil), rec.session.Rules[:index]...)
	rec.session.Rules = append(rules, rec.session.Rules[index+1:]...)
	s.rulesChangedLocked(rec)
	return rec.session.clone(), nil
}

// ClearPermissionRules removes every rule of the session.
func (s *Supervisor) ClearPermissionRules(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	rec.session.Rules = nil
	s.rulesChangedLocked(rec)
	return rec.session.clone(), nil
}

func (s *Supervisor) rulesChangedLocked(rec *record) {
	if rec.box != nil {
		if err := fsbox.WriteRules(rec.box.Dir(), rec.session.Rules); err != nil {
			s.logger.Warn("writing permission rules", "session", rec.session.ID, "err", err)
		}
	}
	s.emitLocked(notify.KindSessionUpdated, rec.session.ID, rec.session.clone())
}

func (s *Supervisor) onPermissionPending(req permission.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[req.SessionID]
	if !ok {
		return
	}
	s.logger.Info("permission requested", "session", req.SessionID, "request", req.ID, "tool", req.ToolName, "target", req.Target)
	s.applyLocked(rec, []conversation.Update{s.acc.PermissionMessage(req.SessionID, req.ID, req.ToolName, req.Target, req.Input)})
	s.emitLocked(notify.KindPermission, req.SessionID, req)
}

func (s *Supervisor) onPermissionResolved(res permission.Resolution) {
	s.metrics.verdict(res.Source, res.Verdict.Allow)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("permission resolved",
		"session", res.Request.SessionID,
		"request", res.Request.ID,
		"tool", res.Request.ToolName,
		"allow", res.Verdict.Allow,
		"source", res.Source,
	)
	s.emitLocked(notify.KindPermissionResolved, res.Request.SessionID, PermissionResolved{
		RequestID: res.Request.ID,
		ToolName:  res.Request.ToolName,
		Target:    res.Request.Target,
		Allow:     res.Verdict.Allow,
		Reason:    res.Verdict.Reason,
		Expired:   res.Verdict.Expired,
		Source:    res.Source,
	})
}
