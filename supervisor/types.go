package supervisor

import (
	"errors"
	"time"

	"github.com/randalmurphal/agentdeck/permission"
)

var (
	// ErrSessionNotFound is returned for operations on an unknown session id.
	ErrSessionNotFound = errors.New("supervisor: session not found")

	// ErrClosed is returned after Cleanup.
	ErrClosed = errors.New("supervisor: closed")

	// ErrSuperseded is returned by SendMessage when the session was stopped,
	// deleted, or sent another message before the process could start.
	ErrSuperseded = errors.New("supervisor: superseded by a newer operation")

	// ErrRuleIndex is returned when removing a rule that does not exist.
	ErrRuleIndex = errors.New("supervisor: rule index out of range")
)

// Modes are the per-session mode flags.
type Modes struct {
	// Yolo skips all approvals.
	Yolo bool `json:"yolo" yaml:"yolo"`

	// Thinking prefixes each message with ThinkingPrefix.
	Thinking bool `json:"thinking" yaml:"thinking"`

	// PlanOnly prefixes each message with PlanPrefix and runs in plan permission mode.
	PlanOnly bool `json:"planOnly" yaml:"plan_only"`
}

// Session is a snapshot of one session. Values returned by the Supervisor
// are copies; mutate a session through Supervisor methods.
type Session struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	WorkDir string `json:"workDir"`
	Model   string `json:"model,omitempty"`

	// ResumeID is the resumable conversation id reported by the agent.
	ResumeID string `json:"resumeId,omitempty"`

	Active     bool `json:"isActive"`
	Processing bool `json:"isProcessing"`
	Open       bool `json:"isOpen"`

	Modes Modes             `json:"modes"`
	Rules []permission.Rule `json:"rules"`

	CostUSD      float64 `json:"costUsd"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`

	// PermissionDir is the session's drop-box directory in filesystem mode.
	PermissionDir string `json:"permissionDir,omitempty"`

	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

func (s Session) clone() Session {
	s.Rules = append([]permission.Rule(nil), s.Rules...)
	return s
}

// SessionConfig describes a new session.
type SessionConfig struct {
	// Name defaults to the last path segment of WorkDir.
	Name    string `json:"name,omitempty"`
	WorkDir string `json:"workDir"`

	// Model defaults to the supervisor's default model.
	Model string `json:"model,omitempty"`

	// ResumeID continues an earlier conversation.
	ResumeID string `json:"resumeId,omitempty"`

	Modes Modes             `json:"modes"`
	Rules []permission.Rule `json:"rules,omitempty"`
}

// SendOptions adjust a single send. Mode flags are OR-ed with the session's.
type SendOptions struct {
	// Model overrides the session model for this and later sends.
	Model string `json:"model,omitempty"`

	Thinking bool `json:"thinking,omitempty"`
	PlanOnly bool `json:"planOnly,omitempty"`
}
