package permission

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrBrokerClosed resolves every request still pending at shutdown.
	ErrBrokerClosed = errors.New("permission: broker closed")

	// ErrTransportClosed is returned by Transport.Receive once the transport is closed.
	ErrTransportClosed = errors.New("permission: transport closed")

	// ErrUnknownRequest is returned when answering a request that is not pending.
	ErrUnknownRequest = errors.New("permission: unknown request")

	// ErrUnknownSession is returned when a request cannot be attributed to a session.
	ErrUnknownSession = errors.New("permission: unknown session")
)

// Request asks whether a session's process may run a tool.
type Request struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	ToolName  string          `json:"toolName"`
	Target    string          `json:"target,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`

	// Deadline, when set, is when an unanswered request expires as a denial.
	Deadline time.Time `json:"deadline,omitempty"`

	// Transport names the transport the request arrived on.
	Transport string `json:"transport,omitempty"`

	// Abandoned, when non-nil, is closed if the requester stops waiting.
	Abandoned <-chan struct{} `json:"-"`
}

// Verdict answers a Request.
type Verdict struct {
	Allow bool `json:"allow"`

	// Remember turns the verdict into a durable rule for the session.
	Remember bool `json:"remember,omitempty"`

	Reason string `json:"reason,omitempty"`

	// Expired is set when no verdict arrived before the request's deadline.
	Expired bool `json:"expired,omitempty"`
}

// Allow returns an allowing verdict.
func Allow(reason string) Verdict {
	return Verdict{Allow: true, Reason: reason}
}

// Deny returns a denying verdict.
func Deny(reason string) Verdict {
	return Verdict{Allow: false, Reason: reason}
}

// Rule is a durable, session-scoped allow or deny policy.
type Rule struct {
	Tool string `json:"tool" yaml:"tool"`

	// Pattern is an exact target, a Bash verb pattern ("git:*"),
	// WorkdirPattern, or AnyPattern. Empty means AnyPattern.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	Allow     bool      `json:"allow" yaml:"allow"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}
