package conversation

import (
	"encoding/json"
	"time"
)

// MessageType tags a Message for display.
type MessageType string

// Message types.
const (
	TypeUser              MessageType = "user"
	TypeAssistant         MessageType = "assistant"
	TypeSystem            MessageType = "system"
	TypeTool              MessageType = "tool"
	TypeToolResult        MessageType = "tool-result"
	TypeThinking          MessageType = "thinking"
	TypeError             MessageType = "error"
	TypePermissionRequest MessageType = "permission-request"
)

// Message is one display unit of a conversation. A Message with Streaming
// set is still being appended to; it is immutable once Streaming is false.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionId"`
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Streaming bool        `json:"streaming,omitempty"`
	Metadata  *Metadata   `json:"metadata,omitempty"`
}

// Metadata holds the optional per-type details of a Message.
type Metadata struct {
	ToolName     string          `json:"toolName,omitempty"`
	ToolInput    json.RawMessage `json:"toolInput,omitempty"`
	ToolUseID    string          `json:"toolUseId,omitempty"`
	IsError      bool            `json:"isError,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	InputTokens  int             `json:"inputTokens,omitempty"`
	OutputTokens int             `json:"outputTokens,omitempty"`
	CostUSD      float64         `json:"costUsd,omitempty"`
	Model        string          `json:"model,omitempty"`
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Metadata != nil {
		md := *m.Metadata
		if m.Metadata.ToolInput != nil {
			md.ToolInput = append(json.RawMessage(nil), m.Metadata.ToolInput...)
		}
		c.Metadata = &md
	}
	return &c
}

// UpdateKind tags an Update.
type UpdateKind string

// Update kinds. The values match the upward notification tags.
const (
	KindMessage       UpdateKind = "message"
	KindMessageUpdate UpdateKind = "message-update"
	KindSessionMeta   UpdateKind = "session-updated"
	KindSessionState  UpdateKind = "session-state-update"
	KindStats         UpdateKind = "stats"
)

// Update is one consequence of processing an event.
type Update struct {
	Kind      UpdateKind
	SessionID string

	// Message is set for KindMessage and KindMessageUpdate. It is a copy.
	Message *Message

	// ResumeID and Model are set for KindSessionMeta.
	ResumeID string
	Model    string

	// Processing is set for KindSessionState.
	Processing bool

	// Stats is set for KindStats.
	Stats *Stats
}

// Stats is the usage of one completed run.
type Stats struct {
	Model        string  `json:"model"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
	DurationMS   int     `json:"durationMs,omitempty"`
	NumTurns     int     `json:"numTurns,omitempty"`
}
