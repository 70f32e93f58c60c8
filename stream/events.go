package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/randalmurphal/agentdeck/claudecontract"
)

// Event is one decoded stream record. Type is one of the claudecontract
// EventType constants; unknown types are passed through untouched.
type Event struct {
	Type      string
	Subtype   string
	SessionID string
	UUID      string

	// Raw contains the original JSON line.
	Raw json.RawMessage
}

type envelope struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UUID      string `json:"uuid,omitempty"`
}

// InitEvent is the system/init record emitted at the start of a run.
type InitEvent struct {
	SessionID      string   `json:"session_id"`
	Model          string   `json:"model"`
	CWD            string   `json:"cwd"`
	Tools          []string `json:"tools"`
	PermissionMode string   `json:"permissionMode"`
	Version        string   `json:"claude_code_version"`
}

// SystemEvent is any other system record.
type SystemEvent struct {
	Subtype string `json:"subtype"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Content string `json:"content,omitempty"`
}

// Text returns the most descriptive text the record carries.
func (s *SystemEvent) Text() string {
	for _, v := range []string{s.Message, s.Error, s.Content} {
		if v != "" {
			return v
		}
	}
	return s.Subtype
}

// AssistantEvent is an assistant record. It carries either a complete API
// message or, with partial messages on, a nested partial event.
type AssistantEvent struct {
	Message         AssistantMessage `json:"message"`
	Event           json.RawMessage  `json:"event,omitempty"`
	ParentToolUseID *string          `json:"parent_tool_use_id,omitempty"`
}

// AssistantMessage is one API message (many per run).
type AssistantMessage struct {
	// ID is the API message id, shared by partial events for the same message.
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      MessageUsage   `json:"usage"`
}

// ContentBlock represents a block of content in a message.
type ContentBlock struct {
	Type      string          `json:"type"` // "text", "tool_use", "thinking"
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`    // tool_use
	Name      string          `json:"name,omitempty"`  // tool_use
	Input     json.RawMessage `json:"input,omitempty"` // tool_use
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

// MessageUsage tracks token usage for a single message.
type MessageUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// PartialEvent is a streamed message fragment: message_start,
// content_block_start, content_block_delta, content_block_stop, message_stop.
type PartialEvent struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	Message      *AssistantMessage `json:"message,omitempty"`       // message_start
	ContentBlock *ContentBlock     `json:"content_block,omitempty"` // content_block_start
	Delta        *Delta            `json:"delta,omitempty"`         // content_block_delta
}

// Delta is the incremental payload of a content_block_delta.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// Fragment returns the text the delta appends to its block.
func (d *Delta) Fragment() string {
	switch d.Type {
	case claudecontract.DeltaThinking:
		return d.Thinking
	case claudecontract.DeltaInputJSON:
		return d.PartialJSON
	default:
		return d.Text
	}
}

// UserEvent carries tool results.
type UserEvent struct {
	Message         UserMessage `json:"message"`
	ParentToolUseID *string     `json:"parent_tool_use_id,omitempty"`
}

// UserMessage represents the message content in a user event.
type UserMessage struct {
	Role    string              `json:"role"`
	Content []ToolResultContent `json:"-"`
	Text    string              `json:"-"`
}

// UnmarshalJSON accepts content as a plain string or an array of blocks.
func (m *UserMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	if len(raw.Content) == 0 {
		return nil
	}
	if raw.Content[0] == '"' {
		return json.Unmarshal(raw.Content, &m.Text)
	}
	return json.Unmarshal(raw.Content, &m.Content)
}

// ToolResultContent represents one block of user message content.
type ToolResultContent struct {
	Type      string `json:"type"`                  // "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"` // matches the tool_use block's ID
	IsError   bool   `json:"is_error,omitempty"`

	// ContentRaw is a string or an array of text blocks.
	ContentRaw json.RawMessage `json:"content,omitempty"`
}

// GetContent returns the content as a string.
// For arrays of blocks, the text of each block is joined with newlines.
func (t *ToolResultContent) GetContent() string {
	if len(t.ContentRaw) == 0 {
		return ""
	}

	if t.ContentRaw[0] == '"' {
		var s string
		if err := json.Unmarshal(t.ContentRaw, &s); err == nil {
			return s
		}
	}

	if t.ContentRaw[0] == '[' {
		var blocks []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(t.ContentRaw, &blocks); err == nil {
			parts := make([]string, 0, len(blocks))
			for _, b := range blocks {
				parts = append(parts, b.Text)
			}
			return strings.Join(parts, "\n")
		}
	}

	return string(t.ContentRaw)
}

// ResultEvent is the final record of a run.
type ResultEvent struct {
	Subtype      string      `json:"subtype"`
	IsError      bool        `json:"is_error"`
	Result       string      `json:"result"`
	SessionID    string      `json:"session_id"`
	DurationMS   int         `json:"duration_ms"`
	NumTurns     int         `json:"num_turns"`
	TotalCostUSD float64     `json:"total_cost_usd"`
	Usage        ResultUsage `json:"usage"`
	Errors       []string    `json:"errors,omitempty"`
}

// ResultUsage contains aggregate token usage from a result.
type ResultUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// Succeeded reports whether the run completed normally.
func (r *ResultEvent) Succeeded() bool {
	return r.Subtype == claudecontract.ResultSubtypeSuccess && !r.IsError
}

// ErrorText describes a failed result.
func (r *ResultEvent) ErrorText() string {
	switch {
	case r.Result != "":
		return r.Result
	case len(r.Errors) > 0:
		return strings.Join(r.Errors, "; ")
	default:
		return r.Subtype
	}
}

// Init decodes a system/init record.
func (e Event) Init() (*InitEvent, error) {
	return decodeAs[InitEvent](e, claudecontract.EventTypeSystem)
}

// System decodes any system record.
func (e Event) System() (*SystemEvent, error) {
	return decodeAs[SystemEvent](e, claudecontract.EventTypeSystem)
}

// Assistant decodes an assistant record.
func (e Event) Assistant() (*AssistantEvent, error) {
	return decodeAs[AssistantEvent](e, claudecontract.EventTypeAssistant)
}

// User decodes a user record.
func (e Event) User() (*UserEvent, error) {
	return decodeAs[UserEvent](e, claudecontract.EventTypeUser)
}

// Result decodes a result record.
func (e Event) Result() (*ResultEvent, error) {
	return decodeAs[ResultEvent](e, claudecontract.EventTypeResult)
}

// Partial returns the nested partial-message event of a stream_event record,
// or of an assistant record that wraps one. ok is false when the record
// carries no partial event.
func (e Event) Partial() (p *PartialEvent, ok bool, err error) {
	if e.Type != claudecontract.EventTypeStreamEvent && e.Type != claudecontract.EventTypeAssistant {
		return nil, false, nil
	}
	var wrapper struct {
		Event json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(e.Raw, &wrapper); err != nil {
		return nil, false, err
	}
	if len(wrapper.Event) == 0 || string(wrapper.Event) == "null" {
		return nil, false, nil
	}
	var pe PartialEvent
	if err := json.Unmarshal(wrapper.Event, &pe); err != nil {
		return nil, false, fmt.Errorf("decode partial event: %w", err)
	}
	return &pe, true, nil
}

func decodeAs[T any](e Event, want string) (*T, error) {
	if e.Type != want {
		return nil, fmt.Errorf("stream: event type %q is not %q", e.Type, want)
	}
	var v T
	if err := json.Unmarshal(e.Raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", want, err)
	}
	return &v, nil
}
