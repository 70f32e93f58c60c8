package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/agentdeck/claudecontract"
	"github.com/randalmurphal/agentdeck/model"
	"github.com/randalmurphal/agentdeck/stream"
)

// Accumulator turns stream events into Messages and Updates. It is safe for
// concurrent use; events of one session must be processed in stream order.
type Accumulator struct {
	prices model.PriceTable
	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	model string

	// blocks holds the open content blocks by stream index.
	blocks map[int]*openBlock

	// apiMessageID is the API message currently streaming (from message_start).
	apiMessageID string

	// streamed records API message ids whose text and thinking blocks were
	// already delivered as deltas.
	streamed map[string]bool

	// tools correlates tool_use ids with tool names.
	tools map[string]string
}

type openBlock struct {
	msg     *Message
	content strings.Builder
	applied map[string]bool // delta event uuids
	last    []byte          // raw line of the last delta, for deltas without a uuid
}

// New creates an Accumulator.
func New(opts ...Option) *Accumulator {
	a := defaults()
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Accumulator) state(sessionID string) *sessionState {
	st, ok := a.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		st.reset()
		a.sessions[sessionID] = st
	}
	return st
}

func (s *sessionState) reset() {
	s.blocks = make(map[int]*openBlock)
	s.apiMessageID = ""
	s.streamed = make(map[string]bool)
	s.tools = make(map[string]string)
}

// SetModel records the model a session's next run uses, for pricing.
func (a *Accumulator) SetModel(sessionID, modelName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state(sessionID).model = modelName
}

// Model returns the model last recorded for the session.
func (a *Accumulator) Model(sessionID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.sessions[sessionID]; ok {
		return st.model
	}
	return ""
}

// ClearSession discards every open block and per-run correlation state of the
// session. The recorded model is kept.
func (a *Accumulator) ClearSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.sessions[sessionID]; ok {
		st.reset()
	}
}

// RemoveSession forgets the session entirely.
func (a *Accumulator) RemoveSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
}

// OpenBlocks returns the number of blocks still streaming for the session.
func (a *Accumulator) OpenBlocks(sessionID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.sessions[sessionID]; ok {
		return len(st.blocks)
	}
	return 0
}

// UserMessage records text the user sent.
func (a *Accumulator) UserMessage(sessionID, text string) Update {
	return a.messageUpdate(a.newMessage(sessionID, TypeUser, text, nil))
}

// ErrorMessage records an error raised outside the stream, such as a spawn failure.
func (a *Accumulator) ErrorMessage(sessionID, text string) Update {
	return a.messageUpdate(a.newMessage(sessionID, TypeError, text, &Metadata{IsError: true}))
}

// SystemMessage records an informational message.
func (a *Accumulator) SystemMessage(sessionID, text string) Update {
	return a.messageUpdate(a.newMessage(sessionID, TypeSystem, text, nil))
}

// PermissionMessage records a permission request awaiting a human.
func (a *Accumulator) PermissionMessage(sessionID, requestID, tool, target string, input json.RawMessage) Update {
	return a.messageUpdate(a.newMessage(sessionID, TypePermissionRequest, toolSummary(tool, target), &Metadata{
		ToolName:  tool,
		ToolInput: input,
		RequestID: requestID,
	}))
}

// Process interprets one event of a session.
func (a *Accumulator) Process(sessionID string, ev stream.Event) (updates []Update) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic processing stream event", "session", sessionID, "type", ev.Type, "panic", r)
			updates = append(updates, a.errorUpdate(sessionID, fmt.Sprintf("failed to process %s event: %v", ev.Type, r)))
		}
	}()

	st := a.state(sessionID)
	var err error
	switch ev.Type {
	case claudecontract.EventTypeSystem:
		updates, err = a.processSystem(sessionID, st, ev)
	case claudecontract.EventTypeAssistant:
		updates, err = a.processAssistant(sessionID, st, ev)
	case claudecontract.EventTypeStreamEvent:
		updates, err = a.processStreamEvent(sessionID, st, ev)
	case claudecontract.EventTypeUser:
		updates, err = a.processUser(sessionID, st, ev)
	case claudecontract.EventTypeResult:
		updates, err = a.processResult(sessionID, st, ev)
	default:
		a.logger.Debug("ignoring stream event", "session", sessionID, "type", ev.Type)
	}
	if err != nil {
		a.logger.Warn("could not interpret stream event", "session", sessionID, "type", ev.Type, "err", err)
		updates = append(updates, a.errorUpdate(sessionID, fmt.Sprintf("failed to parse %s event: %v", ev.Type, err)))
	}
	return updates
}

func (a *Accumulator) processSystem(sessionID string, st *sessionState, ev stream.Event) ([]Update, error) {
	switch ev.Subtype {
	case claudecontract.SubtypeInit:
		init, err := ev.Init()
		if err != nil {
			return nil, err
		}
		if init.Model != "" {
			st.model = init.Model
		}
		resumeID := init.SessionID
		if resumeID == "" {
			resumeID = ev.SessionID
		}
		return []Update{{
			Kind:      KindSessionMeta,
			SessionID: sessionID,
			ResumeID:  resumeID,
			Model:     st.model,
		}}, nil
	case claudecontract.SubtypeError:
		sys, err := ev.System()
		if err != nil {
			return nil, err
		}
		return []Update{a.errorUpdate(sessionID, sys.Text())}, nil
	default:
		sys, err := ev.System()
		if err != nil {
			return nil, err
		}
		return []Update{a.messageUpdate(a.newMessage(sessionID, TypeSystem, sys.Text(), nil))}, nil
	}
}

func (a *Accumulator) processStreamEvent(sessionID string, st *sessionState, ev stream.Event) ([]Update, error) {
	p, ok, err := ev.Partial()
	if err != nil || !ok {
		return nil, err
	}
	return a.processPartial(sessionID, st, ev, p), nil
}

func (a *Accumulator) processAssistant(sessionID string, st *sessionState, ev stream.Event) ([]Update, error) {
	p, ok, err := ev.Partial()
	if err != nil {
		return nil, err
	}
	if ok {
		return a.processPartial(sessionID, st, ev, p), nil
	}

	as, err := ev.Assistant()
	if err != nil {
		return nil, err
	}
	msg := as.Message
	if msg.Model != "" {
		st.model = msg.Model
	}
	streamed := msg.ID != "" && st.streamed[msg.ID]

	var updates []Update
	for _, block := range msg.Content {
		switch block.Type {
		case claudecontract.ContentTypeText:
			if streamed || block.Text == "" {
				continue
			}
			updates = append(updates, a.messageUpdate(a.newMessage(sessionID, TypeAssistant, block.Text, nil)))
		case claudecontract.ContentTypeThinking:
			if streamed || block.Thinking == "" {
				continue
			}
			updates = append(updates, a.messageUpdate(a.newMessage(sessionID, TypeThinking, block.Thinking, nil)))
		case claudecontract.ContentTypeToolUse:
			if block.ID != "" {
				st.tools[block.ID] = block.Name
			}
			target := claudecontract.ToolTarget(block.Name, block.Input)
			updates = append(updates, a.messageUpdate(a.newMessage(sessionID, TypeTool, toolSummary(block.Name, target), &Metadata{
				ToolName:  block.Name,
				ToolInput: append(json.RawMessage(nil), block.Input...),
				ToolUseID: block.ID,
			})))
		default:
			a.logger.Debug("ignoring content block", "session", sessionID, "block_type", block.Type)
		}
	}
	return updates, nil
}

func (a *Accumulator) processPartial(sessionID string, st *sessionState, ev stream.Event, p *stream.PartialEvent) []Update {
	switch p.Type {
	case claudecontract.PartialMessageStart:
		if p.Message != nil {
			st.apiMessageID = p.Message.ID
			if p.Message.Model != "" {
				st.model = p.Message.Model
			}
		}
		return nil

	case claudecontract.PartialContentBlockStart:
		if p.ContentBlock == nil {
			return nil
		}
		var (
			kind    MessageType
			initial string
		)
		switch p.ContentBlock.Type {
		case claudecontract.ContentTypeText:
			kind, initial = TypeAssistant, p.ContentBlock.Text
		case claudecontract.ContentTypeThinking:
			kind, initial = TypeThinking, p.ContentBlock.Thinking
		default:
			// tool_use arrives whole in the complete assistant message
			return nil
		}

		var updates []Update
		if prev, ok := st.blocks[p.Index]; ok {
			updates = append(updates, a.closeBlock(st, p.Index, prev))
		}
		if st.apiMessageID != "" {
			st.streamed[st.apiMessageID] = true
		}
		b := &openBlock{
			msg:     a.newMessage(sessionID, kind, initial, nil),
			applied: make(map[string]bool),
		}
		b.msg.Streaming = true
		b.content.WriteString(initial)
		st.blocks[p.Index] = b
		return append(updates, a.messageUpdate(b.msg))

	case claudecontract.PartialContentBlockDelta:
		if p.Delta == nil {
			return nil
		}
		switch p.Delta.Type {
		case claudecontract.DeltaText, claudecontract.DeltaThinking:
		default:
			return nil
		}
		b, ok := st.blocks[p.Index]
		if !ok {
			a.logger.Debug("delta for block that is not open", "session", sessionID, "index", p.Index)
			return nil
		}
		if ev.UUID != "" {
			if b.applied[ev.UUID] {
				a.logger.Debug("duplicate delta", "session", sessionID, "index", p.Index, "uuid", ev.UUID)
				return nil
			}
			b.applied[ev.UUID] = true
		} else if bytes.Equal(b.last, ev.Raw) {
			a.logger.Debug("repeated delta line", "session", sessionID, "index", p.Index)
			return nil
		}
		b.last = append(b.last[:0], ev.Raw...)
		frag := p.Delta.Fragment()
		if frag == "" {
			return nil
		}
		b.content.WriteString(frag)
		b.msg.Content = b.content.String()
		return []Update{{Kind: KindMessageUpdate, SessionID: sessionID, Message: b.msg.Clone()}}

	case claudecontract.PartialContentBlockStop:
		b, ok := st.blocks[p.Index]
		if !ok {
			return nil
		}
		return []Update{a.closeBlock(st, p.Index, b)}

	default:
		return nil
	}
}

func (a *Accumulator) closeBlock(st *sessionState, index int, b *openBlock) Update {
	delete(st.blocks, index)
	b.msg.Streaming = false
	return Update{Kind: KindMessageUpdate, SessionID: b.msg.SessionID, Message: b.msg.Clone()}
}

func (a *Accumulator) processUser(sessionID string, st *sessionState, ev stream.Event) ([]Update, error) {
	u, err := ev.User()
	if err != nil {
		return nil, err
	}
	var updates []Update
	for _, c := range u.Message.Content {
		if c.Type != claudecontract.ContentTypeToolResult {
			continue
		}
		name, ok := st.tools[c.ToolUseID]
		if !ok || name == "" {
			name = claudecontract.UnknownTool
		}
		updates = append(updates, a.messageUpdate(a.newMessage(sessionID, TypeToolResult, c.GetContent(), &Metadata{
			ToolName:  name,
			ToolUseID: c.ToolUseID,
			IsError:   c.IsError,
		})))
	}
	return updates, nil
}

func (a *Accumulator) processResult(sessionID string, st *sessionState, ev stream.Event) ([]Update, error) {
	idle := Update{Kind: KindSessionState, SessionID: sessionID, Processing: false}

	r, err := ev.Result()
	if err != nil {
		return []Update{idle}, err
	}
	if !r.Succeeded() {
		return []Update{a.errorUpdate(sessionID, r.ErrorText()), idle}, nil
	}

	stats := &Stats{
		Model:        st.model,
		InputTokens:  r.Usage.InputTokens,
		OutputTokens: r.Usage.OutputTokens,
		CostUSD:      a.prices.Cost(st.model, r.Usage.InputTokens, r.Usage.OutputTokens),
		DurationMS:   r.DurationMS,
		NumTurns:     r.NumTurns,
	}
	return []Update{{Kind: KindStats, SessionID: sessionID, Stats: stats}, idle}, nil
}

func (a *Accumulator) newMessage(sessionID string, kind MessageType, content string, md *Metadata) *Message {
	return &Message{
		ID:        a.newID(),
		SessionID: sessionID,
		Timestamp: a.now(),
		Type:      kind,
		Content:   content,
		Metadata:  md,
	}
}

func (a *Accumulator) messageUpdate(m *Message) Update {
	return Update{Kind: KindMessage, SessionID: m.SessionID, Message: m.Clone()}
}

func (a *Accumulator) errorUpdate(sessionID, text string) Update {
	return a.messageUpdate(a.newMessage(sessionID, TypeError, text, &Metadata{IsError: true}))
}

func toolSummary(tool, target string) string {
	if target == "" {
		return tool
	}
	return tool + ": " + target
}
