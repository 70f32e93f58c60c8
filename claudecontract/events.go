package claudecontract

// Stream event kinds emitted on stdout in stream-json mode.
const (
	// EventTypeSystem is used for init, error, hook_response and compact_boundary events.
	EventTypeSystem = "system"

	// EventTypeAssistant carries assistant content blocks, or a nested partial-message event.
	EventTypeAssistant = "assistant"

	// EventTypeUser carries tool results.
	EventTypeUser = "user"

	// EventTypeResult is the final record of a run with usage totals.
	EventTypeResult = "result"

	// EventTypeStreamEvent wraps a partial-message event (--include-partial-messages).
	EventTypeStreamEvent = "stream_event"
)

// System event subtypes.
const (
	SubtypeInit            = "init"
	SubtypeError           = "error"
	SubtypeHookResponse    = "hook_response"
	SubtypeCompactBoundary = "compact_boundary"
)

// Result subtypes. Every subtype other than success starts with "error".
const (
	ResultSubtypeSuccess              = "success"
	ResultSubtypeError                = "error"
	ResultSubtypeErrorMaxTurns        = "error_max_turns"
	ResultSubtypeErrorDuringExecution = "error_during_execution"
	ResultSubtypeErrorMaxBudgetUSD    = "error_max_budget_usd"
)

// Partial-message event types, found in the "event" field of a stream_event
// (or an assistant event that wraps one).
const (
	PartialMessageStart      = "message_start"
	PartialMessageDelta      = "message_delta"
	PartialMessageStop       = "message_stop"
	PartialContentBlockStart = "content_block_start"
	PartialContentBlockDelta = "content_block_delta"
	PartialContentBlockStop  = "content_block_stop"
)

// Delta payload types inside a content_block_delta.
const (
	DeltaText      = "text_delta"
	DeltaThinking  = "thinking_delta"
	DeltaInputJSON = "input_json_delta"
	DeltaSignature = "signature_delta"
)

// Content block types within messages.
const (
	ContentTypeText       = "text"
	ContentTypeThinking   = "thinking"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
