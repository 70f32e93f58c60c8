package claudecontract

import (
	"encoding/json"
	"strings"
)

// Built-in tool names as they appear in tool_use blocks and permission requests.
const (
	ToolRead         = "Read"
	ToolWrite        = "Write"
	ToolEdit         = "Edit"
	ToolMultiEdit    = "MultiEdit"
	ToolGlob         = "Glob"
	ToolGrep         = "Grep"
	ToolLS           = "LS"
	ToolNotebookEdit = "NotebookEdit"
	ToolNotebookRead = "NotebookRead"

	ToolBash     = "Bash"
	ToolTask     = "Task"
	ToolKillBash = "KillBash"

	ToolTodoRead  = "TodoRead"
	ToolTodoWrite = "TodoWrite"

	ToolWebFetch  = "WebFetch"
	ToolWebSearch = "WebSearch"

	ToolExitPlanMode = "ExitPlanMode"
)

// UnknownTool is the display name of a tool result whose tool_use was never seen.
const UnknownTool = "Unknown"

// bookkeeping tools have no side effects outside the agent's own state and
// are approved without consulting rules or the user.
var bookkeeping = map[string]bool{
	ToolTodoRead:     true,
	ToolTodoWrite:    true,
	ToolExitPlanMode: true,
}

// IsBookkeeping reports whether the tool is auto-approved.
func IsBookkeeping(tool string) bool {
	return bookkeeping[tool]
}

// targetFields lists, per tool, the input fields tried in order to find the
// resource the tool acts on.
var targetFields = map[string][]string{
	ToolBash:         {"command"},
	ToolRead:         {"file_path", "path"},
	ToolWrite:        {"file_path", "path"},
	ToolEdit:         {"file_path", "path"},
	ToolMultiEdit:    {"file_path", "path"},
	ToolNotebookEdit: {"notebook_path", "file_path"},
	ToolNotebookRead: {"notebook_path", "file_path"},
	ToolGlob:         {"pattern", "path"},
	ToolGrep:         {"pattern", "path"},
	ToolLS:           {"path"},
	ToolWebFetch:     {"url"},
	ToolWebSearch:    {"query"},
	ToolTask:         {"description"},
}

// fallbackFields are tried for tools not listed in targetFields.
var fallbackFields = []string{"file_path", "path", "command", "url", "pattern"}

// ToolTarget extracts the primary target of a tool invocation from its raw
// JSON input: the command for Bash, the path for file tools, the URL for
// WebFetch. Returns "" when no target field is present.
func ToolTarget(tool string, input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil {
		return ""
	}

	keys, ok := targetFields[tool]
	if !ok {
		keys = fallbackFields
	}
	for _, k := range keys {
		if s, ok := fields[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// CommandVerb returns the first whitespace token of a shell command.
func CommandVerb(command string) string {
	f := strings.Fields(command)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}
