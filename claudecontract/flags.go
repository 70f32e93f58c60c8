package claudecontract

// CLI flag names used when invoking the supervised binary.
const (
	FlagPrint                  = "--print"                    // -p, non-interactive mode; prompt read from stdin
	FlagOutputFormat           = "--output-format"            // text, json, stream-json
	FlagVerbose                = "--verbose"                  // required with stream-json in print mode
	FlagIncludePartialMessages = "--include-partial-messages" // emit stream_event deltas
	FlagModel                  = "--model"
	FlagResume                 = "--resume" // resume a resumable-conversation id
	FlagPermissionMode         = "--permission-mode"
	FlagPermissionPromptTool   = "--permission-prompt-tool" // MCP tool that answers permission prompts
	FlagDangerouslySkipPerms   = "--dangerously-skip-permissions"
	FlagMCPConfig              = "--mcp-config"
	FlagSettings               = "--settings"
	FlagVersion                = "--version"
)

// Output formats.
const (
	FormatText       = "text"
	FormatJSON       = "json"
	FormatStreamJSON = "stream-json"
)

// DefaultBinary is the executable looked up on PATH when none is configured.
const DefaultBinary = "claude"
