// Package claudecontract is the single source of truth for the parts of the
// supervised CLI's interface that agentdeck depends on: flag names, stream
// event kinds and subtypes, partial-message delta events, tool names and the
// input fields that name a tool's target, permission modes, and the file and
// environment names of the permission drop-box.
//
// When the CLI changes its interface, only this package should need updating.
//
//	args := []string{claudecontract.FlagPrint, claudecontract.FlagOutputFormat, claudecontract.FormatStreamJSON}
//	if ev.Type == claudecontract.EventTypeAssistant { ... }
//	target := claudecontract.ToolTarget(claudecontract.ToolBash, input)
package claudecontract
