package supervisor

import (
	"sort"

	"github.com/randalmurphal/agentdeck/claudecontract"
)

// Directives prepended to the message text by the mode flags.
const (
	ThinkingPrefix = "ultrathink: "
	PlanPrefix     = "Plan only. Describe the changes you would make and the commands you would run, but do not modify files or execute anything.\n\n"
)

// invocation is everything needed to build one Command.
type invocation struct {
	sessionID string
	workDir   string
	model     string
	resumeID  string
	yolo      bool
	planOnly  bool
	permDir   string
}

func (c *config) buildArgs(inv invocation) []string {
	args := []string{
		claudecontract.FlagPrint,
		claudecontract.FlagOutputFormat, claudecontract.FormatStreamJSON,
		claudecontract.FlagVerbose,
	}
	if c.partialMessages {
		args = append(args, claudecontract.FlagIncludePartialMessages)
	}
	if inv.model != "" {
		args = append(args, claudecontract.FlagModel, inv.model)
	}
	if inv.resumeID != "" {
		args = append(args, claudecontract.FlagResume, inv.resumeID)
	}

	switch {
	case inv.yolo:
		args = append(args, claudecontract.FlagDangerouslySkipPerms)
	case c.promptTool != "":
		if c.mcpConfig != "" {
			args = append(args, claudecontract.FlagMCPConfig, c.mcpConfig)
		}
		args = append(args, claudecontract.FlagPermissionPromptTool, c.promptTool)
	}
	if inv.planOnly {
		args = append(args, claudecontract.FlagPermissionMode, claudecontract.PermissionPlan.String())
	}

	return append(args, c.extraArgs...)
}

func (c *config) buildEnv(inv invocation) []string {
	env := setEnvVar(baseEnv(), claudecontract.EnvSessionID, inv.sessionID)
	switch c.transport {
	case TransportFS:
		if inv.permDir != "" {
			env = setEnvVar(env, claudecontract.EnvPermissionDir, inv.permDir)
		}
	case TransportHTTP:
		if c.hookURL != "" {
			env = setEnvVar(env, claudecontract.EnvPermissionURL, c.hookURL)
		}
	}

	keys := make([]string, 0, len(c.extraEnv))
	for k := range c.extraEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = setEnvVar(env, k, c.extraEnv[k])
	}
	return env
}

func (c *config) command(inv invocation) Command {
	return Command{
		Binary: c.binary,
		Args:   c.buildArgs(inv),
		Dir:    inv.workDir,
		Env:    c.buildEnv(inv),
	}
}

// composePrompt applies the mode directives to the outgoing text.
func composePrompt(text string, thinking, planOnly bool) string {
	if planOnly {
		text = PlanPrefix + text
	}
	if thinking {
		text = ThinkingPrefix + text
	}
	return text
}
