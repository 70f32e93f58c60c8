package permission

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/randalmurphal/agentdeck/claudecontract"
)

// Rule patterns with special meaning.
const (
	// AnyPattern matches every target.
	AnyPattern = "*"

	// WorkdirPattern matches every target inside the session's working directory.
	WorkdirPattern = "./**"

	// verbSuffix turns a command verb into a pattern: "npm" + verbSuffix.
	verbSuffix = ":*"
)

// VerbPattern returns the Bash pattern matching every command starting with verb.
func VerbPattern(verb string) string {
	return verb + verbSuffix
}

func isAny(pattern string) bool {
	return pattern == "" || pattern == AnyPattern
}

// Match finds the rule governing a request. Rules are checked from most to
// least specific, and in order within one level.
func Match(rules []Rule, tool, target, workdir string) (Rule, bool) {
	levels := otherLevels
	if tool == claudecontract.ToolBash {
		levels = bashLevels
	}
	for _, level := range levels {
		for _, r := range rules {
			if r.Tool == tool && level(r.Pattern, target, workdir) {
				return r, true
			}
		}
	}
	return Rule{}, false
}

type matcher func(pattern, target, workdir string) bool

var bashLevels = []matcher{
	func(p, target, _ string) bool {
		return !isAny(p) && !strings.HasSuffix(p, verbSuffix) && p == strings.TrimSpace(target)
	},
	func(p, target, _ string) bool {
		verb, ok := strings.CutSuffix(p, verbSuffix)
		return ok && verb != "" && verb == claudecontract.CommandVerb(target)
	},
	func(p, _, _ string) bool { return isAny(p) },
}

var otherLevels = []matcher{
	func(p, target, _ string) bool {
		return !isAny(p) && p != WorkdirPattern && target != "" && p == target
	},
	func(p, target, workdir string) bool {
		return p == WorkdirPattern && withinDir(target, workdir)
	},
	func(p, _, _ string) bool { return isAny(p) },
}

// withinDir reports whether target, absolute or relative to dir, lies inside dir.
func withinDir(target, dir string) bool {
	if target == "" || dir == "" {
		return false
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// RuleFor builds the durable rule recorded when a verdict is remembered.
// Bash rules cover the command's verb; other tools cover the exact target.
func RuleFor(req Request, v Verdict, now time.Time) Rule {
	pattern := AnyPattern
	if req.ToolName == claudecontract.ToolBash {
		if verb := claudecontract.CommandVerb(req.Target); verb != "" {
			pattern = VerbPattern(verb)
		}
	} else if req.Target != "" {
		pattern = req.Target
	}
	return Rule{Tool: req.ToolName, Pattern: pattern, Allow: v.Allow, CreatedAt: now}
}
