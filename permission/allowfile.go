package permission

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// AllowFile is the on-disk form of a session's allow rules, read by the
// permission companion of the supervised process:
//
//	{"alwaysAllow": {"Read": true, "Bash": ["npm:*", "git:*"]}}
//
// true allows every target of the tool; a list allows the listed patterns.
// Deny rules are not represented.
type AllowFile struct {
	AlwaysAllow map[string]AllowEntry `json:"alwaysAllow"`
}

// AllowEntry is either "all targets" or a list of patterns.
type AllowEntry struct {
	All      bool
	Patterns []string
}

// MarshalJSON encodes true or the pattern list.
func (e AllowEntry) MarshalJSON() ([]byte, error) {
	if e.All {
		return []byte("true"), nil
	}
	if e.Patterns == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e.Patterns)
}

// UnmarshalJSON accepts a boolean or a list of strings.
func (e *AllowEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("true")):
		*e = AllowEntry{All: true}
		return nil
	case bytes.Equal(data, []byte("false")), bytes.Equal(data, []byte("null")):
		*e = AllowEntry{}
		return nil
	}
	var patterns []string
	if err := json.Unmarshal(data, &patterns); err != nil {
		return fmt.Errorf("alwaysAllow entry must be true or a list of patterns: %w", err)
	}
	*e = AllowEntry{Patterns: patterns}
	return nil
}

// EncodeAllowFile renders the allow rules of a session.
func EncodeAllowFile(rules []Rule) ([]byte, error) {
	f := AllowFile{AlwaysAllow: make(map[string]AllowEntry)}
	for _, r := range rules {
		if !r.Allow {
			continue
		}
		entry := f.AlwaysAllow[r.Tool]
		switch {
		case entry.All:
		case isAny(r.Pattern):
			entry = AllowEntry{All: true}
		default:
			if !contains(entry.Patterns, r.Pattern) {
				entry.Patterns = append(entry.Patterns, r.Pattern)
			}
		}
		f.AlwaysAllow[r.Tool] = entry
	}
	return json.MarshalIndent(f, "", "  ")
}

// DecodeAllowFile parses an allow file into rules, ordered by tool name.
func DecodeAllowFile(data []byte) ([]Rule, error) {
	var f AllowFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode allow file: %w", err)
	}
	tools := make([]string, 0, len(f.AlwaysAllow))
	for tool := range f.AlwaysAllow {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	var rules []Rule
	for _, tool := range tools {
		entry := f.AlwaysAllow[tool]
		if entry.All {
			rules = append(rules, Rule{Tool: tool, Pattern: AnyPattern, Allow: true})
			continue
		}
		for _, p := range entry.Patterns {
			rules = append(rules, Rule{Tool: tool, Pattern: p, Allow: true})
		}
	}
	return rules, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
