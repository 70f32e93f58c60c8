package model

import "strings"

// ModelName represents a normalized model family name.
type ModelName string

// Model family constants.
const (
	ModelOpus   ModelName = "opus"
	ModelSonnet ModelName = "sonnet"
	ModelHaiku  ModelName = "haiku"
)

// NormalizeModelName converts a full model identifier to its family alias.
// For example, "claude-sonnet-4-20250514" becomes "sonnet" and
// "claude-opus-4-5-20251101" becomes "opus".
// Names that match no known family are returned lowercased and trimmed.
func NormalizeModelName(name string) ModelName {
	lower := strings.ToLower(strings.TrimSpace(name))
	switch {
	case strings.Contains(lower, "opus"):
		return ModelOpus
	case strings.Contains(lower, "sonnet"):
		return ModelSonnet
	case strings.Contains(lower, "haiku"):
		return ModelHaiku
	}
	return ModelName(lower)
}
