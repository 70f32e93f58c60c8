package claudecontract

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// TestedCLIVersion is the newest CLI version whose stream format is known to
// decode correctly. Newer versions are supervised but logged at startup.
const TestedCLIVersion = "2.1.19"

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)`)

// CLIVersion is a parsed "major.minor.patch" CLI version. Raw keeps the
// first word of the --version output, suffixes included.
type CLIVersion struct {
	Parts [3]int
	Raw   string
}

// ParseVersion accepts "2.1.19" as well as "2.1.19 (Claude Code)".
func ParseVersion(s string) (*CLIVersion, error) {
	word, _, _ := strings.Cut(strings.TrimSpace(s), " ")
	m := versionPattern.FindStringSubmatch(word)
	if m == nil {
		return nil, fmt.Errorf("invalid version format: %q", s)
	}
	v := &CLIVersion{Raw: word}
	for i := range v.Parts {
		v.Parts[i], _ = strconv.Atoi(m[i+1])
	}
	return v, nil
}

// DetectCLIVersion runs the binary with --version and parses the output.
func DetectCLIVersion(ctx context.Context, binary string) (*CLIVersion, error) {
	if binary == "" {
		binary = DefaultBinary
	}
	out, err := exec.CommandContext(ctx, binary, FlagVersion).Output()
	if err != nil {
		return nil, fmt.Errorf("run %s %s: %w", binary, FlagVersion, err)
	}
	return ParseVersion(string(out))
}

func (v *CLIVersion) String() string { return v.Raw }

// Compare orders versions by their numeric parts only.
func (v *CLIVersion) Compare(other *CLIVersion) int {
	return slices.Compare(v.Parts[:], other.Parts[:])
}

// Untested reports whether v is newer than TestedCLIVersion.
func (v *CLIVersion) Untested() bool {
	tested, err := ParseVersion(TestedCLIVersion)
	if err != nil {
		panic(err)
	}
	return v.Compare(tested) > 0
}

// CheckVersion detects the CLI version and warns when it is untested.
// It returns nil when detection fails; a missing binary surfaces at spawn time.
func CheckVersion(ctx context.Context, logger *slog.Logger, binary string) *CLIVersion {
	if logger == nil {
		logger = slog.Default()
	}
	v, err := DetectCLIVersion(ctx, binary)
	if err != nil {
		logger.Debug("could not detect agent CLI version", "error", err)
		return nil
	}
	if v.Untested() {
		logger.Warn("agent CLI is newer than the tested version",
			"cli_version", v.Raw, "tested_version", TestedCLIVersion)
	}
	return v
}
