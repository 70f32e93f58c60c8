package claudecontract

// PermissionMode is a value for --permission-mode.
type PermissionMode string

const (
	PermissionDefault           PermissionMode = "default"
	PermissionAcceptEdits       PermissionMode = "acceptEdits"
	PermissionBypassPermissions PermissionMode = "bypassPermissions"

	// PermissionPlan asks the agent to plan without executing anything.
	PermissionPlan PermissionMode = "plan"
)

// IsValid returns true if the permission mode is known to the CLI.
func (m PermissionMode) IsValid() bool {
	switch m {
	case PermissionDefault, PermissionAcceptEdits, PermissionBypassPermissions, PermissionPlan:
		return true
	default:
		return false
	}
}

// String returns the flag value.
func (m PermissionMode) String() string {
	return string(m)
}
