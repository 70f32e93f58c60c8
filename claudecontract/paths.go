package claudecontract

import "strings"

// Permission drop-box file names. A drop-box is one directory per session.
const (
	// FilePermissions holds the durable always-allow rules for the session:
	// {"alwaysAllow": {"Read": true, "Bash": ["npm:*"]}}
	FilePermissions = "permissions.json"

	// ExtRequest is written by the companion process for every approval request.
	ExtRequest = ".request"

	// ExtResponse is written by the broker as the answer to a request.
	ExtResponse = ".response"
)

// Environment variables set on the supervised process so its permission
// companion knows where to ask.
const (
	EnvSessionID     = "AGENTDECK_SESSION_ID"
	EnvPermissionDir = "AGENTDECK_PERMISSION_DIR"
	EnvPermissionURL = "AGENTDECK_PERMISSION_URL"
)

// RequestFileName returns the drop-box file name for a request id.
func RequestFileName(id string) string {
	return id + ExtRequest
}

// ResponseFileName returns the drop-box file name for a response to request id.
func ResponseFileName(id string) string {
	return id + ExtResponse
}

// RequestID returns the request id encoded in a request file name, or "" if
// name is not a request file.
func RequestID(name string) string {
	if !strings.HasSuffix(name, ExtRequest) {
		return ""
	}
	return strings.TrimSuffix(name, ExtRequest)
}
