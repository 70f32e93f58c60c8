package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAllowFile(t *testing.T) {
	data, err := EncodeAllowFile([]Rule{
		{Tool: "Bash", Pattern: "npm:*", Allow: true},
		{Tool: "Bash", Pattern: "git:*", Allow: true},
		{Tool: "Bash", Pattern: "npm:*", Allow: true},
		{Tool: "Read", Pattern: "/x", Allow: true},
		{Tool: "Read", Pattern: "*", Allow: true},
		{Tool: "Write", Pattern: "*", Allow: false},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"alwaysAllow":{"Bash":["npm:*","git:*"],"Read":true}}`, string(data))

	data, err = EncodeAllowFile(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"alwaysAllow":{}}`, string(data))
}

func TestDecodeAllowFile(t *testing.T) {
	rules, err := DecodeAllowFile([]byte(`{"alwaysAllow":{"Read":true,"Bash":["npm:*"],"Edit":false}}`))
	require.NoError(t, err)
	assert.Equal(t, []Rule{
		{Tool: "Bash", Pattern: "npm:*", Allow: true},
		{Tool: "Read", Pattern: "*", Allow: true},
	}, rules)

	_, err = DecodeAllowFile([]byte(`{"alwaysAllow":{"Read":"yes"}}`))
	assert.Error(t, err)
}
