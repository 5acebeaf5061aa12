package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	root := BuildCLI()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"run", "status", "retry-dead", "enqueue-message"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestEnqueueMessageRequiresRecipientAndBody(t *testing.T) {
	root := BuildCLI()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"enqueue-message", "--template", "class_reminder"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--to and --body are required")
}

func TestVersionFlag(t *testing.T) {
	root := BuildCLI()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), Version)
}
