package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorsen-dev/claude-relay/internal/apperr"
	"github.com/halvorsen-dev/claude-relay/internal/config"
)

func TestNew_BuildsAllEntries(t *testing.T) {
	r, err := New(config.OSUnix)
	require.NoError(t, err)
	assert.Len(t, r.ToolsForOS(), 15)
}

func TestToolsForOS_StableOrder(t *testing.T) {
	r, err := New(config.OSUnix)
	require.NoError(t, err)

	first := r.ToolsForOS()
	second := r.ToolsForOS()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
	}
	assert.Equal(t, "read_file", first[0].Name)
}

func TestReverseToolName_KnownAndUnknown(t *testing.T) {
	r, err := New(config.OSUnix)
	require.NoError(t, err)

	assert.Equal(t, "read_file", r.ReverseToolName("read_file"))
	assert.Equal(t, "some_future_tool", r.ReverseToolName("some_future_tool"))
}

func TestCanonicalArgs_RenamesAndDropsNulls(t *testing.T) {
	r, err := New(config.OSUnix)
	require.NoError(t, err)

	name, args, err := r.CanonicalArgs("read_file", map[string]any{
		"path":   "/tmp/x",
		"offset": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, "read_file", name)
	assert.Equal(t, "/tmp/x", args["file_path"])
	_, hasOffset := args["offset"]
	assert.False(t, hasOffset)
}

func TestCanonicalArgs_MissingRequiredFailsWithInvalidArgs(t *testing.T) {
	r, err := New(config.OSUnix)
	require.NoError(t, err)

	_, _, err = r.CanonicalArgs("read_file", map[string]any{})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.InvalidArgs, appErr.Kind)
}

// TestCanonicalArgs_ManageTodosCoercion covers the manage_todos case where
// a list of bare strings is coerced into the required
// list of objects, with a present-continuous form synthesised.
func TestCanonicalArgs_ManageTodosCoercion(t *testing.T) {
	r, err := New(config.OSUnix)
	require.NoError(t, err)

	name, args, err := r.CanonicalArgs("manage_todos", map[string]any{
		"tasks": []any{"write spec", "review"},
	})
	require.NoError(t, err)
	assert.Equal(t, "manage_todos", name)

	todos, ok := args["todos"].([]any)
	require.True(t, ok)
	require.Len(t, todos, 2)

	first := todos[0].(map[string]any)
	assert.Equal(t, "write spec", first["content"])
	assert.Equal(t, "pending", first["status"])
	assert.Equal(t, "writing spec", first["activeForm"])

	second := todos[1].(map[string]any)
	assert.Equal(t, "review", second["content"])
	assert.Equal(t, "reviewing", second["activeForm"])
}

func TestNew_OSTemplatesShellToolDescription(t *testing.T) {
	unix, err := New(config.OSUnix)
	require.NoError(t, err)
	windows, err := New(config.OSWindows)
	require.NoError(t, err)

	unixEntry := unix.byName["run_bash"]
	winEntry := windows.byName["run_bash"]
	assert.Contains(t, unixEntry.Description, "bash")
	assert.Contains(t, winEntry.Description, "PowerShell")
	assert.NotEqual(t, unixEntry.Description, winEntry.Description)
}
