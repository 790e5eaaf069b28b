package main

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convokehq/convoke/pkg/engine"
)

func TestFmtTokens(t *testing.T) {
	tests := []struct {
		input    int
		expected string
	}{
		{0, "0"},
		{500, "500"},
		{999, "999"},
		{1000, "1.0k"},
		{1200, "1.2k"},
		{15000, "15.0k"},
		{1_000_000, "1.0M"},
		{3_400_000, "3.4M"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, fmtTokens(tt.input), "fmtTokens(%d)", tt.input)
	}
}

func TestFmtDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{100 * time.Millisecond, "0.1s"},
		{2 * time.Second, "2.0s"},
		{30 * time.Second, "30.0s"},
		{65 * time.Second, "1m 5s"},
		{125 * time.Second, "2m 5s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, fmtDuration(tt.input), "fmtDuration(%v)", tt.input)
	}
}

func TestRenderUserMessage(t *testing.T) {
	msg := renderUserMessage("hello")
	assert.Contains(t, msg, "you >")
	assert.Contains(t, msg, "hello")
}

func TestRenderUserMessageMultiLine(t *testing.T) {
	msg := renderUserMessage("line1\nline2")
	assert.Contains(t, msg, "line1")
	assert.Contains(t, msg, "line2")
}

func TestRandomThinkingMessage(t *testing.T) {
	msg := randomThinkingMessage()
	assert.NotEmpty(t, msg)

	// Verify it returns values from the list.
	assert.True(t, slices.Contains(thinkingMessages, msg),
		"randomThinkingMessage returned %q which is not in thinkingMessages", msg)
}

func TestResolveConfigPath_ExplicitWins(t *testing.T) {
	assert.Equal(t, "custom.yaml", resolveConfigPath("custom.yaml"))
}

func TestResolveConfigPath_DefaultWhenPresent(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile("convoke.yaml", []byte("providers: []\n"), 0o600))

	assert.Equal(t, "convoke.yaml", resolveConfigPath(""))
}

func TestResolveConfigPath_EmptyWhenMissing(t *testing.T) {
	t.Chdir(t.TempDir())

	assert.Empty(t, resolveConfigPath(""))
}

func TestResolveModel_FlagWins(t *testing.T) {
	cfg := engine.Config{Models: []engine.ModelConfig{{Model: "openai:gpt-4o-mini"}}}

	model, err := resolveModel("anthropic:claude-3-5-haiku-latest", cfg)
	require.NoError(t, err)
	assert.Equal(t, "anthropic:claude-3-5-haiku-latest", model)
}

func TestResolveModel_FirstConfigEntry(t *testing.T) {
	cfg := engine.Config{Models: []engine.ModelConfig{
		{Model: "openai:gpt-4o-mini"},
		{Model: "ollama:llama3"},
	}}

	model, err := resolveModel("", cfg)
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4o-mini", model)
}

func TestResolveModel_NoneSelected(t *testing.T) {
	_, err := resolveModel("", engine.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-model")
}

func TestLoadDotEnv_MissingFileIgnored(t *testing.T) {
	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestLoadDotEnv_SetsVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CONVOKE_DOTENV_TEST=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CONVOKE_DOTENV_TEST") })

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("CONVOKE_DOTENV_TEST"))
}
