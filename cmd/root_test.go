package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRootCommandFlags tests that all expected CLI flags are present
func TestRootCommandFlags(t *testing.T) {
	flags := []struct {
		name      string
		shorthand string
		kind      string
	}{
		{"config", "c", "string"},
		{"log-level", "l", "string"},
		{"provider", "", "string"},
		{"model", "m", "string"},
		{"session", "s", "string"},
		{"permission-mode", "", "string"},
		{"plain", "", "bool"},
	}

	for _, tt := range flags {
		t.Run(tt.name, func(t *testing.T) {
			flag := rootCmd.PersistentFlags().Lookup(tt.name)
			require.NotNil(t, flag)
			assert.Equal(t, tt.kind, flag.Value.Type())
			assert.Equal(t, tt.shorthand, flag.Shorthand)
		})
	}
}

func TestSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"chat", "prompt", "replay", "sessions"} {
		assert.True(t, names[want], "missing %s command", want)
	}

	sub := map[string]bool{}
	for _, c := range sessionsCmd.Commands() {
		sub[c.Name()] = true
	}
	assert.Equal(t, map[string]bool{"list": true, "show": true, "search": true}, sub)
}

func TestCommandFlags(t *testing.T) {
	prompt := promptCmd.Flags().Lookup("prompt")
	require.NotNil(t, prompt)
	assert.Equal(t, "p", prompt.Shorthand)
	assert.Equal(t, "text", promptCmd.Flags().Lookup("output").DefValue)
	assert.Equal(t, "stringSlice", promptCmd.Flags().Lookup("file").Value.Type())

	assert.Equal(t, "duration", replayCmd.Flags().Lookup("delay").Value.Type())
	assert.NotNil(t, replayCmd.Flags().Lookup("deny"))
	assert.NotNil(t, replayCmd.Flags().Lookup("save"))

	assert.Equal(t, "5", sessionsSearchCmd.Flags().Lookup("limit").DefValue)
}

func TestReplayNeedsAFile(t *testing.T) {
	assert.Error(t, replayCmd.Args(replayCmd, nil))
	assert.NoError(t, replayCmd.Args(replayCmd, []string{"turns.ndjson"}))
}
