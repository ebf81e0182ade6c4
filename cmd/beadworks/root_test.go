package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "beadworks dev (built unknown)\n", out.String())
}

func TestServeFailsWithoutAPIKey(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM API key is required")
}

func TestInitLogger(t *testing.T) {
	logger, err := initLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	logger, err = initLogger("bogus")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))
}
