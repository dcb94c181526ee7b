package main

import (
	"context"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OnslaughtSnail/rostra/internal/config"
)

func TestParseFlags_RejectsExtraArgs(t *testing.T) {
	var common commonFlags
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	common.register(fs)

	require.NoError(t, parseFlags(fs, []string{"-config", "x.yaml"}))
	assert.Equal(t, "x.yaml", common.configPath)

	fs = flag.NewFlagSet("serve", flag.ContinueOnError)
	common.register(fs)
	err := parseFlags(fs, []string{"extra"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown arguments")
}

func TestRunServe_Version(t *testing.T) {
	require.NoError(t, runServe(context.Background(), []string{"-version"}))
	require.NoError(t, runConsole(context.Background(), []string{"-version"}))
}

func TestBuildLineup(t *testing.T) {
	cfg, err := config.LoadBytes([]byte(`
debate:
  speaker_a: local
  speaker_b: deep
providers:
  local:
    api: openai_compatible
    provider: Local
    model: llama3
    base_url: http://127.0.0.1:11434/v1
    api_key: k1
  deep:
    api: deepseek
    model: deepseek-chat
    api_key: k2
`))
	require.NoError(t, err)

	lineup, err := buildLineup(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "Local", lineup.A.Provider)
	assert.Equal(t, "DeepSeek", lineup.B.Provider)
	assert.NotNil(t, lineup.A.LLM)
	assert.NotNil(t, lineup.B.LLM)
}

func TestBuildLineup_MissingKey(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "")
	cfg, err := config.LoadBytes([]byte(`
debate:
  speaker_a: deep
  speaker_b: deep
providers:
  deep:
    api: deepseek
    model: deepseek-chat
`))
	require.NoError(t, err)

	_, err = buildLineup(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deep")
}
