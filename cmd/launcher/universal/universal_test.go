package universal

import (
	"context"
	"flag"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OnslaughtSnail/rostra/cmd/launcher"
)

type recordingLauncher struct {
	keyword string
	args    []string
	ran     bool
}

func (r *recordingLauncher) Keyword() string           { return r.keyword }
func (r *recordingLauncher) CommandLineSyntax() string { return "  " + r.keyword + " [flags]" }
func (r *recordingLauncher) SimpleDescription() string { return r.keyword + " mode" }

func (r *recordingLauncher) Parse(args []string) ([]string, error) {
	r.args = args
	return nil, nil
}

func (r *recordingLauncher) Run(context.Context) error {
	r.ran = true
	return nil
}

func TestExecute_DefaultsToFirstSublauncher(t *testing.T) {
	serve := &recordingLauncher{keyword: "serve"}
	console := &recordingLauncher{keyword: "console"}
	l := NewLauncher(serve, console)

	require.NoError(t, l.Execute(context.Background(), []string{"-config", "x.yaml"}))
	assert.True(t, serve.ran)
	assert.False(t, console.ran)
	assert.Equal(t, []string{"-config", "x.yaml"}, serve.args)
}

func TestExecute_SelectsByKeyword(t *testing.T) {
	serve := &recordingLauncher{keyword: "serve"}
	console := &recordingLauncher{keyword: "console"}
	l := NewLauncher(serve, console)

	require.NoError(t, l.Execute(context.Background(), []string{"console", "-no-color"}))
	assert.True(t, console.ran)
	assert.Equal(t, []string{"-no-color"}, console.args)
}

func TestExecute_RejectsDuplicateKeywords(t *testing.T) {
	l := NewLauncher(&recordingLauncher{keyword: "serve"}, &recordingLauncher{keyword: "serve"})
	err := l.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate keyword")
}

func TestCommandLineSyntax_ListsModes(t *testing.T) {
	var l launcher.Launcher = NewLauncher(&recordingLauncher{keyword: "serve"}, &recordingLauncher{keyword: "console"})
	syntax := l.CommandLineSyntax()
	assert.True(t, strings.Contains(syntax, "serve\tserve mode (default)"))
	assert.True(t, strings.Contains(syntax, "[console]"))
}

func TestExecute_HelpKeyword(t *testing.T) {
	serve := &recordingLauncher{keyword: "serve"}
	l := NewLauncher(serve)
	assert.ErrorIs(t, l.Execute(context.Background(), []string{"--help"}), flag.ErrHelp)
	assert.False(t, serve.ran)
	assert.Contains(t, l.CommandLineSyntax(), "serve\tserve mode (default)")
}
