// Package console is the terminal mode: one debate at a time, rendered as
// it streams.
package console

import "github.com/OnslaughtSnail/rostra/cmd/launcher"

const syntax = `  console [-config path] [-topic text] [-no-color] [-history path]
  Without -topic it prompts repeatedly; Ctrl-C stops the running debate.
  Example: console -topic "Cities should ban cars"`

func NewLauncher(run launcher.RunWithArgs) launcher.SubLauncher {
	return &launcher.Mode{
		Name:        "console",
		Syntax:      syntax,
		Description: "run debates interactively in the terminal",
		RunFunc:     run,
	}
}
