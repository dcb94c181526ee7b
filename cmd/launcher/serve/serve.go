// Package serve is the default mode: the Session API over HTTP.
package serve

import "github.com/OnslaughtSnail/rostra/cmd/launcher"

func NewLauncher(run launcher.RunWithArgs) launcher.SubLauncher {
	return &launcher.Mode{
		Name:        "serve",
		Syntax:      "  [serve] [-config path] [-version]\n  Example: serve -config rostra.yaml",
		Description: "serve the debate HTTP API (SSE and WebSocket streams)",
		RunFunc:     run,
	}
}
