package full

import (
	"github.com/OnslaughtSnail/rostra/cmd/launcher"
	launcherconsole "github.com/OnslaughtSnail/rostra/cmd/launcher/console"
	launcherserve "github.com/OnslaughtSnail/rostra/cmd/launcher/serve"
	"github.com/OnslaughtSnail/rostra/cmd/launcher/universal"
)

// NewLauncher defaults to serve when no mode keyword is given.
func NewLauncher(serveRun, consoleRun launcher.RunWithArgs) launcher.Launcher {
	return universal.NewLauncher(
		launcherserve.NewLauncher(serveRun),
		launcherconsole.NewLauncher(consoleRun),
	)
}
