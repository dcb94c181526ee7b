package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	launcherfull "github.com/OnslaughtSnail/rostra/cmd/launcher/full"
	"github.com/OnslaughtSnail/rostra/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	launcher := launcherfull.NewLauncher(runServe, runConsole)
	if err := launcher.Execute(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(os.Stderr, launcher.CommandLineSyntax())
			return
		}
		exitErr(err)
	}
}

// commonFlags are accepted by every mode.
type commonFlags struct {
	configPath  string
	showVersion bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", os.Getenv("ROSTRA_CONFIG"), "YAML config file (default: built-in defaults)")
	fs.BoolVar(&c.showVersion, "version", false, "Show version and exit")
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(fs.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", fs.Args())
	}
	return nil
}

func printVersion() {
	fmt.Println(version.String())
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
