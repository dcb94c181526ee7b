package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/OnslaughtSnail/rostra/internal/console"
)

func runConsole(ctx context.Context, args []string) error {
	var common commonFlags
	fs := flag.NewFlagSet("console", flag.ContinueOnError)
	common.register(fs)
	var (
		topic   = fs.String("topic", "", "Run one debate on this topic and exit")
		noColor = fs.Bool("no-color", os.Getenv("NO_COLOR") != "", "Disable colored output")
		history = fs.String("history", defaultHistoryFile(), "Topic history file (empty disables)")
	)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if common.showVersion {
		printVersion()
		return nil
	}

	a, err := newApp(ctx, common.configPath)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = a.close(shutdownCtx)
	}()

	c, err := console.New(a.runtime, console.Config{
		Editor:    console.NewLineEditor(console.EditorConfig{HistoryFile: *history}),
		ProviderA: a.lineup.A.Provider,
		ProviderB: a.lineup.B.Provider,
		NoColor:   *noColor,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}
	if t := strings.TrimSpace(*topic); t != "" {
		return c.Debate(ctx, t)
	}
	return c.Run(ctx)
}

func notifyInterrupt(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt)
}

func defaultHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".rostra", "history")
}
