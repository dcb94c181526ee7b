// Package console runs debates interactively in a terminal.
package console

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"

	"github.com/OnslaughtSnail/rostra/internal/logging"
	"github.com/OnslaughtSnail/rostra/kernel/broadcast"
)

// Debates is the part of the runtime the console drives.
type Debates interface {
	Start(ctx context.Context, topic string) (string, error)
	Stop(ctx context.Context, sessionID string) error
	Subscribe(sessionID string) (*broadcast.Subscription, error)
}

// Config configures a Console.
type Config struct {
	Editor    LineEditor
	ProviderA string
	ProviderB string
	NoColor   bool
	Logger    *logging.Logger

	// Interrupts derives the context that is cancelled when the user asks
	// to stop the running debate. Defaults to SIGINT.
	Interrupts func(context.Context) (context.Context, context.CancelFunc)
}

// Console reads topics and streams each debate to the terminal.
type Console struct {
	debates    Debates
	editor     LineEditor
	render     *Renderer
	logger     *logging.Logger
	interrupts func(context.Context) (context.Context, context.CancelFunc)
}

func New(debates Debates, cfg Config) (*Console, error) {
	if debates == nil {
		return nil, errors.New("console: debates is required")
	}
	editor := cfg.Editor
	if editor == nil {
		editor = NewLineEditor(EditorConfig{})
	}
	interrupts := cfg.Interrupts
	if interrupts == nil {
		interrupts = func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		}
	}
	return &Console{
		debates:    debates,
		editor:     editor,
		render:     NewRenderer(editor.Output(), cfg.ProviderA, cfg.ProviderB, cfg.NoColor),
		logger:     logging.OrNop(cfg.Logger).Named("console"),
		interrupts: interrupts,
	}, nil
}

// Run prompts until EOF, "exit", or ctx ends.
func (c *Console) Run(ctx context.Context) error {
	defer c.editor.Close()
	out := c.editor.Output()
	fmt.Fprintln(out, "Enter a debate topic. Ctrl-C stops a running debate; \"exit\" quits.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := c.editor.ReadLine("topic> ")
		if err != nil {
			if errors.Is(err, errInputInterrupt) {
				continue
			}
			if errors.Is(err, errInputEOF) {
				return nil
			}
			return err
		}
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit", "/exit", "/quit":
			return nil
		}
		if err := c.Debate(ctx, line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// Debate runs one debate on topic and renders it until the stream ends.
func (c *Console) Debate(ctx context.Context, topic string) error {
	id, err := c.debates.Start(ctx, topic)
	if err != nil {
		return err
	}
	sctx := logging.WithSessionID(ctx, id)
	sub, err := c.debates.Subscribe(id)
	if err != nil {
		_ = c.debates.Stop(sctx, id)
		return err
	}
	defer sub.Close()

	intr, cancel := c.interrupts(ctx)
	defer cancel()
	stopping := false
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if c.render.Render(ev) {
				return nil
			}
		case <-intr.Done():
			if stopping {
				continue
			}
			stopping = true
			if err := c.debates.Stop(context.WithoutCancel(sctx), id); err != nil {
				c.logger.Warn(sctx, "stop debate failed", zap.Error(err))
			}
		}
	}
}
