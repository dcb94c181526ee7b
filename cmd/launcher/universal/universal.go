// Package universal routes the first argument to a mode sublauncher.
package universal

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/OnslaughtSnail/rostra/cmd/launcher"
)

type uniLauncher struct {
	program string
	modes   []launcher.SubLauncher
	byKey   map[string]launcher.SubLauncher
	err     error
}

// NewLauncher routes to sublaunchers by keyword. The first one is the
// default mode when args do not start with a keyword.
func NewLauncher(sublaunchers ...launcher.SubLauncher) launcher.Launcher {
	u := &uniLauncher{program: "rostra", byKey: map[string]launcher.SubLauncher{}}
	for _, one := range sublaunchers {
		if one == nil {
			continue
		}
		key := strings.TrimSpace(one.Keyword())
		switch {
		case key == "":
			u.err = fmt.Errorf("launcher: empty keyword")
		case u.byKey[key] != nil:
			u.err = fmt.Errorf("launcher: duplicate keyword %q", key)
		default:
			u.byKey[key] = one
			u.modes = append(u.modes, one)
		}
	}
	if u.err == nil && len(u.modes) == 0 {
		u.err = fmt.Errorf("launcher: no sublaunchers configured")
	}
	return u
}

// Execute returns flag.ErrHelp for "help", "-h" and "--help".
func (u *uniLauncher) Execute(ctx context.Context, args []string) error {
	if u.err != nil {
		return u.err
	}
	chosen, rest := u.modes[0], args
	if len(args) > 0 {
		switch args[0] {
		case "help", "-h", "-help", "--help":
			return flag.ErrHelp
		}
		if byKey, ok := u.byKey[args[0]]; ok {
			chosen, rest = byKey, args[1:]
		}
	}
	unparsed, err := chosen.Parse(rest)
	if err != nil {
		return err
	}
	if err := ErrorOnUnparsedArgs(unparsed); err != nil {
		return err
	}
	return chosen.Run(ctx)
}

func (u *uniLauncher) CommandLineSyntax() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage:\n  %s [mode] [flags]\n\nModes:\n", u.program)
	for i, one := range u.modes {
		suffix := ""
		if i == 0 {
			suffix = " (default)"
		}
		fmt.Fprintf(&b, "  %s\t%s%s\n", one.Keyword(), one.SimpleDescription(), suffix)
	}
	b.WriteString("\nMode flags:\n")
	for _, one := range u.modes {
		fmt.Fprintf(&b, "  [%s]\n%s\n", one.Keyword(), one.CommandLineSyntax())
	}
	return b.String()
}

func ErrorOnUnparsedArgs(args []string) error {
	if len(args) == 0 {
		return nil
	}
	return fmt.Errorf("launcher: unparsed args: %v", args)
}
