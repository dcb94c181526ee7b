// Package launcher selects how rostra runs: as the HTTP debate service or
// as an interactive terminal session.
package launcher

import (
	"context"
	"fmt"
)

// RunWithArgs runs one mode with the arguments left after the mode keyword.
type RunWithArgs func(context.Context, []string) error

// Launcher routes args and starts a selected mode.
type Launcher interface {
	Execute(context.Context, []string) error
	CommandLineSyntax() string
}

// SubLauncher is one runnable mode.
type SubLauncher interface {
	Keyword() string
	Parse([]string) ([]string, error)
	CommandLineSyntax() string
	SimpleDescription() string
	Run(context.Context) error
}

// Mode is a SubLauncher that hands every argument to Run; flag parsing
// happens inside the run function with the mode's own FlagSet.
type Mode struct {
	Name        string
	Syntax      string
	Description string
	RunFunc     RunWithArgs

	args []string
}

func (m *Mode) Keyword() string           { return m.Name }
func (m *Mode) CommandLineSyntax() string { return m.Syntax }
func (m *Mode) SimpleDescription() string { return m.Description }

func (m *Mode) Parse(args []string) ([]string, error) {
	m.args = append([]string(nil), args...)
	return nil, nil
}

func (m *Mode) Run(ctx context.Context) error {
	if m.RunFunc == nil {
		return fmt.Errorf("launcher(%s): run function is nil", m.Name)
	}
	return m.RunFunc(ctx, m.args)
}
