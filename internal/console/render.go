package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/OnslaughtSnail/rostra/kernel/broadcast"
	"github.com/OnslaughtSnail/rostra/kernel/debate"
)

// Renderer prints a debate stream incrementally. Cumulative message events
// are reduced to the suffix not yet printed.
type Renderer struct {
	out io.Writer

	labels map[debate.Role]string
	styles map[debate.Role]*color.Color
	errC   *color.Color
	endC   *color.Color

	currentID string
	printed   int
}

// NewRenderer writes to out. noColor disables ANSI styling.
func NewRenderer(out io.Writer, providerA, providerB string, noColor bool) *Renderer {
	r := &Renderer{
		out: out,
		labels: map[debate.Role]string{
			debate.RoleUser:     "Topic",
			debate.RoleSpeakerA: label("For", providerA),
			debate.RoleSpeakerB: label("Against", providerB),
		},
		styles: map[debate.Role]*color.Color{
			debate.RoleUser:     color.New(color.Bold),
			debate.RoleSpeakerA: color.New(color.FgGreen, color.Bold),
			debate.RoleSpeakerB: color.New(color.FgMagenta, color.Bold),
		},
		errC: color.New(color.FgRed),
		endC: color.New(color.FgYellow),
	}
	if noColor {
		for _, c := range r.styles {
			c.DisableColor()
		}
		r.errC.DisableColor()
		r.endC.DisableColor()
	}
	return r
}

func label(side, provider string) string {
	if strings.TrimSpace(provider) == "" {
		return side
	}
	return fmt.Sprintf("%s (%s)", side, provider)
}

// Render prints ev. It reports true once the stream has ended.
func (r *Renderer) Render(ev broadcast.Event) bool {
	switch ev.Type {
	case broadcast.EventMessage:
		m, ok := ev.Data.(broadcast.MessageData)
		if ok {
			r.renderMessage(m)
		}
	case broadcast.EventError:
		r.finishLine()
		if e, ok := ev.Data.(broadcast.ErrorData); ok {
			r.errC.Fprintln(r.out, e.Message)
		}
	case broadcast.EventEnd:
		r.finishLine()
		if e, ok := ev.Data.(broadcast.EndData); ok {
			r.endC.Fprintln(r.out, e.Message)
		}
		return true
	}
	return false
}

func (r *Renderer) renderMessage(m broadcast.MessageData) {
	if m.ID != r.currentID {
		r.finishLine()
		r.currentID = m.ID
		r.printed = 0
		style := r.styles[m.Role]
		if style == nil {
			style = color.New()
		}
		style.Fprintf(r.out, "%s: ", r.labels[m.Role])
	}
	if len(m.Content) > r.printed {
		fmt.Fprint(r.out, m.Content[r.printed:])
		r.printed = len(m.Content)
	}
	if m.Final {
		r.finishLine()
	}
}

func (r *Renderer) finishLine() {
	if r.currentID == "" {
		return
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out)
	r.currentID = ""
	r.printed = 0
}
