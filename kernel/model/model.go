package model

import (
	"context"
	"iter"
	"strings"
)

// Role identifies message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn element in model context.
type Message struct {
	Role Role
	Text string
}

// Request is a provider-agnostic model request.
//
// System directives travel as leading RoleSystem messages; adapters lift
// them into whatever field the provider expects.
type Request struct {
	Messages        []Message
	MaxOutputTokens int
}

// Usage reports model token usage (best-effort).
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a provider-agnostic model response chunk.
//
// Partial chunks carry a text delta. The final chunk has TurnComplete set
// and carries the full text.
type Response struct {
	Message      Message
	Partial      bool
	TurnComplete bool
	Usage        Usage
	Model        string
	Provider     string
}

// LLM is the model abstraction used by the kernel.
//
// Generate stops yielding once ctx is cancelled. The iterator yields
// ctx.Err() in that case rather than a ProviderError.
type LLM interface {
	Name() string
	Generate(context.Context, *Request) iter.Seq2[*Response, error]
}

// SplitSystem separates leading system directives from conversation turns.
func SplitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if m.Text != "" {
				system = append(system, m.Text)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// MergeAdjacent folds consecutive messages with the same role into one.
// Gemini and Anthropic reject back-to-back turns from the same author.
func MergeAdjacent(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Text = out[n-1].Text + "\n\n" + m.Text
			continue
		}
		out = append(out, m)
	}
	return out
}
