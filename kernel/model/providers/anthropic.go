package providers

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/OnslaughtSnail/rostra/kernel/model"
)

// Anthropic requires max_tokens on every request.
const defaultAnthropicMaxTokens = 1024

type anthropicLLM struct {
	name            string
	provider        string
	maxOutputTokens int
	client          anthropic.Client
}

func newAnthropic(cfg Config, token string) *anthropicLLM {
	opts := []option.RequestOption{
		option.WithAPIKey(token),
		option.WithHTTPClient(&http.Client{Timeout: timeoutOrDefault(cfg.Timeout)}),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	return &anthropicLLM{
		name:            cfg.Model,
		provider:        displayName(cfg),
		maxOutputTokens: cfg.MaxOutputTok,
		client:          anthropic.NewClient(opts...),
	}
}

func (l *anthropicLLM) Name() string {
	return l.name
}

func (l *anthropicLLM) Generate(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if req == nil {
			yield(nil, errors.New("model: request is nil"))
			return
		}
		system, turns := model.SplitSystem(req.Messages)
		limit := maxTokens(req.MaxOutputTokens, l.maxOutputTokens)
		if limit <= 0 {
			limit = defaultAnthropicMaxTokens
		}
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(l.name),
			MaxTokens: int64(limit),
			Messages:  toAnthropicMessages(turns),
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}

		stream := l.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		var (
			text  strings.Builder
			usage model.Usage
		)
		for stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.PromptTokens = int(ev.Message.Usage.InputTokens)
			case anthropic.MessageDeltaEvent:
				usage.CompletionTokens = int(ev.Usage.OutputTokens)
			case anthropic.ContentBlockDeltaEvent:
				delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
				if !ok || delta.Text == "" {
					continue
				}
				text.WriteString(delta.Text)
				if !yield(&model.Response{
					Message:  model.Message{Role: model.RoleAssistant, Text: delta.Text},
					Partial:  true,
					Model:    l.name,
					Provider: l.provider,
				}, nil) {
					return
				}
			}
		}
		if ctx.Err() != nil {
			yield(nil, ctx.Err())
			return
		}
		if err := stream.Err(); err != nil {
			yield(nil, l.providerError(err))
			return
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		yield(&model.Response{
			Message:      model.Message{Role: model.RoleAssistant, Text: text.String()},
			TurnComplete: true,
			Model:        l.name,
			Provider:     l.provider,
			Usage:        usage,
		}, nil)
	}
}

func (l *anthropicLLM) providerError(err error) error {
	out := &model.ProviderError{Provider: l.provider, Model: l.name, Message: err.Error(), Err: err}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		out.StatusCode = apiErr.StatusCode
		if raw := apiErr.RawJSON(); raw != "" {
			out.Message = errorMessage(apiErr.StatusCode, []byte(raw))
		}
	}
	return out
}

func toAnthropicMessages(messages []model.Message) []anthropic.MessageParam {
	merged := model.MergeAdjacent(messages)
	out := make([]anthropic.MessageParam, 0, len(merged))
	for _, m := range merged {
		block := anthropic.NewTextBlock(m.Text)
		if m.Role == model.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}
