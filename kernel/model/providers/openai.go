package providers

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/OnslaughtSnail/rostra/kernel/model"
)

type openAILLM struct {
	name            string
	provider        string
	maxOutputTokens int
	client          openai.Client
}

func newOpenAI(cfg Config, token string) *openAILLM {
	opts := []option.RequestOption{
		option.WithAPIKey(token),
		option.WithHTTPClient(&http.Client{Timeout: timeoutOrDefault(cfg.Timeout)}),
		// A debate turn may already have streamed text; retrying would replay it.
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	return &openAILLM{
		name:            cfg.Model,
		provider:        displayName(cfg),
		maxOutputTokens: cfg.MaxOutputTok,
		client:          openai.NewClient(opts...),
	}
}

func (l *openAILLM) Name() string {
	return l.name
}

func (l *openAILLM) Generate(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if req == nil {
			yield(nil, errors.New("model: request is nil"))
			return
		}
		params := openai.ChatCompletionNewParams{
			Model:    l.name,
			Messages: toOpenAIMessages(req.Messages),
		}
		if n := maxTokens(req.MaxOutputTokens, l.maxOutputTokens); n > 0 {
			params.MaxCompletionTokens = openai.Int(int64(n))
		}

		stream := l.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var (
			text  strings.Builder
			usage model.Usage
		)
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = model.Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			text.WriteString(delta)
			if !yield(&model.Response{
				Message:  model.Message{Role: model.RoleAssistant, Text: delta},
				Partial:  true,
				Model:    chunk.Model,
				Provider: l.provider,
			}, nil) {
				return
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
		yield(&model.Response{
			Message:      model.Message{Role: model.RoleAssistant, Text: text.String()},
			TurnComplete: true,
			Model:        l.name,
			Provider:     l.provider,
			Usage:        usage,
		}, nil)
	}
}

func (l *openAILLM) providerError(err error) error {
	out := &model.ProviderError{Provider: l.provider, Model: l.name, Message: err.Error(), Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		out.StatusCode = apiErr.StatusCode
		if msg := strings.TrimSpace(apiErr.Message); msg != "" {
			out.Message = msg
		}
	}
	return out
}

func toOpenAIMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Text))
		default:
			out = append(out, openai.UserMessage(m.Text))
		}
	}
	return out
}
