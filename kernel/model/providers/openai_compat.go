package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/OnslaughtSnail/rostra/kernel/model"
)

// openAICompatLLM speaks the chat/completions wire format over plain HTTP
// for gateways the official SDK does not target (DeepSeek, local servers).
type openAICompatLLM struct {
	name            string
	provider        string
	baseURL         string
	token           string
	headers         map[string]string
	maxOutputTokens int
	client          *http.Client
}

func newOpenAICompat(cfg Config, token string) *openAICompatLLM {
	return &openAICompatLLM{
		name:            cfg.Model,
		provider:        displayName(cfg),
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		token:           token,
		headers:         cfg.Headers,
		maxOutputTokens: cfg.MaxOutputTok,
		client:          &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
	}
}

func (l *openAICompatLLM) Name() string {
	return l.name
}

func (l *openAICompatLLM) Generate(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if req == nil {
			yield(nil, fmt.Errorf("model: request is nil"))
			return
		}
		payload := openAICompatRequest{
			Model:     l.name,
			Messages:  fromKernelMessages(req.Messages),
			Stream:    true,
			MaxTokens: maxTokens(req.MaxOutputTokens, l.maxOutputTokens),
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			yield(nil, err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/chat/completions", bytes.NewReader(raw))
		if err != nil {
			yield(nil, err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Authorization", "Bearer "+l.token)
		for k, v := range l.headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := l.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			yield(nil, transportError(l.provider, l.name, err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			yield(nil, statusError(l.provider, l.name, resp))
			return
		}

		var (
			text    strings.Builder
			usage   model.Usage
			stopped bool
		)
		streamErr := readSSE(resp.Body, func(frame sseFrame) error {
			if frame.Event == "error" {
				return &model.ProviderError{Provider: l.provider, Model: l.name, Message: errorMessage(0, frame.Data)}
			}
			var chunk openAICompatStreamChunk
			if err := json.Unmarshal(frame.Data, &chunk); err != nil {
				return transportError(l.provider, l.name, fmt.Errorf("decode stream chunk: %w", err))
			}
			if chunk.Usage.TotalTokens > 0 {
				usage = model.Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				return nil
			}
			delta := chunk.Choices[0].Delta.Content
			text.WriteString(delta)
			if !yield(&model.Response{
				Message:  model.Message{Role: model.RoleAssistant, Text: delta},
				Partial:  true,
				Model:    chunk.Model,
				Provider: l.provider,
			}, nil) {
				stopped = true
				return errStopSSE
			}
			return nil
		})
		if stopped {
			return
		}
		if ctx.Err() != nil {
			yield(nil, ctx.Err())
			return
		}
		if streamErr != nil {
			if _, ok := model.AsProviderError(streamErr); ok {
				yield(nil, streamErr)
				return
			}
			yield(nil, transportError(l.provider, l.name, streamErr))
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

type openAICompatRequest struct {
	Model     string            `json:"model"`
	Messages  []openAICompatMsg `json:"messages"`
	Stream    bool              `json:"stream"`
	MaxTokens int               `json:"max_tokens,omitempty"`
}

type openAICompatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAICompatStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta openAICompatMsg `json:"delta"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func fromKernelMessages(messages []model.Message) []openAICompatMsg {
	out := make([]openAICompatMsg, 0, len(messages))
	for _, m := range messages {
		out = append(out, openAICompatMsg{Role: string(m.Role), Content: m.Text})
	}
	return out
}
