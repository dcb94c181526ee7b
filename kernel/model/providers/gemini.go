package providers

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/OnslaughtSnail/rostra/kernel/model"
)

type geminiLLM struct {
	name            string
	provider        string
	maxOutputTokens int
	client          *genai.Client
}

func newGemini(ctx context.Context, cfg Config, token string) (*geminiLLM, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	clientCfg := &genai.ClientConfig{
		APIKey:     token,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions.BaseURL = base
	}
	if len(cfg.Headers) > 0 {
		clientCfg.HTTPOptions.Headers = http.Header{}
		for k, v := range cfg.Headers {
			clientCfg.HTTPOptions.Headers.Set(k, v)
		}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("providers: gemini client: %w", err)
	}
	return &geminiLLM{
		name:            cfg.Model,
		provider:        displayName(cfg),
		maxOutputTokens: cfg.MaxOutputTok,
		client:          client,
	}, nil
}

func (l *geminiLLM) Name() string {
	return l.name
}

func (l *geminiLLM) Generate(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if req == nil {
			yield(nil, errors.New("model: request is nil"))
			return
		}
		system, turns := model.SplitSystem(req.Messages)
		genCfg := &genai.GenerateContentConfig{}
		if system != "" {
			genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
		if n := maxTokens(req.MaxOutputTokens, l.maxOutputTokens); n > 0 {
			genCfg.MaxOutputTokens = int32(n)
		}

		var (
			text  strings.Builder
			usage model.Usage
		)
		for resp, err := range l.client.Models.GenerateContentStream(ctx, l.name, toGeminiContents(turns), genCfg) {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			if err != nil {
				yield(nil, l.providerError(err))
				return
			}
			if resp == nil {
				continue
			}
			if md := resp.UsageMetadata; md != nil && md.TotalTokenCount > 0 {
				usage = model.Usage{
					PromptTokens:     int(md.PromptTokenCount),
					CompletionTokens: int(md.CandidatesTokenCount),
					TotalTokens:      int(md.TotalTokenCount),
				}
			}
			delta := resp.Text()
			if delta == "" {
				continue
			}
			text.WriteString(delta)
			if !yield(&model.Response{
				Message:  model.Message{Role: model.RoleAssistant, Text: delta},
				Partial:  true,
				Model:    l.name,
				Provider: l.provider,
			}, nil) {
				return
			}
		}
		if ctx.Err() != nil {
			yield(nil, ctx.Err())
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

func (l *geminiLLM) providerError(err error) error {
	out := &model.ProviderError{Provider: l.provider, Model: l.name, Message: err.Error(), Err: err}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		out.StatusCode = apiErr.Code
		if msg := strings.TrimSpace(apiErr.Message); msg != "" {
			out.Message = errorMessage(apiErr.Code, []byte(msg))
		}
	}
	return out
}

// toGeminiContents maps assistant turns to the "model" role and merges
// consecutive same-role turns, which the API rejects.
func toGeminiContents(messages []model.Message) []*genai.Content {
	merged := model.MergeAdjacent(messages)
	out := make([]*genai.Content, 0, len(merged))
	for _, m := range merged {
		role := genai.Role(genai.RoleUser)
		if m.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Text, role))
	}
	return out
}
