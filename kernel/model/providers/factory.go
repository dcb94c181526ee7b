package providers

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/OnslaughtSnail/rostra/kernel/model"
)

// Factory builds model providers from alias configs.
type Factory struct {
	configs map[string]Config
}

// NewFactory returns an empty provider factory.
func NewFactory() *Factory {
	return &Factory{configs: map[string]Config{}}
}

// Register adds or overwrites one alias config.
func (f *Factory) Register(cfg Config) error {
	if f == nil {
		return fmt.Errorf("providers: factory is nil")
	}
	alias := strings.ToLower(strings.TrimSpace(cfg.Alias))
	if alias == "" {
		return fmt.Errorf("providers: alias is required")
	}
	if cfg.API != APIOpenAI && cfg.API != APIOpenAICompatible && cfg.API != APIGemini && cfg.API != APIAnthropic && cfg.API != APIDeepSeek {
		return fmt.Errorf("providers: unsupported api type %q", cfg.API)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("providers: model is required for alias %q", alias)
	}
	authType := strings.TrimSpace(string(cfg.Auth.Type))
	if authType != "" && cfg.Auth.Type != AuthAPIKey {
		return fmt.Errorf("providers: unsupported auth type %q (only api_key is supported now)", cfg.Auth.Type)
	}
	if cfg.Auth.Type == "" {
		cfg.Auth.Type = AuthAPIKey
	}
	cfg.Alias = alias
	cfg.Provider = displayName(cfg)
	f.configs[alias] = cfg
	return nil
}

// Config returns the registered config for alias.
func (f *Factory) Config(alias string) (Config, bool) {
	if f == nil {
		return Config{}, false
	}
	cfg, ok := f.configs[strings.ToLower(strings.TrimSpace(alias))]
	return cfg, ok
}

// NewByAlias creates a model provider by alias.
func (f *Factory) NewByAlias(ctx context.Context, alias string) (model.LLM, error) {
	if f == nil {
		return nil, fmt.Errorf("providers: factory is nil")
	}
	alias = strings.ToLower(strings.TrimSpace(alias))
	if alias == "" {
		return nil, fmt.Errorf("providers: model alias is required")
	}
	cfg, ok := f.configs[alias]
	if !ok {
		return nil, fmt.Errorf("providers: unknown model alias %q", alias)
	}
	token, err := resolveToken(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("providers: alias %q: %w", alias, err)
	}

	var llm model.LLM
	switch cfg.API {
	case APIDeepSeek:
		if strings.TrimSpace(cfg.BaseURL) == "" {
			cfg.BaseURL = defaultDeepSeekBaseURL
		}
		llm = newOpenAICompat(cfg, token)
	case APIOpenAICompatible:
		llm = newOpenAICompat(cfg, token)
	case APIOpenAI:
		llm = newOpenAI(cfg, token)
	case APIAnthropic:
		llm = newAnthropic(cfg, token)
	case APIGemini:
		gemini, err := newGemini(ctx, cfg, token)
		if err != nil {
			return nil, err
		}
		llm = gemini
	default:
		return nil, fmt.Errorf("providers: unsupported api type %q", cfg.API)
	}
	if cfg.RequestsPerSecond > 0 {
		llm = WithRateLimit(llm, cfg.Provider, cfg.RequestsPerSecond, cfg.Burst)
	}
	return llm, nil
}

// ListModels returns available aliases from current factory.
func (f *Factory) ListModels() []string {
	if f == nil {
		return nil
	}
	out := make([]string, 0, len(f.configs))
	for k := range f.configs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func resolveToken(cfg AuthConfig) (string, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" && strings.TrimSpace(cfg.TokenEnv) != "" {
		token = strings.TrimSpace(os.Getenv(cfg.TokenEnv))
	}
	if token == "" {
		return "", fmt.Errorf("auth token is empty")
	}
	return token, nil
}
