package providers

import (
	"strings"
	"time"
)

// APIType defines protocol dialect used by a model provider.
type APIType string

const (
	APIOpenAI           APIType = "openai"
	APIOpenAICompatible APIType = "openai_compatible"
	APIGemini           APIType = "gemini"
	APIAnthropic        APIType = "anthropic"
	APIDeepSeek         APIType = "deepseek"
)

// AuthType defines model provider authentication strategy.
type AuthType string

const (
	AuthAPIKey AuthType = "api_key"
)

// AuthConfig is provider-agnostic auth configuration.
type AuthConfig struct {
	Type AuthType
	// TokenEnv names an environment variable consulted when Token is empty.
	TokenEnv string
	Token    string
}

// Config is a provider-agnostic model alias definition.
type Config struct {
	Alias string
	// Provider is the display name used in error events, e.g. "OpenAI".
	Provider     string
	API          APIType
	Model        string
	BaseURL      string
	Headers      map[string]string
	Timeout      time.Duration
	MaxOutputTok int
	Auth         AuthConfig

	// RequestsPerSecond throttles Generate calls per alias. Zero disables.
	RequestsPerSecond float64
	Burst             int
}

const defaultDeepSeekBaseURL = "https://api.deepseek.com/v1"

func displayName(cfg Config) string {
	if name := strings.TrimSpace(cfg.Provider); name != "" {
		return name
	}
	switch cfg.API {
	case APIOpenAI:
		return "OpenAI"
	case APIGemini:
		return "Gemini"
	case APIAnthropic:
		return "Anthropic"
	case APIDeepSeek:
		return "DeepSeek"
	default:
		return "OpenAI-compatible"
	}
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 60 * time.Second
	}
	return d
}

func maxTokens(requested, configured int) int {
	if requested > 0 {
		return requested
	}
	return configured
}
