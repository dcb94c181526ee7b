// Package config loads rostra configuration.
//
// Values come from built-in defaults, an optional YAML file and ROSTRA_
// environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/OnslaughtSnail/rostra/internal/logging"
	"github.com/OnslaughtSnail/rostra/kernel/model/providers"
)

// Config holds the complete rostra configuration.
type Config struct {
	Server     ServerConfig              `koanf:"server"`
	Debate     DebateConfig              `koanf:"debate"`
	Broadcast  BroadcastConfig           `koanf:"broadcast"`
	Providers  map[string]ProviderConfig `koanf:"providers"`
	Transcript TranscriptConfig          `koanf:"transcript"`
	Logging    logging.Config            `koanf:"logging"`
	Metrics    MetricsConfig             `koanf:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	CORSOrigins     []string `koanf:"cors_origins"`
	AllowBulkStop   bool     `koanf:"allow_bulk_stop"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DebateConfig holds turn scheduling settings.
type DebateConfig struct {
	SpeakerA        string `koanf:"speaker_a"`
	SpeakerB        string `koanf:"speaker_b"`
	MaxOutputTokens int    `koanf:"max_output_tokens"`
	// PacingDelay between turns; 0s disables pacing.
	PacingDelay Duration `koanf:"pacing_delay"`
	// MaxTurns ends a debate after this many turns; 0 means unbounded.
	MaxTurns       int      `koanf:"max_turns"`
	SubscriberWait Duration `koanf:"subscriber_wait"`
}

// BroadcastConfig holds event stream settings.
type BroadcastConfig struct {
	// HeartbeatInterval between keep-alives; 0s disables them.
	HeartbeatInterval Duration `koanf:"heartbeat_interval"`
	SendTimeout       Duration `koanf:"send_timeout"`
	Buffer            int      `koanf:"buffer"`
}

// Pacing is PacingDelay in runtime terms, where a negative value disables
// the delay and zero selects the built-in default.
func (d DebateConfig) Pacing() time.Duration {
	return disabledIfZero(d.PacingDelay)
}

// Heartbeat is HeartbeatInterval in broadcaster terms.
func (b BroadcastConfig) Heartbeat() time.Duration {
	return disabledIfZero(b.HeartbeatInterval)
}

func disabledIfZero(d Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d.Duration()
}

// ProviderConfig is one model alias.
type ProviderConfig struct {
	API               string            `koanf:"api"`
	Provider          string            `koanf:"provider"`
	Model             string            `koanf:"model"`
	BaseURL           string            `koanf:"base_url"`
	APIKey            Secret            `koanf:"api_key"`
	Timeout           Duration          `koanf:"timeout"`
	RequestsPerSecond float64           `koanf:"requests_per_second"`
	Burst             int               `koanf:"burst"`
	Headers           map[string]string `koanf:"headers"`
}

// TranscriptConfig holds the optional sqlite transcript mirror.
type TranscriptConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// apiKeyEnv lists the conventional key variables per API, in lookup order.
var apiKeyEnv = map[providers.APIType][]string{
	providers.APIOpenAI:           {"OPENAI_API_KEY"},
	providers.APIOpenAICompatible: {"OPENAI_API_KEY"},
	providers.APIGemini:           {"GEMINI_API_KEY", "GOOGLE_GEMINI_API_KEY", "GOOGLE_API_KEY"},
	providers.APIAnthropic:        {"ANTHROPIC_API_KEY"},
	providers.APIDeepSeek:         {"DEEPSEEK_API_KEY"},
}

// applyDefaults sets values the default layer cannot express.
func applyDefaults(cfg *Config) {
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Debate.MaxOutputTokens == 0 {
		cfg.Debate.MaxOutputTokens = 200
	}
	if cfg.Broadcast.Buffer == 0 {
		cfg.Broadcast.Buffer = 64
	}
	if cfg.Logging.Fields == nil {
		cfg.Logging.Fields = map[string]string{"service": "rostra"}
	}
	normalized := make(map[string]ProviderConfig, len(cfg.Providers))
	for alias, p := range cfg.Providers {
		p.API = strings.ToLower(strings.TrimSpace(p.API))
		if p.API == "" {
			p.API = string(providers.APIOpenAICompatible)
		}
		normalized[strings.ToLower(strings.TrimSpace(alias))] = p
	}
	cfg.Providers = normalized
	cfg.Debate.SpeakerA = strings.ToLower(strings.TrimSpace(cfg.Debate.SpeakerA))
	cfg.Debate.SpeakerB = strings.ToLower(strings.TrimSpace(cfg.Debate.SpeakerB))
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Debate.MaxOutputTokens <= 0 {
		errs = append(errs, fmt.Errorf("debate.max_output_tokens must be positive"))
	}
	if c.Debate.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("debate.max_turns must be >= 0"))
	}
	if c.Broadcast.Buffer <= 0 {
		errs = append(errs, fmt.Errorf("broadcast.buffer must be positive"))
	}
	for _, key := range []struct{ field, alias string }{
		{"debate.speaker_a", c.Debate.SpeakerA},
		{"debate.speaker_b", c.Debate.SpeakerB},
	} {
		if strings.TrimSpace(key.alias) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key.field))
			continue
		}
		if _, ok := c.Providers[key.alias]; !ok {
			errs = append(errs, fmt.Errorf("%s references unknown provider %q", key.field, key.alias))
		}
	}
	for _, alias := range c.providerAliases() {
		p := c.Providers[alias]
		if _, ok := apiKeyEnv[providers.APIType(p.API)]; !ok {
			errs = append(errs, fmt.Errorf("providers.%s.api %q is not supported", alias, p.API))
		}
		if strings.TrimSpace(p.Model) == "" {
			errs = append(errs, fmt.Errorf("providers.%s.model is required", alias))
		}
		if p.RequestsPerSecond < 0 {
			errs = append(errs, fmt.Errorf("providers.%s.requests_per_second must be >= 0", alias))
		}
	}
	if c.Transcript.Enabled && strings.TrimSpace(c.Transcript.Path) == "" {
		errs = append(errs, fmt.Errorf("transcript.path is required when transcript is enabled"))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Config) providerAliases() []string {
	aliases := make([]string, 0, len(c.Providers))
	for alias := range c.Providers {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// ProviderConfigs converts the provider section for providers.Factory.
// Empty keys fall back to the provider's conventional variable.
func (c *Config) ProviderConfigs() []providers.Config {
	out := make([]providers.Config, 0, len(c.Providers))
	for _, alias := range c.providerAliases() {
		p := c.Providers[alias]
		api := providers.APIType(p.API)
		out = append(out, providers.Config{
			Alias:        alias,
			Provider:     p.Provider,
			API:          api,
			Model:        p.Model,
			BaseURL:      p.BaseURL,
			Headers:      p.Headers,
			Timeout:      p.Timeout.Duration(),
			MaxOutputTok: c.Debate.MaxOutputTokens,
			Auth: providers.AuthConfig{
				Type:     providers.AuthAPIKey,
				Token:    p.APIKey.Value(),
				TokenEnv: keyEnvFor(api),
			},
			RequestsPerSecond: p.RequestsPerSecond,
			Burst:             p.Burst,
		})
	}
	return out
}

// keyEnvFor returns the first conventional key variable that is set, or the
// primary one so error messages name it.
func keyEnvFor(api providers.APIType) string {
	names := apiKeyEnv[api]
	for _, name := range names {
		if strings.TrimSpace(os.Getenv(name)) != "" {
			return name
		}
	}
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
