package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix scopes environment overrides. Double underscores separate
	// levels: ROSTRA_SERVER__PORT -> server.port.
	EnvPrefix = "ROSTRA_"
)

const defaultYAML = `
server:
  host: 0.0.0.0
  port: 3000
  allow_bulk_stop: true
  shutdown_timeout: 10s
debate:
  speaker_a: openai
  speaker_b: gemini
  max_output_tokens: 200
  pacing_delay: 2s
  max_turns: 20
  subscriber_wait: 10s
broadcast:
  heartbeat_interval: 30s
  send_timeout: 5s
  buffer: 64
providers:
  openai:
    api: openai
    provider: OpenAI
    model: gpt-4o-mini
    timeout: 60s
  gemini:
    api: gemini
    provider: Gemini
    model: gemini-1.5-flash-8b
    timeout: 60s
transcript:
  enabled: false
  path: data/transcripts.db
logging:
  level: info
  format: json
  output: stderr
metrics:
  enabled: true
`

// Load reads configuration from the YAML file at path, then overrides it
// with environment variables. An empty path skips the file.
//
// Precedence (highest to lowest):
//  1. ROSTRA_ environment variables
//  2. the YAML file
//  3. built-in defaults
func Load(path string) (*Config, error) {
	var content []byte
	if strings.TrimSpace(path) != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}
		content, err = io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return LoadBytes(content)
}

// LoadBytes is Load for in-memory YAML.
func LoadBytes(content []byte) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Example: ROSTRA_PROVIDERS__OPENAI__API_KEY -> providers.openai.api_key
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		path := envKey(key)
		if path == "" {
			return "", nil
		}
		if strings.HasSuffix(path, ".cors_origins") {
			return path, splitList(value)
		}
		return path, value
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func envKey(key string) string {
	trimmed := strings.TrimPrefix(key, EnvPrefix)
	if trimmed == key || trimmed == "" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(trimmed), "__", ".")
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
