package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds the runtime configuration: defaults, then the YAML file at
// path (optional, empty path skips it), then environment overrides. A .env
// file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays well-known environment variables onto the config.
func applyEnv(cfg *Config) {
	setString(&cfg.LLM.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.LLM.AnthropicBaseURL, "ANTHROPIC_BASE_URL")
	setString(&cfg.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&cfg.Store.DSN, "RESEARCHD_STORE_DSN")
	setString(&cfg.Tools.BraveAPIKey, "BRAVE_API_KEY")
	setString(&cfg.Tools.MediaServiceURL, "RESEARCHD_MEDIA_SERVICE_URL")
	setString(&cfg.Tools.MediaServiceAPIKey, "RESEARCHD_MEDIA_SERVICE_API_KEY")
	setString(&cfg.Auth.JWTSecret, "RESEARCHD_JWT_SECRET")
	setString(&cfg.Log.Level, "RESEARCHD_LOG_LEVEL")
	setString(&cfg.Server.Host, "RESEARCHD_HOST")
	setInt(&cfg.Server.Port, "RESEARCHD_PORT")
	setBool(&cfg.LLM.VerboseLogging, "RESEARCHD_VERBOSE_LLM_LOGS")
	setDuration(&cfg.Session.TimeLimit, "RESEARCHD_SESSION_TIME_LIMIT")
	setDuration(&cfg.Session.IdleTimeout, "RESEARCHD_SESSION_IDLE_TIMEOUT")

	if models := os.Getenv("RESEARCHD_MODELS"); models != "" {
		parts := strings.Split(models, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			cfg.LLM.Models = out
		}
	}
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	if len(c.LLM.Models) == 0 {
		return fmt.Errorf("config: llm.models must not be empty")
	}
	for _, m := range c.LLM.Models {
		if !strings.Contains(m, "/") {
			return fmt.Errorf("config: model %q must be provider/model", m)
		}
	}
	if c.Session.PreserveExchanges >= c.Session.MaxConversationLength {
		return fmt.Errorf("config: preserve_exchanges must be below max_conversation_length")
	}
	if c.Channel.SubscriberBuffer <= 0 {
		return fmt.Errorf("config: channel.subscriber_buffer must be positive")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth enabled without jwt_secret")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
