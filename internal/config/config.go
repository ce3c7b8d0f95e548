// Package config defines the runtime configuration, loaded once at boot from
// an optional YAML file with environment-variable overrides. Nothing reads
// configuration mid-request.
package config

import (
	"time"
)

// Config is the root configuration for the research runtime.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Session SessionConfig `yaml:"session"`
	Channel ChannelConfig `yaml:"channel"`
	Store   StoreConfig   `yaml:"store"`
	Tools   ToolsConfig   `yaml:"tools"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LLMConfig configures the typed dispatcher and its vendors.
type LLMConfig struct {
	// AnthropicAPIKey authenticates against the Anthropic API.
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	// AnthropicBaseURL overrides the Anthropic endpoint when set.
	AnthropicBaseURL string `yaml:"anthropic_base_url"`

	// OpenAIAPIKey authenticates against the OpenAI API.
	OpenAIAPIKey string `yaml:"openai_api_key"`
	// OpenAIBaseURL overrides the OpenAI endpoint when set.
	OpenAIBaseURL string `yaml:"openai_base_url"`

	// Models is the default candidate list, tried in order on each attempt.
	// Entries are "provider/model", e.g. "anthropic/claude-sonnet-4-20250514".
	Models []string `yaml:"models"`

	// Retries is the dispatcher retry budget beyond the first attempt.
	Retries int `yaml:"retries"`

	// CallTimeout bounds a single vendor call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// InteractionLogDir is where per-interaction attempt logs are written.
	InteractionLogDir string `yaml:"interaction_log_dir"`

	// VerboseLogging includes full prompts and responses in attempt logs.
	VerboseLogging bool `yaml:"verbose_logging"`
}

// SessionConfig configures research session limits and the user-session cache.
type SessionConfig struct {
	// TimeLimit bounds a session's wall-clock age from creation.
	TimeLimit time.Duration `yaml:"time_limit"`

	// MaxConversationLength is the history length that triggers compaction.
	MaxConversationLength int `yaml:"max_conversation_length"`

	// PreserveExchanges is the number of recent entries kept through compaction.
	PreserveExchanges int `yaml:"preserve_exchanges"`

	// TokenBudget caps per-session token accounting.
	TokenBudget int `yaml:"token_budget"`

	// IdleTimeout is the user-session idle expiry (T_session_idle).
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ToolTimeout bounds a single tool execution.
	ToolTimeout time.Duration `yaml:"tool_timeout"`
}

// ChannelConfig configures the per-session client channels.
type ChannelConfig struct {
	// HeartbeatInterval is how often the server pings each subscriber.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// HeartbeatTimeout closes a channel with no inbound frames for this long.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	// SubscriberBuffer is the bounded per-subscriber event buffer size.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	// DSN is the sqlite connection string. ":memory:" is valid for tests.
	DSN string `yaml:"dsn"`
}

// ToolsConfig configures the external capabilities behind the tool catalog.
// Families with empty credentials are left out of the catalog.
type ToolsConfig struct {
	// BraveAPIKey authenticates web search against the Brave Search API.
	BraveAPIKey string `yaml:"brave_api_key"`

	// MediaServiceURL is the base URL of the media rendering service.
	MediaServiceURL string `yaml:"media_service_url"`

	// MediaServiceAPIKey authenticates against the media rendering service.
	MediaServiceAPIKey string `yaml:"media_service_api_key"`
}

// AuthConfig configures channel authentication.
type AuthConfig struct {
	// Enabled turns on JWT verification for websocket upgrades.
	Enabled bool `yaml:"enabled"`

	// JWTSecret signs and verifies bearer tokens.
	JWTSecret string `yaml:"jwt_secret"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the documented defaults for every option.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		LLM: LLMConfig{
			Models: []string{
				"anthropic/claude-sonnet-4-20250514",
				"openai/gpt-4o",
			},
			Retries:           2,
			CallTimeout:       60 * time.Second,
			InteractionLogDir: "logs/interactions",
		},
		Session: SessionConfig{
			TimeLimit:             30 * time.Minute,
			MaxConversationLength: 40,
			PreserveExchanges:     6,
			TokenBudget:           200_000,
			IdleTimeout:           30 * time.Minute,
			ToolTimeout:           120 * time.Second,
		},
		Channel: ChannelConfig{
			HeartbeatInterval: 5 * time.Second,
			HeartbeatTimeout:  10 * time.Second,
			SubscriberBuffer:  64,
		},
		Store: StoreConfig{
			DSN: "researchd.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
