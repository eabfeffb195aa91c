// Package config loads, defaults, and validates the process configuration.
// Files are YAML or JSON5, environment-expanded before parse, and decoded
// strictly so a typoed key fails fast instead of silently applying defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full process configuration.
type Config struct {
	// Workspace is the root directory for file tools.
	Workspace string `yaml:"workspace"`

	LLM           LLMConfig           `yaml:"llm"`
	Context       ContextConfig       `yaml:"context"`
	Tools         ToolsConfig         `yaml:"tools"`
	Agent         AgentConfig         `yaml:"agent"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// LLMConfig selects and tunes the model client.
type LLMConfig struct {
	// Client is anthropic, openai, gemini, or bedrock.
	Client string `yaml:"client"`

	// Model overrides the client's default model.
	Model string `yaml:"model"`

	MaxOutputTokens int     `yaml:"max_output_tokens"`
	MaxRetries      int     `yaml:"max_retries"`
	Temperature     float64 `yaml:"temperature"`
}

// ContextConfig tunes the history budget strategy.
type ContextConfig struct {
	TokenBudget int `yaml:"token_budget"`

	// Strategy is truncate, summarize, or none.
	Strategy string `yaml:"strategy"`

	// Head is the recent-turn count the summarizer keeps verbatim.
	Head int `yaml:"head"`
}

// ToolsConfig tunes tool dispatch.
type ToolsConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxOutputChars int           `yaml:"max_output_chars"`
}

// AgentConfig tunes the loop.
type AgentConfig struct {
	MaxTurns int  `yaml:"max_turns"`
	Reviewer bool `yaml:"reviewer"`

	// MemoryTool is compactify-memory, simple, or none.
	MemoryTool string `yaml:"memory_tool"`
}

// SessionsConfig selects the session store backend.
type SessionsConfig struct {
	// Backend is memory, sqlite, or postgres.
	Backend string `yaml:"backend"`

	// Path is the sqlite database file.
	Path string `yaml:"path"`

	// URL is the postgres DSN.
	URL string `yaml:"url"`

	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig drives the serve-mode sweeper.
type RetentionConfig struct {
	// MaxAge deletes sessions idle longer than this. Zero disables.
	MaxAge time.Duration `yaml:"max_age"`

	// Schedule is a cron expression; empty selects hourly.
	Schedule string `yaml:"schedule"`
}

// ServerConfig configures serve mode.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// OTLPEndpoint enables trace export when set, host:port.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// OTLPInsecure disables TLS on the collector connection.
	OTLPInsecure bool `yaml:"otlp_insecure"`

	SampleRate float64 `yaml:"sample_rate"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Workspace == "" {
		c.Workspace = "."
	}
	if c.LLM.Client == "" {
		c.LLM.Client = "anthropic"
	}
	if c.LLM.MaxOutputTokens <= 0 {
		c.LLM.MaxOutputTokens = 32768
	}
	if c.LLM.MaxRetries <= 0 {
		c.LLM.MaxRetries = 4
	}
	if c.Context.TokenBudget <= 0 {
		c.Context.TokenBudget = 120000
	}
	if c.Context.Strategy == "" {
		c.Context.Strategy = "truncate"
	}
	if c.Context.Head <= 0 {
		c.Context.Head = 10
	}
	if c.Tools.Timeout <= 0 {
		c.Tools.Timeout = 120 * time.Second
	}
	if c.Agent.MaxTurns <= 0 {
		c.Agent.MaxTurns = 200
	}
	if c.Agent.MemoryTool == "" {
		c.Agent.MemoryTool = "none"
	}
	if c.Sessions.Backend == "" {
		c.Sessions.Backend = "memory"
	}
	if c.Sessions.Retention.Schedule == "" {
		c.Sessions.Retention.Schedule = "0 * * * *"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port <= 0 {
		c.Server.Port = 8420
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// applyEnv layers the supported environment overrides on top of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("TOKEN_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Context.TokenBudget = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects values the rest of the system cannot honor.
func (c *Config) Validate() error {
	switch c.LLM.Client {
	case "anthropic", "openai", "gemini", "google", "bedrock":
	default:
		return fmt.Errorf("llm.client %q is not one of anthropic, openai, gemini, bedrock", c.LLM.Client)
	}
	switch c.Context.Strategy {
	case "truncate", "summarize", "none":
	default:
		return fmt.Errorf("context.strategy %q is not one of truncate, summarize, none", c.Context.Strategy)
	}
	switch c.Sessions.Backend {
	case "memory":
	case "sqlite":
		if c.Sessions.Path == "" {
			return fmt.Errorf("sessions.backend sqlite requires sessions.path")
		}
	case "postgres":
		if c.Sessions.URL == "" {
			return fmt.Errorf("sessions.backend postgres requires sessions.url")
		}
	default:
		return fmt.Errorf("sessions.backend %q is not one of memory, sqlite, postgres", c.Sessions.Backend)
	}
	switch c.Agent.MemoryTool {
	case "compactify-memory", "simple", "none":
	default:
		return fmt.Errorf("agent.memory_tool %q is not one of compactify-memory, simple, none", c.Agent.MemoryTool)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}
