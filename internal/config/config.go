package config

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/harun/agentcore/pkg/agent"
	"github.com/harun/agentcore/pkg/browser"
	"github.com/harun/agentcore/pkg/tools"
)

// Config represents the process configuration
type Config struct {
	// Tenant identity and agent shape
	Tenant TenantSettings `json:"tenant" mapstructure:"tenant"`

	// Model providers
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Agent loop tuning
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Capability settings
	Capabilities CapabilitiesConfig `json:"capabilities" mapstructure:"capabilities"`

	// Usage delivery
	Usage UsageConfig `json:"usage" mapstructure:"usage"`

	// Inbound HTTP
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// TenantSettings are the values stamped per deployment. They become an
// immutable TenantConfig once loaded.
type TenantSettings struct {
	ID             string   `json:"id" mapstructure:"id"`
	AgentRuntimeID string   `json:"agent_runtime_id" mapstructure:"agent_runtime_id"`
	QueueTarget    string   `json:"queue_target" mapstructure:"queue_target"`
	ModelID        string   `json:"model_id" mapstructure:"model_id"`
	SystemPrompt   string   `json:"system_prompt" mapstructure:"system_prompt"`
	Capabilities   []string `json:"capabilities" mapstructure:"capabilities"`
}

// AIConfig holds AI provider configuration. A single provider can be given
// with Provider/APIKey/BaseURL; Profiles takes precedence when set.
type AIConfig struct {
	Provider string      `json:"provider" mapstructure:"provider"`
	APIKey   string      `json:"api_key" mapstructure:"api_key"`
	BaseURL  string      `json:"base_url" mapstructure:"base_url"`
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// AgentConfig tunes the model loop.
type AgentConfig struct {
	Temperature    float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens      int           `json:"max_tokens" mapstructure:"max_tokens"`
	MaxTurns       int           `json:"max_turns" mapstructure:"max_turns"`
	MaxRetries     int           `json:"max_retries" mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `json:"retry_base_delay" mapstructure:"retry_base_delay"`
}

// CapabilitiesConfig configures the capability implementations.
type CapabilitiesConfig struct {
	// Timeout bounds every capability call; 0 disables it.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	Databases    map[string]tools.DatabaseSettings `json:"databases" mapstructure:"databases"`
	QueryTimeout time.Duration                     `json:"query_timeout" mapstructure:"query_timeout"`

	SMTP tools.SMTPSettings `json:"smtp" mapstructure:"smtp"`

	Browser browser.Config `json:"browser" mapstructure:"browser"`

	WebSearch WebSearchConfig `json:"web_search" mapstructure:"web_search"`
}

// WebSearchConfig selects how web_search fetches result pages.
type WebSearchConfig struct {
	Technique string        `json:"technique" mapstructure:"technique"` // http, browser
	Endpoint  string        `json:"endpoint" mapstructure:"endpoint"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
}

// UsageConfig holds usage reporter configuration
type UsageConfig struct {
	Sink        string        `json:"sink" mapstructure:"sink"` // nats, log
	NATSURL     string        `json:"nats_url" mapstructure:"nats_url"`
	BufferSize  int           `json:"buffer_size" mapstructure:"buffer_size"`
	SendTimeout time.Duration `json:"send_timeout" mapstructure:"send_timeout"`
}

// ServerConfig holds inbound HTTP server configuration
type ServerConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// RateLimitPerMinute caps invocations per client IP; 0 disables it.
	RateLimitPerMinute int `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
	Exporter    string  `json:"exporter" mapstructure:"exporter"` // none, stdout
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Tenant: TenantSettings{
			SystemPrompt: "You are a helpful assistant.",
			Capabilities: []string{},
		},
		AI: AIConfig{
			Provider: "anthropic",
			Profiles: []AIProfile{},
		},
		Agent: AgentConfig{
			Temperature:    0.7,
			MaxTokens:      4096,
			MaxTurns:       10,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
		},
		Capabilities: CapabilitiesConfig{
			Timeout:      0,
			Databases:    map[string]tools.DatabaseSettings{},
			QueryTimeout: 30 * time.Second,
			SMTP: tools.SMTPSettings{
				Port:    587,
				Timeout: 30 * time.Second,
			},
			Browser: browser.DefaultConfig(),
			WebSearch: WebSearchConfig{
				Technique: tools.TechniqueHTTP,
				Endpoint:  tools.DuckDuckGoEndpoint,
				Timeout:   15 * time.Second,
			},
		},
		Usage: UsageConfig{
			Sink:        "log",
			NATSURL:     "nats://127.0.0.1:4222",
			BufferSize:  256,
			SendTimeout: 5 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "agentcore",
			SampleRatio: 1,
			Exporter:    "none",
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.AI.APIKey = mask(c.AI.APIKey)
	masked.AI.Profiles = make([]AIProfile, len(c.AI.Profiles))
	for i, p := range c.AI.Profiles {
		p.APIKey = mask(p.APIKey)
		masked.AI.Profiles[i] = p
	}
	masked.Capabilities.SMTP.Password = mask(c.Capabilities.SMTP.Password)
	masked.Capabilities.Databases = make(map[string]tools.DatabaseSettings, len(c.Capabilities.Databases))
	for name, db := range c.Capabilities.Databases {
		db.DSN = mask(db.DSN)
		masked.Capabilities.Databases[name] = db
	}

	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}

// AuthProfiles returns the provider profiles for the agent runner.
func (c *Config) AuthProfiles() []agent.AuthProfile {
	if len(c.AI.Profiles) == 0 {
		if c.AI.Provider == "" && c.AI.APIKey == "" {
			return nil
		}
		return []agent.AuthProfile{{
			ID:       "default",
			Provider: c.AI.Provider,
			APIKey:   c.AI.APIKey,
			BaseURL:  c.AI.BaseURL,
		}}
	}

	profiles := make([]agent.AuthProfile, 0, len(c.AI.Profiles))
	for i, p := range c.AI.Profiles {
		id := p.ID
		if id == "" {
			id = p.Provider
		}
		priority := p.Priority
		if priority == 0 {
			priority = i
		}
		profiles = append(profiles, agent.AuthProfile{
			ID:       id,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			Priority: priority,
		})
	}
	return profiles
}

// ToolSettings maps capability configuration onto the toolbox.
func (c *Config) ToolSettings() tools.Settings {
	return tools.Settings{
		Databases:       c.Capabilities.Databases,
		QueryTimeout:    c.Capabilities.QueryTimeout,
		SMTP:            c.Capabilities.SMTP,
		Browser:         c.Capabilities.Browser,
		SearchTechnique: c.Capabilities.WebSearch.Technique,
		SearchEndpoint:  c.Capabilities.WebSearch.Endpoint,
		SearchTimeout:   c.Capabilities.WebSearch.Timeout,
	}
}
