package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AGENTCORE_TENANT_ID.
const EnvPrefix = "AGENTCORE"

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
}

// NewLoader creates a new config loader. configPath may be empty.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFile:    ".env",
	}
}

// WithEnvFile sets the dotenv file read before environment overrides.
// An empty path disables it.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Load resolves defaults, the config file, the dotenv file and the
// environment, in increasing precedence.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		// godotenv never overrides variables already set in the environment.
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", l.envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Tenant.Capabilities = normalizeNames(cfg.Tenant.Capabilities)
	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	return l.configPath
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// setDefaults registers every leaf key so environment overrides reach
// Unmarshal even when no config file mentions the key.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("tenant.id", d.Tenant.ID)
	v.SetDefault("tenant.agent_runtime_id", d.Tenant.AgentRuntimeID)
	v.SetDefault("tenant.queue_target", d.Tenant.QueueTarget)
	v.SetDefault("tenant.model_id", d.Tenant.ModelID)
	v.SetDefault("tenant.system_prompt", d.Tenant.SystemPrompt)
	v.SetDefault("tenant.capabilities", d.Tenant.Capabilities)

	v.SetDefault("ai.provider", d.AI.Provider)
	v.SetDefault("ai.api_key", d.AI.APIKey)
	v.SetDefault("ai.base_url", d.AI.BaseURL)

	v.SetDefault("agent.temperature", d.Agent.Temperature)
	v.SetDefault("agent.max_tokens", d.Agent.MaxTokens)
	v.SetDefault("agent.max_turns", d.Agent.MaxTurns)
	v.SetDefault("agent.max_retries", d.Agent.MaxRetries)
	v.SetDefault("agent.retry_base_delay", d.Agent.RetryBaseDelay)

	c := d.Capabilities
	v.SetDefault("capabilities.timeout", c.Timeout)
	v.SetDefault("capabilities.query_timeout", c.QueryTimeout)
	v.SetDefault("capabilities.smtp.host", c.SMTP.Host)
	v.SetDefault("capabilities.smtp.port", c.SMTP.Port)
	v.SetDefault("capabilities.smtp.username", c.SMTP.Username)
	v.SetDefault("capabilities.smtp.password", c.SMTP.Password)
	v.SetDefault("capabilities.smtp.from", c.SMTP.From)
	v.SetDefault("capabilities.smtp.timeout", c.SMTP.Timeout)
	v.SetDefault("capabilities.browser.control_url", c.Browser.ControlURL)
	v.SetDefault("capabilities.browser.chrome_path", c.Browser.ChromePath)
	v.SetDefault("capabilities.browser.headless", c.Browser.Headless)
	v.SetDefault("capabilities.browser.no_sandbox", c.Browser.NoSandbox)
	v.SetDefault("capabilities.browser.page_timeout", c.Browser.PageTimeout)
	v.SetDefault("capabilities.browser.security.allow_file_urls", c.Browser.Security.AllowFileUrls)
	v.SetDefault("capabilities.browser.security.allow_localhost_urls", c.Browser.Security.AllowLocalhostUrls)
	v.SetDefault("capabilities.browser.security.allowed_domains", c.Browser.Security.AllowedDomains)
	v.SetDefault("capabilities.browser.security.blocked_domains", c.Browser.Security.BlockedDomains)
	v.SetDefault("capabilities.web_search.technique", c.WebSearch.Technique)
	v.SetDefault("capabilities.web_search.endpoint", c.WebSearch.Endpoint)
	v.SetDefault("capabilities.web_search.timeout", c.WebSearch.Timeout)

	v.SetDefault("usage.sink", d.Usage.Sink)
	v.SetDefault("usage.nats_url", d.Usage.NATSURL)
	v.SetDefault("usage.buffer_size", d.Usage.BufferSize)
	v.SetDefault("usage.send_timeout", d.Usage.SendTimeout)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.rate_limit_per_minute", d.Server.RateLimitPerMinute)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.console", d.Logging.Console)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.redaction", d.Logging.Redaction)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
}

// normalizeNames trims entries and splits any that still hold commas, so
// both ["a","b"] and ["a, b"] work.
func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
