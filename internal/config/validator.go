package config

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Deployment placeholders look like TENANT_ID_VALUE until stamped.
	placeholderPattern    = regexp.MustCompile(`^[A-Z_]+_VALUE$`)
	capabilityNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateRequired rejects empty values.
func (v *Validator) ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// ValidatePlaceholder rejects values the deployment never replaced.
func (v *Validator) ValidatePlaceholder(field, value string) error {
	if placeholderPattern.MatchString(strings.TrimSpace(value)) {
		return fmt.Errorf("%s is still the unstamped placeholder %q", field, value)
	}
	return nil
}

// ValidateProvider validates a provider name
func (v *Validator) ValidateProvider(provider string) error {
	switch provider {
	case "anthropic", "openai":
		return nil
	case "":
		return fmt.Errorf("provider is required")
	default:
		return fmt.Errorf("invalid provider %s (must be: anthropic, openai)", provider)
	}
}

// ValidateAPIKey validates an API key format. Keys for a custom base URL
// are only checked for presence.
func (v *Validator) ValidateAPIKey(key, provider, baseURL string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}
	if baseURL != "" {
		return nil
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateCapabilityName checks the syntax of a capability name. Whether the
// name is implemented is decided when the registry is built.
func (v *Validator) ValidateCapabilityName(name string) error {
	if !capabilityNamePattern.MatchString(name) {
		return fmt.Errorf("invalid capability name %q", name)
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSink validates the usage sink
func (v *Validator) ValidateSink(sink string) error {
	switch sink {
	case "nats", "log":
		return nil
	default:
		return fmt.Errorf("invalid usage sink: %s (must be one of: nats, log)", sink)
	}
}

// ValidateTracing validates the tracing sampler and exporter
func (v *Validator) ValidateTracing(cfg TracingConfig) error {
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %g", cfg.SampleRatio)
	}
	switch cfg.Exporter {
	case "", "none", "stdout":
		return nil
	default:
		return fmt.Errorf("invalid tracing exporter: %s (must be one of: none, stdout)", cfg.Exporter)
	}
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error
	add := func(err error) {
		if err != nil {
			errors = append(errors, err)
		}
	}

	// Tenant
	add(v.ValidateRequired("tenant.id", cfg.Tenant.ID))
	add(v.ValidateRequired("tenant.model_id", cfg.Tenant.ModelID))
	stamped := map[string]string{
		"tenant.id":               cfg.Tenant.ID,
		"tenant.agent_runtime_id": cfg.Tenant.AgentRuntimeID,
		"tenant.queue_target":     cfg.Tenant.QueueTarget,
		"tenant.model_id":         cfg.Tenant.ModelID,
		"tenant.system_prompt":    cfg.Tenant.SystemPrompt,
	}
	for _, field := range []string{"tenant.id", "tenant.agent_runtime_id", "tenant.queue_target", "tenant.model_id", "tenant.system_prompt"} {
		add(v.ValidatePlaceholder(field, stamped[field]))
	}
	for _, name := range cfg.Tenant.Capabilities {
		if err := v.ValidatePlaceholder("tenant.capabilities", name); err != nil {
			add(err)
			continue
		}
		add(v.ValidateCapabilityName(name))
	}

	// AI profiles
	profiles := cfg.AuthProfiles()
	if len(profiles) == 0 {
		add(fmt.Errorf("no AI credentials configured: at least one AI profile is required"))
	}
	for i, profile := range profiles {
		if err := v.ValidateProvider(profile.Provider); err != nil {
			add(fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			continue
		}
		if err := v.ValidateAPIKey(profile.APIKey, profile.Provider, profile.BaseURL); err != nil {
			add(fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
		}
	}

	// Agent
	add(v.ValidateTemperature(cfg.Agent.Temperature))
	if cfg.Agent.MaxTokens != 0 {
		add(v.ValidateMaxTokens(cfg.Agent.MaxTokens))
	}
	if cfg.Agent.MaxTurns < 0 {
		add(fmt.Errorf("agent.max_turns must be >= 0"))
	}
	if cfg.Agent.MaxRetries < 0 {
		add(fmt.Errorf("agent.max_retries must be >= 0"))
	}

	// Capabilities
	if cfg.Capabilities.Timeout < 0 {
		add(fmt.Errorf("capabilities.timeout must be >= 0"))
	}

	// Usage
	add(v.ValidateSink(cfg.Usage.Sink))
	if cfg.Usage.Sink == "nats" {
		add(v.ValidateRequired("tenant.queue_target", cfg.Tenant.QueueTarget))
		add(v.ValidateRequired("usage.nats_url", cfg.Usage.NATSURL))
	}
	if cfg.Usage.BufferSize < 0 {
		add(fmt.Errorf("usage.buffer_size must be >= 0"))
	}

	// Server
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		add(fmt.Errorf("server.port must be between 0 and 65535, got %d", cfg.Server.Port))
	}

	if cfg.Server.RateLimitPerMinute < 0 {
		add(fmt.Errorf("server.rate_limit_per_minute must be >= 0"))
	}

	// Logging
	add(v.ValidateLogLevel(cfg.Logging.Level))

	// Tracing
	add(v.ValidateTracing(cfg.Tracing))

	return errors
}
