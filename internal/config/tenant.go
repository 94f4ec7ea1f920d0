package config

// TenantConfig is the immutable per-tenant snapshot built at startup and
// shared read-only by every request.
type TenantConfig struct {
	id             string
	agentRuntimeID string
	queueTarget    string
	modelID        string
	systemPrompt   string
	capabilities   []string
}

// NewTenantConfig snapshots s. Duplicate capability names are collapsed
// while keeping their first position.
func NewTenantConfig(s TenantSettings) *TenantConfig {
	seen := make(map[string]bool, len(s.Capabilities))
	caps := make([]string, 0, len(s.Capabilities))
	for _, name := range s.Capabilities {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		caps = append(caps, name)
	}

	return &TenantConfig{
		id:             s.ID,
		agentRuntimeID: s.AgentRuntimeID,
		queueTarget:    s.QueueTarget,
		modelID:        s.ModelID,
		systemPrompt:   s.SystemPrompt,
		capabilities:   caps,
	}
}

func (t *TenantConfig) ID() string             { return t.id }
func (t *TenantConfig) AgentRuntimeID() string { return t.agentRuntimeID }
func (t *TenantConfig) QueueTarget() string    { return t.queueTarget }
func (t *TenantConfig) ModelID() string        { return t.modelID }
func (t *TenantConfig) SystemPrompt() string   { return t.systemPrompt }

// Capabilities returns a copy of the enabled capability names.
func (t *TenantConfig) Capabilities() []string {
	out := make([]string, len(t.capabilities))
	copy(out, t.capabilities)
	return out
}

// HasCapability reports whether name is enabled.
func (t *TenantConfig) HasCapability(name string) bool {
	for _, c := range t.capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// TenantConfig snapshots the tenant section.
func (c *Config) TenantConfig() *TenantConfig {
	return NewTenantConfig(c.Tenant)
}
