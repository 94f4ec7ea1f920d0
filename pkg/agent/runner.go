package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/agentcore/internal/observability"
	"github.com/harun/agentcore/internal/tracing"
	"github.com/harun/agentcore/pkg/capability"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultMaxTurns       = 10
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = time.Second
	profileCooldownStep   = time.Minute
)

// ToolSet is the view of the capability registry the runner needs.
type ToolSet interface {
	Definitions() []capability.ToolDefinition
	Invoke(ctx context.Context, name string, input capability.Input) string
}

// Config holds runner configuration
type Config struct {
	Tools           ToolSet
	Profiles        []AuthProfile
	ProviderFactory ProviderCreator
	Logger          zerolog.Logger

	Model          string
	Temperature    float64
	MaxTokens      int
	MaxRetries     int
	MaxTurns       int
	RetryBaseDelay time.Duration
}

// Runner drives one model conversation per Invoke: call the provider,
// execute requested tools, feed results back, until the model answers.
type Runner struct {
	tools           ToolSet
	providerFactory ProviderCreator
	logger          zerolog.Logger

	model          string
	temperature    float64
	maxTokens      int
	maxRetries     int
	maxTurns       int
	retryBaseDelay time.Duration

	authProfiles []AuthProfile
	authMu       sync.Mutex
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative")
	}

	providerFactory := cfg.ProviderFactory
	if providerFactory == nil {
		providerFactory = &ProviderFactory{}
	}

	r := &Runner{
		tools:           cfg.Tools,
		providerFactory: providerFactory,
		logger:          cfg.Logger,
		model:           cfg.Model,
		temperature:     cfg.Temperature,
		maxTokens:       cfg.MaxTokens,
		maxRetries:      cfg.MaxRetries,
		maxTurns:        cfg.MaxTurns,
		retryBaseDelay:  cfg.RetryBaseDelay,
		authProfiles:    append([]AuthProfile(nil), cfg.Profiles...),
	}
	if r.maxRetries == 0 {
		r.maxRetries = defaultMaxRetries
	}
	if r.maxTurns <= 0 {
		r.maxTurns = defaultMaxTurns
	}
	if r.retryBaseDelay <= 0 {
		r.retryBaseDelay = defaultRetryBaseDelay
	}

	return r, nil
}

// Invoke answers message under systemPrompt, executing any tool calls the
// model makes.
func (r *Runner) Invoke(ctx context.Context, systemPrompt, message string) (*Result, error) {
	if tracing.GetRunID(ctx) == "" {
		ctx = tracing.WithRunID(ctx, tracing.NewRunID())
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"agentcore.agent",
		"agent.invoke",
		attribute.String("model", r.model),
	)
	defer span.End()

	messages := []AgentMessage{{Role: "user", Content: message}}

	var tools []capability.ToolDefinition
	if r.tools != nil {
		tools = r.tools.Definitions()
	}

	result, err := r.executeWithFailover(ctx, systemPrompt, messages, tools)
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, err
	}

	if result.Usage != nil {
		span.SetAttributes(
			attribute.Int64("usage.input_tokens", int64(result.Usage.InputTokens)),
			attribute.Int64("usage.output_tokens", int64(result.Usage.OutputTokens)),
		)
	}
	return result, nil
}

// executeWithFailover executes with auth profile failover
func (r *Runner) executeWithFailover(ctx context.Context, systemPrompt string, messages []AgentMessage, tools []capability.ToolDefinition) (*Result, error) {
	r.authMu.Lock()
	profiles := make([]AuthProfile, len(r.authProfiles))
	copy(profiles, r.authProfiles)
	r.authMu.Unlock()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	sortProfilesByPriority(profiles)
	now := time.Now()
	candidates := availableProfiles(profiles, now)
	if c := candidates[0].CooldownUntil; c != nil && *c > now.UnixMilli() {
		logger.Warn().
			Str("profile_id", candidates[0].ID).
			Msg("Every profile is cooling down, trying the one that recovers first")
	}

	var lastErr error

	for _, profile := range candidates {
		profileStart := time.Now()
		logger.Debug().Str("profile_id", profile.ID).Msg("Trying auth profile")

		provider, err := r.providerFactory.NewProvider(profile)
		if err != nil {
			lastErr = err
			observability.RecordModelInvocation(profile.Provider, time.Since(profileStart), false)
			logger.Warn().
				Str("profile_id", profile.ID).
				Err(err).
				Msg("Failed to create provider")
			continue
		}

		result, err := r.executeWithProvider(ctx, provider, systemPrompt, messages, tools)
		if err == nil {
			r.updateProfileSuccess(profile.ID)
			observability.RecordModelInvocation(provider.Provider(), time.Since(profileStart), true)
			if result.Usage != nil {
				observability.RecordTokens(result.Usage.InputTokens, result.Usage.OutputTokens)
			}
			return result, nil
		}

		lastErr = err
		observability.RecordModelInvocation(provider.Provider(), time.Since(profileStart), false)
		logger.Warn().
			Str("profile_id", profile.ID).
			Err(err).
			Msg("Auth profile failed")

		// Only provider-side trouble says anything about the profile. Caller
		// cancellation and request errors stay with this request.
		if ctx.Err() != nil || !IsRetryableError(err) {
			return nil, err
		}
		r.updateProfileFailure(profile.ID)
	}

	logger.Error().Err(lastErr).Msg("All auth profiles failed")
	return nil, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

// executeWithProvider handles the tool execution loop for one provider.
func (r *Runner) executeWithProvider(ctx context.Context, provider LLMProvider, systemPrompt string, messages []AgentMessage, tools []capability.ToolDefinition) (*Result, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"agentcore.agent",
		"agent.execute_with_provider",
		attribute.String("provider", provider.Provider()),
	)
	defer span.End()

	currentMessages := append([]AgentMessage(nil), messages...)
	allToolCalls := []ToolCall{}
	var usage *UsageMetrics

	for turn := 0; turn < r.maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			tracing.FailSpan(span, err)
			return nil, fmt.Errorf("invocation cancelled: %w", err)
		}

		response, err := r.callLLMWithRetry(ctx, provider, systemPrompt, currentMessages, tools)
		if err != nil {
			tracing.FailSpan(span, err)
			return nil, err
		}

		if response.Usage != nil {
			if usage == nil {
				usage = &UsageMetrics{}
			}
			usage.Add(response.Usage)
		}

		if len(response.ToolCalls) == 0 {
			return &Result{
				Response:  response.Content,
				ToolCalls: allToolCalls,
				Usage:     usage,
			}, nil
		}

		currentMessages = append(currentMessages, AgentMessage{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, toolCall := range response.ToolCalls {
			output := r.invokeTool(ctx, toolCall)
			currentMessages = append(currentMessages, AgentMessage{
				Role:       "tool",
				Content:    output,
				ToolCallID: toolCall.ID,
			})
		}

		allToolCalls = append(allToolCalls, response.ToolCalls...)
	}

	err := fmt.Errorf("maximum tool execution turns (%d) exceeded", r.maxTurns)
	tracing.FailSpan(span, err)
	return nil, err
}

func (r *Runner) invokeTool(ctx context.Context, call ToolCall) string {
	if r.tools == nil {
		return fmt.Sprintf("Error: unknown capability '%s'", call.Name)
	}

	logger := tracing.LoggerFromContext(ctx, r.logger)
	logger.Debug().
		Str("tool", call.Name).
		Str("tool_call_id", call.ID).
		Msg("Executing tool call")

	return r.tools.Invoke(ctx, call.Name, capability.Input(call.Parameters))
}

// callLLMWithRetry calls LLM with exponential backoff retry
func (r *Runner) callLLMWithRetry(ctx context.Context, provider LLMProvider, systemPrompt string, messages []AgentMessage, tools []capability.ToolDefinition) (*LLMResponse, error) {
	request := LLMRequest{
		Model:        r.model,
		Messages:     messages,
		Tools:        tools,
		Temperature:  r.temperature,
		MaxTokens:    r.maxTokens,
		SystemPrompt: systemPrompt,
	}

	var lastErr error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		response, err := provider.Call(ctx, request)
		if err == nil {
			if response == nil {
				return nil, fmt.Errorf("provider %s returned no response", provider.Provider())
			}
			return response, nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return nil, err
		}

		if attempt == r.maxRetries-1 {
			break
		}

		delay := r.retryBaseDelay * time.Duration(1<<attempt)
		r.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", r.maxRetries, lastErr)
}

// updateProfileSuccess resets failure count for a profile
func (r *Runner) updateProfileSuccess(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount = 0
			r.authProfiles[i].CooldownUntil = nil
			break
		}
	}
}

// updateProfileFailure puts a profile in a cooldown that grows with each
// consecutive failure.
func (r *Runner) updateProfileFailure(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount++
			until := time.Now().Add(profileCooldownStep * time.Duration(r.authProfiles[i].FailureCount)).UnixMilli()
			r.authProfiles[i].CooldownUntil = &until
			break
		}
	}
}

// availableProfiles returns the profiles not cooling down, in the given
// order. When every profile is cooling down it returns the one whose
// cooldown ends first, so a request is never refused without a provider call.
func availableProfiles(profiles []AuthProfile, now time.Time) []AuthProfile {
	nowMillis := now.UnixMilli()
	var ready []AuthProfile
	soonest := -1
	for i, p := range profiles {
		if p.CooldownUntil == nil || *p.CooldownUntil <= nowMillis {
			ready = append(ready, p)
			continue
		}
		if soonest < 0 || *p.CooldownUntil < *profiles[soonest].CooldownUntil {
			soonest = i
		}
	}
	if len(ready) == 0 && soonest >= 0 {
		return []AuthProfile{profiles[soonest]}
	}
	return ready
}

// sortProfilesByPriority sorts profiles by priority (lower = higher priority)
func sortProfilesByPriority(profiles []AuthProfile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
}
