package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harun/agentcore/pkg/capability"
	"github.com/harun/agentcore/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptStep struct {
	response *LLMResponse
	err      error
}

// scriptedProvider replays canned responses and records every request.
type scriptedProvider struct {
	name string

	mu       sync.Mutex
	steps    []scriptStep
	requests []LLMRequest
}

func (p *scriptedProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, request)
	if len(p.steps) == 0 {
		return nil, errors.New("script exhausted")
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	return step.response, step.err
}

func (p *scriptedProvider) Provider() string { return p.name }

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// providerSet hands out a fixed provider per profile ID.
type providerSet map[string]LLMProvider

func (s providerSet) NewProvider(profile AuthProfile) (LLMProvider, error) {
	p, ok := s[profile.ID]
	if !ok {
		return nil, fmt.Errorf("no provider for %s", profile.ID)
	}
	return p, nil
}

func calculatorRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	registry, err := capability.NewRegistry(
		[]string{tools.CalculatorName},
		capability.Catalog{tools.CalculatorName: tools.NewCalculator},
	)
	require.NoError(t, err)
	return registry
}

func newTestRunner(t *testing.T, providers providerSet, profiles []AuthProfile, mutate ...func(*Config)) *Runner {
	t.Helper()
	cfg := Config{
		Tools:           calculatorRegistry(t),
		Profiles:        profiles,
		ProviderFactory: providers,
		Logger:          zerolog.Nop(),
		Model:           "test-model",
		Temperature:     0.2,
		RetryBaseDelay:  time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	runner, err := NewRunner(cfg)
	require.NoError(t, err)
	return runner
}

func text(content string, in, out uint64) scriptStep {
	var usage *UsageMetrics
	if in > 0 || out > 0 {
		usage = &UsageMetrics{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
	}
	return scriptStep{response: &LLMResponse{Content: content, Usage: usage}}
}

func toolUse(id, name string, params map[string]interface{}, in, out uint64) scriptStep {
	step := text("", in, out)
	step.response.ToolCalls = []ToolCall{{ID: id, Name: name, Parameters: params}}
	return step
}

func TestNewRunner_Validation(t *testing.T) {
	profiles := []AuthProfile{{ID: "p", Provider: "anthropic", APIKey: "k"}}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing model", Config{Profiles: profiles}, "model cannot be empty"},
		{"missing profiles", Config{Model: "m"}, "at least one auth profile"},
		{"temperature", Config{Model: "m", Profiles: profiles, Temperature: 1.5}, "temperature"},
		{"max tokens", Config{Model: "m", Profiles: profiles, MaxTokens: -1}, "max tokens"},
		{"max retries", Config{Model: "m", Profiles: profiles, MaxRetries: -1}, "max retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewRunner_Defaults(t *testing.T) {
	runner, err := NewRunner(Config{
		Model:    "m",
		Profiles: []AuthProfile{{ID: "p", Provider: "anthropic", APIKey: "k"}},
	})
	require.NoError(t, err)

	assert.Equal(t, defaultMaxRetries, runner.maxRetries)
	assert.Equal(t, defaultMaxTurns, runner.maxTurns)
	assert.Equal(t, defaultRetryBaseDelay, runner.retryBaseDelay)
	assert.IsType(t, &ProviderFactory{}, runner.providerFactory)
}

func TestRunner_Invoke_CalculatorFlow(t *testing.T) {
	provider := &scriptedProvider{name: "anthropic", steps: []scriptStep{
		toolUse("call-1", tools.CalculatorName, map[string]interface{}{"expression": "2+2"}, 10, 5),
		text("2 + 2 = 4", 20, 8),
	}}
	runner := newTestRunner(t, providerSet{"primary": provider},
		[]AuthProfile{{ID: "primary", Provider: "anthropic"}})

	result, err := runner.Invoke(context.Background(), "Be brief.", "2+2?")
	require.NoError(t, err)

	assert.Equal(t, "2 + 2 = 4", result.Response)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, tools.CalculatorName, result.ToolCalls[0].Name)
	require.NotNil(t, result.Usage)
	assert.Equal(t, UsageMetrics{InputTokens: 30, OutputTokens: 13, TotalTokens: 43}, *result.Usage)

	require.Len(t, provider.requests, 2)
	first := provider.requests[0]
	assert.Equal(t, "test-model", first.Model)
	assert.Equal(t, "Be brief.", first.SystemPrompt)
	require.Len(t, first.Tools, 1)
	assert.Equal(t, tools.CalculatorName, first.Tools[0].Name)

	second := provider.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, "user", second[0].Role)
	assert.Equal(t, "assistant", second[1].Role)
	assert.Equal(t, "tool", second[2].Role)
	assert.Equal(t, "call-1", second[2].ToolCallID)
	assert.Equal(t, "Result: 4", second[2].Content)
}

func TestRunner_Invoke_ToolErrorsBecomeText(t *testing.T) {
	provider := &scriptedProvider{name: "openai", steps: []scriptStep{
		toolUse("call-1", "translate", map[string]interface{}{"text": "hola"}, 0, 0),
		toolUse("call-2", tools.CalculatorName, map[string]interface{}{"expression": "1/0"}, 0, 0),
		text("done", 0, 0),
	}}
	runner := newTestRunner(t, providerSet{"primary": provider},
		[]AuthProfile{{ID: "primary", Provider: "openai"}})

	result, err := runner.Invoke(context.Background(), "", "go")
	require.NoError(t, err)
	assert.Equal(t, "done", result.Response)
	assert.Nil(t, result.Usage)

	msgs := provider.requests[2].Messages
	assert.Equal(t, "Error: unknown capability 'translate'", msgs[2].Content)
	assert.Equal(t, "Error: Division by zero", msgs[4].Content)
}

func TestRunner_Invoke_UsageFromSomeTurns(t *testing.T) {
	provider := &scriptedProvider{name: "anthropic", steps: []scriptStep{
		toolUse("call-1", tools.CalculatorName, map[string]interface{}{"expression": "3*3"}, 0, 0),
		text("9", 7, 2),
	}}
	runner := newTestRunner(t, providerSet{"primary": provider},
		[]AuthProfile{{ID: "primary", Provider: "anthropic"}})

	result, err := runner.Invoke(context.Background(), "", "3*3?")
	require.NoError(t, err)
	require.NotNil(t, result.Usage)
	assert.Equal(t, uint64(9), result.Usage.TotalTokens)
}

func TestRunner_Invoke_RetriesTransientErrors(t *testing.T) {
	provider := &scriptedProvider{name: "anthropic", steps: []scriptStep{
		{err: errors.New("status 503: overloaded")},
		{err: errors.New("429 rate limit")},
		text("ok", 1, 1),
	}}
	runner := newTestRunner(t, providerSet{"primary": provider},
		[]AuthProfile{{ID: "primary", Provider: "anthropic"}})

	result, err := runner.Invoke(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Response)
	assert.Equal(t, 3, provider.calls())
}

func TestRunner_Invoke_NonRetryableStopsImmediately(t *testing.T) {
	primary := &scriptedProvider{name: "anthropic", steps: []scriptStep{
		{err: errors.New("invalid api key")},
	}}
	backup := &scriptedProvider{name: "openai", steps: []scriptStep{text("backup", 0, 0)}}
	runner := newTestRunner(t, providerSet{"primary": primary, "backup": backup},
		[]AuthProfile{
			{ID: "primary", Provider: "anthropic", Priority: 0},
			{ID: "backup", Provider: "openai", Priority: 1},
		})

	_, err := runner.Invoke(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Equal(t, 1, primary.calls())
	assert.Equal(t, 0, backup.calls())
}

func TestRunner_Invoke_FailsOverByPriority(t *testing.T) {
	primary := &scriptedProvider{name: "anthropic", steps: []scriptStep{
		{err: errors.New("503")},
		{err: errors.New("503")},
	}}
	backup := &scriptedProvider{name: "openai", steps: []scriptStep{text("from backup", 2, 3)}}
	runner := newTestRunner(t, providerSet{"primary": primary, "backup": backup},
		// Listed out of order on purpose; priority decides.
		[]AuthProfile{
			{ID: "backup", Provider: "openai", Priority: 5},
			{ID: "primary", Provider: "anthropic", Priority: 1},
		},
		func(c *Config) { c.MaxRetries = 2 })

	result, err := runner.Invoke(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "from backup", result.Response)
	assert.Equal(t, 2, primary.calls())
	assert.Equal(t, 1, backup.calls())

	// The failed profile cools down; the next request skips it.
	backup.steps = append(backup.steps, text("again", 0, 0))
	result, err = runner.Invoke(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "again", result.Response)
	assert.Equal(t, 2, primary.calls())
}

func TestRunner_Invoke_AllProfilesFail(t *testing.T) {
	runner := newTestRunner(t, providerSet{},
		[]AuthProfile{{ID: "ghost", Provider: "anthropic"}})

	_, err := runner.Invoke(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all auth profiles failed")
	assert.Contains(t, err.Error(), "no provider for ghost")
}

func TestRunner_Invoke_MaxTurns(t *testing.T) {
	loop := toolUse("call", tools.CalculatorName, map[string]interface{}{"expression": "1+1"}, 0, 0)
	provider := &scriptedProvider{name: "anthropic", steps: []scriptStep{loop, loop, loop}}
	runner := newTestRunner(t, providerSet{"primary": provider},
		[]AuthProfile{{ID: "primary", Provider: "anthropic"}},
		func(c *Config) { c.MaxTurns = 2 })

	_, err := runner.Invoke(context.Background(), "", "loop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum tool execution turns (2) exceeded")
	assert.Equal(t, 2, provider.calls())
}

func TestRunner_Invoke_Cancelled(t *testing.T) {
	provider := &scriptedProvider{name: "anthropic", steps: []scriptStep{text("never", 0, 0)}}
	runner := newTestRunner(t, providerSet{"primary": provider},
		[]AuthProfile{{ID: "primary", Provider: "anthropic"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Invoke(ctx, "", "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, provider.calls())
}

func TestRunner_Invoke_RequestErrorsDoNotCoolDownProfile(t *testing.T) {
	provider := &scriptedProvider{name: "anthropic", steps: []scriptStep{
		{err: errors.New("400 bad request")},
		text("recovered", 1, 1),
	}}
	runner := newTestRunner(t, providerSet{"default": provider},
		[]AuthProfile{{ID: "default", Provider: "anthropic"}})

	_, err := runner.Invoke(context.Background(), "", "first")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400 bad request")

	result, err := runner.Invoke(context.Background(), "", "second")
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Response)
	assert.Equal(t, 2, provider.calls())
}

func TestRunner_Invoke_CancellationDoesNotCoolDownProfile(t *testing.T) {
	provider := &scriptedProvider{name: "anthropic", steps: []scriptStep{text("hello", 1, 1)}}
	runner := newTestRunner(t, providerSet{"default": provider},
		[]AuthProfile{{ID: "default", Provider: "anthropic"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runner.Invoke(ctx, "", "abandoned")
	require.Error(t, err)

	result, err := runner.Invoke(context.Background(), "", "next")
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Response)
	assert.Equal(t, 1, provider.calls())
}

func TestRunner_Invoke_MaxTurnsDoesNotCoolDownProfile(t *testing.T) {
	loop := toolUse("call", tools.CalculatorName, map[string]interface{}{"expression": "1+1"}, 0, 0)
	provider := &scriptedProvider{name: "anthropic", steps: []scriptStep{loop, text("done", 0, 0)}}
	runner := newTestRunner(t, providerSet{"default": provider},
		[]AuthProfile{{ID: "default", Provider: "anthropic"}},
		func(c *Config) { c.MaxTurns = 1 })

	_, err := runner.Invoke(context.Background(), "", "loop")
	require.Error(t, err)

	result, err := runner.Invoke(context.Background(), "", "answer")
	require.NoError(t, err)
	assert.Equal(t, "done", result.Response)
}

func TestRunner_Invoke_AllCoolingDownTriesSoonest(t *testing.T) {
	provider := &scriptedProvider{name: "anthropic", steps: []scriptStep{
		{err: errors.New("503 overloaded")},
		text("back again", 1, 1),
	}}
	runner := newTestRunner(t, providerSet{"default": provider},
		[]AuthProfile{{ID: "default", Provider: "anthropic"}},
		func(c *Config) { c.MaxRetries = 1 })

	_, err := runner.Invoke(context.Background(), "", "first")
	require.Error(t, err)
	require.NotNil(t, runner.authProfiles[0].CooldownUntil, "a provider outage cools the profile down")

	result, err := runner.Invoke(context.Background(), "", "second")
	require.NoError(t, err)
	assert.Equal(t, "back again", result.Response)
	assert.Equal(t, 2, provider.calls())
	assert.Nil(t, runner.authProfiles[0].CooldownUntil)
}

func TestAvailableProfiles(t *testing.T) {
	now := time.Now()
	later := now.Add(2 * time.Minute).UnixMilli()
	sooner := now.Add(time.Minute).UnixMilli()
	expired := now.Add(-time.Second).UnixMilli()

	t.Run("skips cooling profiles", func(t *testing.T) {
		got := availableProfiles([]AuthProfile{
			{ID: "a", CooldownUntil: &later},
			{ID: "b"},
			{ID: "c", CooldownUntil: &expired},
		}, now)
		require.Len(t, got, 2)
		assert.Equal(t, "b", got[0].ID)
		assert.Equal(t, "c", got[1].ID)
	})

	t.Run("falls back to soonest recovery", func(t *testing.T) {
		got := availableProfiles([]AuthProfile{
			{ID: "a", CooldownUntil: &later},
			{ID: "b", CooldownUntil: &sooner},
		}, now)
		require.Len(t, got, 1)
		assert.Equal(t, "b", got[0].ID)
	})
}

func TestSortProfilesByPriority(t *testing.T) {
	profiles := []AuthProfile{
		{ID: "c", Priority: 3},
		{ID: "a", Priority: 1},
		{ID: "b", Priority: 1},
	}
	sortProfilesByPriority(profiles)

	assert.Equal(t, []string{"a", "b", "c"}, []string{profiles[0].ID, profiles[1].ID, profiles[2].ID})
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection reset by peer"), true},
		{errors.New("HTTP 429"), true},
		{errors.New("upstream 502"), true},
		{errors.New("invalid request"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.err), "%v", tt.err)
	}
}

func TestUsageMetrics_Add(t *testing.T) {
	u := &UsageMetrics{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}
	u.Add(nil)
	u.Add(&UsageMetrics{InputTokens: 10, OutputTokens: 20, TotalTokens: 30})

	assert.Equal(t, UsageMetrics{InputTokens: 11, OutputTokens: 22, TotalTokens: 33}, *u)
}
